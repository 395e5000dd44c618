package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientLimiter_Allow(t *testing.T) {
	clock := newFakeClock()
	limiter := NewClientLimiter(60, 2)
	limiter.clock = clock.Now

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"), "burst exhausted")

	assert.True(t, limiter.Allow("10.0.0.2"), "clients have separate buckets")

	clock.Advance(time.Second)
	assert.True(t, limiter.Allow("10.0.0.1"), "one token per second refills")
	assert.False(t, limiter.Allow("10.0.0.1"))
}

func TestClientLimiter_SweepsIdleBuckets(t *testing.T) {
	clock := newFakeClock()
	limiter := NewClientLimiter(60, 1)
	limiter.clock = clock.Now

	limiter.Allow("a")
	limiter.Allow("b")
	require.Len(t, limiter.buckets, 2)

	clock.Advance(11 * time.Minute)
	limiter.Allow("c")
	assert.Len(t, limiter.buckets, 1)
}

func TestClientLimiter_Disabled(t *testing.T) {
	limiter := NewClientLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, limiter.Allow(""))
	}
}

func TestClientLimiter_Middleware(t *testing.T) {
	limiter := NewClientLimiter(1, 1)
	srv := newTestServer()
	srv.Router().Post("/login", func(c router.Context) error {
		return c.SendStatus(router.StatusNoContent)
	}, limiter.Middleware())
	app := srv.WrappedRouter()

	resp, err := app.Test(httptest.NewRequest("POST", "/login", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("POST", "/login", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)

	var body ErrorResponse
	decodeJSON(t, resp, &body)
	assert.Equal(t, ErrorKindRateLimited, body.Error)
	assert.False(t, body.Success)
}
