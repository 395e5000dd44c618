package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-blog-auth/middleware/jwtware"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type middlewareFixture struct {
	*autherFixture
	app    *fiber.App
	author AuthResult
	editor AuthResult
	reader AuthResult
}

func newMiddlewareFixture(t *testing.T) *middlewareFixture {
	t.Helper()
	f := newAutherFixture(t)
	ctx := context.Background()
	admin := NewRoleManager(f.repo).WithLogger(NopLogger())

	register := func(name, role string) AuthResult {
		req := aliceRegistration()
		req.Username, req.Email = name, name+"@x.com"
		res := f.register(t, req)
		if role == RoleReader {
			return res
		}
		require.NoError(t, admin.AssignRole(ctx, res.User.ID, role))

		// roles travel in the access token, so log in again to pick up the new one
		login, err := f.auther.Login(ctx, LoginRequest{Email: req.Email, Password: req.Password})
		require.NoError(t, err)
		require.True(t, login.Success)
		return login
	}

	mf := &middlewareFixture{
		autherFixture: f,
		author:        register("author", RoleAuthor),
		editor:        register("editor", RoleEditor),
		reader:        register("reader", RoleReader),
	}

	srv := newTestServer()
	r := srv.Router()
	bearer := ProtectedRoute(f.auther.TokenValidator(), NopLogger())
	rbac := f.auther.RBAC()
	owner := func(c router.Context) (uuid.UUID, error) {
		id, err := uuid.Parse(c.Param("owner"))
		if err != nil {
			return uuid.Nil, validationError("bad owner id", nil)
		}
		return id, nil
	}
	ok := func(c router.Context) error { return c.SendStatus(router.StatusNoContent) }

	r.Post("/posts", ok, bearer, RequirePermission(rbac, "posts.create"))
	r.Put("/posts/:owner", ok, bearer, RequireOwnerOrPermission(rbac, owner, "posts.update"))
	r.Get("/admin", ok, ProtectedRoute(f.auther.TokenValidator(), NopLogger(), func(cfg *jwtware.Config) {
		cfg.MinimumRole = RoleEditor
	}))
	r.Get("/me", func(c router.Context) error {
		claims, found := GetClaims(c.Context())
		if !found {
			return c.SendStatus(router.StatusInternalServerError)
		}
		return c.SendString(claims.Username())
	}, bearer)

	mf.app = srv.WrappedRouter()
	return mf
}

func (f *middlewareFixture) status(t *testing.T, method, path, token string) int {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestRequirePermission(t *testing.T) {
	f := newMiddlewareFixture(t)

	assert.Equal(t, fiber.StatusNoContent, f.status(t, fiber.MethodPost, "/posts", f.author.AccessToken))
	assert.Equal(t, fiber.StatusForbidden, f.status(t, fiber.MethodPost, "/posts", f.reader.AccessToken))
	assert.Equal(t, fiber.StatusUnauthorized, f.status(t, fiber.MethodPost, "/posts", ""))
}

func TestRequireOwnerOrPermission(t *testing.T) {
	f := newMiddlewareFixture(t)
	path := "/posts/" + f.author.User.ID.String()

	assert.Equal(t, fiber.StatusNoContent, f.status(t, fiber.MethodPut, path, f.author.AccessToken), "owner")
	assert.Equal(t, fiber.StatusNoContent, f.status(t, fiber.MethodPut, path, f.editor.AccessToken), "override permission")
	assert.Equal(t, fiber.StatusForbidden, f.status(t, fiber.MethodPut, path, f.reader.AccessToken))
	assert.Equal(t, fiber.StatusBadRequest, f.status(t, fiber.MethodPut, "/posts/not-a-uuid", f.author.AccessToken))
}

func TestProtectedRoute_MinimumRole(t *testing.T) {
	f := newMiddlewareFixture(t)

	assert.Equal(t, fiber.StatusNoContent, f.status(t, fiber.MethodGet, "/admin", f.editor.AccessToken))
	assert.Equal(t, fiber.StatusForbidden, f.status(t, fiber.MethodGet, "/admin", f.author.AccessToken))
}

func TestProtectedRoute_EnrichesUserContext(t *testing.T) {
	f := newMiddlewareFixture(t)

	req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+f.author.AccessToken)
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := make([]byte, 16)
	n, _ := resp.Body.Read(body)
	assert.Equal(t, "author", string(body[:n]))
}

func TestRegisterValidationListeners(t *testing.T) {
	f := newAutherFixture(t)
	alice := f.register(t, aliceRegistration())

	var seen []string
	blocked := errors.New("blocked")

	srv := newTestServer()
	srv.Router().Get("/", func(c router.Context) error {
		return c.SendStatus(router.StatusNoContent)
	}, ProtectedRoute(f.auther.TokenValidator(), NopLogger(), func(cfg *jwtware.Config) {
		RegisterValidationListeners(cfg,
			func(_ router.Context, claims jwtware.AuthClaims) error {
				seen = append(seen, claims.UserID())
				return nil
			},
			func(c router.Context, _ jwtware.AuthClaims) error {
				if c.Header("X-Block") != "" {
					return blocked
				}
				return nil
			},
		)
	}))
	app := srv.WrappedRouter()

	req := httptest.NewRequest(fiber.MethodGet, "/", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+alice.AccessToken)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	req = httptest.NewRequest(fiber.MethodGet, "/", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+alice.AccessToken)
	req.Header.Set("X-Block", "1")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	assert.Equal(t, []string{alice.User.ID.String(), alice.User.ID.String()}, seen)

	RegisterValidationListeners(nil)
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	_, ok := GetClaims(ctx)
	assert.False(t, ok)
	_, ok = PrincipalIDFromContext(ctx)
	assert.False(t, ok)

	snapshot := testSnapshot(RoleReader)
	claims := NewJWTClaims(snapshot)
	enriched := ContextEnricherAdapter(ctx, claims)

	fromCtx, ok := GetClaims(enriched)
	require.True(t, ok)
	assert.Equal(t, claims.UserID(), fromCtx.UserID())

	id, ok := PrincipalIDFromContext(enriched)
	require.True(t, ok)
	assert.Equal(t, snapshot.ID, id)
}
