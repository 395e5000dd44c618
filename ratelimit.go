package auth

import (
	"sync"
	"time"

	"github.com/goliatone/go-router"
	"golang.org/x/time/rate"
)

// ClientLimiter is a token bucket per client key, usually the remote IP.
type ClientLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	clock   func() time.Time
	swept   time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewClientLimiter allows perMinute requests per client with the given burst.
// A non positive perMinute disables limiting.
func NewClientLimiter(perMinute, burst int) *ClientLimiter {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(float64(perMinute) / 60.0)
	}
	if burst <= 0 {
		burst = 1
	}
	return &ClientLimiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		burst:   burst,
		ttl:     10 * time.Minute,
		clock:   time.Now,
	}
}

// Allow reports whether key may make another request now
func (l *ClientLimiter) Allow(key string) bool {
	if key == "" {
		key = "unknown"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if now.Sub(l.swept) > l.ttl {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > l.ttl {
				delete(l.buckets, k)
			}
		}
		l.swept = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// Middleware rejects clients over the limit with 429
func (l *ClientLimiter) Middleware() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			if !l.Allow(c.IP()) {
				return writeError(c, ErrRateLimited)
			}
			return next(c)
		}
	}
}
