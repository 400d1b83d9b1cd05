package httpx

import (
	"math"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/aussiebroadwan/tollgate/pkg/slogx"
	"golang.org/x/time/rate"
)

// RateLimitConfig is a token bucket refilled at RequestsPerWindow per Window
// holding at most Burst tokens.
type RateLimitConfig struct {
	RequestsPerWindow int
	Window            time.Duration
	Burst             int
}

// Profiles used by the gateway routes. Each can be overridden with
// RATELIMIT_<NAME>_REQUESTS, RATELIMIT_<NAME>_WINDOW (a Go duration) and
// RATELIMIT_<NAME>_BURST.
var (
	// ModerateLimit guards login, token writes and the admin API: 20/min.
	ModerateLimit = RateLimitConfig{RequestsPerWindow: 20, Window: time.Minute, Burst: 20}

	// LenientLimit guards token reads and health checks: 100/min.
	LenientLimit = RateLimitConfig{RequestsPerWindow: 100, Window: time.Minute, Burst: 100}

	// PublicLimit guards key publication: 1000/min.
	PublicLimit = RateLimitConfig{RequestsPerWindow: 1000, Window: time.Minute, Burst: 1000}
)

func init() {
	ModerateLimit = ParseRateLimitFromEnv("MODERATE", ModerateLimit)
	LenientLimit = ParseRateLimitFromEnv("LENIENT", LenientLimit)
	PublicLimit = ParseRateLimitFromEnv("PUBLIC", PublicLimit)
}

// ParseRateLimitFromEnv overlays the RATELIMIT_<name>_* variables on def.
// Unparseable or non-positive values are ignored.
func ParseRateLimitFromEnv(name string, def RateLimitConfig) RateLimitConfig {
	cfg := def
	prefix := "RATELIMIT_" + name + "_"
	if n, err := strconv.Atoi(os.Getenv(prefix + "REQUESTS")); err == nil && n > 0 {
		cfg.RequestsPerWindow = n
	}
	if d, err := time.ParseDuration(os.Getenv(prefix + "WINDOW")); err == nil && d > 0 {
		cfg.Window = d
	}
	if n, err := strconv.Atoi(os.Getenv(prefix + "BURST")); err == nil && n > 0 {
		cfg.Burst = n
	}
	return cfg
}

// KeyFunc groups requests into buckets. An empty key bypasses limiting.
type KeyFunc func(*http.Request) string

// UserOrIPKey buckets authenticated callers by subject and everyone else by
// client address.
func UserOrIPKey(r *http.Request) string {
	if sub, ok := r.Context().Value(CtxKeyUserID).(string); ok && sub != "" {
		return "user:" + sub
	}
	return "ip:" + ClientIP(r)
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// buckets holds one limiter per key. A bucket untouched for refill has
// regained its full burst, so dropping it loses nothing.
type buckets struct {
	limit  rate.Limit
	burst  int
	refill time.Duration

	mu        sync.Mutex
	byKey     map[string]*bucket
	lastSweep time.Time
}

func newBuckets(cfg RateLimitConfig) *buckets {
	perSec := float64(cfg.RequestsPerWindow) / cfg.Window.Seconds()
	return &buckets{
		limit:     rate.Limit(perSec),
		burst:     cfg.Burst,
		refill:    time.Duration(float64(cfg.Burst) / perSec * float64(time.Second)),
		byKey:     make(map[string]*bucket),
		lastSweep: time.Now(),
	}
}

func (b *buckets) get(key string, now time.Time) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()

	if now.Sub(b.lastSweep) >= b.refill {
		for k, e := range b.byKey {
			if now.Sub(e.lastSeen) >= b.refill {
				delete(b.byKey, k)
			}
		}
		b.lastSweep = now
	}

	e, ok := b.byKey[key]
	if !ok {
		e = &bucket{lim: rate.NewLimiter(b.limit, b.burst)}
		b.byKey[key] = e
	}
	e.lastSeen = now
	return e.lim
}

func (b *buckets) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byKey)
}

// RateLimitMiddleware rejects requests once their key's bucket is empty
// with 429, a Retry-After header and a rate_limit_exceeded error body.
// Every call gets its own set of buckets.
func RateLimitMiddleware(cfg RateLimitConfig, key KeyFunc) Middleware {
	set := newBuckets(cfg)
	limitHeader := strconv.Itoa(cfg.RequestsPerWindow)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}

			now := time.Now()
			res := set.get(k, now).ReserveN(now, 1)
			delay := res.DelayFrom(now)
			if delay == 0 {
				next.ServeHTTP(w, r)
				return
			}
			res.CancelAt(now)

			retryAfter := max(int(math.Ceil(delay.Seconds())), 1)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("X-RateLimit-Limit", limitHeader)
			w.Header().Set("X-RateLimit-Window", cfg.Window.String())

			slogx.FromContext(r.Context()).Warn("rate limit exceeded",
				"key", k,
				"path", r.URL.Path,
				"retry_after", retryAfter,
			)
			WriteJSON(w, http.StatusTooManyRequests, map[string]string{
				"error":             "rate_limit_exceeded",
				"error_description": "Too many requests. Please try again later.",
			})
		})
	}
}

// RateLimitByIP limits by client address.
func RateLimitByIP(cfg RateLimitConfig) Middleware {
	return RateLimitMiddleware(cfg, func(r *http.Request) string { return "ip:" + ClientIP(r) })
}

// RateLimitByUser limits by authenticated subject, falling back to the
// client address. It must run after authentication.
func RateLimitByUser(cfg RateLimitConfig) Middleware {
	return RateLimitMiddleware(cfg, UserOrIPKey)
}
