// Package throttle limits how many simulations a requester can run in a
// fixed time window.
package throttle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sinergia-energia/sinergia/internal/domain"
)

// Limiter counts requests per key using the cache's window counters.
type Limiter struct {
	cache  domain.Cache
	limit  int64
	window time.Duration
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Count     int64
	Remaining int64
}

// New creates a limiter. A limit of zero or less disables throttling.
func New(cache domain.Cache, limit int64, window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		cache:  cache,
		limit:  limit,
		window: window,
	}
}

// Enabled reports whether the limiter rejects anything at all.
func (l *Limiter) Enabled() bool {
	return l != nil && l.limit > 0 && l.cache != nil
}

// Allow records one request for key and reports whether it fits the window.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	if !l.Enabled() {
		return Decision{Allowed: true, Remaining: -1}, nil
	}
	if key == "" {
		return Decision{}, fmt.Errorf("%w: throttle key is required", domain.ErrValidation)
	}

	count, err := l.cache.IncrementCounter(ctx, "throttle:"+key, l.window)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to count requests: %w", err)
	}

	return Decision{
		Allowed:   count <= l.limit,
		Count:     count,
		Remaining: max(l.limit-count, 0),
	}, nil
}

// ClientIP keys requests by remote address without the port.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects requests over the limit with 429. Counter failures let
// the request through.
func (l *Limiter) Middleware(key func(*http.Request) string) func(http.Handler) http.Handler {
	if key == nil {
		key = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			d, err := l.Allow(r.Context(), key(r))
			if err != nil {
				slog.Warn("throttle check failed", "path", r.URL.Path, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(l.limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))

			if !d.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(l.window.Seconds())))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "too many simulations, try again later"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
