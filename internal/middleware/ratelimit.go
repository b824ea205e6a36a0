package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/ashureev/digdeeper/internal/ratelimit"
)

// RateLimit rejects requests over the scope's limit with 429 and a
// Retry-After header. key extracts the owner from the request; requests with
// an empty key are not limited.
func RateLimit(limiter *ratelimit.Limiter, scope string, key func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner := key(r)
			if owner == "" {
				next.ServeHTTP(w, r)
				return
			}

			d := limiter.Allow(scope, owner)
			if d.Remaining >= 0 {
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			}
			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			secs := int(math.Ceil(d.RetryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			slog.Info("rate limit exceeded", "scope", scope, "owner_id", owner, "retry_after_s", secs)
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error":     "rate limit exceeded",
				"retryable": true,
			})
		})
	}
}
