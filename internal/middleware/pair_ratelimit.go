package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// PairLimiter decides whether a client IP may start another pairing attempt.
type PairLimiter interface {
	Allow(ctx context.Context, ip string) (bool, time.Time)
}

// PairRateLimit guards the pair endpoint. RemoteAddr is the key, so this
// must run behind chi's RealIP middleware to see the original client.
func PairRateLimit(limiter PairLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, retryAt := limiter.Allow(r.Context(), r.RemoteAddr)
			if !allowed {
				wait := int(time.Until(retryAt).Seconds()) + 1
				w.Header().Set("Retry-After", fmt.Sprintf("%d", wait))
				writeJSON(w, http.StatusTooManyRequests, map[string]string{
					"error": "Too many pairing attempts. Please try again later.",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
