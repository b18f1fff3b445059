package server

import (
	"errors"
	"net/http"

	"golang.org/x/time/rate"
)

var errRateLimited = errors.New("too many capture requests")

// rateLimit rejects requests beyond the limiter's budget with 429. A nil
// limiter disables limiting.
func rateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				respondError(w, http.StatusTooManyRequests, errRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
