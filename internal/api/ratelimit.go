package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/mcpgateway/gateway/internal/middleware"
	"github.com/mcpgateway/gateway/internal/ratelimit"
)

// RateLimit applies the sliding-window limiter before any other API logic
// runs. Rejections carry the limit metadata; admitted requests get the
// same headers so clients can pace themselves.
func RateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := limiter.Check(r.Context(), clientKey(r))

			setRateLimitHeaders(w, res.Limit, res.Remaining, res.Reset)
			if !res.Allowed {
				middleware.RateLimitRejectionsTotal.Inc()
				retryAfter := int64(time.Until(res.Reset).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func setRateLimitHeaders(w http.ResponseWriter, limit, remaining int, reset time.Time) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
}
