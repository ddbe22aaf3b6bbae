package middleware

import (
	"errors"
	"net/http"
	"strconv"

	authcore "github.com/visaflow/authcore"
)

// RateLimit enforces the given budget class. The X-RateLimit-Limit,
// X-RateLimit-Remaining, and X-RateLimit-Reset headers are set on every
// response, allowed or not; exhausted budgets get 429 with Retry-After.
func RateLimit(engine *authcore.Engine, class authcore.RateClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID := ""
			if id := authcore.IdentityFrom(r.Context()); id != nil {
				accountID = id.AccountID
			}

			res, err := engine.CheckRate(r.Context(), class, accountID)
			if res != nil {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))
			}
			if err != nil {
				var rl *authcore.RateLimitError
				if errors.As(err, &rl) {
					w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(rl)))
					http.Error(w, "too many requests", http.StatusTooManyRequests)
					return
				}
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func retryAfterSeconds(rl *authcore.RateLimitError) int {
	secs := int(rl.RetryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}
