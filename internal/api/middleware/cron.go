package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/nhle/mailsweep/internal/api/response"
)

// CronSecretHeader carries the shared secret of scheduled triggers.
const CronSecretHeader = "X-Cron-Secret"

// CronSecret rejects requests that do not present secret, either in
// X-Cron-Secret or as a bearer token. An empty secret disables the
// protected routes.
func CronSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				response.WriteError(w, http.StatusServiceUnavailable, "cron trigger is not configured")
				return
			}

			presented := r.Header.Get(CronSecretHeader)
			if presented == "" {
				presented = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
				response.WriteError(w, http.StatusUnauthorized, "invalid cron secret")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
