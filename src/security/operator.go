package security

import (
	"crypto/subtle"
	"net/http"

	logger "github.com/sirupsen/logrus"
)

const OperatorKeyHeader = "X-Operator-Key"

// RequireOperator guards reconciliation, manual trade sync and incident
// handling behind a shared operator key.
func RequireOperator(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			given := r.Header.Get(OperatorKeyHeader)
			if key == "" || subtle.ConstantTimeCompare([]byte(given), []byte(key)) != 1 {
				logger.WithFields(map[string]interface{}{
					"path":   r.URL.Path,
					"remote": r.RemoteAddr,
				}).Warn("Rejected operator request")
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
