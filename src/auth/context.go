package auth

import (
	"context"
	"net/http"

	"tokenexchange/src/model"
)

type contextKey string

const SessionKey contextKey = "session"

// TraderHeader carries the authenticated trader address, set by the gateway
// in front of this service.
const TraderHeader = "X-Trader-Address"

// Session is the identity of the caller for one request.
type Session struct {
	TraderAddress string
}

func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, SessionKey, s)
}

func GetSessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(SessionKey).(*Session)
	return s, ok && s != nil
}

// RequireTrader rejects requests without a valid trader address and stores
// the session in the request context.
func RequireTrader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, err := model.NormalizeAddress(r.Header.Get(TraderHeader))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), &Session{TraderAddress: addr})))
	})
}
