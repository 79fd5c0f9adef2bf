package middleware

import (
	"context"
	"net/http"

	"retrocms/pkg/errors"
	"retrocms/pkg/models"
)

// AuthManager interface for authentication operations
type AuthManager interface {
	IsAuthenticated(r *http.Request) *models.Session
}

type sessionKey struct{}

// RequireAuthAPI rejects requests without an admin session and stores the
// session in the request context for handlers.
func RequireAuthAPI(authManager AuthManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := authManager.IsAuthenticated(r)
			if session == nil {
				errors.Respond(w, errors.ErrNotAuthenticated)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, session)))
		})
	}
}

// SessionFrom returns the session stored by RequireAuthAPI
func SessionFrom(ctx context.Context) *models.Session {
	session, _ := ctx.Value(sessionKey{}).(*models.Session)
	return session
}
