package api

import (
	"context"
	"net/http"

	"github.com/ebaysniper/sniper/internal/auth"
)

type contextKey string

const usernameContextKey contextKey = "username"

// BearerAuthMiddleware enforces the IngestAPI bearer token on every route
// except Authenticate, ported from api.py's verify_token dependency.
func BearerAuthMiddleware(issuer *auth.Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := auth.ExtractBearer(r)
			if err != nil {
				respondError(w, http.StatusUnauthorized, "Missing or invalid authorization header")
				return
			}
			username, err := issuer.Verify(token)
			if err != nil {
				respondError(w, http.StatusUnauthorized, "Invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), usernameContextKey, username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
