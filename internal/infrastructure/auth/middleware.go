package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openlms/auth-service/internal/models"
	service "github.com/openlms/auth-service/internal/services"
)

type contextKey string

const claimsContextKey contextKey = "session_claims"

// ClaimsFromContext returns the session claims stored by Middleware.
func ClaimsFromContext(ctx context.Context) (*models.SessionClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*models.SessionClaims)
	return claims, ok
}

// Middleware validates the bearer token and stores the decoded claims on the
// request context. Fails closed with 401 on anything short of a valid,
// unexpired, correctly signed token.
func Middleware(svc service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "authorization header missing", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid authorization header", http.StatusUnauthorized)
				return
			}

			claims, err := svc.ValidateAccessToken(parts[1])
			if err != nil {
				slog.Warn("access token rejected", "error", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRoles gates a route behind the role check. Must run after
// Middleware; any-of semantics over the roles embedded in the token.
func RequireRoles(svc service.AuthService, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				http.Error(w, "not authenticated", http.StatusUnauthorized)
				return
			}
			if err := svc.Authorize(claims, roles); err != nil {
				slog.Warn("authorization denied",
					"user_id", claims.UserID,
					"roles", claims.Roles,
					"required", roles)
				http.Error(w, "insufficient permissions", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
