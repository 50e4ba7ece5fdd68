// Package middleware carries the dashboard's HTTP cross-cutting concerns,
// adapted from control_plane/middleware/auth.go and cors.go.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/pluginforge/core/auth"
)

// contextKey is a strict type for context keys to prevent collisions,
// mirroring the teacher's TenantContextKey.
type contextKey string

const claimsContextKey contextKey = "claims"

// RequireRole enforces operator token authentication and, if minRole is
// RoleAdmin, rejects viewer-scoped tokens. Fails fast on missing or
// malformed headers, matching the teacher's strict posture.
func RequireRole(minRole auth.Role, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "missing Authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "invalid Authorization format, expected 'Bearer <token>'", http.StatusUnauthorized)
			return
		}

		claims, err := auth.ValidateToken(parts[1])
		if err != nil {
			http.Error(w, fmt.Sprintf("unauthorized: %v", err), http.StatusUnauthorized)
			return
		}
		if minRole == auth.RoleAdmin && claims.Role != auth.RoleAdmin {
			http.Error(w, "forbidden: admin role required", http.StatusForbidden)
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClaimsFromContext retrieves the authenticated operator's claims, if any.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*auth.Claims)
	return claims, ok
}
