package middleware

import (
	"context"
	"net/http"

	"github.com/impnet/service_layer/internal/app/authz"
	internalhttputil "github.com/impnet/service_layer/internal/httputil"
	"github.com/impnet/service_layer/internal/logging"
)

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) string {
	return logging.GetUserID(ctx)
}

// GetUserRole extracts user role from context
func GetUserRole(ctx context.Context) string {
	return logging.GetRole(ctx)
}

// PrincipalFromContext returns the verified caller.
func PrincipalFromContext(ctx context.Context) authz.Principal {
	return authz.Principal{ID: GetUserID(ctx), Role: GetUserRole(ctx)}
}

// RequireUserID middleware ensures user ID is present in context
func RequireUserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUserID(r.Context()) == "" {
			internalhttputil.Unauthorized(w, "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePermission rejects callers the policy does not grant permission.
func RequirePermission(policy authz.Policy, permission string, logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := PrincipalFromContext(r.Context())
			if principal.ID == "" {
				internalhttputil.Unauthorized(w, "")
				return
			}
			if !policy.Allow(principal, permission) {
				logger.LogSecurityEvent(r.Context(), "permission_denied", map[string]interface{}{
					"permission": permission,
					"role":       principal.Role,
					"path":       r.URL.Path,
				})
				internalhttputil.Forbidden(w, "Not enough permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
