// Package admin guards operator routes by role.
package admin

import (
	"log/slog"
	"net/http"

	dErrors "devguard/pkg/domain-errors"
	"devguard/pkg/platform/httputil"
	"devguard/pkg/platform/middleware/auth"
	"devguard/pkg/requestcontext"
)

// RoleAdmin is the role allowed to read shadow records and run history.
const RoleAdmin = "admin"

// RequireRole admits only requests whose authenticated role is one of roles.
// It must run after auth.RequireAuth.
func RequireRole(logger *slog.Logger, roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			role := auth.GetRole(ctx)
			if _, ok := allowed[role]; !ok {
				logger.WarnContext(ctx, "operator role rejected",
					"operator", requestcontext.Operator(ctx),
					"role", role,
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "insufficient role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
