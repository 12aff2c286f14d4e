package testutil

import (
	"net/http"

	"devguard/pkg/platform/middleware/auth"
	"devguard/pkg/requestcontext"
)

// WithOperator puts an authenticated operator on the request, as
// auth.RequireAuth would after validating a token.
func WithOperator(req *http.Request, subject, role string) *http.Request {
	ctx := requestcontext.WithOperator(req.Context(), subject)
	ctx = auth.WithRole(ctx, role)
	return req.WithContext(ctx)
}
