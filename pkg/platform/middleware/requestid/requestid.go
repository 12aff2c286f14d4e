// Package requestid propagates a request ID through the context and the
// X-Request-ID response header.
package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"devguard/pkg/requestcontext"
)

// Header is the request and response header carrying the ID.
const Header = "X-Request-ID"

const maxLen = 128

// Middleware reuses a caller-supplied ID or generates one.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(Header)
		if id == "" || len(id) > maxLen {
			id = uuid.NewString()
		}
		w.Header().Set(Header, id)
		next.ServeHTTP(w, r.WithContext(requestcontext.WithRequestID(r.Context(), id)))
	})
}
