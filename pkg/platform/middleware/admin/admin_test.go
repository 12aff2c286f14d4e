package admin

import (
	"io"
	"log/slog"
	"net/http"
	"testing"

	"devguard/pkg/testutil"
)

func TestRequireRole(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := RequireRole(logger, RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for name, tc := range map[string]struct {
		role string
		want int
	}{
		"admin allowed":    {role: RoleAdmin, want: http.StatusOK},
		"viewer forbidden": {role: "viewer", want: http.StatusForbidden},
		"no role":          {role: "", want: http.StatusForbidden},
	} {
		t.Run(name, func(t *testing.T) {
			req := testutil.WithOperator(testutil.NewRequest(t, http.MethodGet, "/admin/audit/shadow"), "op-1", tc.role)
			testutil.AssertStatus(t, testutil.DoRequest(h, req), tc.want)
		})
	}
}
