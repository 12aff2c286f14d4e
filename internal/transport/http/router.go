// Package httptransport is the operator HTTP surface: liveness and readiness
// checks, Prometheus metrics, and the bearer-guarded admin read API over the
// audit streams, run history and workflow definitions.
package httptransport

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"devguard/internal/platform/metrics"
	"devguard/pkg/platform/middleware/admin"
	"devguard/pkg/platform/middleware/auth"
	"devguard/pkg/platform/middleware/metadata"
	"devguard/pkg/platform/middleware/requestid"
	"devguard/pkg/platform/middleware/requesttime"
)

// Deps are the collaborators the router serves. Any nil reader leaves its
// routes unregistered.
type Deps struct {
	Logger    *slog.Logger
	Registry  *metrics.Registry
	Validator auth.JWTValidator
	Health    *HealthHandler
	Audit     *AuditHandler
	Runs      *RunsHandler
	Workflows *WorkflowsHandler
}

// NewRouter wires every operator endpoint.
func NewRouter(d Deps) http.Handler {
	d.Logger = orDiscard(d.Logger)
	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(requesttime.Middleware)
	r.Use(metadata.AccessLog(d.Logger))
	if d.Registry != nil {
		r.Use(instrument(d.Registry))
		r.Method(http.MethodGet, "/metrics", d.Registry.Handler())
	}

	if d.Health != nil {
		d.Health.Register(r)
	}

	if d.Validator != nil {
		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireAuth(d.Validator, d.Logger))
			r.Use(admin.RequireRole(d.Logger, admin.RoleAdmin))
			if d.Audit != nil {
				d.Audit.Register(r)
			}
			if d.Runs != nil {
				d.Runs.Register(r)
			}
			if d.Workflows != nil {
				d.Workflows.Register(r)
			}
		})
	}
	return r
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument records request counts and latency by chi route pattern, so
// path parameters never explode label cardinality.
func instrument(reg *metrics.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil {
				if p := rc.RoutePattern(); p != "" {
					route = p
				}
			}
			reg.HTTPRequests.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()
			reg.HTTPLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
		})
	}
}

func orDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return logger
}
