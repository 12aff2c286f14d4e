package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"devguard/internal/audit"
	"devguard/pkg/platform/httputil"
	"devguard/pkg/requestcontext"
)

// DefaultAnalyticsWindow is used when /admin/audit/analytics has no from.
const DefaultAnalyticsWindow = 30 * 24 * time.Hour

// AuditReader is the read side of the audit logger.
type AuditReader interface {
	GetShadowLogs(ctx context.Context, f audit.Filter) ([]audit.Record, error)
	GetAnalytics(ctx context.Context, from, to time.Time) (audit.Analytics, error)
}

type AuditHandler struct {
	reader AuditReader
	logger *slog.Logger
}

func NewAuditHandler(reader AuditReader, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{reader: reader, logger: orDiscard(logger)}
}

func (h *AuditHandler) Register(r chi.Router) {
	r.Get("/audit/shadow", h.handleShadow)
	r.Get("/audit/analytics", h.handleAnalytics)
}

func (h *AuditHandler) handleShadow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	from, err := parseTime(q, "from", false)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	to, err := parseTime(q, "to", true)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	limit, err := parseLimit(q)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	records, err := h.reader.GetShadowLogs(ctx, audit.Filter{
		DeviceSerial: q.Get("device"),
		Operation:    q.Get("operation"),
		From:         from,
		To:           to,
		Limit:        limit,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "shadow log query failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "shadow logs read",
		"log_type", "audit",
		"operator", requestcontext.Operator(ctx),
		"count", len(records),
	)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (h *AuditHandler) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	to, err := parseTime(q, "to", true)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if to.IsZero() {
		to = requestcontext.Now(ctx).UTC()
	}
	from, err := parseTime(q, "from", false)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if from.IsZero() {
		from = to.Add(-DefaultAnalyticsWindow)
	}

	a, err := h.reader.GetAnalytics(ctx, from, to)
	if err != nil {
		h.logger.ErrorContext(ctx, "audit analytics failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a)
}
