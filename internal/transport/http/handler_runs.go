package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"devguard/internal/workflow/history"
	dErrors "devguard/pkg/domain-errors"
	"devguard/pkg/platform/httputil"
	"devguard/pkg/platform/sentinel"
	"devguard/pkg/requestcontext"
)

// RunReader is the query side of the run history.
type RunReader interface {
	Get(ctx context.Context, id string) (history.Run, error)
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]history.Run, error)
	ListRecent(ctx context.Context, limit int) ([]history.Run, error)
}

type RunsHandler struct {
	runs   RunReader
	logger *slog.Logger
}

func NewRunsHandler(runs RunReader, logger *slog.Logger) *RunsHandler {
	return &RunsHandler{runs: runs, logger: orDiscard(logger)}
}

func (h *RunsHandler) Register(r chi.Router) {
	r.Get("/runs", h.handleList)
	r.Get("/runs/{id}", h.handleGet)
}

func (h *RunsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := parseLimit(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var runs []history.Run
	if device := r.URL.Query().Get("device"); device != "" {
		runs, err = h.runs.ListByDevice(ctx, device, limit)
	} else {
		runs, err = h.runs.ListRecent(ctx, limit)
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "list runs failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "list runs"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *RunsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	run, err := h.runs.Get(ctx, id)
	if err != nil {
		if dErrors.Is(err, sentinel.ErrNotFound) {
			httputil.WriteError(w, dErrors.Newf(dErrors.CodeNotFound, "run %s not found", id))
			return
		}
		h.logger.ErrorContext(ctx, "get run failed",
			"run_id", id,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "get run"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, run)
}
