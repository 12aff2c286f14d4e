package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"devguard/internal/workflow"
	dErrors "devguard/pkg/domain-errors"
	"devguard/pkg/platform/httputil"
	"devguard/pkg/requestcontext"
)

// DefinitionReader is the definition store's read API.
type DefinitionReader interface {
	Load(ctx context.Context, category workflow.Category, id string) (workflow.Definition, error)
	List(ctx context.Context, category workflow.Category) ([]workflow.Summary, error)
}

type WorkflowsHandler struct {
	defs   DefinitionReader
	logger *slog.Logger
}

func NewWorkflowsHandler(defs DefinitionReader, logger *slog.Logger) *WorkflowsHandler {
	return &WorkflowsHandler{defs: defs, logger: orDiscard(logger)}
}

func (h *WorkflowsHandler) Register(r chi.Router) {
	r.Get("/workflows/{category}", h.handleList)
	r.Get("/workflows/{category}/{id}", h.handleGet)
}

func (h *WorkflowsHandler) category(w http.ResponseWriter, r *http.Request) (workflow.Category, bool) {
	raw := chi.URLParam(r, "category")
	c, ok := workflow.ParseCategory(raw)
	if !ok {
		httputil.WriteError(w, dErrors.Newf(dErrors.CodeNotFound, "unknown workflow category %q", raw))
	}
	return c, ok
}

func (h *WorkflowsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, ok := h.category(w, r)
	if !ok {
		return
	}
	summaries, err := h.defs.List(ctx, c)
	if err != nil {
		h.logger.ErrorContext(ctx, "list workflows failed",
			"category", c,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"category": c, "workflows": summaries})
}

func (h *WorkflowsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, ok := h.category(w, r)
	if !ok {
		return
	}
	def, err := h.defs.Load(ctx, c, chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, def)
}
