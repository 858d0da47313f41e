package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/mobelieve/mexc-triarb/internal/domain"
	"github.com/mobelieve/mexc-triarb/internal/executor"
)

// ExecutionReader is the read side of the execution store.
type ExecutionReader interface {
	ListRecent(ctx context.Context, limit int) ([]domain.ArbExecution, error)
	GetByID(ctx context.Context, id string) (domain.ArbExecution, error)
}

// ExecutionHandler serves recorded three-leg executions.
type ExecutionHandler struct {
	store  ExecutionReader // nil when no database is configured
	logger *slog.Logger
}

// NewExecutionHandler creates an ExecutionHandler. store may be nil.
func NewExecutionHandler(store ExecutionReader, logger *slog.Logger) *ExecutionHandler {
	return &ExecutionHandler{store: store, logger: logHandler(logger, "executions")}
}

// executionView adds the reconciliation flag so the dashboard can highlight
// partially submitted triangles.
type executionView struct {
	executor.ExecutionEvent
	NeedsReconciliation bool `json:"needs_reconciliation"`
}

func newExecutionView(e domain.ArbExecution) executionView {
	return executionView{
		ExecutionEvent:      executor.NewExecutionEvent(e),
		NeedsReconciliation: e.NeedsReconciliation(),
	}
}

// ListRecent returns the most recent executions.
// GET /api/executions/recent?limit=20
func (h *ExecutionHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotImplemented, "execution history is not configured")
		return
	}

	execs, err := h.store.ListRecent(r.Context(), parseLimit(r, 20, 200))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list executions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}

	out := make([]executionView, 0, len(execs))
	for _, e := range execs {
		out = append(out, newExecutionView(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": out})
}

// Get returns one execution by ID.
// GET /api/executions/{id}
func (h *ExecutionHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotImplemented, "execution history is not configured")
		return
	}

	exec, err := h.store.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: get execution failed",
				slog.String("error", err.Error()),
			)
		}
		writeError(w, status, "execution not available")
		return
	}
	writeJSON(w, http.StatusOK, newExecutionView(exec))
}
