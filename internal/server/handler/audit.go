package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/mobelieve/mexc-triarb/internal/domain"
)

// AuditReader lists audit log rows.
type AuditReader interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AuditHandler serves the cycle and archive audit log.
type AuditHandler struct {
	store  AuditReader // nil when no database is configured
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler. store may be nil.
func NewAuditHandler(store AuditReader, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{store: store, logger: logHandler(logger, "audit")}
}

// List returns audit rows, newest first.
// GET /api/audit?event=cycle&since=2026-01-01T00:00:00Z&limit=100
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotImplemented, "audit log is not configured")
		return
	}

	opts := domain.ListOpts{
		Event: r.URL.Query().Get("event"),
		Limit: parseLimit(r, 100, 1000),
	}
	if s := r.URL.Query().Get("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		opts.Since = &since
	}

	entries, err := h.store.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
