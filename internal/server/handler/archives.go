package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/mobelieve/mexc-triarb/internal/domain"
)

// ArchiveRunner runs one archive pass.
type ArchiveRunner interface {
	Run(ctx context.Context) (int64, error)
}

// ArchiveHandler lists archived executions and triggers archive runs.
type ArchiveHandler struct {
	reader domain.BlobReader
	runner ArchiveRunner
	prefix string
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler listing objects under prefix.
// reader and runner may be nil when archiving is disabled.
func NewArchiveHandler(reader domain.BlobReader, runner ArchiveRunner, prefix string, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{reader: reader, runner: runner, prefix: prefix, logger: logHandler(logger, "archives")}
}

// List returns the archive objects.
// GET /api/archives
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusNotImplemented, "archiving is not configured")
		return
	}
	infos, err := h.reader.List(r.Context(), h.prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archives failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "failed to list archives")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": infos})
}

// Run archives executions past the retention window now.
// POST /api/archives/run
func (h *ArchiveHandler) Run(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		writeError(w, http.StatusNotImplemented, "archiving is not configured")
		return
	}
	h.logger.InfoContext(r.Context(), "handler: archive run requested")
	n, err := h.runner.Run(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: archive run failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "archive run failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"archived":     n,
		"completed_at": time.Now().UTC().Format(time.RFC3339),
	})
}
