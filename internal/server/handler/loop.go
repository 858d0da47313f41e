package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mobelieve/mexc-triarb/internal/domain"
)

// LoopControl starts and stops the arbitrage loop.
type LoopControl interface {
	Start(creds domain.Credentials) error
	Stop()
	Running() bool
	RecentReports(limit int) []domain.CycleReport
}

// LoopHandler exposes start/stop and the recent cycle log.
type LoopHandler struct {
	loop     LoopControl
	defaults domain.Credentials
	logger   *slog.Logger
}

// NewLoopHandler creates a LoopHandler. defaults are used when a start
// request carries no credentials.
func NewLoopHandler(loop LoopControl, defaults domain.Credentials, logger *slog.Logger) *LoopHandler {
	return &LoopHandler{loop: loop, defaults: defaults, logger: logHandler(logger, "loop")}
}

type startRequest struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
}

// Start launches the loop.
// POST /api/loop/start  {"api_key": "...", "secret_key": "..."}
func (h *LoopHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	creds := domain.Credentials{
		APIKey:    strings.TrimSpace(req.APIKey),
		SecretKey: strings.TrimSpace(req.SecretKey),
	}
	if creds.APIKey == "" && creds.SecretKey == "" {
		creds = h.defaults
	}

	if err := h.loop.Start(creds); err != nil {
		h.logger.WarnContext(r.Context(), "handler: loop start failed", slog.String("error", err.Error()))
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":     "started",
		"started_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// Stop requests the loop to stop. In-flight calls finish first.
// POST /api/loop/stop
func (h *LoopHandler) Stop(w http.ResponseWriter, r *http.Request) {
	wasRunning := h.loop.Running()
	h.loop.Stop()
	status := "stopping"
	if !wasRunning {
		status = "idle"
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": status})
}

type cycleView struct {
	Seq     uint64    `json:"seq"`
	Outcome string    `json:"outcome"`
	Line    string    `json:"line"`
	At      time.Time `json:"at"`
}

// RecentCycles returns the latest cycle lines, newest first.
// GET /api/cycles/recent?limit=50
func (h *LoopHandler) RecentCycles(w http.ResponseWriter, r *http.Request) {
	reports := h.loop.RecentReports(parseLimit(r, 50, 100))
	out := make([]cycleView, 0, len(reports))
	for _, rep := range reports {
		out = append(out, cycleView{
			Seq:     rep.Seq,
			Outcome: string(rep.Outcome),
			Line:    rep.Line(),
			At:      rep.At,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycles": out})
}
