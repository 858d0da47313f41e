package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/mobelieve/mexc-triarb/internal/domain"
	"github.com/mobelieve/mexc-triarb/internal/engine"
)

const quoteReadTimeout = 2 * time.Second

// LoopStatus reports the state of the arbitrage loop.
type LoopStatus interface {
	Status() engine.Status
}

// QuoteReader returns the last cached quote per symbol.
type QuoteReader interface {
	GetQuotes(ctx context.Context, symbols []string) (map[string]domain.PriceQuote, error)
}

// StatusInfo is the static part of the status response.
type StatusInfo struct {
	Mode      string
	Triangle  domain.Triangle
	DryRun    bool
	LegPolicy domain.LegPolicy
}

// StatusHandler serves the bot status for the dashboard.
type StatusHandler struct {
	info   StatusInfo
	loop   LoopStatus
	quotes QuoteReader
}

// NewStatusHandler creates a StatusHandler. quotes may be nil, in which case
// the response carries no last_quotes.
func NewStatusHandler(info StatusInfo, loop LoopStatus, quotes QuoteReader) *StatusHandler {
	return &StatusHandler{info: info, loop: loop, quotes: quotes}
}

type quoteView struct {
	Price      string    `json:"price"`
	ObservedAt time.Time `json:"observed_at"`
}

// GetStatus responds with the configured triangle, the loop state and the
// last cached quote of each leg.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":       h.info.Mode,
		"triangle":   h.info.Triangle.Symbols(),
		"dry_run":    h.info.DryRun,
		"leg_policy": h.info.LegPolicy,
		"loop":       h.loop.Status(),
	}

	if h.quotes != nil {
		ctx, cancel := context.WithTimeout(r.Context(), quoteReadTimeout)
		defer cancel()
		quotes, err := h.quotes.GetQuotes(ctx, h.info.Triangle.Symbols())
		if err != nil {
			resp["quotes_error"] = err.Error()
		} else {
			views := make(map[string]quoteView, len(quotes))
			for sym, q := range quotes {
				views[sym] = quoteView{Price: q.Price.String(), ObservedAt: q.ObservedAt}
			}
			resp["last_quotes"] = views
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
