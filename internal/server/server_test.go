package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobelieve/mexc-triarb/internal/domain"
	"github.com/mobelieve/mexc-triarb/internal/engine"
	"github.com/mobelieve/mexc-triarb/internal/server/handler"
)

type fakeLoop struct {
	startErr error
	started  []domain.Credentials
	stopped  int
	running  bool
}

func (f *fakeLoop) Start(creds domain.Credentials) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, creds)
	f.running = true
	return nil
}
func (f *fakeLoop) Stop()         { f.stopped++; f.running = false }
func (f *fakeLoop) Running() bool { return f.running }
func (f *fakeLoop) Status() engine.Status {
	return engine.Status{Running: f.running, Cycles: 3, LastLine: "cycle=3 outcome=no_opportunity"}
}
func (f *fakeLoop) RecentReports(limit int) []domain.CycleReport {
	return []domain.CycleReport{{Seq: 3, Outcome: domain.CycleIncomplete, Missing: []string{"ETHBTC"}}}
}

type fakeExecutions struct {
	execs map[string]domain.ArbExecution
}

func (f *fakeExecutions) ListRecent(_ context.Context, limit int) ([]domain.ArbExecution, error) {
	out := []domain.ArbExecution{}
	for _, e := range f.execs {
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeExecutions) GetByID(_ context.Context, id string) (domain.ArbExecution, error) {
	e, ok := f.execs[id]
	if !ok {
		return domain.ArbExecution{}, fmt.Errorf("postgres: get execution %s: %w", id, domain.ErrNotFound)
	}
	return e, nil
}

type fakeAudit struct {
	last domain.ListOpts
}

func (f *fakeAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	f.last = opts
	return []domain.AuditEntry{{ID: 7, Event: "cycle", Detail: map[string]any{"outcome": "no_opportunity"}}}, nil
}

type fakeQuotes struct {
	quotes map[string]domain.PriceQuote
	err    error
	asked  []string
}

func (f *fakeQuotes) GetQuotes(_ context.Context, symbols []string) (map[string]domain.PriceQuote, error) {
	f.asked = symbols
	return f.quotes, f.err
}

type fakeBlobs struct{}

func (fakeBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	return []domain.BlobInfo{{Path: prefix + "2026-01-01.jsonl", Size: 42}}, nil
}
func (fakeBlobs) Exists(context.Context, string) (bool, error) { return true, nil }

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, nil
}
func (denyLimiter) Wait(context.Context, string, int, time.Duration) error { return nil }

var defaultCreds = domain.Credentials{APIKey: "cfg-key", SecretKey: "cfg-secret"}

func newTestHandler(t *testing.T, cfg Config, loop *fakeLoop, execs handler.ExecutionReader) http.Handler {
	t.Helper()
	return newTestHandlerWithAudit(t, cfg, loop, execs, nil)
}

func newTestHandlerWithAudit(t *testing.T, cfg Config, loop *fakeLoop, execs handler.ExecutionReader, audit handler.AuditReader) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tri := domain.Triangle{QuoteA: "BTCUSDT", AB: "ETHBTC", BQuote: "ETHUSDT"}
	handlers := Handlers{
		Health:     handler.NewHealthHandler(),
		Status:     handler.NewStatusHandler(handler.StatusInfo{Mode: "trade", Triangle: tri, LegPolicy: domain.LegPolicyBestEffort}, loop, nil),
		Loop:       handler.NewLoopHandler(loop, defaultCreds, logger),
		Executions: handler.NewExecutionHandler(execs, logger),
		Archives:   handler.NewArchiveHandler(fakeBlobs{}, nil, "archive/executions/", logger),
		Audit:      handler.NewAuditHandler(audit, logger),
	}
	return newHandler(cfg, handlers, nil, logger)
}

func do(h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthIsPublic(t *testing.T) {
	h := newTestHandler(t, Config{APIKey: "admin"}, &fakeLoop{}, nil)

	rec := do(h, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestAuthRequired(t *testing.T) {
	h := newTestHandler(t, Config{APIKey: "admin"}, &fakeLoop{}, nil)

	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/status", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized,
		do(h, http.MethodGet, "/api/status", "", map[string]string{"X-API-Key": "nope"}).Code)

	rec := do(h, http.MethodGet, "/api/status", "", map[string]string{"Authorization": "Bearer admin"})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Mode     string        `json:"mode"`
		Triangle []string      `json:"triangle"`
		Loop     engine.Status `json:"loop"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "trade", body.Mode)
	assert.Equal(t, []string{"BTCUSDT", "ETHBTC", "ETHUSDT"}, body.Triangle)
	assert.Equal(t, uint64(3), body.Loop.Cycles)
}

func TestLoopStartStop(t *testing.T) {
	loop := &fakeLoop{}
	h := newTestHandler(t, Config{}, loop, nil)

	rec := do(h, http.MethodPost, "/api/loop/start", `{"api_key":" k ","secret_key":"s"}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, loop.started, 1)
	assert.Equal(t, domain.Credentials{APIKey: "k", SecretKey: "s"}, loop.started[0])

	rec = do(h, http.MethodPost, "/api/loop/stop", "", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "stopping")
	assert.Equal(t, 1, loop.stopped)

	rec = do(h, http.MethodPost, "/api/loop/stop", "", nil)
	assert.Contains(t, rec.Body.String(), "idle")

	// An empty body falls back to the configured credentials.
	rec = do(h, http.MethodPost, "/api/loop/start", "", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, defaultCreds, loop.started[1])
}

func TestLoopStartErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrLoopRunning, http.StatusConflict},
		{fmt.Errorf("engine: start: %w", domain.ErrUnauthorized), http.StatusUnauthorized},
		{fmt.Errorf("engine: start: %w", domain.ErrLockHeld), http.StatusConflict},
		{fmt.Errorf("engine: start: %w", domain.ErrNetwork), http.StatusBadGateway},
		{fmt.Errorf("engine: start: stopped: %w", context.Canceled), http.StatusConflict},
	}
	for _, tc := range cases {
		h := newTestHandler(t, Config{}, &fakeLoop{startErr: tc.err}, nil)
		rec := do(h, http.MethodPost, "/api/loop/start", "{}", nil)
		assert.Equal(t, tc.want, rec.Code, tc.err.Error())
	}

	h := newTestHandler(t, Config{}, &fakeLoop{}, nil)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/api/loop/start", "{", nil).Code)
}

func TestRecentCycles(t *testing.T) {
	h := newTestHandler(t, Config{}, &fakeLoop{}, nil)
	rec := do(h, http.MethodGet, "/api/cycles/recent?limit=5", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cycle=3 incomplete_market_data missing=ETHBTC")
}

func TestExecutions(t *testing.T) {
	h := newTestHandler(t, Config{}, &fakeLoop{}, nil)
	assert.Equal(t, http.StatusNotImplemented, do(h, http.MethodGet, "/api/executions/recent", "", nil).Code)

	exec := domain.ArbExecution{
		ID:     "e1",
		Status: domain.ArbExecPartial,
		Policy: domain.LegPolicyBestEffort,
		Verdict: domain.Verdict{
			Profitable:    true,
			InitialAmount: decimal.NewFromInt(1500),
			NetProfit:     decimal.RequireFromString("1.25"),
		},
	}
	h = newTestHandler(t, Config{}, &fakeLoop{}, &fakeExecutions{execs: map[string]domain.ArbExecution{"e1": exec}})

	rec := do(h, http.MethodGet, "/api/executions/recent", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"needs_reconciliation":true`)
	assert.Contains(t, rec.Body.String(), `"net_profit":"1.25"`)

	rec = do(h, http.MethodGet, "/api/executions/e1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"e1"`)

	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/executions/missing", "", nil).Code)
}

func TestArchives(t *testing.T) {
	h := newTestHandler(t, Config{}, &fakeLoop{}, nil)

	rec := do(h, http.MethodGet, "/api/archives", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "archive/executions/2026-01-01.jsonl")

	assert.Equal(t, http.StatusNotImplemented, do(h, http.MethodPost, "/api/archives/run", "", nil).Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestHandler(t, Config{APIKey: "admin", CORSOrigins: []string{"http://localhost:5173"}}, &fakeLoop{}, nil)

	rec := do(h, http.MethodOptions, "/api/loop/start", "", map[string]string{"Origin": "http://localhost:5173"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(h, http.MethodOptions, "/api/loop/start", "", map[string]string{"Origin": "http://evil.example"})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimited(t *testing.T) {
	h := newTestHandler(t, Config{Limiter: denyLimiter{}, RateLimit: 1, RateWindow: time.Second}, &fakeLoop{}, nil)
	rec := do(h, http.MethodGet, "/api/status", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestAudit(t *testing.T) {
	h := newTestHandler(t, Config{}, &fakeLoop{}, nil)
	assert.Equal(t, http.StatusNotImplemented, do(h, http.MethodGet, "/api/audit", "", nil).Code)

	audit := &fakeAudit{}
	h = newTestHandlerWithAudit(t, Config{}, &fakeLoop{}, nil, audit)

	rec := do(h, http.MethodGet, "/api/audit?event=cycle&limit=5&since=2026-01-01T00:00:00Z", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"event":"cycle"`)
	assert.Equal(t, "cycle", audit.last.Event)
	assert.Equal(t, 5, audit.last.Limit)
	require.NotNil(t, audit.last.Since)
	assert.Equal(t, 2026, audit.last.Since.Year())

	rec = do(h, http.MethodGet, "/api/audit?since=yesterday", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusReportsCachedQuotes(t *testing.T) {
	tri := domain.Triangle{QuoteA: "BTCUSDT", AB: "ETHBTC", BQuote: "ETHUSDT"}
	at := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	quotes := &fakeQuotes{quotes: map[string]domain.PriceQuote{
		"ETHBTC": {Symbol: "ETHBTC", Price: decimal.RequireFromString("0.0512"), ObservedAt: at},
	}}
	status := handler.NewStatusHandler(handler.StatusInfo{Mode: "monitor", Triangle: tri, DryRun: true}, &fakeLoop{}, quotes)

	rec := httptest.NewRecorder()
	status.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		DryRun     bool `json:"dry_run"`
		LastQuotes map[string]struct {
			Price      string    `json:"price"`
			ObservedAt time.Time `json:"observed_at"`
		} `json:"last_quotes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.DryRun)
	assert.Equal(t, []string{"BTCUSDT", "ETHBTC", "ETHUSDT"}, quotes.asked)
	require.Len(t, body.LastQuotes, 1)
	assert.Equal(t, "0.0512", body.LastQuotes["ETHBTC"].Price)
	assert.True(t, body.LastQuotes["ETHBTC"].ObservedAt.Equal(at))

	quotes.err = fmt.Errorf("redis: get quotes pipeline: %w", domain.ErrNetwork)
	rec = httptest.NewRecorder()
	status.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"quotes_error"`)
	assert.NotContains(t, rec.Body.String(), `"last_quotes"`)
}
