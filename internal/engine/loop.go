// Package engine runs the poll, evaluate, execute cycle and exposes the
// start/stop control used by the HTTP surface and the CLI modes.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mobelieve/mexc-triarb/internal/arbitrage"
	"github.com/mobelieve/mexc-triarb/internal/domain"
)

const (
	DefaultPollInterval = 10 * time.Second
	defaultRecentLimit  = 100
	sideEffectTimeout   = 5 * time.Second
)

// PriceSource returns the last-trade price for a symbol.
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (domain.PriceQuote, error)
}

// Executor submits the legs of a profitable verdict.
type Executor interface {
	Execute(ctx context.Context, tri domain.Triangle, v domain.Verdict, t domain.PriceTriplet) domain.ArbExecution
}

// LogSink receives one human-readable line per cycle.
type LogSink interface {
	WriteLine(line string)
}

// LoopConfig holds the read-only parameters of a loop.
type LoopConfig struct {
	Triangle      domain.Triangle
	InitialAmount decimal.Decimal
	Fees          domain.FeeSchedule
	PollInterval  time.Duration
}

// Loop polls the three prices of a triangle, evaluates the cycle and hands
// profitable verdicts to the executor. A Loop runs at most once at a time;
// the Controller owns its lifecycle.
type Loop struct {
	cfg    LoopConfig
	prices PriceSource
	exec   Executor
	sinks  []LogSink
	logger *slog.Logger

	cache domain.PriceCache
	audit domain.AuditStore
	bus   domain.SignalBus

	mu          sync.Mutex
	seq         uint64
	recent      []domain.CycleReport
	recentLimit int
	now         func() time.Time
}

// NewLoop creates a Loop. A non-positive poll interval falls back to
// DefaultPollInterval.
func NewLoop(cfg LoopConfig, prices PriceSource, exec Executor, logger *slog.Logger) *Loop {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Loop{
		cfg:         cfg,
		prices:      prices,
		exec:        exec,
		logger:      logger.With(slog.String("component", "arb_loop")),
		recentLimit: defaultRecentLimit,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// AddSink registers a line sink. Must be called before Run.
func (l *Loop) AddSink(s LogSink) {
	l.sinks = append(l.sinks, s)
}

// SetPriceCache stores every fetched quote in c.
func (l *Loop) SetPriceCache(c domain.PriceCache) { l.cache = c }

// SetAuditStore appends one audit row per cycle.
func (l *Loop) SetAuditStore(a domain.AuditStore) { l.audit = a }

// SetSignalBus publishes every cycle line on domain.ChannelCycle.
func (l *Loop) SetSignalBus(b domain.SignalBus) { l.bus = b }

// Run executes cycles until ctx is cancelled. Cancellation is observed at
// the top of every iteration, after every network call and during the sleep.
// Calls already in flight are not aborted; their own timeout bounds them.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("arbitrage loop started",
		slog.String("triangle", fmt.Sprintf("%s/%s/%s", l.cfg.Triangle.QuoteA, l.cfg.Triangle.AB, l.cfg.Triangle.BQuote)),
		slog.String("initial_amount", l.cfg.InitialAmount.String()),
		slog.Duration("poll_interval", l.cfg.PollInterval),
	)
	defer l.logger.Info("arbitrage loop stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, ok := l.RunCycle(ctx); !ok {
			return nil
		}

		timer := time.NewTimer(l.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// RunCycle performs one iteration and emits its line. It returns false when
// ctx was cancelled before the cycle could finish fetching prices; no line
// is emitted in that case.
func (l *Loop) RunCycle(ctx context.Context) (domain.CycleReport, bool) {
	triplet, ok := l.fetchTriplet(ctx)
	if !ok {
		return domain.CycleReport{}, false
	}

	report := domain.CycleReport{
		Seq:     l.nextSeq(),
		Triplet: triplet,
		At:      l.now(),
	}

	if !triplet.Complete() {
		report.Outcome = domain.CycleIncomplete
		report.Missing = triplet.Missing(l.cfg.Triangle)
		l.logger.Warn("incomplete market data, skipping cycle",
			slog.Uint64("cycle", report.Seq),
			slog.Any("missing", report.Missing),
			slog.String("error", domain.ErrIncompleteMarketData.Error()),
		)
		l.emit(ctx, report)
		return report, true
	}

	verdict := arbitrage.Evaluate(triplet, l.cfg.InitialAmount, l.cfg.Fees)
	report.Verdict = &verdict
	report.Outcome = domain.CycleNoOpportunity

	if verdict.Profitable {
		exec := l.exec.Execute(ctx, l.cfg.Triangle, verdict, triplet)
		report.Execution = &exec
		report.Outcome = domain.CycleExecuted
		if exec.Status == domain.ArbExecDryRun {
			report.Outcome = domain.CycleDryRun
		}
	}

	l.emit(ctx, report)
	return report, true
}

// fetchTriplet polls the three symbols one after another. A failed fetch
// leaves that quote empty and does not stop the remaining fetches. It
// returns false if ctx was cancelled between calls.
func (l *Loop) fetchTriplet(ctx context.Context) (domain.PriceTriplet, bool) {
	callCtx := context.WithoutCancel(ctx)
	var t domain.PriceTriplet
	slots := []*domain.PriceQuote{&t.QuoteA, &t.AB, &t.BQuote}

	for i, symbol := range l.cfg.Triangle.Symbols() {
		if ctx.Err() != nil {
			return t, false
		}
		q, err := l.prices.GetPrice(callCtx, symbol)
		if err != nil {
			l.logger.Warn("price fetch failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		*slots[i] = q
		l.cacheQuote(callCtx, q)
	}
	if ctx.Err() != nil {
		return t, false
	}
	return t, true
}

func (l *Loop) cacheQuote(ctx context.Context, q domain.PriceQuote) {
	if l.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, sideEffectTimeout)
	defer cancel()
	if err := l.cache.SetQuote(ctx, q); err != nil {
		l.logger.Debug("price cache write failed", slog.String("symbol", q.Symbol), slog.String("error", err.Error()))
	}
}

// emit records the report and sends its line to every sink, the bus and the
// audit log.
func (l *Loop) emit(ctx context.Context, r domain.CycleReport) {
	line := r.Line()

	l.mu.Lock()
	l.recent = append(l.recent, r)
	if len(l.recent) > l.recentLimit {
		l.recent = l.recent[len(l.recent)-l.recentLimit:]
	}
	l.mu.Unlock()

	if r.Outcome != domain.CycleIncomplete {
		attrs := []any{
			slog.Uint64("cycle", r.Seq),
			slog.String("outcome", string(r.Outcome)),
			slog.String("line", line),
		}
		if r.Verdict != nil {
			attrs = append(attrs, slog.String("gross_edge_bps", arbitrage.GrossEdgeBps(*r.Verdict).StringFixed(2)))
		}
		l.logger.Info("cycle complete", attrs...)
	}
	for _, s := range l.sinks {
		s.WriteLine(line)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	if l.bus != nil {
		if err := l.bus.Publish(ctx, domain.ChannelCycle, []byte(line)); err != nil {
			l.logger.Debug("cycle publish failed", slog.String("error", err.Error()))
		}
	}
	if l.audit != nil {
		if err := l.audit.Log(ctx, "cycle", auditDetail(r)); err != nil {
			l.logger.Warn("cycle audit failed", slog.String("error", err.Error()))
		}
	}
}

func auditDetail(r domain.CycleReport) map[string]any {
	d := map[string]any{
		"cycle":   r.Seq,
		"outcome": string(r.Outcome),
	}
	if len(r.Missing) > 0 {
		d["missing"] = r.Missing
	}
	prices := map[string]string{}
	for _, q := range []domain.PriceQuote{r.Triplet.QuoteA, r.Triplet.AB, r.Triplet.BQuote} {
		if q.Valid() {
			prices[q.Symbol] = q.Price.String()
		}
	}
	d["prices"] = prices
	if r.Verdict != nil {
		d["final_amount"] = r.Verdict.FinalAmount.String()
		d["net_profit"] = r.Verdict.NetProfit.String()
		d["profitable"] = r.Verdict.Profitable
		d["gross_edge_bps"] = arbitrage.GrossEdgeBps(*r.Verdict).StringFixed(2)
	}
	if r.Execution != nil {
		d["execution_id"] = r.Execution.ID
		d["execution_status"] = string(r.Execution.Status)
	}
	return d
}

func (l *Loop) nextSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	return l.seq
}

// Cycles returns the number of completed cycles.
func (l *Loop) Cycles() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// RecentReports returns up to limit reports, newest first.
func (l *Loop) RecentReports(limit int) []domain.CycleReport {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.recent)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.CycleReport, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.recent[i])
	}
	return out
}

// Config returns the loop parameters.
func (l *Loop) Config() LoopConfig { return l.cfg }
