// Package executor submits the three legs of a profitable triangle in order
// and records what the exchange said about each of them.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mobelieve/mexc-triarb/internal/domain"
)

// recordTimeout bounds persistence and publishing after the legs are placed.
const recordTimeout = 5 * time.Second

// OrderPlacer is the interface through which the sequencer submits orders to
// the exchange. It is implemented by the MEXC client.
type OrderPlacer interface {
	PlaceLimitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)
}

// Notifier delivers operator alerts. It is implemented by notify.Notifier.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Notification event types emitted by the sequencer.
const (
	EventExecution        = "execution"
	EventPartialExecution = "partial_execution"
	EventExecutionFailed  = "execution_failed"
)

// Options configures a Sequencer.
type Options struct {
	Policy domain.LegPolicy
	DryRun bool
	// StepSizes floors each leg's quantity to the symbol's increment.
	StepSizes domain.StepSizes
}

// Sequencer places the legs of a verdict one after another. Under the
// best_effort policy every leg is attempted whatever happened to the previous
// one; no compensating orders are ever sent.
type Sequencer struct {
	placer OrderPlacer
	policy domain.LegPolicy
	dryRun bool
	steps  domain.StepSizes
	logger *slog.Logger

	store    domain.ArbExecutionStore
	bus      domain.SignalBus
	notifier Notifier
	now      func() time.Time
}

// NewSequencer creates a Sequencer. An unknown policy falls back to
// best_effort.
func NewSequencer(placer OrderPlacer, opts Options, logger *slog.Logger) *Sequencer {
	policy := opts.Policy
	if !policy.Valid() {
		policy = domain.LegPolicyBestEffort
	}
	return &Sequencer{
		placer: placer,
		policy: policy,
		dryRun: opts.DryRun,
		steps:  opts.StepSizes,
		logger: logger.With(slog.String("component", "sequencer")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetRecording enables execution history and event publishing. Either
// argument may be nil.
func (s *Sequencer) SetRecording(store domain.ArbExecutionStore, bus domain.SignalBus) {
	s.store = store
	s.bus = bus
}

// SetNotifier enables operator alerts on executions.
func (s *Sequencer) SetNotifier(n Notifier) {
	s.notifier = n
}

// Policy returns the active leg policy.
func (s *Sequencer) Policy() domain.LegPolicy { return s.policy }

// DryRun reports whether orders are only logged.
func (s *Sequencer) DryRun() bool { return s.dryRun }

// Execute submits the three legs of v, all priced from t. It panics if v is
// not profitable: building orders for an unprofitable verdict is a caller bug.
//
// Execute does not observe ctx cancellation between legs. Once the first
// leg is sent the sequence runs to its terminal state; ctx only carries
// values and the per-call timeouts are applied by the placer.
func (s *Sequencer) Execute(ctx context.Context, tri domain.Triangle, v domain.Verdict, t domain.PriceTriplet) domain.ArbExecution {
	reqs := v.RoundedOrders(t, s.steps)
	if reqs == nil {
		panic("executor: Execute called with an unprofitable verdict")
	}

	exec := domain.ArbExecution{
		ID:        uuid.New().String(),
		Triangle:  tri,
		Policy:    s.policy,
		Verdict:   v,
		Legs:      make([]domain.ArbLeg, 0, len(reqs)),
		StartedAt: s.now(),
	}
	log := s.logger.With(slog.String("execution_id", exec.ID), slog.String("policy", string(s.policy)))

	legCtx := context.WithoutCancel(ctx)
	halted := false
	for i, req := range reqs {
		leg := domain.ArbLeg{Index: i, Request: req}
		switch {
		case s.dryRun:
			leg.Result = domain.OrderResult{Status: domain.OrderStatusSkipped, Message: "dry run"}
		case halted:
			leg.Result = domain.OrderResult{Status: domain.OrderStatusSkipped, Message: "halted after earlier leg failed"}
		default:
			res, err := s.placer.PlaceLimitOrder(legCtx, req)
			if err != nil {
				leg.Err = err.Error()
				if res.Status == "" {
					res.Status = domain.OrderStatusFailed
				}
				res.Accepted = false
			}
			leg.Result = res
		}
		s.logLeg(log, leg)
		exec.Legs = append(exec.Legs, leg)

		if !s.dryRun && !leg.Result.Accepted && s.policy == domain.LegPolicyHaltOnReject {
			halted = true
		}
	}

	exec.CompletedAt = s.now()
	exec.Status = classify(exec, s.dryRun)
	if exec.NeedsReconciliation() {
		log.Warn("triangle left partially open, needs manual reconciliation",
			slog.Int("accepted_legs", exec.Accepted()),
		)
	}

	s.record(legCtx, exec)
	return exec
}

func (s *Sequencer) logLeg(log *slog.Logger, leg domain.ArbLeg) {
	attrs := []any{
		slog.Int("leg", leg.Index+1),
		slog.String("symbol", leg.Request.Symbol),
		slog.String("side", string(leg.Request.Side)),
		slog.String("quantity", leg.Request.Quantity.String()),
		slog.String("price", leg.Request.Price.String()),
		slog.String("notional", leg.Request.Notional().String()),
		slog.String("status", string(leg.Result.Status)),
	}
	switch {
	case leg.Result.Accepted:
		log.Info("leg accepted", append(attrs, slog.String("order_id", leg.Result.ExchangeOrderID))...)
	case leg.Result.Status == domain.OrderStatusSkipped:
		log.Info("leg skipped", append(attrs, slog.String("reason", leg.Result.Message))...)
	default:
		log.Error("leg not accepted", append(attrs, slog.String("error", leg.Err))...)
	}
}

// classify derives the execution status from the leg outcomes.
func classify(exec domain.ArbExecution, dryRun bool) domain.ArbExecStatus {
	if dryRun {
		return domain.ArbExecDryRun
	}
	switch n := exec.Accepted(); {
	case n == len(exec.Legs):
		return domain.ArbExecSubmitted
	case n == 0:
		return domain.ArbExecFailed
	default:
		return domain.ArbExecPartial
	}
}

// record persists, publishes and notifies. Failures are logged and never
// change the execution outcome.
func (s *Sequencer) record(ctx context.Context, exec domain.ArbExecution) {
	ctx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()

	if s.store != nil && exec.Status != domain.ArbExecDryRun {
		if err := s.store.Create(ctx, exec); err != nil {
			s.logger.Warn("execution record failed",
				slog.String("execution_id", exec.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.bus != nil {
		payload, err := json.Marshal(NewExecutionEvent(exec))
		if err == nil {
			if err := s.bus.Publish(ctx, domain.ChannelExecution, payload); err != nil {
				s.logger.Warn("execution publish failed", slog.String("error", err.Error()))
			}
			if err := s.bus.StreamAppend(ctx, domain.StreamExecutions, payload); err != nil {
				s.logger.Warn("execution stream append failed", slog.String("error", err.Error()))
			}
		}
	}

	if s.notifier != nil && exec.Status != domain.ArbExecDryRun {
		event := EventExecution
		switch exec.Status {
		case domain.ArbExecPartial:
			event = EventPartialExecution
		case domain.ArbExecFailed:
			event = EventExecutionFailed
		}
		title := fmt.Sprintf("Triangle %s (%d/%d legs)", exec.Status, exec.Accepted(), len(exec.Legs))
		if err := s.notifier.Notify(ctx, event, title, summarize(exec)); err != nil {
			s.logger.Warn("execution notify failed", slog.String("error", err.Error()))
		}
	}
}

func summarize(exec domain.ArbExecution) string {
	var b strings.Builder
	fmt.Fprintf(&b, "id %s\nexpected net %s\n", exec.ID, exec.ExpectedPnL().StringFixed(8))
	for _, l := range exec.Legs {
		fmt.Fprintf(&b, "%d. %s %s %s @ %s: %s", l.Index+1, l.Request.Side, l.Request.Quantity,
			l.Request.Symbol, l.Request.Price, l.Result.Status)
		if l.Result.ExchangeOrderID != "" {
			fmt.Fprintf(&b, " #%s", l.Result.ExchangeOrderID)
		}
		if l.Err != "" {
			fmt.Fprintf(&b, " (%s)", l.Err)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// ExecutionEvent is the JSON shape published on the execution channel and
// stream.
type ExecutionEvent struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Policy      string     `json:"policy"`
	Initial     string     `json:"initial_amount"`
	Final       string     `json:"final_amount"`
	NetProfit   string     `json:"net_profit"`
	Legs        []LegEvent `json:"legs"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt time.Time  `json:"completed_at"`
}

// LegEvent is one leg of an ExecutionEvent.
type LegEvent struct {
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Quantity string `json:"quantity"`
	Price    string `json:"price"`
	Status   string `json:"status"`
	OrderID  string `json:"order_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NewExecutionEvent converts an execution into its published form.
func NewExecutionEvent(exec domain.ArbExecution) ExecutionEvent {
	ev := ExecutionEvent{
		ID:          exec.ID,
		Status:      string(exec.Status),
		Policy:      string(exec.Policy),
		Initial:     exec.Verdict.InitialAmount.String(),
		Final:       exec.Verdict.FinalAmount.String(),
		NetProfit:   exec.Verdict.NetProfit.String(),
		Legs:        make([]LegEvent, 0, len(exec.Legs)),
		StartedAt:   exec.StartedAt,
		CompletedAt: exec.CompletedAt,
	}
	for _, l := range exec.Legs {
		ev.Legs = append(ev.Legs, LegEvent{
			Symbol:   l.Request.Symbol,
			Side:     string(l.Request.Side),
			Quantity: l.Request.Quantity.String(),
			Price:    l.Request.Price.String(),
			Status:   string(l.Result.Status),
			OrderID:  l.Result.ExchangeOrderID,
			Error:    l.Err,
		})
	}
	return ev
}
