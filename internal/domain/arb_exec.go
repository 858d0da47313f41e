package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ArbExecStatus is the execution state.
type ArbExecStatus string

const (
	ArbExecSubmitted ArbExecStatus = "submitted" // every leg accepted
	ArbExecPartial   ArbExecStatus = "partial"   // some legs accepted; needs manual reconciliation
	ArbExecFailed    ArbExecStatus = "failed"    // no leg accepted
	ArbExecDryRun    ArbExecStatus = "dry_run"
)

// ArbExecution records one three-leg execution of a profitable verdict.
type ArbExecution struct {
	ID          string
	Triangle    Triangle
	Policy      LegPolicy
	Verdict     Verdict
	Legs        []ArbLeg
	Status      ArbExecStatus
	StartedAt   time.Time
	CompletedAt time.Time
}

// ArbLeg is one leg of an execution.
type ArbLeg struct {
	Index   int
	Request OrderRequest
	Result  OrderResult
	Err     string
}

// Accepted counts legs the exchange accepted.
func (e ArbExecution) Accepted() int {
	n := 0
	for _, l := range e.Legs {
		if l.Result.Accepted {
			n++
		}
	}
	return n
}

// NeedsReconciliation reports whether the triangle was left partially open.
func (e ArbExecution) NeedsReconciliation() bool {
	return e.Status == ArbExecPartial
}

// ExpectedPnL is the evaluator's net profit for the execution.
func (e ArbExecution) ExpectedPnL() decimal.Decimal {
	return e.Verdict.NetProfit
}
