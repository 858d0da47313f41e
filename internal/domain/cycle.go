package domain

import (
	"fmt"
	"strings"
	"time"
)

// CycleOutcome classifies what one loop iteration did.
type CycleOutcome string

const (
	CycleIncomplete    CycleOutcome = "incomplete_market_data"
	CycleNoOpportunity CycleOutcome = "no_opportunity"
	CycleExecuted      CycleOutcome = "executed"
	CycleDryRun        CycleOutcome = "dry_run"
)

// CycleReport summarises one loop iteration. Every iteration produces exactly
// one report and therefore one log line.
type CycleReport struct {
	Seq       uint64
	Outcome   CycleOutcome
	Triplet   PriceTriplet
	Missing   []string
	Verdict   *Verdict
	Execution *ArbExecution
	At        time.Time
}

// Line renders the report as a single human-readable line.
func (r CycleReport) Line() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cycle=%d", r.Seq)
	if r.Outcome == CycleIncomplete {
		fmt.Fprintf(&b, " %s missing=%s", r.Outcome, strings.Join(r.Missing, ","))
		return b.String()
	}
	fmt.Fprintf(&b, " %s=%s %s=%s %s=%s",
		r.Triplet.QuoteA.Symbol, r.Triplet.QuoteA.Price,
		r.Triplet.AB.Symbol, r.Triplet.AB.Price,
		r.Triplet.BQuote.Symbol, r.Triplet.BQuote.Price,
	)
	if r.Verdict != nil {
		fmt.Fprintf(&b, " initial=%s final=%s net=%s profitable=%t",
			r.Verdict.InitialAmount, r.Verdict.FinalAmount.StringFixed(8),
			r.Verdict.NetProfit.StringFixed(8), r.Verdict.Profitable)
	}
	fmt.Fprintf(&b, " outcome=%s", r.Outcome)
	if r.Execution != nil {
		for _, l := range r.Execution.Legs {
			fmt.Fprintf(&b, " leg%d=%s:%s:%s", l.Index+1, l.Request.Side, l.Request.Symbol, l.Result.Status)
			if l.Result.ExchangeOrderID != "" {
				fmt.Fprintf(&b, "#%s", l.Result.ExchangeOrderID)
			}
		}
		fmt.Fprintf(&b, " execution=%s", r.Execution.Status)
	}
	return b.String()
}
