// Package arbitrage evaluates a triangular cycle quote→A→B→quote against a
// single snapshot of three prices.
package arbitrage

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mobelieve/mexc-triarb/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Evaluate converts initial quote currency into A at the quote/A price, A into
// B at the A/B price, and B back into quote currency at the B/quote price.
// A maker fee is charged on the initial notional and a taker fee on the final
// notional, both as percent. The verdict is profitable only when the net
// profit is strictly positive.
//
// Evaluate performs no I/O. Callers must only pass a complete triplet and a
// positive initial amount; anything else is a programming error and panics.
func Evaluate(t domain.PriceTriplet, initial decimal.Decimal, fees domain.FeeSchedule) domain.Verdict {
	if !t.Complete() {
		panic(fmt.Sprintf("arbitrage: evaluate called with incomplete triplet (%s=%s %s=%s %s=%s)",
			t.QuoteA.Symbol, t.QuoteA.Price, t.AB.Symbol, t.AB.Price, t.BQuote.Symbol, t.BQuote.Price))
	}
	if !initial.IsPositive() {
		panic(fmt.Sprintf("arbitrage: evaluate called with non-positive initial amount %s", initial))
	}

	aAmount := initial.Div(t.QuoteA.Price)
	bAmount := aAmount.Div(t.AB.Price)
	final := bAmount.Mul(t.BQuote.Price)

	makerFee := initial.Mul(fees.MakerRate).Div(hundred)
	takerFee := final.Mul(fees.TakerRate).Div(hundred)
	net := final.Sub(initial).Sub(makerFee).Sub(takerFee)

	return domain.Verdict{
		Profitable:     net.IsPositive(),
		InitialAmount:  initial,
		AAmount:        aAmount,
		BAmount:        bAmount,
		FinalAmount:    final,
		MakerFeeAmount: makerFee,
		TakerFeeAmount: takerFee,
		NetProfit:      net,
	}
}

// GrossEdgeBps returns the pre-fee edge of the cycle in basis points.
func GrossEdgeBps(v domain.Verdict) decimal.Decimal {
	if v.InitialAmount.IsZero() {
		return decimal.Zero
	}
	return v.FinalAmount.Sub(v.InitialAmount).Div(v.InitialAmount).Mul(decimal.NewFromInt(10_000))
}
