package domain

import "github.com/shopspring/decimal"

// Verdict is the outcome of evaluating one PriceTriplet.
type Verdict struct {
	Profitable     bool
	InitialAmount  decimal.Decimal // quote currency spent on leg 1
	AAmount        decimal.Decimal // intermediate asset bought on leg 1
	BAmount        decimal.Decimal // target asset bought on leg 2 and sold on leg 3
	FinalAmount    decimal.Decimal // quote currency received on leg 3, before fees
	MakerFeeAmount decimal.Decimal
	TakerFeeAmount decimal.Decimal
	NetProfit      decimal.Decimal
}

// Orders builds the three legs for a verdict evaluated against t. The legs
// always reference the prices of the same triplet. It returns nil when the
// verdict is not profitable.
func (v Verdict) Orders(t PriceTriplet) []OrderRequest {
	if !v.Profitable {
		return nil
	}
	return []OrderRequest{
		{Symbol: t.QuoteA.Symbol, Side: OrderSideBuy, Quantity: v.AAmount, Price: t.QuoteA.Price, TimeInForce: TimeInForceGTC},
		{Symbol: t.AB.Symbol, Side: OrderSideBuy, Quantity: v.BAmount, Price: t.AB.Price, TimeInForce: TimeInForceGTC},
		{Symbol: t.BQuote.Symbol, Side: OrderSideSell, Quantity: v.BAmount, Price: t.BQuote.Price, TimeInForce: TimeInForceGTC},
	}
}

// StepSizes maps a symbol to its quantity increment on the exchange.
// Symbols without an entry are sent unrounded.
type StepSizes map[string]decimal.Decimal

// Floor rounds qty down to a multiple of the step of symbol.
func (s StepSizes) Floor(symbol string, qty decimal.Decimal) decimal.Decimal {
	step, ok := s[symbol]
	if !ok || !step.IsPositive() {
		return qty
	}
	return qty.Div(step).Floor().Mul(step)
}

// RoundedOrders is Orders with every quantity floored to its symbol's step.
// Leg 2 is sized from the rounded leg 1 quantity and legs 2 and 3 share one
// quantity that satisfies both steps, so no leg spends more than the
// previous leg bought.
func (v Verdict) RoundedOrders(t PriceTriplet, steps StepSizes) []OrderRequest {
	reqs := v.Orders(t)
	if reqs == nil || len(steps) == 0 {
		return reqs
	}
	a := steps.Floor(reqs[0].Symbol, reqs[0].Quantity)
	b := reqs[1].Quantity
	if !a.Equal(reqs[0].Quantity) {
		b = a.Div(t.AB.Price)
	}
	b = steps.Floor(reqs[2].Symbol, steps.Floor(reqs[1].Symbol, b))
	reqs[0].Quantity = a
	reqs[1].Quantity = b
	reqs[2].Quantity = b
	return reqs
}
