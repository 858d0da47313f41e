package arbitrage

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobelieve/mexc-triarb/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func triplet(quoteA, ab, bQuote string) domain.PriceTriplet {
	now := time.Now()
	return domain.PriceTriplet{
		QuoteA: domain.PriceQuote{Symbol: "BTCUSDT", Price: d(quoteA), ObservedAt: now},
		AB:     domain.PriceQuote{Symbol: "ETHBTC", Price: d(ab), ObservedAt: now},
		BQuote: domain.PriceQuote{Symbol: "ETHUSDT", Price: d(bQuote), ObservedAt: now},
	}
}

func TestEvaluate_ConcreteScenario(t *testing.T) {
	tr := triplet("50000", "0.05", "3000")
	fees := domain.FeeSchedule{MakerRate: d("0"), TakerRate: d("0.1")}

	v := Evaluate(tr, d("1500"), fees)

	assert.True(t, v.AAmount.Equal(d("0.03")), "aAmount=%s", v.AAmount)
	assert.True(t, v.BAmount.Equal(d("0.6")), "bAmount=%s", v.BAmount)
	assert.True(t, v.FinalAmount.Equal(d("1800")), "final=%s", v.FinalAmount)
	assert.True(t, v.MakerFeeAmount.IsZero())
	assert.True(t, v.TakerFeeAmount.Equal(d("1.8")), "taker=%s", v.TakerFeeAmount)
	assert.True(t, v.NetProfit.Equal(d("298.2")), "net=%s", v.NetProfit)
	assert.True(t, v.Profitable)

	orders := v.Orders(tr)
	require.Len(t, orders, 3)
	assert.Equal(t, domain.OrderSideBuy, orders[0].Side)
	assert.Equal(t, domain.OrderSideBuy, orders[1].Side)
	assert.Equal(t, domain.OrderSideSell, orders[2].Side)
	assert.Equal(t, "BTCUSDT", orders[0].Symbol)
	assert.Equal(t, "ETHBTC", orders[1].Symbol)
	assert.Equal(t, "ETHUSDT", orders[2].Symbol)
	assert.True(t, orders[0].Quantity.Equal(d("0.03")))
	assert.True(t, orders[1].Quantity.Equal(d("0.6")))
	assert.True(t, orders[2].Quantity.Equal(d("0.6")))
	assert.True(t, orders[0].Price.Equal(d("50000")))
	assert.True(t, orders[1].Price.Equal(d("0.05")))
	assert.True(t, orders[2].Price.Equal(d("3000")))
	for _, o := range orders {
		assert.Equal(t, domain.TimeInForceGTC, o.TimeInForce)
		assert.NoError(t, o.Validate())
	}
}

func TestEvaluate_ZeroProfitIsNotProfitable(t *testing.T) {
	// 1500 / 50000 / 0.05 * 2500 = 1500 exactly.
	tr := triplet("50000", "0.05", "2500")
	fees := domain.FeeSchedule{MakerRate: decimal.Zero, TakerRate: decimal.Zero}

	v := Evaluate(tr, d("1500"), fees)

	assert.True(t, v.FinalAmount.Equal(d("1500")))
	assert.True(t, v.NetProfit.IsZero())
	assert.False(t, v.Profitable)
	assert.Nil(t, v.Orders(tr))
}

func TestEvaluate_FeesTurnEdgeNegative(t *testing.T) {
	// 0.04% gross edge, 0.1% taker fee.
	tr := triplet("50000", "0.05", "2501")
	fees := domain.FeeSchedule{MakerRate: decimal.Zero, TakerRate: d("0.1")}

	v := Evaluate(tr, d("1500"), fees)

	assert.True(t, v.FinalAmount.GreaterThan(v.InitialAmount))
	assert.True(t, v.NetProfit.IsNegative())
	assert.False(t, v.Profitable)
}

func TestEvaluate_MakerFeeOnInitial(t *testing.T) {
	tr := triplet("50000", "0.05", "3000")
	fees := domain.FeeSchedule{MakerRate: d("0.2"), TakerRate: decimal.Zero}

	v := Evaluate(tr, d("1500"), fees)

	assert.True(t, v.MakerFeeAmount.Equal(d("3")))
	assert.True(t, v.NetProfit.Equal(d("297")))
}

func TestEvaluate_MonotonicInQuoteAPrice(t *testing.T) {
	fees := domain.FeeSchedule{MakerRate: decimal.Zero, TakerRate: d("0.1")}
	prev := Evaluate(triplet("40000", "0.05", "3000"), d("1500"), fees).NetProfit

	for _, p := range []string{"40000.01", "45000", "49999.99", "50000", "55000", "60000", "1000000"} {
		next := Evaluate(triplet(p, "0.05", "3000"), d("1500"), fees).NetProfit
		require.True(t, next.LessThan(prev), "price %s: net %s not below %s", p, next, prev)
		prev = next
	}
}

func TestEvaluate_PanicsOnIncompleteTriplet(t *testing.T) {
	tr := triplet("50000", "0.05", "3000")
	tr.AB = domain.PriceQuote{Symbol: "ETHBTC"}

	assert.Panics(t, func() {
		Evaluate(tr, d("1500"), domain.FeeSchedule{})
	})
}

func TestEvaluate_PanicsOnNonPositiveInitial(t *testing.T) {
	assert.Panics(t, func() {
		Evaluate(triplet("50000", "0.05", "3000"), decimal.Zero, domain.FeeSchedule{})
	})
}

func TestGrossEdgeBps(t *testing.T) {
	v := Evaluate(triplet("50000", "0.05", "3000"), d("1500"), domain.FeeSchedule{})
	assert.True(t, GrossEdgeBps(v).Equal(d("2000")), "edge=%s", GrossEdgeBps(v))
	assert.True(t, GrossEdgeBps(domain.Verdict{}).IsZero())
}
