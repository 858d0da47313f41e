package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testTriplet() PriceTriplet {
	return PriceTriplet{
		QuoteA: PriceQuote{Symbol: "BTCUSDT", Price: d("50000")},
		AB:     PriceQuote{Symbol: "ETHBTC", Price: d("0.05")},
		BQuote: PriceQuote{Symbol: "ETHUSDT", Price: d("3000")},
	}
}

func testVerdict() Verdict {
	// 1500 USDT -> 0.03 BTC -> 0.6 ETH, nudged off the step grid.
	return Verdict{
		Profitable:    true,
		InitialAmount: d("1500"),
		AAmount:       d("0.0300123456789"),
		BAmount:       d("0.600246913578"),
		FinalAmount:   d("1800.740740734"),
	}
}

func TestStepSizesFloor(t *testing.T) {
	steps := StepSizes{"BTCUSDT": d("0.0001"), "ZERO": decimal.Zero}

	assert.Equal(t, "0.03", steps.Floor("BTCUSDT", d("0.030099")).String())
	assert.Equal(t, "0.0301", steps.Floor("BTCUSDT", d("0.0301")).String())
	assert.Equal(t, "0.030099", steps.Floor("ETHBTC", d("0.030099")).String(), "no step, unrounded")
	assert.Equal(t, "1.5", steps.Floor("ZERO", d("1.5")).String(), "non-positive step is ignored")
}

func TestRoundedOrders(t *testing.T) {
	tri := testTriplet()
	steps := StepSizes{"BTCUSDT": d("0.0001"), "ETHBTC": d("0.001"), "ETHUSDT": d("0.01")}

	reqs := testVerdict().RoundedOrders(tri, steps)
	require.Len(t, reqs, 3)
	assert.Equal(t, "0.03", reqs[0].Quantity.String())
	// 0.03 / 0.05 = 0.6, already on both grids.
	assert.Equal(t, "0.6", reqs[1].Quantity.String())
	assert.Equal(t, "0.6", reqs[2].Quantity.String())
	for _, r := range reqs {
		assert.NoError(t, r.Validate())
	}

	// Leg 2 never spends more A than leg 1 bought.
	assert.True(t, reqs[1].Quantity.Mul(tri.AB.Price).LessThanOrEqual(reqs[0].Quantity))
	// Leg 3 never sells more B than leg 2 bought.
	assert.True(t, reqs[2].Quantity.LessThanOrEqual(reqs[1].Quantity))
}

func TestRoundedOrdersWithoutSteps(t *testing.T) {
	v := testVerdict()
	assert.Equal(t, v.Orders(testTriplet()), v.RoundedOrders(testTriplet(), nil))
	assert.Nil(t, Verdict{}.RoundedOrders(testTriplet(), StepSizes{"BTCUSDT": d("0.1")}))
}

func TestOrderNotional(t *testing.T) {
	r := OrderRequest{Quantity: d("0.6"), Price: d("3000")}
	assert.Equal(t, "1800", r.Notional().String())
}

func TestTriangleQuoteAsset(t *testing.T) {
	assert.Equal(t, "USDT", Triangle{QuoteA: "BTCUSDT", AB: "ETHBTC", BQuote: "ETHUSDT"}.QuoteAsset())
	assert.Equal(t, "USDC", Triangle{QuoteA: "BTCUSDC", AB: "SOLBTC", BQuote: "SOLUSDC"}.QuoteAsset())
	assert.Empty(t, Triangle{QuoteA: "BTCUSDT", BQuote: "ETHBUSD"}.QuoteAsset())
	assert.Empty(t, Triangle{QuoteA: "USDT", BQuote: "USDT"}.QuoteAsset())
}

func TestAccountInfoFree(t *testing.T) {
	info := AccountInfo{Balances: []Balance{{Asset: "USDT", Free: d("12.5"), Locked: d("1")}}}
	assert.Equal(t, "12.5", info.Free("USDT").String())
	assert.True(t, info.Free("BTC").IsZero())
}
