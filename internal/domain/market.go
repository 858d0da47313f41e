package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Credentials are the exchange API credentials. They are read-only for the
// lifetime of a running loop.
type Credentials struct {
	APIKey    string
	SecretKey string
}

// Valid reports whether both halves of the credential pair are present.
func (c Credentials) Valid() bool {
	return c.APIKey != "" && c.SecretKey != ""
}

// Triangle names the three trading pairs of the cycle quote→A→B→quote, e.g.
// BTCUSDT, ETHBTC, ETHUSDT.
type Triangle struct {
	QuoteA string // A priced in quote
	AB     string // B priced in A
	BQuote string // B priced in quote
}

// Symbols returns the pairs in polling order.
func (t Triangle) Symbols() []string {
	return []string{t.QuoteA, t.AB, t.BQuote}
}

// QuoteAsset returns the asset the cycle starts and ends in: the longest
// common suffix of QuoteA and BQuote ("USDT" for BTCUSDT and ETHUSDT). It is
// empty when the pairs share no suffix.
func (t Triangle) QuoteAsset() string {
	x, y := t.QuoteA, t.BQuote
	n := 0
	for n < len(x) && n < len(y) && x[len(x)-1-n] == y[len(y)-1-n] {
		n++
	}
	if n == len(x) || n == len(y) {
		return ""
	}
	return x[len(x)-n:]
}

// PriceQuote is a last-trade price observed for one symbol.
type PriceQuote struct {
	Symbol     string
	Price      decimal.Decimal
	ObservedAt time.Time
}

// Valid reports whether the quote carries a usable price.
func (q PriceQuote) Valid() bool {
	return q.Symbol != "" && q.Price.IsPositive()
}

// PriceTriplet holds the three quotes captured within one polling cycle.
type PriceTriplet struct {
	QuoteA PriceQuote
	AB     PriceQuote
	BQuote PriceQuote
}

// Complete reports whether all three prices are present and positive.
func (t PriceTriplet) Complete() bool {
	return t.QuoteA.Valid() && t.AB.Valid() && t.BQuote.Valid()
}

// Missing lists the symbols whose quote is absent.
func (t PriceTriplet) Missing(tri Triangle) []string {
	var out []string
	if !t.QuoteA.Valid() {
		out = append(out, tri.QuoteA)
	}
	if !t.AB.Valid() {
		out = append(out, tri.AB)
	}
	if !t.BQuote.Valid() {
		out = append(out, tri.BQuote)
	}
	return out
}

// FeeSchedule holds maker and taker fee rates expressed as percent (0.1 means
// 0.1%).
type FeeSchedule struct {
	MakerRate decimal.Decimal
	TakerRate decimal.Decimal
}

// Balance is one asset line from the account endpoint.
type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// AccountInfo is the subset of the account payload the bot cares about.
type AccountInfo struct {
	CanTrade    bool
	AccountType string
	Balances    []Balance
	UpdateTime  time.Time
}

// Free returns the free balance of asset, or zero.
func (a AccountInfo) Free(asset string) decimal.Decimal {
	for _, b := range a.Balances {
		if b.Asset == asset {
			return b.Free
		}
	}
	return decimal.Zero
}
