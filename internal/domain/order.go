package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// TimeInForce is the exchange time-in-force policy.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC" // Good-Till-Cancelled
)

// OrderStatus tracks what the exchange told us about a submission.
type OrderStatus string

const (
	OrderStatusAccepted OrderStatus = "accepted"
	OrderStatusRejected OrderStatus = "rejected"
	OrderStatusFailed   OrderStatus = "failed"  // transport or auth failure, outcome unknown
	OrderStatusSkipped  OrderStatus = "skipped" // not submitted (halted sequence or dry run)
)

// OrderRequest is one limit order leg. It is immutable once submitted.
type OrderRequest struct {
	Symbol      string
	Side        OrderSide
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	TimeInForce TimeInForce
}

// Validate rejects requests the exchange would refuse anyway.
func (r OrderRequest) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidOrder)
	}
	if r.Side != OrderSideBuy && r.Side != OrderSideSell {
		return fmt.Errorf("%w: side %q", ErrInvalidOrder, r.Side)
	}
	if !r.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive, got %s", ErrInvalidOrder, r.Quantity)
	}
	if !r.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive, got %s", ErrInvalidOrder, r.Price)
	}
	return nil
}

// Notional returns quantity * price.
func (r OrderRequest) Notional() decimal.Decimal {
	return r.Quantity.Mul(r.Price)
}

// OrderResult wraps the exchange response after order submission.
type OrderResult struct {
	Accepted        bool
	ExchangeOrderID string
	Status          OrderStatus
	Message         string
	RawResponse     string
}
