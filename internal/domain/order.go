package domain

import (
	"math/big"
	"time"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType distinguishes the executor's resting limit orders from the
// marketable orders the depth analyzer may recommend against.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderStatus tracks the order lifecycle on the exchange.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusMatched   OrderStatus = "matched"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusFailed    OrderStatus = "failed"
)

// Order represents a signed exchange order.
type Order struct {
	ID          string
	MarketID    string
	TokenID     string
	Wallet      string
	Side        OrderSide
	Type        OrderType
	Price       float64
	Size        float64
	MakerAmount *big.Int // integer notional used in the signed payload
	TakerAmount *big.Int // integer quantity used in the signed payload
	FilledSize  float64
	Status      OrderStatus
	Signature   string // EIP-712 hex
	CreatedAt   time.Time
	FilledAt    *time.Time
	CancelledAt *time.Time
}

// FillFraction returns the filled share of the order size, 0 when unsized.
func (o Order) FillFraction() float64 {
	if o.Size <= 0 {
		return 0
	}
	return o.FilledSize / o.Size
}

// OrderResult wraps the exchange response after order submission.
type OrderResult struct {
	Success     bool
	OrderID     string
	Status      OrderStatus
	Message     string
	FilledPrice float64
	FeeUSD      float64
}
