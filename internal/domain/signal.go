package domain

import "time"

// TradeSignal is a candidate copy-trade derived from an observed whale fill.
// Signals are produced by the upstream detector, consumed exactly once by the
// pipeline, and never mutated after creation.
type TradeSignal struct {
	ID         string // UUID for dedup
	Whale      string // whale wallet address
	MarketID   string
	TokenID    string
	Side       OrderSide
	Size       float64 // whale's fill size in shares
	Price      float64 // whale's fill price, 0.01..0.99
	Category   string  // market category for concentration checks
	Resolution time.Time
	CreatedAt  time.Time
}

// Notional returns the USD value of the whale's fill.
func (s TradeSignal) Notional() float64 {
	return s.Price * s.Size
}

// RejectionStage identifies which admission stage failed a signal.
type RejectionStage int

const (
	StageWhale     RejectionStage = 1
	StageTrade     RejectionStage = 2
	StagePortfolio RejectionStage = 3
)

// Rejection is the structured record emitted when a signal fails admission.
type Rejection struct {
	SignalID string
	Whale    string
	Stage    RejectionStage
	Reason   string
	At       time.Time
}

// FilterVerdict is the SignalFilter output. On pass, EstEdge and
// EstCorrelation carry metadata the sizer and allocator consume downstream.
type FilterVerdict struct {
	Passed         bool
	Rejection      *Rejection
	EstEdge        float64 // model probability minus market price, signed per side
	EstCorrelation float64 // estimated correlation with existing positions
	EstSlippage    float64 // square-root impact estimate, fraction of price
}
