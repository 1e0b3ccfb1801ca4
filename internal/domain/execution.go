package domain

import "time"

// ExecutionResult is the terminal outcome of the multi-phase executor for
// one sized trade. The caller persists it; the executor never retries a
// finished result.
type ExecutionResult struct {
	ID           string
	SignalID     string
	Whale        string
	MarketID     string
	TokenID      string
	Side         OrderSide
	Success      bool
	OrderID      string
	RequestedSize float64
	FilledSize   float64
	AvgFillPrice float64
	FinalPhase   int // 1..3, the phase that ended the attempt
	Elapsed      time.Duration
	Error        string
	ExecutedAt   time.Time
}
