package domain

import "time"

// PortfolioSnapshot is a point-in-time copy of the portfolio risk counters.
// The live state is owned by the risk package; everything handed out is a
// value copy.
type PortfolioSnapshot struct {
	NAV               float64
	Balance           float64 // free capital
	TotalExposurePct  float64 // open notional / NAV
	SectorExposure    map[string]float64
	DailyPnL          float64
	PeakValue         float64
	ConsecutiveLosses int
	WhaleDailyLoss    map[string]float64 // per-whale realized losses today, <= 0
	AsOf              time.Time
}

// TradeOutcome records the realized result of one completed copy trade. It
// feeds the risk scaler window and the portfolio risk counters.
type TradeOutcome struct {
	SignalID string
	Whale    string
	MarketID string
	PnL      float64
	Win      bool
	ClosedAt time.Time
}
