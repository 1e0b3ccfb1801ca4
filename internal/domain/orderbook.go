package domain

import "time"

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64
	Size  float64
}

// BookSnapshot is a full snapshot of bids and asks for an asset, fetched
// fresh per depth analysis and never cached across trades.
type BookSnapshot struct {
	AssetID   string
	Bids      []PriceLevel // sorted best (highest) first
	Asks      []PriceLevel // sorted best (lowest) first
	BestBid   float64
	BestAsk   float64
	Spread    float64
	Timestamp time.Time
}

// TotalDepth returns the summed size on one side of the book.
func (b BookSnapshot) TotalDepth(side OrderSide) float64 {
	levels := b.Asks
	if side == OrderSideSell {
		levels = b.Bids
	}
	var total float64
	for _, l := range levels {
		total += l.Size
	}
	return total
}

// PriceChange is an incremental orderbook level update from the feed.
type PriceChange struct {
	AssetID   string
	Side      string // "BUY" or "SELL"
	Price     float64
	Size      float64 // 0 means remove level
	Timestamp time.Time
}

// DepthEstimate is the result of simulating a fill against a book snapshot.
type DepthEstimate struct {
	AvgFillPrice    float64
	WorstPrice      float64
	LevelsConsumed  int
	FilledSize      float64
	Slippage        float64 // signed per side, positive = adverse
	LiquidityUsed   float64 // fraction of total side depth consumed
	ShouldSkip      bool
	SkipReason      string
	SkipErr         error // ErrLiquidityInsufficient or ErrSlippageExceeded
	RecommendedType OrderType
}
