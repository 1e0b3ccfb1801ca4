// Package depth simulates order fills against live book snapshots to
// estimate slippage and liquidity consumption before an order is placed.
package depth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quantfold/whalecopy/internal/domain"
)

// BookFetcher returns a fresh book snapshot for an asset. Implemented by the
// exchange client; snapshots are fetched per analysis and never reused.
type BookFetcher interface {
	GetBook(ctx context.Context, assetID string) (domain.BookSnapshot, error)
}

// Config holds the analyzer's veto thresholds.
type Config struct {
	MaxSlippageLimit  float64 // cap for limit orders, fraction (default 0.02)
	MaxSlippageMarket float64 // cap for market orders, fraction (default 0.05)
	MaxLiquidityUsed  float64 // cap on share of side depth consumed (default 0.30)
}

// DefaultConfig returns the standard veto thresholds.
func DefaultConfig() Config {
	return Config{
		MaxSlippageLimit:  0.02,
		MaxSlippageMarket: 0.05,
		MaxLiquidityUsed:  0.30,
	}
}

// Analyzer estimates the cost of filling a sized order against the current
// book. It never mutates book state.
type Analyzer struct {
	books  BookFetcher
	cfg    Config
	logger *slog.Logger
}

// NewAnalyzer creates an Analyzer using the given book source.
func NewAnalyzer(books BookFetcher, cfg Config, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		books:  books,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "depth_analyzer")),
	}
}

// Analyze fetches a fresh snapshot and simulates filling a notionalUSD order
// on the given side.
func (a *Analyzer) Analyze(ctx context.Context, assetID string, side domain.OrderSide, notionalUSD float64) (domain.DepthEstimate, error) {
	snap, err := a.books.GetBook(ctx, assetID)
	if err != nil {
		return domain.DepthEstimate{}, fmt.Errorf("depth: fetch book %s: %w", assetID, err)
	}
	est := a.Simulate(snap, side, notionalUSD)
	if est.ShouldSkip {
		a.logger.DebugContext(ctx, "depth veto",
			slog.String("asset", assetID),
			slog.String("side", string(side)),
			slog.Float64("notional", notionalUSD),
			slog.String("reason", est.SkipReason),
		)
	}
	return est, nil
}

// Simulate walks the consuming side of the snapshot (asks for buys, bids for
// sells), spending notionalUSD across price levels until the order or the
// book is exhausted. It is a pure function of its inputs.
func (a *Analyzer) Simulate(snap domain.BookSnapshot, side domain.OrderSide, notionalUSD float64) domain.DepthEstimate {
	levels := snap.Asks
	best := snap.BestAsk
	if side == domain.OrderSideSell {
		levels = snap.Bids
		best = snap.BestBid
	}
	if len(levels) > 0 && best == 0 {
		best = levels[0].Price
	}

	if len(levels) == 0 || best <= 0 {
		return domain.DepthEstimate{
			ShouldSkip: true,
			SkipReason: "empty book side",
			SkipErr:    domain.ErrLiquidityInsufficient,
		}
	}
	if notionalUSD <= 0 {
		return domain.DepthEstimate{
			ShouldSkip: true,
			SkipReason: "non-positive order size",
			SkipErr:    domain.ErrLiquidityInsufficient,
		}
	}

	var (
		remaining   = notionalUSD
		shares      float64
		spent       float64
		worst       = best
		levelsUsed  int
		totalUSD    float64
	)
	for _, l := range levels {
		totalUSD += l.Price * l.Size
	}

	for _, l := range levels {
		if remaining <= 0 {
			break
		}
		levelUSD := l.Price * l.Size
		take := levelUSD
		if take > remaining {
			take = remaining
		}
		shares += take / l.Price
		spent += take
		remaining -= take
		worst = l.Price
		levelsUsed++
	}

	if remaining > 1e-9 {
		return domain.DepthEstimate{
			FilledSize:     shares,
			LevelsConsumed: levelsUsed,
			ShouldSkip:     true,
			SkipReason:     fmt.Sprintf("book holds $%.2f, order needs $%.2f", spent, notionalUSD),
			SkipErr:        domain.ErrLiquidityInsufficient,
		}
	}

	avg := spent / shares

	var slippage float64
	switch side {
	case domain.OrderSideBuy:
		slippage = (avg - best) / best
	case domain.OrderSideSell:
		slippage = (best - avg) / best
	}

	used := 0.0
	if totalUSD > 0 {
		used = spent / totalUSD
	}

	est := domain.DepthEstimate{
		AvgFillPrice:    avg,
		WorstPrice:      worst,
		LevelsConsumed:  levelsUsed,
		FilledSize:      shares,
		Slippage:        slippage,
		LiquidityUsed:   used,
		RecommendedType: domain.OrderTypeLimit,
	}

	switch {
	case slippage > a.cfg.MaxSlippageMarket:
		est.ShouldSkip = true
		est.SkipReason = fmt.Sprintf("slippage %.4f exceeds market cap %.4f", slippage, a.cfg.MaxSlippageMarket)
		est.SkipErr = domain.ErrSlippageExceeded
	case slippage > a.cfg.MaxSlippageLimit:
		// Too steep for a resting limit order but a marketable order can
		// still take it.
		est.RecommendedType = domain.OrderTypeMarket
	}

	if !est.ShouldSkip && used > a.cfg.MaxLiquidityUsed {
		est.ShouldSkip = true
		est.SkipReason = fmt.Sprintf("order consumes %.1f%% of side depth (cap %.1f%%)", used*100, a.cfg.MaxLiquidityUsed*100)
		est.SkipErr = domain.ErrLiquidityInsufficient
	}

	return est
}
