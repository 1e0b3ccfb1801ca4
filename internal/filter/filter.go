// Package filter implements three-stage admission control over incoming
// trade signals: whale quality, trade/market quality, portfolio fit. Stages
// run in order and the first failure terminates evaluation.
package filter

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/quantfold/whalecopy/internal/domain"
)

// Config holds the admission thresholds for all three stages.
type Config struct {
	// Stage 1, whale quality.
	MinQualityScore  float64 // 0..100
	MaxWhaleDrawdown float64 // fraction of the whale's peak

	// Stage 2, trade/market quality.
	MinNotional     float64       // USD
	Volatility      float64       // sigma for the square-root impact model
	MaxImpact       float64       // impact cap, fraction of price
	MaxToResolution time.Duration // reject markets resolving too far out
	MinEdge         float64       // implied probability minus market price

	// Stage 3, portfolio fit. The exposure projections use CopyRatio to
	// approximate the position this account would actually take; exact
	// caps are enforced again when the risk manager books the exposure.
	CopyRatio         float64
	MaxCorrelation    float64 // against whales with open positions
	MaxTotalExposure  float64 // post-trade open notional / NAV
	MaxSectorExposure float64 // post-trade per-category cap
}

// DefaultConfig returns the standard admission thresholds.
func DefaultConfig() Config {
	return Config{
		MinQualityScore:   60,
		MaxWhaleDrawdown:  0.25,
		MinNotional:       1000,
		Volatility:        0.10,
		MaxImpact:         0.03,
		MaxToResolution:   90 * 24 * time.Hour,
		MinEdge:           0.01,
		CopyRatio:         0.01,
		MaxCorrelation:    0.70,
		MaxTotalExposure:  0.80,
		MaxSectorExposure: 0.30,
	}
}

// ProfileSource resolves the profile of the whale behind a signal.
type ProfileSource interface {
	GetByAddress(ctx context.Context, address string) (domain.WhaleProfile, error)
	LoadCorrelations(ctx context.Context) (*domain.CorrelationMatrix, error)
}

// PriceSource supplies the current market price for a token.
type PriceSource interface {
	CurrentPrice(ctx context.Context, tokenID string) (float64, error)
}

// PortfolioView is the read side of the risk manager used for the
// portfolio-fit stage. The authoritative exposure reservation still happens
// in the risk manager when the trade is gated.
type PortfolioView interface {
	Snapshot() domain.PortfolioSnapshot
	OpenWhales() []string
}

// Filter evaluates signals against the three admission stages.
type Filter struct {
	cfg       Config
	profiles  ProfileSource
	prices    PriceSource
	portfolio PortfolioView
	now       func() time.Time
	logger    *slog.Logger
}

// New creates a Filter.
func New(cfg Config, profiles ProfileSource, prices PriceSource, portfolio PortfolioView, logger *slog.Logger) *Filter {
	return &Filter{
		cfg:       cfg,
		profiles:  profiles,
		prices:    prices,
		portfolio: portfolio,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "signal_filter")),
	}
}

func (f *Filter) reject(sig domain.TradeSignal, stage domain.RejectionStage, format string, args ...any) domain.FilterVerdict {
	rej := &domain.Rejection{
		SignalID: sig.ID,
		Whale:    sig.Whale,
		Stage:    stage,
		Reason:   fmt.Sprintf(format, args...),
		At:       f.now(),
	}
	f.logger.Debug("signal rejected",
		slog.String("signal", sig.ID),
		slog.String("whale", sig.Whale),
		slog.Int("stage", int(stage)),
		slog.String("reason", rej.Reason),
	)
	return domain.FilterVerdict{Rejection: rej}
}

// Evaluate runs the three stages in order and stops at the first failure.
// Infrastructure errors (profile or price lookups) are returned as errors,
// not rejections.
func (f *Filter) Evaluate(ctx context.Context, sig domain.TradeSignal) (domain.FilterVerdict, error) {
	profile, err := f.profiles.GetByAddress(ctx, sig.Whale)
	if err != nil {
		return domain.FilterVerdict{}, fmt.Errorf("filter: whale profile %s: %w", sig.Whale, err)
	}

	// Stage 1: whale quality.
	if profile.QualityScore < f.cfg.MinQualityScore {
		return f.reject(sig, domain.StageWhale, "quality score %.1f below minimum %.1f", profile.QualityScore, f.cfg.MinQualityScore), nil
	}
	if profile.Sharpe30d <= profile.Sharpe90d {
		return f.reject(sig, domain.StageWhale, "30d sharpe %.2f not above 90d sharpe %.2f", profile.Sharpe30d, profile.Sharpe90d), nil
	}
	if profile.Drawdown > f.cfg.MaxWhaleDrawdown {
		return f.reject(sig, domain.StageWhale, "drawdown %.1f%% exceeds ceiling %.1f%%", profile.Drawdown*100, f.cfg.MaxWhaleDrawdown*100), nil
	}

	// Stage 2: trade/market quality.
	notional := sig.Notional()
	if notional < f.cfg.MinNotional {
		return f.reject(sig, domain.StageTrade, "notional $%.2f below minimum $%.2f", notional, f.cfg.MinNotional), nil
	}
	impact := f.impactEstimate(notional, profile.ADV)
	if impact > f.cfg.MaxImpact {
		return f.reject(sig, domain.StageTrade, "impact estimate %.4f exceeds cap %.4f", impact, f.cfg.MaxImpact), nil
	}
	if !sig.Resolution.IsZero() {
		if ttr := sig.Resolution.Sub(f.now()); ttr > f.cfg.MaxToResolution {
			return f.reject(sig, domain.StageTrade, "resolves in %s, beyond cap %s", ttr.Round(time.Hour), f.cfg.MaxToResolution), nil
		}
	}
	current, err := f.prices.CurrentPrice(ctx, sig.TokenID)
	if err != nil {
		return domain.FilterVerdict{}, fmt.Errorf("filter: current price %s: %w", sig.TokenID, err)
	}
	edge := edgeEstimate(sig, current)
	if edge < f.cfg.MinEdge {
		return f.reject(sig, domain.StageTrade, "edge %.4f below minimum %.4f", edge, f.cfg.MinEdge), nil
	}

	// Stage 3: portfolio fit.
	corr, err := f.maxOpenCorrelation(ctx, sig.Whale)
	if err != nil {
		return domain.FilterVerdict{}, fmt.Errorf("filter: correlations: %w", err)
	}
	if corr > f.cfg.MaxCorrelation {
		return f.reject(sig, domain.StagePortfolio, "correlation %.2f with open positions exceeds cap %.2f", corr, f.cfg.MaxCorrelation), nil
	}
	snap := f.portfolio.Snapshot()
	copyNotional := notional
	if f.cfg.CopyRatio > 0 {
		copyNotional = notional * f.cfg.CopyRatio
	}
	if snap.NAV > 0 {
		post := snap.TotalExposurePct + copyNotional/snap.NAV
		if post > f.cfg.MaxTotalExposure {
			return f.reject(sig, domain.StagePortfolio, "post-trade exposure %.1f%% exceeds cap %.1f%%", post*100, f.cfg.MaxTotalExposure*100), nil
		}
		if sig.Category != "" {
			postSector := (snap.SectorExposure[sig.Category] + copyNotional) / snap.NAV
			if postSector > f.cfg.MaxSectorExposure {
				return f.reject(sig, domain.StagePortfolio, "post-trade %s concentration %.1f%% exceeds cap %.1f%%", sig.Category, postSector*100, f.cfg.MaxSectorExposure*100), nil
			}
		}
	}

	return domain.FilterVerdict{
		Passed:         true,
		EstEdge:        edge,
		EstCorrelation: corr,
		EstSlippage:    impact,
	}, nil
}

// impactEstimate applies the square-root market-impact model sigma *
// sqrt(size/ADV). A whale with unknown ADV gets the cap itself so the trade
// is rejected rather than sized blind.
func (f *Filter) impactEstimate(notional, adv float64) float64 {
	if adv <= 0 {
		return f.cfg.MaxImpact + 1
	}
	return f.cfg.Volatility * math.Sqrt(notional/adv)
}

// edgeEstimate treats the whale's fill price as its implied probability and
// measures how far the current market sits on the profitable side of it.
func edgeEstimate(sig domain.TradeSignal, current float64) float64 {
	if sig.Side == domain.OrderSideSell {
		return current - sig.Price
	}
	return sig.Price - current
}

func (f *Filter) maxOpenCorrelation(ctx context.Context, whale string) (float64, error) {
	open := f.portfolio.OpenWhales()
	if len(open) == 0 {
		return 0, nil
	}
	matrix, err := f.profiles.LoadCorrelations(ctx)
	if err != nil {
		return 0, err
	}
	maxCorr := 0.0
	for _, other := range open {
		if other == whale {
			continue
		}
		if c := matrix.Get(whale, other); c > maxCorr {
			maxCorr = c
		}
	}
	return maxCorr, nil
}
