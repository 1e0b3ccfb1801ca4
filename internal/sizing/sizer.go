package sizing

import (
	"fmt"
	"log/slog"

	"github.com/quantfold/whalecopy/internal/domain"
)

// SizerConfig holds the proportional-copy parameters.
type SizerConfig struct {
	CopyRatio     float64 // fraction of the whale's notional to mirror
	MinSize       float64 // smallest order worth placing, USD
	MaxSize       float64 // absolute per-trade cap, USD
	MaxBalancePct float64 // cap as a fraction of current balance, default 0.20
}

// DefaultSizerConfig returns the standard sizing parameters.
func DefaultSizerConfig() SizerConfig {
	return SizerConfig{
		CopyRatio:     0.01,
		MinSize:       10,
		MaxSize:       1000,
		MaxBalancePct: 0.20,
	}
}

// SizeDecision explains how a target size was reached.
type SizeDecision struct {
	BaseSize   float64 // whale notional x copy ratio
	Multiplier float64 // risk scaler output applied to the base
	Size       float64 // final clamped size, USD
}

// Sizer turns a whale's trade notional into this account's order size. The
// scaler multiplier and allocation ceiling come from the caller so sizing
// itself stays a pure computation.
type Sizer struct {
	cfg    SizerConfig
	logger *slog.Logger
}

// NewSizer creates a Sizer.
func NewSizer(cfg SizerConfig, logger *slog.Logger) *Sizer {
	return &Sizer{cfg: cfg, logger: logger.With(slog.String("component", "position_sizer"))}
}

// Size computes the copy size for a signal. Clamps apply in order: the
// [MinSize, MaxSize] band, then MaxBalancePct of the live balance, then the
// whale's allocation ceiling. A size squeezed below MinSize by the balance or
// allocation clamps is reported as an error rather than a dust order.
func (s *Sizer) Size(sig domain.TradeSignal, multiplier, balance float64, alloc *domain.AllocationEntry) (SizeDecision, error) {
	base := sig.Notional() * s.cfg.CopyRatio
	size := base * multiplier

	size = clamp(size, s.cfg.MinSize, s.cfg.MaxSize)

	if balCap := balance * s.cfg.MaxBalancePct; size > balCap {
		size = balCap
	}
	if alloc != nil && alloc.MaxPositionSize > 0 && size > alloc.MaxPositionSize {
		size = alloc.MaxPositionSize
	}

	dec := SizeDecision{BaseSize: base, Multiplier: multiplier, Size: size}
	if size < s.cfg.MinSize {
		return dec, fmt.Errorf("sizing: %s size $%.2f below minimum $%.2f after caps", sig.Whale, size, s.cfg.MinSize)
	}

	s.logger.Debug("sized signal",
		slog.String("signal", sig.ID),
		slog.String("whale", sig.Whale),
		slog.Float64("base", base),
		slog.Float64("multiplier", multiplier),
		slog.Float64("size", size),
	)
	return dec, nil
}
