package sizing

import (
	"log/slog"
	"testing"
	"time"

	"github.com/quantfold/whalecopy/internal/domain"
)

const scalerWhale = "0xabc"

func newTestScaler(cfg ScalerConfig) *RiskScaler {
	return NewRiskScaler(cfg, slog.Default())
}

func record(r *RiskScaler, whale string, wins ...bool) {
	for _, w := range wins {
		r.RecordOutcome(domain.TradeOutcome{Whale: whale, Win: w})
	}
}

func TestScalerNeutralUnderMinTrades(t *testing.T) {
	cfg := DefaultScalerConfig()
	r := newTestScaler(cfg)

	if got := r.Multiplier(scalerWhale); got != cfg.NeutralScale {
		t.Fatalf("unknown whale multiplier = %v, want neutral %v", got, cfg.NeutralScale)
	}
	record(r, scalerWhale, true, true, true, true) // 4 < MinTradesForScaling
	if got := r.Multiplier(scalerWhale); got != cfg.NeutralScale {
		t.Fatalf("multiplier = %v with short history, want neutral %v", got, cfg.NeutralScale)
	}
}

func TestScalerScalesUpOnWinStreak(t *testing.T) {
	cfg := DefaultScalerConfig()
	r := newTestScaler(cfg)

	record(r, scalerWhale, true, true, true, true, true)
	if got := r.State(scalerWhale); got != ScalerScalingUp {
		t.Errorf("state = %v, want SCALING_UP", got)
	}
	// Streak of 5: increments fire on wins 3, 4, 5.
	want := cfg.NeutralScale + 3*cfg.Increment
	if want > cfg.MaxScale {
		want = cfg.MaxScale
	}
	if got := r.Multiplier(scalerWhale); got != want {
		t.Errorf("multiplier = %v, want %v", got, want)
	}
}

func TestScalerScalesDownOnLossStreak(t *testing.T) {
	cfg := DefaultScalerConfig()
	cfg.MinTradesForScaling = 2
	r := newTestScaler(cfg)

	record(r, scalerWhale, false, false)
	if got := r.State(scalerWhale); got != ScalerScalingDown {
		t.Errorf("state = %v, want SCALING_DOWN", got)
	}
	if got := r.Multiplier(scalerWhale); got != cfg.NeutralScale-cfg.Decrement {
		t.Errorf("multiplier = %v, want %v", got, cfg.NeutralScale-cfg.Decrement)
	}
}

func TestScalerSevereLossForcesMinimal(t *testing.T) {
	cfg := DefaultScalerConfig()
	r := newTestScaler(cfg)

	// A winning start does not protect against a severe streak.
	record(r, scalerWhale, true, true, true)
	record(r, scalerWhale, false, false, false, false, false)
	if got := r.State(scalerWhale); got != ScalerMinimal {
		t.Errorf("state = %v, want MINIMAL", got)
	}
	if got := r.Multiplier(scalerWhale); got != cfg.MinScale {
		t.Errorf("multiplier = %v, want min scale %v", got, cfg.MinScale)
	}
}

func TestScalerMultiplierAlwaysClamped(t *testing.T) {
	cfg := DefaultScalerConfig()
	cfg.MinTradesForScaling = 1
	cfg.Increment = 0.75
	r := newTestScaler(cfg)

	record(r, scalerWhale, true, true, true, true, true, true, true, true)
	if got := r.Multiplier(scalerWhale); got > cfg.MaxScale {
		t.Errorf("multiplier = %v exceeds max %v", got, cfg.MaxScale)
	}
	r.Reset(scalerWhale)
	record(r, scalerWhale, false, false, false, false, false, false, false)
	if got := r.Multiplier(scalerWhale); got < cfg.MinScale {
		t.Errorf("multiplier = %v below min %v", got, cfg.MinScale)
	}
}

func TestScalerInactivityReset(t *testing.T) {
	cfg := DefaultScalerConfig()
	cfg.MinTradesForScaling = 2
	r := newTestScaler(cfg)

	now := time.Now()
	r.now = func() time.Time { return now }
	record(r, scalerWhale, false, false, false, false, false)
	if got := r.Multiplier(scalerWhale); got != cfg.MinScale {
		t.Fatalf("multiplier = %v before idle period, want %v", got, cfg.MinScale)
	}

	now = now.Add(cfg.InactivityReset + time.Hour)
	if got := r.Multiplier(scalerWhale); got != cfg.NeutralScale {
		t.Errorf("multiplier = %v after idle period, want neutral %v", got, cfg.NeutralScale)
	}
	if got := r.State(scalerWhale); got != ScalerNeutral {
		t.Errorf("state = %v after idle period, want NEUTRAL", got)
	}
}

func TestScalerWindowBounded(t *testing.T) {
	cfg := DefaultScalerConfig()
	cfg.WindowSize = 4
	r := newTestScaler(cfg)

	record(r, scalerWhale, true, true, true, true, true, true)
	r.mu.Lock()
	got := len(r.whales[scalerWhale].window)
	r.mu.Unlock()
	if got != cfg.WindowSize {
		t.Errorf("window length = %d, want %d", got, cfg.WindowSize)
	}
}
