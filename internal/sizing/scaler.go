// Package sizing converts an observed whale trade into the dollar size this
// account should copy, combining a proportional base size with a rolling
// performance multiplier and the allocator's per-whale ceiling.
package sizing

import (
	"log/slog"
	"sync"
	"time"

	"github.com/quantfold/whalecopy/internal/domain"
)

// ScalerState labels the scaler's posture for one whale.
type ScalerState int

const (
	ScalerNeutral ScalerState = iota
	ScalerScalingUp
	ScalerScalingDown
	ScalerMinimal
)

func (s ScalerState) String() string {
	switch s {
	case ScalerNeutral:
		return "NEUTRAL"
	case ScalerScalingUp:
		return "SCALING_UP"
	case ScalerScalingDown:
		return "SCALING_DOWN"
	case ScalerMinimal:
		return "MINIMAL"
	default:
		return "UNKNOWN"
	}
}

// ScalerConfig holds the multiplier state-machine parameters.
type ScalerConfig struct {
	WindowSize          int           // rolling outcome window, default 20
	NeutralScale        float64       // multiplier before enough history exists
	MinScale            float64       // hard floor, default 0.25
	MaxScale            float64       // hard cap, default 2.0
	Increment           float64       // step applied while scaling up
	Decrement           float64       // step applied while scaling down
	WinStreak           int           // consecutive wins before scaling up, default 3
	LossStreak          int           // consecutive losses before scaling down, default 2
	SevereLossStreak    int           // consecutive losses forcing MinScale, default 5
	MinTradesForScaling int           // outcomes required before leaving neutral
	InactivityReset     time.Duration // idle period after which state resets, default 7d
}

// DefaultScalerConfig returns the standard scaler parameters.
func DefaultScalerConfig() ScalerConfig {
	return ScalerConfig{
		WindowSize:          20,
		NeutralScale:        1.0,
		MinScale:            0.25,
		MaxScale:            2.0,
		Increment:           0.25,
		Decrement:           0.25,
		WinStreak:           3,
		LossStreak:          2,
		SevereLossStreak:    5,
		MinTradesForScaling: 5,
		InactivityReset:     7 * 24 * time.Hour,
	}
}

type whaleScaler struct {
	window     []bool // true = win, oldest first
	multiplier float64
	state      ScalerState
	consecWins int
	consecLoss int
	lastTrade  time.Time
}

// RiskScaler tracks a rolling win/loss window per whale and emits a bounded
// position multiplier. Safe for concurrent use.
type RiskScaler struct {
	mu     sync.Mutex
	whales map[string]*whaleScaler
	cfg    ScalerConfig
	now    func() time.Time
	logger *slog.Logger
}

// NewRiskScaler creates a RiskScaler.
func NewRiskScaler(cfg ScalerConfig, logger *slog.Logger) *RiskScaler {
	return &RiskScaler{
		whales: make(map[string]*whaleScaler),
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "risk_scaler")),
	}
}

func (r *RiskScaler) stateFor(whale string) *whaleScaler {
	ws, ok := r.whales[whale]
	if !ok {
		ws = &whaleScaler{multiplier: r.cfg.NeutralScale, state: ScalerNeutral}
		r.whales[whale] = ws
	}
	return ws
}

// maybeReset clears state that has been idle past the inactivity window.
func (r *RiskScaler) maybeReset(whale string, ws *whaleScaler) {
	if ws.lastTrade.IsZero() || r.cfg.InactivityReset <= 0 {
		return
	}
	if r.now().Sub(ws.lastTrade) < r.cfg.InactivityReset {
		return
	}
	r.logger.Info("scaler inactivity reset", slog.String("whale", whale))
	*ws = whaleScaler{multiplier: r.cfg.NeutralScale, state: ScalerNeutral}
}

// RecordOutcome feeds one settled trade into the whale's window and advances
// the state machine.
func (r *RiskScaler) RecordOutcome(outcome domain.TradeOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ws := r.stateFor(outcome.Whale)
	r.maybeReset(outcome.Whale, ws)
	ws.lastTrade = r.now()

	ws.window = append(ws.window, outcome.Win)
	if len(ws.window) > r.cfg.WindowSize {
		ws.window = ws.window[len(ws.window)-r.cfg.WindowSize:]
	}

	if outcome.Win {
		ws.consecWins++
		ws.consecLoss = 0
		if ws.state == ScalerMinimal {
			ws.state = ScalerNeutral
		}
		if ws.consecWins >= r.cfg.WinStreak {
			ws.state = ScalerScalingUp
			ws.multiplier = clamp(ws.multiplier+r.cfg.Increment, r.cfg.MinScale, r.cfg.MaxScale)
		}
	} else {
		ws.consecLoss++
		ws.consecWins = 0
		switch {
		case ws.consecLoss >= r.cfg.SevereLossStreak:
			// Severe streak overrides whatever the window win rate says.
			ws.state = ScalerMinimal
			ws.multiplier = r.cfg.MinScale
		case ws.consecLoss >= r.cfg.LossStreak:
			ws.state = ScalerScalingDown
			ws.multiplier = clamp(ws.multiplier-r.cfg.Decrement, r.cfg.MinScale, r.cfg.MaxScale)
		}
	}

	r.logger.Debug("scaler updated",
		slog.String("whale", outcome.Whale),
		slog.Bool("win", outcome.Win),
		slog.String("state", ws.state.String()),
		slog.Float64("multiplier", ws.multiplier),
	)
}

// Multiplier returns the current position multiplier for a whale, always
// within [MinScale, MaxScale]. Whales with fewer than MinTradesForScaling
// recorded outcomes get the neutral multiplier.
func (r *RiskScaler) Multiplier(whale string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	ws, ok := r.whales[whale]
	if !ok {
		return r.cfg.NeutralScale
	}
	r.maybeReset(whale, ws)
	if len(ws.window) < r.cfg.MinTradesForScaling {
		return r.cfg.NeutralScale
	}
	return clamp(ws.multiplier, r.cfg.MinScale, r.cfg.MaxScale)
}

// State reports the whale's scaler posture, mostly for logs and dashboards.
func (r *RiskScaler) State(whale string) ScalerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	ws, ok := r.whales[whale]
	if !ok {
		return ScalerNeutral
	}
	return ws.state
}

// Reset discards all state for a whale, returning it to neutral.
func (r *RiskScaler) Reset(whale string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.whales, whale)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
