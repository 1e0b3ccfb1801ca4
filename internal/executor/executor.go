// Package executor places, monitors, and re-prices orders across up to three
// phases of increasing urgency, reporting a terminal result per trade.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantfold/whalecopy/internal/domain"
)

// OrderPlacer is the exchange order-management surface the executor drives.
// Implemented by the live exchange client and by the paper-trading placer.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// BreakerProbe lets a mid-phase poll discover that trading has been stopped.
type BreakerProbe interface {
	State() domain.BreakerState
}

// PlacementRecorder counts consecutive exchange placement failures so the
// risk layer can escalate on connectivity loss. Optional.
type PlacementRecorder interface {
	RecordPlacementFailure(ctx context.Context)
	RecordPlacementSuccess()
}

// Phase describes one escalation step of the execution ladder.
type Phase struct {
	PriceAdjust   float64       // dollars added toward urgency (0.02 = 2 cents)
	SizeReduction float64       // fraction shaved off the original size
	Timeout       time.Duration // how long to wait for a fill in this phase
}

// Config holds the executor parameters.
type Config struct {
	Phases          []Phase
	PollInterval    time.Duration
	MinFillFraction float64 // accept as filled at or above this fraction
}

// DefaultConfig returns the standard three-phase ladder.
func DefaultConfig() Config {
	return Config{
		Phases: []Phase{
			{PriceAdjust: 0.00, SizeReduction: 0.00, Timeout: 30 * time.Second},
			{PriceAdjust: 0.02, SizeReduction: 0.10, Timeout: 45 * time.Second},
			{PriceAdjust: 0.05, SizeReduction: 0.25, Timeout: 60 * time.Second},
		},
		PollInterval:    2 * time.Second,
		MinFillFraction: 0.80,
	}
}

// Request is one sized, risk-approved trade ready for execution.
type Request struct {
	Signal      domain.TradeSignal
	TargetPrice float64 // phase-1 limit price
	NotionalUSD float64 // original requested size in dollars
}

// Executor walks a request down the phase ladder until an acceptable fill or
// exhaustion. Safe for concurrent use; each Execute call is independent.
type Executor struct {
	placer   OrderPlacer
	breaker  BreakerProbe
	recorder PlacementRecorder // may be nil
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
}

// New creates an Executor. recorder may be nil when no escalation policy is
// wired in.
func New(placer OrderPlacer, breaker BreakerProbe, recorder PlacementRecorder, cfg Config, logger *slog.Logger) *Executor {
	return &Executor{
		placer:   placer,
		breaker:  breaker,
		recorder: recorder,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "executor")),
	}
}

// PhasePrice returns the clamped limit price for a phase. Buys pay up, sells
// reach down; the result always stays inside the exchange's valid band.
func PhasePrice(target float64, side domain.OrderSide, adjust float64) float64 {
	p := target + adjust
	if side == domain.OrderSideSell {
		p = target - adjust
	}
	if p < 0.01 {
		p = 0.01
	}
	if p > 0.99 {
		p = 0.99
	}
	return p
}

// PhaseNotional returns the phase's dollar size. Reductions always apply to
// the original requested size, never to an already-reduced one.
func PhaseNotional(original, reduction float64) float64 {
	return original * (1 - reduction)
}

// Execute runs the phase ladder for one request and returns a terminal
// result. The result's Success is false on exhaustion, risk aborts, and
// context cancellation; Error carries the classification.
func (e *Executor) Execute(ctx context.Context, req Request) domain.ExecutionResult {
	start := e.now()
	res := domain.ExecutionResult{
		ID:            uuid.NewString(),
		SignalID:      req.Signal.ID,
		Whale:         req.Signal.Whale,
		MarketID:      req.Signal.MarketID,
		TokenID:       req.Signal.TokenID,
		Side:          req.Signal.Side,
		RequestedSize: req.NotionalUSD,
		ExecutedAt:    start,
	}

	for i, phase := range e.cfg.Phases {
		res.FinalPhase = i + 1

		price := PhasePrice(req.TargetPrice, req.Signal.Side, phase.PriceAdjust)
		notional := PhaseNotional(req.NotionalUSD, phase.SizeReduction)
		shares := notional / price

		outcome, err := e.runPhase(ctx, req, price, shares, phase.Timeout)
		switch {
		case err == nil:
			res.Success = true
			res.OrderID = outcome.orderID
			res.FilledSize = outcome.filledSize
			res.AvgFillPrice = outcome.fillPrice
			res.Elapsed = e.now().Sub(start)
			e.logger.InfoContext(ctx, "execution filled",
				slog.String("signal", req.Signal.ID),
				slog.Int("phase", res.FinalPhase),
				slog.Float64("filled", res.FilledSize),
				slog.Float64("price", res.AvgFillPrice),
			)
			return res
		case errors.Is(err, domain.ErrRiskGated), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			// Trading stopped or task cancelled; do not try further phases.
			res.Error = err.Error()
			res.Elapsed = e.now().Sub(start)
			return res
		case errors.Is(err, domain.ErrOrderPlacementFailed), errors.Is(err, domain.ErrFillTimeout):
			e.logger.WarnContext(ctx, "phase failed, advancing",
				slog.String("signal", req.Signal.ID),
				slog.Int("phase", i+1),
				slog.Any("error", err),
			)
		default:
			res.Error = err.Error()
			res.Elapsed = e.now().Sub(start)
			return res
		}
	}

	res.Error = domain.ErrExecutionExhausted.Error()
	res.Elapsed = e.now().Sub(start)
	e.logger.WarnContext(ctx, "execution exhausted",
		slog.String("signal", req.Signal.ID),
		slog.String("whale", req.Signal.Whale),
	)
	return res
}

type phaseOutcome struct {
	orderID    string
	filledSize float64
	fillPrice  float64
}

// runPhase places one limit order and polls it until an acceptable fill, the
// phase timeout, a breaker stop, or cancellation. One placement attempt per
// phase; a placement error abandons the phase without retrying.
func (e *Executor) runPhase(ctx context.Context, req Request, price, shares float64, timeout time.Duration) (phaseOutcome, error) {
	order := domain.Order{
		MarketID:  req.Signal.MarketID,
		TokenID:   req.Signal.TokenID,
		Side:      req.Signal.Side,
		Type:      domain.OrderTypeLimit,
		Price:     price,
		Size:      shares,
		CreatedAt: e.now(),
	}
	placed, err := e.placer.PlaceOrder(ctx, order)
	if err != nil || !placed.Success {
		if e.recorder != nil {
			e.recorder.RecordPlacementFailure(ctx)
		}
		msg := "exchange rejected order"
		if err != nil {
			msg = err.Error()
		} else if placed.Message != "" {
			msg = placed.Message
		}
		return phaseOutcome{}, fmt.Errorf("executor: place at %.2f: %s: %w", price, msg, domain.ErrOrderPlacementFailed)
	}
	if e.recorder != nil {
		e.recorder.RecordPlacementSuccess()
	}

	deadline := e.now().Add(timeout)
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.cancelOrder(placed.OrderID)
			return phaseOutcome{}, ctx.Err()
		case <-ticker.C:
		}

		if st := e.breaker.State(); st == domain.BreakerHalt || st == domain.BreakerEmergency {
			e.cancelOrder(placed.OrderID)
			return phaseOutcome{}, fmt.Errorf("executor: breaker %s mid-phase: %w", st, domain.ErrRiskGated)
		}

		current, err := e.placer.GetOrder(ctx, placed.OrderID)
		if err != nil {
			// Transient polling errors mean "not yet filled", not failure.
			e.logger.DebugContext(ctx, "fill poll failed",
				slog.String("order", placed.OrderID),
				slog.Any("error", err),
			)
		} else {
			if current.FillFraction() >= e.cfg.MinFillFraction {
				if current.Status != domain.OrderStatusMatched {
					// Partial fill accepted; release the remainder.
					e.cancelOrder(placed.OrderID)
				}
				return phaseOutcome{
					orderID:    placed.OrderID,
					filledSize: current.FilledSize,
					fillPrice:  fillPrice(current, placed),
				}, nil
			}
			if current.Status == domain.OrderStatusCancelled || current.Status == domain.OrderStatusFailed {
				return phaseOutcome{}, fmt.Errorf("executor: order %s %s on exchange: %w",
					placed.OrderID, current.Status, domain.ErrFillTimeout)
			}
		}

		if e.now().After(deadline) {
			e.cancelOrder(placed.OrderID)
			return phaseOutcome{}, fmt.Errorf("executor: phase timeout after %s: %w", timeout, domain.ErrFillTimeout)
		}
	}
}

func fillPrice(current domain.Order, placed domain.OrderResult) float64 {
	if placed.FilledPrice > 0 {
		return placed.FilledPrice
	}
	return current.Price
}

// cancelOrder is best effort; a cancel race with a fill is resolved by the
// exchange and surfaces on the next status poll.
func (e *Executor) cancelOrder(orderID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.placer.CancelOrder(ctx, orderID); err != nil {
		e.logger.Warn("cancel order", slog.String("order", orderID), slog.Any("error", err))
	}
}
