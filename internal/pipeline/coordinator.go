package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantfold/whalecopy/internal/domain"
)

// CoordinatorConfig holds the signal-intake parameters.
type CoordinatorConfig struct {
	SignalStream  string        // redis stream carrying trade signals
	OutcomeStream string        // redis stream carrying settled outcomes
	ResultStream  string        // redis stream receiving execution results, empty disables
	ReadCount     int           // max entries per stream read
	QueueDepth    int           // per-whale buffered queue
	LockTTL       time.Duration // per-whale distributed lock lease
	DedupSweep    time.Duration
}

// DefaultCoordinatorConfig returns the standard intake parameters.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		SignalStream:  "whalecopy:signals",
		OutcomeStream: "whalecopy:outcomes",
		ResultStream:  "whalecopy:results",
		ReadCount:     64,
		QueueDepth:    64,
		LockTTL:       2 * time.Minute,
		DedupSweep:    time.Minute,
	}
}

// signalMsg is the wire form of a trade signal on the signal stream.
type signalMsg struct {
	ID         string    `json:"id"`
	Whale      string    `json:"whale"`
	MarketID   string    `json:"market_id"`
	TokenID    string    `json:"token_id"`
	Side       string    `json:"side"`
	Size       float64   `json:"size"`
	Price      float64   `json:"price"`
	Category   string    `json:"category,omitempty"`
	Resolution time.Time `json:"resolution,omitzero"`
	CreatedAt  time.Time `json:"created_at"`
}

func (m signalMsg) toDomain() domain.TradeSignal {
	return domain.TradeSignal{
		ID:         m.ID,
		Whale:      m.Whale,
		MarketID:   m.MarketID,
		TokenID:    m.TokenID,
		Side:       domain.OrderSide(m.Side),
		Size:       m.Size,
		Price:      m.Price,
		Category:   m.Category,
		Resolution: m.Resolution,
		CreatedAt:  m.CreatedAt,
	}
}

// resultMsg is the wire form of an execution result on the result stream.
type resultMsg struct {
	ID           string  `json:"id"`
	SignalID     string  `json:"signal_id"`
	Whale        string  `json:"whale"`
	MarketID     string  `json:"market_id"`
	TokenID      string  `json:"token_id"`
	Side         string  `json:"side"`
	Success      bool    `json:"success"`
	OrderID      string  `json:"order_id,omitempty"`
	FilledSize   float64 `json:"filled_size"`
	AvgFillPrice float64 `json:"avg_fill_price"`
	FinalPhase   int     `json:"final_phase"`
	ElapsedMs    int64   `json:"elapsed_ms"`
	Error        string  `json:"error,omitempty"`
}

// outcomeMsg is the wire form of a settled trade outcome.
type outcomeMsg struct {
	SignalID string    `json:"signal_id"`
	Whale    string    `json:"whale"`
	MarketID string    `json:"market_id"`
	PnL      float64   `json:"pnl"`
	Win      bool      `json:"win"`
	ClosedAt time.Time `json:"closed_at"`
}

// Coordinator pulls signals off the bus and fans them out to per-whale
// workers. Signals from the same whale run in arrival order; signals from
// different whales run concurrently.
type Coordinator struct {
	pipe   *Pipeline
	bus    domain.SignalBus
	locks  domain.LockManager // optional, nil when running single-replica
	cfg    CoordinatorConfig
	logger *slog.Logger

	mu      sync.Mutex
	workers map[string]chan domain.TradeSignal
	wg      sync.WaitGroup
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(pipe *Pipeline, bus domain.SignalBus, locks domain.LockManager, cfg CoordinatorConfig, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		pipe:    pipe,
		bus:     bus,
		locks:   locks,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "coordinator")),
		workers: make(map[string]chan domain.TradeSignal),
	}
}

// Run drives the intake loops until ctx is cancelled. All per-whale workers
// drain before Run returns.
func (c *Coordinator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := c.signalLoop(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("signal intake: %w", err)
	})
	g.Go(func() error {
		err := c.outcomeLoop(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("outcome intake: %w", err)
	})
	g.Go(func() error {
		c.pipe.dedup.Janitor(ctx, c.cfg.DedupSweep)
		return nil
	})

	err := g.Wait()

	c.mu.Lock()
	for _, ch := range c.workers {
		close(ch)
	}
	c.workers = make(map[string]chan domain.TradeSignal)
	c.mu.Unlock()
	c.wg.Wait()

	return err
}

func (c *Coordinator) signalLoop(ctx context.Context) error {
	lastID := "$"
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msgs, err := c.bus.StreamRead(ctx, c.cfg.SignalStream, lastID, c.cfg.ReadCount)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.WarnContext(ctx, "signal stream read failed", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		for _, msg := range msgs {
			lastID = msg.ID
			var wire signalMsg
			if err := json.Unmarshal(msg.Payload, &wire); err != nil {
				c.logger.WarnContext(ctx, "malformed signal dropped",
					slog.String("stream_id", msg.ID),
					slog.Any("error", err),
				)
				continue
			}
			c.Submit(ctx, wire.toDomain())
		}
	}
}

// Submit queues a signal on its whale's worker, creating the worker on first
// use. A full queue drops the signal; a missed copy is never retried.
func (c *Coordinator) Submit(ctx context.Context, sig domain.TradeSignal) {
	c.mu.Lock()
	ch, ok := c.workers[sig.Whale]
	if !ok {
		ch = make(chan domain.TradeSignal, c.cfg.QueueDepth)
		c.workers[sig.Whale] = ch
		c.wg.Add(1)
		go c.whaleWorker(ctx, sig.Whale, ch)
	}
	c.mu.Unlock()

	select {
	case ch <- sig:
	default:
		c.logger.WarnContext(ctx, "whale queue full, signal dropped",
			slog.String("whale", sig.Whale),
			slog.String("signal", sig.ID),
		)
	}
}

// whaleWorker processes one whale's signals strictly in order.
func (c *Coordinator) whaleWorker(ctx context.Context, whale string, ch <-chan domain.TradeSignal) {
	defer c.wg.Done()
	log := c.logger.With(slog.String("whale", whale))
	for sig := range ch {
		c.processOne(ctx, log, sig)
	}
}

func (c *Coordinator) processOne(ctx context.Context, log *slog.Logger, sig domain.TradeSignal) {
	if c.locks != nil {
		unlock, err := c.locks.Acquire(ctx, "whale:"+sig.Whale, c.cfg.LockTTL)
		if err != nil {
			log.WarnContext(ctx, "whale lock not acquired, signal dropped",
				slog.String("signal", sig.ID),
				slog.Any("error", err),
			)
			return
		}
		defer unlock()
	}

	res, err := c.pipe.Process(ctx, sig)
	if err != nil {
		if IsRejection(err) {
			log.InfoContext(ctx, "signal dropped", slog.String("signal", sig.ID), slog.Any("reason", err))
			return
		}
		log.ErrorContext(ctx, "signal processing failed", slog.String("signal", sig.ID), slog.Any("error", err))
		return
	}
	c.publishResult(ctx, log, res)
}

// publishResult appends a terminal execution result to the result stream for
// downstream consumers. Publish failures never affect the execution itself.
func (c *Coordinator) publishResult(ctx context.Context, log *slog.Logger, res domain.ExecutionResult) {
	if c.cfg.ResultStream == "" {
		return
	}
	payload, err := json.Marshal(resultMsg{
		ID:           res.ID,
		SignalID:     res.SignalID,
		Whale:        res.Whale,
		MarketID:     res.MarketID,
		TokenID:      res.TokenID,
		Side:         string(res.Side),
		Success:      res.Success,
		OrderID:      res.OrderID,
		FilledSize:   res.FilledSize,
		AvgFillPrice: res.AvgFillPrice,
		FinalPhase:   res.FinalPhase,
		ElapsedMs:    res.Elapsed.Milliseconds(),
		Error:        res.Error,
	})
	if err != nil {
		return
	}
	if err := c.bus.StreamAppend(ctx, c.cfg.ResultStream, payload); err != nil {
		log.WarnContext(ctx, "result publish failed",
			slog.String("execution", res.ID),
			slog.Any("error", err),
		)
	}
}

func (c *Coordinator) outcomeLoop(ctx context.Context) error {
	lastID := "$"
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msgs, err := c.bus.StreamRead(ctx, c.cfg.OutcomeStream, lastID, c.cfg.ReadCount)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.WarnContext(ctx, "outcome stream read failed", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		for _, msg := range msgs {
			lastID = msg.ID
			var wire outcomeMsg
			if err := json.Unmarshal(msg.Payload, &wire); err != nil {
				c.logger.WarnContext(ctx, "malformed outcome dropped",
					slog.String("stream_id", msg.ID),
					slog.Any("error", err),
				)
				continue
			}
			c.pipe.RecordOutcome(ctx, domain.TradeOutcome{
				SignalID: wire.SignalID,
				Whale:    wire.Whale,
				MarketID: wire.MarketID,
				PnL:      wire.PnL,
				Win:      wire.Win,
				ClosedAt: wire.ClosedAt,
			})
		}
	}
}
