package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantfold/whalecopy/internal/allocator"
	"github.com/quantfold/whalecopy/internal/depth"
	"github.com/quantfold/whalecopy/internal/domain"
	"github.com/quantfold/whalecopy/internal/executor"
	"github.com/quantfold/whalecopy/internal/feed"
	"github.com/quantfold/whalecopy/internal/filter"
	"github.com/quantfold/whalecopy/internal/notify"
	"github.com/quantfold/whalecopy/internal/pipeline"
	"github.com/quantfold/whalecopy/internal/risk"
	"github.com/quantfold/whalecopy/internal/sizing"
)

// riskSweepInterval is how often the breaker limits are re-evaluated while no
// trades are flowing through the gate.
const riskSweepInterval = 30 * time.Second

// monitorInterval is how often monitor mode logs cached market state.
const monitorInterval = 30 * time.Second

// cachedPrices adapts domain.PriceCache to the filter's price lookup. Prices
// older than the staleness bound are treated as missing so the filter never
// computes edge against a dead feed.
type cachedPrices struct {
	prices domain.PriceCache
	maxAge time.Duration
}

func (c cachedPrices) CurrentPrice(ctx context.Context, tokenID string) (float64, error) {
	price, ts, err := c.prices.GetPrice(ctx, tokenID)
	if err != nil {
		return 0, err
	}
	if c.maxAge > 0 && time.Since(ts) > c.maxAge {
		return 0, fmt.Errorf("app: price for %s stale since %s: %w", tokenID, ts.Format(time.RFC3339), domain.ErrNotFound)
	}
	return price, nil
}

// cachedBooks adapts domain.BookCache to the depth analyzer's and paper
// placer's book lookup.
type cachedBooks struct {
	books domain.BookCache
}

func (c cachedBooks) GetBook(ctx context.Context, assetID string) (domain.BookSnapshot, error) {
	return c.books.GetSnapshot(ctx, assetID)
}

// breakerChannel carries breaker transitions between replicas.
const breakerChannel = "whalecopy:breaker"

// breakerWireEvent is the pub/sub form of a breaker transition.
type breakerWireEvent struct {
	From   string    `json:"from"`
	To     string    `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// breakerFanout forwards breaker transitions to operator alerts and to the
// shared pub/sub channel so other replicas observe them.
type breakerFanout struct {
	alerts *notify.Alerts
	bus    domain.SignalBus
	logger *slog.Logger
}

func (b breakerFanout) BreakerTripped(ctx context.Context, ev domain.BreakerEvent) {
	if b.alerts != nil {
		b.alerts.BreakerTripped(ctx, ev)
	}
	if b.bus == nil {
		return
	}
	payload, err := json.Marshal(breakerWireEvent{
		From:   ev.From.String(),
		To:     ev.To.String(),
		Reason: ev.Reason,
		At:     ev.At,
	})
	if err != nil {
		return
	}
	if err := b.bus.Publish(ctx, breakerChannel, payload); err != nil {
		b.logger.WarnContext(ctx, "breaker event publish failed", slog.Any("error", err))
	}
}

// throttledPlacer wraps an order placer with the shared exchange rate limit.
// Only placements are throttled; order polls and cancels go straight through.
type throttledPlacer struct {
	inner   executor.OrderPlacer
	limiter domain.RateLimiter
}

func (t throttledPlacer) PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	if err := t.limiter.Wait(ctx, "clob:place"); err != nil {
		return domain.OrderResult{}, err
	}
	return t.inner.PlaceOrder(ctx, order)
}

func (t throttledPlacer) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return t.inner.GetOrder(ctx, orderID)
}

func (t throttledPlacer) CancelOrder(ctx context.Context, orderID string) error {
	return t.inner.CancelOrder(ctx, orderID)
}

// core bundles the decision stack shared by the trading modes.
type core struct {
	riskMgr *risk.Manager
	scaler  *sizing.RiskScaler
	alloc   *allocator.Allocator
	coord   *pipeline.Coordinator
	arch    *pipeline.Archiver // nil without cold storage
}

// buildCore assembles filter, sizing, allocation, risk, depth, and execution
// around the given order placer and book source.
func (a *App) buildCore(deps *Dependencies, placer executor.OrderPlacer, books depth.BookFetcher) *core {
	cfg := a.cfg
	logger := a.logger

	riskMgr := risk.NewManager(risk.Config{
		DailyLossLimit:     cfg.Risk.DailyLossLimit,
		PerWhaleLossLimit:  cfg.Risk.PerWhaleLossLimit,
		MaxConsecutiveLoss: cfg.Risk.MaxConsecutiveLoss,
		PauseDuration:      cfg.Risk.PauseDuration.Duration,
		MaxDrawdownPct:     cfg.Risk.MaxDrawdownPct,
		ReduceFactor:       cfg.Risk.ReduceFactor,
		MaxTotalExposure:   cfg.Risk.MaxTotalExposure,
		MaxSectorExposure:  cfg.Risk.MaxSectorExposure,
		EmergencyFailures:  cfg.Risk.EmergencyFailures,
	}, cfg.Risk.StartingNAV, deps.BreakerEvents, breakerFanout{
		alerts: deps.Alerts,
		bus:    deps.Bus,
		logger: logger,
	}, logger)

	admission := filter.New(filter.Config{
		MinQualityScore:   cfg.Filter.MinQualityScore,
		MaxWhaleDrawdown:  cfg.Filter.MaxWhaleDrawdown,
		MinNotional:       cfg.Filter.MinNotional,
		Volatility:        cfg.Filter.Volatility,
		MaxImpact:         cfg.Filter.MaxImpact,
		MaxToResolution:   cfg.Filter.MaxToResolution.Duration,
		MinEdge:           cfg.Filter.MinEdge,
		CopyRatio:         cfg.Sizing.CopyRatio,
		MaxCorrelation:    cfg.Filter.MaxCorrelation,
		MaxTotalExposure:  cfg.Filter.MaxTotalExposure,
		MaxSectorExposure: cfg.Filter.MaxSectorExposure,
	}, deps.Whales, cachedPrices{prices: deps.Prices, maxAge: 5 * time.Minute}, riskMgr, logger)

	scaler := sizing.NewRiskScaler(sizing.ScalerConfig{
		WindowSize:          cfg.Scaler.WindowSize,
		NeutralScale:        cfg.Scaler.NeutralScale,
		MinScale:            cfg.Scaler.MinScale,
		MaxScale:            cfg.Scaler.MaxScale,
		Increment:           cfg.Scaler.Increment,
		Decrement:           cfg.Scaler.Decrement,
		WinStreak:           cfg.Scaler.WinStreak,
		LossStreak:          cfg.Scaler.LossStreak,
		SevereLossStreak:    cfg.Scaler.SevereLossStreak,
		MinTradesForScaling: cfg.Scaler.MinTradesForScaling,
		InactivityReset:     cfg.Scaler.InactivityReset.Duration,
	}, logger)

	sizer := sizing.NewSizer(sizing.SizerConfig{
		CopyRatio:     cfg.Sizing.CopyRatio,
		MinSize:       cfg.Sizing.MinSize,
		MaxSize:       cfg.Sizing.MaxSize,
		MaxBalancePct: cfg.Sizing.MaxBalancePct,
	}, logger)

	alloc := allocator.New(allocator.Config{
		TopTierCount:       cfg.Allocator.TopTierCount,
		MidTierCount:       cfg.Allocator.MidTierCount,
		TopTierPool:        cfg.Allocator.TopTierPool,
		MidTierPool:        cfg.Allocator.MidTierPool,
		ExperimentalPool:   cfg.Allocator.ExperimentalPool,
		HighCorrelation:    cfg.Allocator.HighCorrelation,
		CorrelationPenalty: cfg.Allocator.CorrelationPenalty,
		MaxPositionPct:     cfg.Allocator.MaxPositionPct,
		RecomputeInterval:  cfg.Allocator.RecomputeInterval.Duration,
	}, deps.Whales, riskMgr, logger)

	analyzer := depth.NewAnalyzer(books, depth.Config{
		MaxSlippageLimit:  cfg.Depth.MaxSlippageLimit,
		MaxSlippageMarket: cfg.Depth.MaxSlippageMarket,
		MaxLiquidityUsed:  cfg.Depth.MaxLiquidityUsed,
	}, logger)

	phases := make([]executor.Phase, 0, len(cfg.Executor.Phases))
	for _, p := range cfg.Executor.Phases {
		phases = append(phases, executor.Phase{
			PriceAdjust:   p.PriceAdjust,
			SizeReduction: p.SizeReduction,
			Timeout:       p.Timeout.Duration,
		})
	}
	exec := executor.New(placer, riskMgr, riskMgr, executor.Config{
		Phases:          phases,
		PollInterval:    cfg.Executor.PollInterval.Duration,
		MinFillFraction: cfg.Executor.MinFillFraction,
	}, logger)

	pipe := pipeline.New(pipeline.Deps{
		Filter:     admission,
		Scaler:     scaler,
		Sizer:      sizer,
		Alloc:      alloc,
		Risk:       riskMgr,
		Books:      books,
		Depth:      analyzer,
		Executor:   exec,
		Executions: deps.Executions,
		Outcomes:   deps.Outcomes,
		Audit:      deps.Audit,
		Notifier:   deps.Alerts,
		DedupTTL:   cfg.Pipeline.DedupTTL.Duration,
	}, logger)

	coord := pipeline.NewCoordinator(pipe, deps.Bus, deps.Locks, pipeline.CoordinatorConfig{
		SignalStream:  cfg.Pipeline.SignalStream,
		OutcomeStream: cfg.Pipeline.OutcomeStream,
		ResultStream:  cfg.Pipeline.ResultStream,
		ReadCount:     cfg.Pipeline.ReadCount,
		QueueDepth:    cfg.Pipeline.QueueDepth,
		LockTTL:       cfg.Pipeline.LockTTL.Duration,
		DedupSweep:    time.Minute,
	}, logger)

	var arch *pipeline.Archiver
	if deps.Archiver != nil {
		arch = pipeline.NewArchiver(deps.Archiver, cfg.Pipeline.ArchiveRetentionDays, logger)
	}

	return &core{
		riskMgr: riskMgr,
		scaler:  scaler,
		alloc:   alloc,
		coord:   coord,
		arch:    arch,
	}
}

// newMarketFeed builds the websocket feed over the configured asset set.
func (a *App) newMarketFeed(deps *Dependencies) *feed.MarketFeed {
	return feed.NewMarketFeed(
		a.cfg.Exchange.WsHost,
		a.cfg.Exchange.Assets,
		deps.Books,
		deps.Prices,
		a.logger,
	)
}

// runTrading starts the shared goroutine set of the trading modes: market
// feed, allocation cycles, signal intake, breaker sweeps, and (when cold
// storage is wired) the archive cron.
func (a *App) runTrading(ctx context.Context, c *core, deps *Dependencies) error {
	a.restoreState(ctx, c, deps)

	g, ctx := errgroup.WithContext(ctx)

	mf := a.newMarketFeed(deps)
	g.Go(func() error { return mf.Run(ctx) })
	g.Go(func() error { return c.alloc.Run(ctx) })
	g.Go(func() error { return c.coord.Run(ctx) })
	g.Go(func() error { return a.riskSweep(ctx, c.riskMgr) })
	if c.arch != nil {
		cron := a.cfg.Pipeline.ArchiveCron
		g.Go(func() error { return c.arch.RunCron(ctx, cron) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// restoreState rehydrates in-memory trading state from persisted outcomes so
// a restart does not reset the daily-loss counter or the per-whale scaling
// windows. Failures here degrade to cold-start defaults.
func (a *App) restoreState(ctx context.Context, c *core, deps *Dependencies) {
	if deps.Outcomes == nil {
		return
	}

	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	pnl, err := deps.Outcomes.SumPnLSince(ctx, midnight)
	if err != nil {
		a.logger.WarnContext(ctx, "seed daily pnl", slog.Any("error", err))
	} else if pnl != 0 {
		state := c.riskMgr.SeedDailyPnL(ctx, pnl)
		a.logger.InfoContext(ctx, "restored daily pnl",
			slog.Float64("pnl", pnl),
			slog.String("breaker", state.String()))
	}

	a.warmScaler(ctx, c, deps)
}

// warmScaler replays the most recent settled outcomes per tracked whale into
// the performance scaler, oldest first, so multipliers start from history
// instead of the neutral default.
func (a *App) warmScaler(ctx context.Context, c *core, deps *Dependencies) {
	if deps.Whales == nil {
		return
	}
	profiles, err := deps.Whales.ListTracked(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "warm scaler: list whales", slog.Any("error", err))
		return
	}
	for _, p := range profiles {
		outcomes, err := deps.Outcomes.ListByWhale(ctx, p.Address, domain.ListOpts{Limit: a.cfg.Scaler.WindowSize})
		if err != nil {
			a.logger.WarnContext(ctx, "warm scaler", slog.String("whale", p.Address), slog.Any("error", err))
			continue
		}
		for i := len(outcomes) - 1; i >= 0; i-- {
			c.scaler.RecordOutcome(outcomes[i])
		}
	}
}

// riskSweep periodically re-evaluates the breaker limits so time-based
// transitions (pause expiry, daily reset) fire without trade traffic.
func (a *App) riskSweep(ctx context.Context, m *risk.Manager) error {
	ticker := time.NewTicker(riskSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.CheckLimits(ctx)
		}
	}
}

// CopyMode runs live copy trading: signals from the bus, orders to the
// exchange with the shared rate limit, fresh books per depth check.
func (a *App) CopyMode(ctx context.Context, deps *Dependencies) error {
	if deps.Exchange == nil {
		return fmt.Errorf("app: copy mode requires exchange credentials")
	}
	if err := deps.Exchange.DeriveAPIKey(ctx); err != nil {
		return fmt.Errorf("app: derive api key: %w", err)
	}

	placer := throttledPlacer{inner: deps.Exchange, limiter: deps.RateLimiter}
	c := a.buildCore(deps, placer, deps.Exchange)

	a.logger.InfoContext(ctx, "copy mode started",
		slog.Int("assets", len(a.cfg.Exchange.Assets)),
	)
	return a.runTrading(ctx, c, deps)
}

// PaperMode runs the full decision stack against live market data with
// simulated fills from the cached book. No credentials, no capital at risk.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	books := cachedBooks{books: deps.Books}
	placer := executor.NewPaperPlacer(books, a.logger)
	c := a.buildCore(deps, placer, books)

	a.logger.InfoContext(ctx, "paper mode started",
		slog.Int("assets", len(a.cfg.Exchange.Assets)),
	)
	return a.runTrading(ctx, c, deps)
}

// MonitorMode runs the market feed alone and periodically logs cached state.
// Nothing is traded or persisted.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	mf := a.newMarketFeed(deps)
	g.Go(func() error { return mf.Run(ctx) })
	g.Go(func() error { return a.monitorLoop(ctx, deps) })
	g.Go(func() error { return a.breakerWatch(ctx, deps.Bus) })

	a.logger.InfoContext(ctx, "monitor mode started",
		slog.Int("assets", len(a.cfg.Exchange.Assets)),
	)
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// FullMode runs live copy trading plus the monitor loop.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	if deps.Exchange == nil {
		return fmt.Errorf("app: full mode requires exchange credentials")
	}
	if err := deps.Exchange.DeriveAPIKey(ctx); err != nil {
		return fmt.Errorf("app: derive api key: %w", err)
	}

	placer := throttledPlacer{inner: deps.Exchange, limiter: deps.RateLimiter}
	c := a.buildCore(deps, placer, deps.Exchange)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.runTrading(ctx, c, deps) })
	g.Go(func() error { return a.monitorLoop(ctx, deps) })

	a.logger.InfoContext(ctx, "full mode started",
		slog.Int("assets", len(a.cfg.Exchange.Assets)),
	)
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// breakerWatch logs breaker transitions published by trading replicas.
func (a *App) breakerWatch(ctx context.Context, bus domain.SignalBus) error {
	ch, err := bus.Subscribe(ctx, breakerChannel)
	if err != nil {
		return fmt.Errorf("app: breaker subscribe: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			var ev breakerWireEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				continue
			}
			a.logger.WarnContext(ctx, "breaker transition",
				slog.String("from", ev.From),
				slog.String("to", ev.To),
				slog.String("reason", ev.Reason),
			)
		}
	}
}

// monitorLoop logs the cached BBO and last price for every tracked asset at a
// fixed cadence.
func (a *App) monitorLoop(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, assetID := range a.cfg.Exchange.Assets {
				bid, ask, err := deps.Books.GetBBO(ctx, assetID)
				if err != nil {
					continue
				}
				price, _, err := deps.Prices.GetPrice(ctx, assetID)
				if err != nil {
					price = 0
				}
				a.logger.InfoContext(ctx, "market state",
					slog.String("asset", assetID),
					slog.Float64("bid", bid),
					slog.Float64("ask", ask),
					slog.Float64("last", price),
				)
			}
		}
	}
}
