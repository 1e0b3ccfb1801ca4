// Package pipeline wires the decision stages into one request path per trade
// signal: admission filter, sizing, risk gate, depth check, execution. Any
// stage may terminate the path early with a structured non-fatal rejection.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantfold/whalecopy/internal/depth"
	"github.com/quantfold/whalecopy/internal/domain"
	"github.com/quantfold/whalecopy/internal/executor"
	"github.com/quantfold/whalecopy/internal/filter"
	"github.com/quantfold/whalecopy/internal/risk"
	"github.com/quantfold/whalecopy/internal/sizing"
)

// AllocationSource supplies the latest committed allocation snapshot.
type AllocationSource interface {
	Snapshot() *domain.AllocationSnapshot
}

// ExecutionNotifier receives terminal execution results for alerting.
// Optional.
type ExecutionNotifier interface {
	ExecutionFinished(ctx context.Context, res domain.ExecutionResult)
}

// Pipeline runs one signal end to end. All stage dependencies are injected;
// the pipeline owns only the wiring between them.
type Pipeline struct {
	filter     *filter.Filter
	scaler     *sizing.RiskScaler
	sizer      *sizing.Sizer
	alloc      AllocationSource
	riskMgr    *risk.Manager
	books      depth.BookFetcher
	depth      *depth.Analyzer
	exec       *executor.Executor
	executions domain.ExecutionStore // optional
	outcomes   domain.OutcomeStore   // optional
	audit      domain.AuditStore     // optional
	notifier   ExecutionNotifier     // optional
	dedup      *Dedup
	logger     *slog.Logger
}

// Deps bundles the pipeline's collaborators.
type Deps struct {
	Filter     *filter.Filter
	Scaler     *sizing.RiskScaler
	Sizer      *sizing.Sizer
	Alloc      AllocationSource
	Risk       *risk.Manager
	Books      depth.BookFetcher
	Depth      *depth.Analyzer
	Executor   *executor.Executor
	Executions domain.ExecutionStore
	Outcomes   domain.OutcomeStore
	Audit      domain.AuditStore
	Notifier   ExecutionNotifier
	DedupTTL   time.Duration
}

// New creates a Pipeline.
func New(d Deps, logger *slog.Logger) *Pipeline {
	ttl := d.DedupTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Pipeline{
		filter:     d.Filter,
		scaler:     d.Scaler,
		sizer:      d.Sizer,
		alloc:      d.Alloc,
		riskMgr:    d.Risk,
		books:      d.Books,
		depth:      d.Depth,
		exec:       d.Executor,
		executions: d.Executions,
		outcomes:   d.Outcomes,
		audit:      d.Audit,
		notifier:   d.Notifier,
		dedup:      NewDedup(ttl),
		logger:     logger.With(slog.String("component", "pipeline")),
	}
}

// Process runs a signal through every stage. The returned error is nil only
// when an execution was attempted; rejections and gates come back wrapped in
// their sentinel with the result zeroed.
func (p *Pipeline) Process(ctx context.Context, sig domain.TradeSignal) (domain.ExecutionResult, error) {
	log := p.logger.With(
		slog.String("signal", sig.ID),
		slog.String("whale", sig.Whale),
		slog.String("market", sig.MarketID),
	)

	if p.dedup.IsDuplicate(sig) {
		return domain.ExecutionResult{}, fmt.Errorf("pipeline: duplicate signal %s: %w", sig.ID, domain.ErrAlreadyExists)
	}

	// Stage: admission filter.
	verdict, err := p.filter.Evaluate(ctx, sig)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("pipeline: filter: %w", err)
	}
	if !verdict.Passed {
		p.auditRejection(ctx, verdict.Rejection)
		return domain.ExecutionResult{}, fmt.Errorf("pipeline: stage %d: %s: %w",
			verdict.Rejection.Stage, verdict.Rejection.Reason, domain.ErrAdmissionRejected)
	}

	// Stage: circuit-breaker gate.
	gate, err := p.riskMgr.GateTrade(ctx)
	if err != nil {
		log.InfoContext(ctx, "signal risk gated", slog.String("state", gate.State.String()))
		return domain.ExecutionResult{}, fmt.Errorf("pipeline: %w", err)
	}

	// Stage: sizing.
	multiplier := p.scaler.Multiplier(sig.Whale)
	var allocEntry *domain.AllocationEntry
	if e, ok := p.alloc.Snapshot().Entry(sig.Whale); ok {
		allocEntry = &e
	}
	decision, err := p.sizer.Size(sig, multiplier, p.riskMgr.Balance(), allocEntry)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("pipeline: %s: %w", err, domain.ErrAdmissionRejected)
	}
	size := decision.Size * gate.SizeFactor

	// Stage: depth check against a fresh snapshot.
	book, err := p.books.GetBook(ctx, sig.TokenID)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("pipeline: fetch book: %w", err)
	}
	est := p.depth.Simulate(book, sig.Side, size)
	if est.ShouldSkip {
		sentinel := est.SkipErr
		if sentinel == nil {
			sentinel = domain.ErrLiquidityInsufficient
		}
		log.InfoContext(ctx, "depth veto", slog.String("reason", est.SkipReason))
		return domain.ExecutionResult{}, fmt.Errorf("pipeline: %s: %w", est.SkipReason, sentinel)
	}

	target := book.BestAsk
	if sig.Side == domain.OrderSideSell {
		target = book.BestBid
	}

	// Reserve exposure before going to the exchange; trimmed below for
	// whatever does not fill, fully released when the position settles.
	if err := p.riskMgr.ReserveExposure(sig.ID, sig.Whale, size, sig.Category); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("pipeline: %w", err)
	}

	res := p.exec.Execute(ctx, executor.Request{
		Signal:      sig,
		TargetPrice: target,
		NotionalUSD: size,
	})

	filledNotional := res.FilledSize * res.AvgFillPrice
	if unfilled := size - filledNotional; unfilled > 0 {
		p.riskMgr.ReleaseExposure(sig.ID, unfilled)
	}

	p.persistResult(ctx, res)
	if p.notifier != nil {
		p.notifier.ExecutionFinished(ctx, res)
	}

	log.InfoContext(ctx, "signal processed",
		slog.Bool("success", res.Success),
		slog.Int("phase", res.FinalPhase),
		slog.Float64("requested", size),
		slog.Float64("filled", filledNotional),
	)
	return res, nil
}

// RecordOutcome feeds one settled trade back into the scaler window and the
// portfolio risk counters, and persists it for restart recovery and per-whale
// history.
func (p *Pipeline) RecordOutcome(ctx context.Context, out domain.TradeOutcome) {
	p.scaler.RecordOutcome(out)
	state := p.riskMgr.RecordOutcome(ctx, out)
	if p.outcomes != nil {
		if err := p.outcomes.Create(ctx, out); err != nil {
			p.logger.ErrorContext(ctx, "persist outcome",
				slog.String("signal", out.SignalID),
				slog.Any("error", err),
			)
		}
	}
	p.logger.DebugContext(ctx, "outcome recorded",
		slog.String("whale", out.Whale),
		slog.Float64("pnl", out.PnL),
		slog.String("breaker", state.String()),
	)
}

func (p *Pipeline) auditRejection(ctx context.Context, rej *domain.Rejection) {
	if p.audit == nil {
		return
	}
	err := p.audit.Log(ctx, "signal_rejected", map[string]any{
		"signal_id": rej.SignalID,
		"whale":     rej.Whale,
		"stage":     int(rej.Stage),
		"reason":    rej.Reason,
	})
	if err != nil {
		p.logger.WarnContext(ctx, "audit write failed", slog.Any("error", err))
	}
}

func (p *Pipeline) persistResult(ctx context.Context, res domain.ExecutionResult) {
	if p.executions == nil {
		return
	}
	if err := p.executions.Create(ctx, res); err != nil {
		p.logger.ErrorContext(ctx, "persist execution result",
			slog.String("execution", res.ID),
			slog.Any("error", err),
		)
	}
}

// IsRejection reports whether an error from Process is an expected non-fatal
// drop rather than an infrastructure failure.
func IsRejection(err error) bool {
	return errors.Is(err, domain.ErrAdmissionRejected) ||
		errors.Is(err, domain.ErrRiskGated) ||
		errors.Is(err, domain.ErrLiquidityInsufficient) ||
		errors.Is(err, domain.ErrSlippageExceeded) ||
		errors.Is(err, domain.ErrAlreadyExists)
}
