// Package risk owns the portfolio's shared risk state. Every gating read and
// the corresponding write go through one mutex-protected Manager so that two
// concurrent trades cannot both pass a check only one of them can satisfy.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quantfold/whalecopy/internal/domain"
)

// Config holds the circuit-breaker limits and exposure caps.
type Config struct {
	DailyLossLimit     float64       // HALT when daily realized PnL <= -limit
	PerWhaleLossLimit  float64       // HALT when one whale's daily loss <= -limit
	MaxConsecutiveLoss int           // PAUSE trigger
	PauseDuration      time.Duration // default 60m
	MaxDrawdownPct     float64       // REDUCE trigger, fraction of peak
	ReduceFactor       float64       // size multiplier while in REDUCE, default 0.5
	MaxTotalExposure   float64       // post-trade open notional / NAV cap
	MaxSectorExposure  float64       // post-trade per-category cap
	EmergencyFailures  int           // consecutive placement failures before EMERGENCY
}

// DefaultConfig returns the standard risk limits.
func DefaultConfig() Config {
	return Config{
		DailyLossLimit:     500,
		PerWhaleLossLimit:  200,
		MaxConsecutiveLoss: 4,
		PauseDuration:      60 * time.Minute,
		MaxDrawdownPct:     0.15,
		ReduceFactor:       0.5,
		MaxTotalExposure:   0.80,
		MaxSectorExposure:  0.30,
		EmergencyFailures:  5,
	}
}

// Notifier receives breaker transitions for alerting. Implemented by the
// notify package.
type Notifier interface {
	BreakerTripped(ctx context.Context, ev domain.BreakerEvent)
}

// Gate is the risk decision handed to the pipeline for one trade.
type Gate struct {
	State      domain.BreakerState
	SizeFactor float64 // 1.0 normally, ReduceFactor while in REDUCE
}

// Manager is the single owner of PortfolioState and the breaker state
// machine. All methods are safe for concurrent use.
type Manager struct {
	mu sync.Mutex

	cfg    Config
	events domain.BreakerEventStore // optional
	notify Notifier                 // optional
	logger *slog.Logger
	now    func() time.Time

	state       domain.BreakerState
	pausedUntil time.Time
	nextEventID int64

	nav            float64
	balance        float64
	peak           float64
	openExposure   float64 // open notional, USD
	whaleExposure  map[string]float64
	sectorExposure map[string]float64
	positions      map[string]openPosition // keyed by signal ID
	dailyPnL       float64
	whaleDailyLoss map[string]float64
	consecLosses   int
	placeFailures  int
	day            time.Time // UTC midnight of the counters' day
}

// openPosition tracks one signal's booked notional so settlement can release
// exactly what was reserved.
type openPosition struct {
	whale    string
	category string
	notional float64
}

// NewManager creates a Manager seeded with the starting account value.
func NewManager(cfg Config, startingNAV float64, events domain.BreakerEventStore, notify Notifier, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:            cfg,
		events:         events,
		notify:         notify,
		logger:         logger.With(slog.String("component", "risk_manager")),
		now:            time.Now,
		state:          domain.BreakerNormal,
		nav:            startingNAV,
		balance:        startingNAV,
		peak:           startingNAV,
		whaleExposure:  make(map[string]float64),
		sectorExposure: make(map[string]float64),
		positions:      make(map[string]openPosition),
		whaleDailyLoss: make(map[string]float64),
	}
	m.day = m.utcDay()
	return m
}

func (m *Manager) utcDay() time.Time {
	y, mo, d := m.now().UTC().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

// rollDay clears the daily counters when the UTC date changes. Caller holds
// the lock.
func (m *Manager) rollDay() {
	if today := m.utcDay(); !today.Equal(m.day) {
		m.day = today
		m.dailyPnL = 0
		m.whaleDailyLoss = make(map[string]float64)
		m.consecLosses = 0
	}
}

// CheckLimits re-evaluates the limit conditions in strict priority order and
// returns the resulting state. EMERGENCY is sticky and only cleared by
// ManualReset.
func (m *Manager) CheckLimits(ctx context.Context) domain.BreakerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evaluate(ctx)
}

// evaluate holds the state machine. Caller holds the lock.
func (m *Manager) evaluate(ctx context.Context) domain.BreakerState {
	m.rollDay()

	if m.state == domain.BreakerEmergency {
		return m.state
	}

	next := domain.BreakerNormal
	reason := ""

	switch {
	case m.dailyPnL <= -m.cfg.DailyLossLimit:
		next = domain.BreakerHalt
		reason = fmt.Sprintf("daily loss $%.2f breached limit $%.2f", -m.dailyPnL, m.cfg.DailyLossLimit)
	case m.worstWhaleLoss() <= -m.cfg.PerWhaleLossLimit:
		next = domain.BreakerHalt
		reason = fmt.Sprintf("single-whale loss $%.2f breached limit $%.2f", -m.worstWhaleLoss(), m.cfg.PerWhaleLossLimit)
	case m.inPause():
		// An active pause window holds until it expires or a HALT
		// condition overrides it.
		next = domain.BreakerPause
	case m.consecLosses >= m.cfg.MaxConsecutiveLoss:
		next = domain.BreakerPause
		reason = fmt.Sprintf("%d consecutive losses", m.consecLosses)
	case m.drawdown() >= m.cfg.MaxDrawdownPct:
		next = domain.BreakerReduce
		reason = fmt.Sprintf("drawdown %.1f%% from peak", m.drawdown()*100)
	}

	if next == domain.BreakerPause && m.state != domain.BreakerPause {
		m.pausedUntil = m.now().Add(m.cfg.PauseDuration)
		// Entering the pause consumes the streak; a fresh streak is
		// needed to pause again after it expires.
		m.consecLosses = 0
	}
	m.transition(ctx, next, reason)
	return m.state
}

func (m *Manager) inPause() bool {
	return m.state == domain.BreakerPause && m.now().Before(m.pausedUntil)
}

func (m *Manager) worstWhaleLoss() float64 {
	worst := 0.0
	for _, v := range m.whaleDailyLoss {
		if v < worst {
			worst = v
		}
	}
	return worst
}

func (m *Manager) drawdown() float64 {
	if m.peak <= 0 {
		return 0
	}
	return (m.peak - m.nav) / m.peak
}

// transition records a state change. Caller holds the lock.
func (m *Manager) transition(ctx context.Context, to domain.BreakerState, reason string) {
	if to == m.state {
		return
	}
	m.nextEventID++
	ev := domain.BreakerEvent{
		ID:     m.nextEventID,
		From:   m.state,
		To:     to,
		Reason: reason,
		At:     m.now(),
	}
	m.state = to

	m.logger.WarnContext(ctx, "breaker transition",
		slog.String("from", ev.From.String()),
		slog.String("to", ev.To.String()),
		slog.String("reason", reason),
	)
	if m.events != nil {
		if err := m.events.Append(ctx, ev); err != nil {
			m.logger.ErrorContext(ctx, "persist breaker event", slog.Any("error", err))
		}
	}
	if m.notify != nil {
		m.notify.BreakerTripped(ctx, ev)
	}
}

// GateTrade decides whether a trade may proceed right now and, if so, what
// size factor applies. Returns domain.ErrRiskGated for HALT, PAUSE, and
// EMERGENCY.
func (m *Manager) GateTrade(ctx context.Context) (Gate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.evaluate(ctx)
	switch state {
	case domain.BreakerHalt, domain.BreakerEmergency:
		return Gate{State: state}, fmt.Errorf("risk: trading stopped in %s: %w", state, domain.ErrRiskGated)
	case domain.BreakerPause:
		return Gate{State: state}, fmt.Errorf("risk: paused until %s: %w", m.pausedUntil.Format(time.RFC3339), domain.ErrRiskGated)
	case domain.BreakerReduce:
		return Gate{State: state, SizeFactor: m.cfg.ReduceFactor}, nil
	default:
		return Gate{State: state, SizeFactor: 1.0}, nil
	}
}

// CanTrade reports whether new trades are admitted in the current state.
func (m *Manager) CanTrade(ctx context.Context) bool {
	_, err := m.GateTrade(ctx)
	return err == nil
}

// State returns the current breaker state without re-evaluating limits.
func (m *Manager) State() domain.BreakerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ReserveExposure atomically checks the post-trade exposure caps and, when
// they hold, books the notional against the portfolio under the signal's ID.
// The reservation is trimmed with ReleaseExposure for whatever does not fill
// and released in full when the position settles through RecordOutcome.
func (m *Manager) ReserveExposure(signalID, whale string, notionalUSD float64, category string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.nav <= 0 {
		return fmt.Errorf("risk: portfolio value is zero: %w", domain.ErrRiskGated)
	}
	post := (m.openExposure + notionalUSD) / m.nav
	if post > m.cfg.MaxTotalExposure {
		return fmt.Errorf("risk: post-trade exposure %.1f%% exceeds cap %.1f%%: %w",
			post*100, m.cfg.MaxTotalExposure*100, domain.ErrAdmissionRejected)
	}
	postSector := (m.sectorExposure[category] + notionalUSD) / m.nav
	if category != "" && postSector > m.cfg.MaxSectorExposure {
		return fmt.Errorf("risk: post-trade %s exposure %.1f%% exceeds cap %.1f%%: %w",
			category, postSector*100, m.cfg.MaxSectorExposure*100, domain.ErrAdmissionRejected)
	}

	m.openExposure += notionalUSD
	m.whaleExposure[whale] += notionalUSD
	if category != "" {
		m.sectorExposure[category] += notionalUSD
	}
	pos := m.positions[signalID]
	m.positions[signalID] = openPosition{
		whale:    whale,
		category: category,
		notional: pos.notional + notionalUSD,
	}
	m.balance -= notionalUSD
	return nil
}

// ReleaseExposure returns unfilled notional reserved by ReserveExposure.
func (m *Manager) ReleaseExposure(signalID string, notionalUSD float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.release(signalID, notionalUSD)
}

// release unwinds up to notionalUSD of the signal's booked exposure. Caller
// holds the lock.
func (m *Manager) release(signalID string, notionalUSD float64) {
	pos, ok := m.positions[signalID]
	if !ok {
		return
	}
	if notionalUSD > pos.notional {
		notionalUSD = pos.notional
	}

	m.openExposure -= notionalUSD
	if m.openExposure < 0 {
		m.openExposure = 0
	}
	m.whaleExposure[pos.whale] -= notionalUSD
	if m.whaleExposure[pos.whale] <= 0 {
		delete(m.whaleExposure, pos.whale)
	}
	if pos.category != "" {
		m.sectorExposure[pos.category] -= notionalUSD
		if m.sectorExposure[pos.category] <= 0 {
			delete(m.sectorExposure, pos.category)
		}
	}
	pos.notional -= notionalUSD
	if pos.notional <= 0 {
		delete(m.positions, signalID)
	} else {
		m.positions[signalID] = pos
	}
	m.balance += notionalUSD
}

// OpenWhales lists whales with currently booked exposure. Used by the filter
// to bound correlation against existing positions.
func (m *Manager) OpenWhales() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.whaleExposure))
	for w := range m.whaleExposure {
		out = append(out, w)
	}
	return out
}

// RecordOutcome applies a settled trade to the risk counters, releases the
// exposure still booked under the signal, and re-runs the limit checks.
func (m *Manager) RecordOutcome(ctx context.Context, out domain.TradeOutcome) domain.BreakerState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pos, ok := m.positions[out.SignalID]; ok {
		m.release(out.SignalID, pos.notional)
	}

	m.rollDay()
	m.dailyPnL += out.PnL
	m.nav += out.PnL
	m.balance += out.PnL
	if m.nav > m.peak {
		m.peak = m.nav
	}
	if out.Win {
		m.consecLosses = 0
	} else {
		m.consecLosses++
		if out.PnL < 0 {
			m.whaleDailyLoss[out.Whale] += out.PnL
		}
	}
	return m.evaluate(ctx)
}

// SeedDailyPnL restores today's realized PnL after a restart so the daily
// loss limit keeps counting across process boundaries, and re-runs the limit
// checks.
func (m *Manager) SeedDailyPnL(ctx context.Context, pnl float64) domain.BreakerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDay()
	m.dailyPnL = pnl
	return m.evaluate(ctx)
}

// RecordPlacementFailure counts consecutive exchange placement failures and
// escalates to EMERGENCY once they indicate connectivity loss rather than a
// risk condition.
func (m *Manager) RecordPlacementFailure(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.placeFailures++
	if m.cfg.EmergencyFailures > 0 && m.placeFailures >= m.cfg.EmergencyFailures && m.state != domain.BreakerEmergency {
		m.transition(ctx, domain.BreakerEmergency,
			fmt.Sprintf("%d consecutive order placement failures", m.placeFailures))
	}
}

// RecordPlacementSuccess resets the placement-failure streak.
func (m *Manager) RecordPlacementSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placeFailures = 0
}

// TriggerEmergency forces the EMERGENCY state. Used by operators and by the
// pipeline on unrecoverable conditions.
func (m *Manager) TriggerEmergency(ctx context.Context, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transition(ctx, domain.BreakerEmergency, reason)
}

// ManualReset clears EMERGENCY (and any other state) back to NORMAL. The next
// evaluation may immediately re-trip lower states if their conditions hold.
func (m *Manager) ManualReset(ctx context.Context, operator string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placeFailures = 0
	m.pausedUntil = time.Time{}
	m.transition(ctx, domain.BreakerNormal, fmt.Sprintf("manual reset by %s", operator))
}

// Snapshot returns a value copy of the portfolio counters.
func (m *Manager) Snapshot() domain.PortfolioSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	sectors := make(map[string]float64, len(m.sectorExposure))
	for k, v := range m.sectorExposure {
		sectors[k] = v
	}
	losses := make(map[string]float64, len(m.whaleDailyLoss))
	for k, v := range m.whaleDailyLoss {
		losses[k] = v
	}
	exposurePct := 0.0
	if m.nav > 0 {
		exposurePct = m.openExposure / m.nav
	}
	return domain.PortfolioSnapshot{
		NAV:               m.nav,
		Balance:           m.balance,
		TotalExposurePct:  exposurePct,
		SectorExposure:    sectors,
		DailyPnL:          m.dailyPnL,
		PeakValue:         m.peak,
		ConsecutiveLosses: m.consecLosses,
		WhaleDailyLoss:    losses,
		AsOf:              m.now(),
	}
}

// Balance returns the free capital available for new trades.
func (m *Manager) Balance() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance
}

// TotalCapital implements the allocator's BalanceSource.
func (m *Manager) TotalCapital(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nav, nil
}
