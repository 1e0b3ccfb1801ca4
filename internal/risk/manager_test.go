package risk

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/quantfold/whalecopy/internal/domain"
)

func newTestManager(cfg Config, nav float64) *Manager {
	return NewManager(cfg, nav, nil, nil, slog.Default())
}

func loss(whale string, pnl float64) domain.TradeOutcome {
	return domain.TradeOutcome{Whale: whale, PnL: pnl, Win: false}
}

func win(whale string, pnl float64) domain.TradeOutcome {
	return domain.TradeOutcome{Whale: whale, PnL: pnl, Win: true}
}

func TestHaltOnDailyLoss(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DailyLossLimit = 500
	m := newTestManager(cfg, 10000)
	ctx := context.Background()

	if got := m.RecordOutcome(ctx, loss("0xabc", -600)); got != domain.BreakerHalt {
		t.Fatalf("state = %v, want HALT", got)
	}
	if m.CanTrade(ctx) {
		t.Error("can_trade() = true in HALT")
	}
	if _, err := m.GateTrade(ctx); !errors.Is(err, domain.ErrRiskGated) {
		t.Errorf("gate error = %v, want ErrRiskGated", err)
	}
}

func TestHaltOnPerWhaleLoss(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DailyLossLimit = 10000
	cfg.PerWhaleLossLimit = 200
	m := newTestManager(cfg, 10000)
	ctx := context.Background()

	m.RecordOutcome(ctx, loss("0xabc", -150))
	m.RecordOutcome(ctx, win("0xdef", 100))
	if got := m.State(); got != domain.BreakerNormal {
		t.Fatalf("state = %v before breach, want NORMAL", got)
	}
	if got := m.RecordOutcome(ctx, loss("0xabc", -100)); got != domain.BreakerHalt {
		t.Fatalf("state = %v, want HALT on per-whale loss", got)
	}
}

func TestHaltPriorityOverLowerStates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DailyLossLimit = 500
	cfg.PerWhaleLossLimit = 1e9
	cfg.MaxConsecutiveLoss = 2
	cfg.MaxDrawdownPct = 0.01
	m := newTestManager(cfg, 10000)
	ctx := context.Background()

	// Losses trip the consecutive-loss and drawdown conditions too; HALT
	// must win.
	m.RecordOutcome(ctx, loss("0xabc", -300))
	if got := m.RecordOutcome(ctx, loss("0xdef", -300)); got != domain.BreakerHalt {
		t.Fatalf("state = %v, want HALT over PAUSE/REDUCE", got)
	}
}

func TestPauseAutoReverts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DailyLossLimit = 1e9
	cfg.PerWhaleLossLimit = 1e9
	cfg.MaxConsecutiveLoss = 2
	cfg.MaxDrawdownPct = 0.99
	cfg.PauseDuration = time.Hour
	m := newTestManager(cfg, 10000)
	ctx := context.Background()

	now := time.Now()
	m.now = func() time.Time { return now }

	m.RecordOutcome(ctx, loss("0xabc", -10))
	if got := m.RecordOutcome(ctx, loss("0xabc", -10)); got != domain.BreakerPause {
		t.Fatalf("state = %v, want PAUSE after 2 losses", got)
	}
	if m.CanTrade(ctx) {
		t.Error("can_trade() = true while paused")
	}

	now = now.Add(61 * time.Minute)
	if got := m.CheckLimits(ctx); got != domain.BreakerNormal {
		t.Errorf("state = %v after pause window, want NORMAL", got)
	}
	if !m.CanTrade(ctx) {
		t.Error("can_trade() = false after pause expired")
	}
}

func TestReduceShrinksSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DailyLossLimit = 1e9
	cfg.PerWhaleLossLimit = 1e9
	cfg.MaxConsecutiveLoss = 100
	cfg.MaxDrawdownPct = 0.10
	cfg.ReduceFactor = 0.5
	m := newTestManager(cfg, 10000)
	ctx := context.Background()

	m.RecordOutcome(ctx, loss("0xabc", -1500)) // 15% drawdown from peak
	gate, err := m.GateTrade(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if gate.State != domain.BreakerReduce {
		t.Errorf("state = %v, want REDUCE", gate.State)
	}
	if gate.SizeFactor != 0.5 {
		t.Errorf("size factor = %v, want 0.5", gate.SizeFactor)
	}
}

func TestEmergencyStickyUntilManualReset(t *testing.T) {
	m := newTestManager(DefaultConfig(), 10000)
	ctx := context.Background()

	m.TriggerEmergency(ctx, "operator kill switch")
	if got := m.CheckLimits(ctx); got != domain.BreakerEmergency {
		t.Fatalf("state = %v, want EMERGENCY to persist through checks", got)
	}
	if m.CanTrade(ctx) {
		t.Error("can_trade() = true in EMERGENCY")
	}

	m.ManualReset(ctx, "ops")
	if got := m.State(); got != domain.BreakerNormal {
		t.Errorf("state = %v after manual reset, want NORMAL", got)
	}
}

func TestPlacementFailureEscalation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EmergencyFailures = 3
	m := newTestManager(cfg, 10000)
	ctx := context.Background()

	m.RecordPlacementFailure(ctx)
	m.RecordPlacementFailure(ctx)
	m.RecordPlacementSuccess()
	m.RecordPlacementFailure(ctx)
	m.RecordPlacementFailure(ctx)
	if got := m.State(); got != domain.BreakerNormal {
		t.Fatalf("state = %v below threshold, want NORMAL", got)
	}
	m.RecordPlacementFailure(ctx)
	if got := m.State(); got != domain.BreakerEmergency {
		t.Errorf("state = %v, want EMERGENCY after repeated failures", got)
	}
}

func TestReserveExposureCaps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTotalExposure = 0.50
	cfg.MaxSectorExposure = 0.20
	m := newTestManager(cfg, 10000)

	if err := m.ReserveExposure("sig-1", "0xabc", 1500, "politics"); err != nil {
		t.Fatal(err)
	}
	// Sector cap: politics already at 15%, another 10% breaches 20%.
	if err := m.ReserveExposure("sig-2", "0xdef", 1000, "politics"); !errors.Is(err, domain.ErrAdmissionRejected) {
		t.Errorf("sector breach error = %v, want ErrAdmissionRejected", err)
	}
	// Different sector is fine until the total cap bites.
	if err := m.ReserveExposure("sig-3", "0xdef", 1900, "sports"); err != nil {
		t.Fatal(err)
	}
	if err := m.ReserveExposure("sig-4", "0xghi", 2000, "crypto"); !errors.Is(err, domain.ErrAdmissionRejected) {
		t.Errorf("total breach error = %v, want ErrAdmissionRejected", err)
	}

	m.ReleaseExposure("sig-3", 1900)
	if err := m.ReserveExposure("sig-4", "0xghi", 1000, "crypto"); err != nil {
		t.Errorf("reserve after release: %v", err)
	}
	if got := len(m.OpenWhales()); got != 2 {
		t.Errorf("open whales = %d, want 2", got)
	}
}

func TestSettlementReleasesExposure(t *testing.T) {
	m := newTestManager(DefaultConfig(), 10000)
	ctx := context.Background()

	if err := m.ReserveExposure("sig-1", "0xaaa", 2000, "politics"); err != nil {
		t.Fatal(err)
	}
	if got := m.Snapshot().TotalExposurePct; got < 0.19 {
		t.Fatalf("exposure = %.4f after reserve, want ~0.20", got)
	}

	m.RecordOutcome(ctx, domain.TradeOutcome{SignalID: "sig-1", Whale: "0xaaa", PnL: 300, Win: true})

	snap := m.Snapshot()
	if snap.TotalExposurePct != 0 {
		t.Errorf("exposure = %.4f after settlement, want 0", snap.TotalExposurePct)
	}
	if got := len(m.OpenWhales()); got != 0 {
		t.Errorf("open whales = %d after settlement, want 0", got)
	}
	if len(snap.SectorExposure) != 0 {
		t.Errorf("sector exposure = %v after settlement, want empty", snap.SectorExposure)
	}
	// Stake comes back with the PnL on top.
	if snap.Balance != 10300 {
		t.Errorf("balance = %v after settlement, want 10300", snap.Balance)
	}
}

func TestPartialFillThenSettlement(t *testing.T) {
	m := newTestManager(DefaultConfig(), 10000)
	ctx := context.Background()

	if err := m.ReserveExposure("sig-1", "0xaaa", 2000, ""); err != nil {
		t.Fatal(err)
	}
	// Half the order never filled.
	m.ReleaseExposure("sig-1", 1000)
	if got := m.Snapshot().TotalExposurePct; got != 0.10 {
		t.Fatalf("exposure = %.4f after partial release, want 0.10", got)
	}

	m.RecordOutcome(ctx, domain.TradeOutcome{SignalID: "sig-1", Whale: "0xaaa", PnL: -1000, Win: false})
	if got := m.Snapshot().TotalExposurePct; got != 0 {
		t.Errorf("exposure = %.4f after settlement, want 0", got)
	}
	// The filled half came back as stake and left again as realized loss.
	if got := m.Snapshot().Balance; got != 9000 {
		t.Errorf("balance = %v, want 9000", got)
	}
}

func TestOutcomeForUnknownSignalLeavesExposureAlone(t *testing.T) {
	m := newTestManager(DefaultConfig(), 10000)
	ctx := context.Background()

	if err := m.ReserveExposure("sig-1", "0xaaa", 1000, ""); err != nil {
		t.Fatal(err)
	}
	m.RecordOutcome(ctx, domain.TradeOutcome{SignalID: "sig-other", Whale: "0xbbb", PnL: 50, Win: true})
	if got := m.Snapshot().TotalExposurePct; got == 0 {
		t.Error("exposure for an unrelated open position was released")
	}
}

func TestSeedDailyPnL(t *testing.T) {
	m := newTestManager(DefaultConfig(), 10000)
	ctx := context.Background()

	// Restart after a day already past the loss limit must come back halted.
	if got := m.SeedDailyPnL(ctx, -600); got != domain.BreakerHalt {
		t.Errorf("state = %v after seeding past the daily limit, want HALT", got)
	}
	if got := m.Snapshot().DailyPnL; got != -600 {
		t.Errorf("daily pnl = %v, want -600", got)
	}
}

func TestOutcomeUpdatesCounters(t *testing.T) {
	m := newTestManager(DefaultConfig(), 10000)
	ctx := context.Background()

	m.RecordOutcome(ctx, win("0xabc", 250))
	m.RecordOutcome(ctx, loss("0xdef", -100))
	snap := m.Snapshot()
	if snap.DailyPnL != 150 {
		t.Errorf("daily pnl = %v, want 150", snap.DailyPnL)
	}
	if snap.PeakValue != 10250 {
		t.Errorf("peak = %v, want 10250", snap.PeakValue)
	}
	if snap.NAV != 10150 {
		t.Errorf("nav = %v, want 10150", snap.NAV)
	}
	if snap.ConsecutiveLosses != 1 {
		t.Errorf("consecutive losses = %v, want 1", snap.ConsecutiveLosses)
	}
	if snap.WhaleDailyLoss["0xdef"] != -100 {
		t.Errorf("whale loss = %v, want -100", snap.WhaleDailyLoss["0xdef"])
	}
}
