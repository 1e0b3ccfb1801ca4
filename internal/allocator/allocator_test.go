package allocator

import (
	"log/slog"
	"math"
	"testing"

	"github.com/quantfold/whalecopy/internal/domain"
)

func testAllocator(cfg Config) *Allocator {
	return New(cfg, nil, nil, slog.Default())
}

func profiles(scores ...float64) []domain.WhaleProfile {
	ps := make([]domain.WhaleProfile, len(scores))
	for i, s := range scores {
		ps[i] = domain.WhaleProfile{
			Address:      addr(i),
			QualityScore: s,
		}
	}
	return ps
}

func addr(i int) string {
	return string(rune('a'+i)) + "-whale"
}

func TestComputeTierAssignment(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TopTierCount = 2
	cfg.MidTierCount = 2
	a := testAllocator(cfg)

	snap := a.Compute(profiles(90, 80, 70, 60, 50, 40), nil, 100000)

	wantTiers := map[string]domain.Tier{
		addr(0): domain.TierTop,
		addr(1): domain.TierTop,
		addr(2): domain.TierMid,
		addr(3): domain.TierMid,
		addr(4): domain.TierExperimental,
		addr(5): domain.TierExperimental,
	}
	for w, want := range wantTiers {
		e, ok := snap.Entry(w)
		if !ok {
			t.Fatalf("no entry for %s", w)
		}
		if e.Tier != want {
			t.Errorf("%s tier = %v, want %v", w, e.Tier, want)
		}
	}
}

func TestComputeProportionalWithinTier(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TopTierCount = 2
	cfg.MidTierCount = 2
	a := testAllocator(cfg)

	snap := a.Compute(profiles(90, 60, 70, 60, 50, 40), nil, 100000)

	// Top tier scores 90 and 70 (ranking reorders whales), pool 0.70.
	e0, _ := snap.Entry(addr(0))
	e2, _ := snap.Entry(addr(2))
	if got, want := e0.BasePct, 0.70*90/160; math.Abs(got-want) > 1e-12 {
		t.Errorf("top whale base = %v, want %v", got, want)
	}
	if got, want := e2.BasePct, 0.70*70/160; math.Abs(got-want) > 1e-12 {
		t.Errorf("second top whale base = %v, want %v", got, want)
	}
}

func TestComputePoolsSumToOne(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TopTierCount = 2
	cfg.MidTierCount = 2
	a := testAllocator(cfg)

	snap := a.Compute(profiles(90, 80, 70, 60, 50, 40), nil, 100000)

	var baseSum, finalSum float64
	for _, e := range snap.Entries {
		baseSum += e.BasePct
		finalSum += e.FinalPct
		if e.FinalPct > e.BasePct {
			t.Errorf("%s final %v > base %v", e.Whale, e.FinalPct, e.BasePct)
		}
	}
	if math.Abs(baseSum-1.0) > 1e-9 {
		t.Errorf("sum of base pct = %v, want 1.0", baseSum)
	}
	if finalSum > baseSum+1e-12 {
		t.Errorf("sum of final pct %v exceeds base sum %v", finalSum, baseSum)
	}
}

func TestComputeCorrelationPenaltyAppliedOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TopTierCount = 3
	a := testAllocator(cfg)

	corr := domain.NewCorrelationMatrix()
	// Whale 0 is highly correlated with both 1 and 2; the penalty still
	// applies only once.
	corr.Set(addr(0), addr(1), 0.85)
	corr.Set(addr(0), addr(2), 0.75)

	snap := a.Compute(profiles(90, 80, 70), corr, 100000)

	for i := 0; i < 3; i++ {
		e, _ := snap.Entry(addr(i))
		if e.CorrelationAdj != cfg.CorrelationPenalty {
			t.Errorf("%s adj = %v, want %v", addr(i), e.CorrelationAdj, cfg.CorrelationPenalty)
		}
		if got, want := e.FinalPct, e.BasePct*cfg.CorrelationPenalty; math.Abs(got-want) > 1e-12 {
			t.Errorf("%s final = %v, want %v", addr(i), got, want)
		}
	}
}

func TestComputeBelowThresholdUnpenalized(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TopTierCount = 2
	a := testAllocator(cfg)

	corr := domain.NewCorrelationMatrix()
	corr.Set(addr(0), addr(1), 0.69)

	snap := a.Compute(profiles(90, 80), corr, 100000)
	for i := 0; i < 2; i++ {
		e, _ := snap.Entry(addr(i))
		if e.CorrelationAdj != 1.0 {
			t.Errorf("%s adj = %v, want 1.0", addr(i), e.CorrelationAdj)
		}
	}
}

func TestComputeCapitalAndCeiling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TopTierCount = 1
	cfg.MidTierCount = 0
	cfg.MaxPositionPct = 0.50
	a := testAllocator(cfg)

	snap := a.Compute(profiles(90), nil, 200000)
	e, _ := snap.Entry(addr(0))
	if got, want := e.AllocatedCapital, 200000*0.70; math.Abs(got-want) > 1e-9 {
		t.Errorf("allocated = %v, want %v", got, want)
	}
	if got, want := e.MaxPositionSize, e.AllocatedCapital*0.50; math.Abs(got-want) > 1e-9 {
		t.Errorf("max position = %v, want %v", got, want)
	}
}

func TestSnapshotStartsEmpty(t *testing.T) {
	a := testAllocator(DefaultConfig())
	snap := a.Snapshot()
	if snap == nil {
		t.Fatal("nil initial snapshot")
	}
	if len(snap.Entries) != 0 {
		t.Errorf("initial entries = %d, want 0", len(snap.Entries))
	}
	if _, ok := snap.Entry("nobody"); ok {
		t.Error("unexpected entry in empty snapshot")
	}
}
