// Package allocator assigns each tracked whale a capital tier and share.
// Allocation runs periodically, not per trade; the sizer reads whatever
// snapshot was last published.
package allocator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/quantfold/whalecopy/internal/domain"
)

// Config holds the tier and correlation parameters.
type Config struct {
	TopTierCount       int     // whales in the top tier, default 10
	MidTierCount       int     // whales in the mid tier, default 20
	TopTierPool        float64 // capital share of the top tier, default 0.70
	MidTierPool        float64 // default 0.25
	ExperimentalPool   float64 // default 0.05
	HighCorrelation    float64 // pairwise threshold triggering a penalty, default 0.70
	CorrelationPenalty float64 // multiplier applied once per penalized whale, default 0.50
	MaxPositionPct     float64 // single-trade share of a whale's allocation, default 0.50
	RecomputeInterval  time.Duration
}

// DefaultConfig returns the standard allocation parameters.
func DefaultConfig() Config {
	return Config{
		TopTierCount:       10,
		MidTierCount:       20,
		TopTierPool:        0.70,
		MidTierPool:        0.25,
		ExperimentalPool:   0.05,
		HighCorrelation:    0.70,
		CorrelationPenalty: 0.50,
		MaxPositionPct:     0.50,
		RecomputeInterval:  15 * time.Minute,
	}
}

// ProfileSource supplies the inputs of an allocation cycle. Backed by the
// whale store in production and by fixtures in tests.
type ProfileSource interface {
	ListTracked(ctx context.Context) ([]domain.WhaleProfile, error)
	LoadCorrelations(ctx context.Context) (*domain.CorrelationMatrix, error)
}

// BalanceSource reports the capital base to allocate over.
type BalanceSource interface {
	TotalCapital(ctx context.Context) (float64, error)
}

// Allocator computes and publishes allocation snapshots. Readers access the
// latest snapshot lock-free through an atomic pointer.
type Allocator struct {
	cfg      Config
	profiles ProfileSource
	balance  BalanceSource
	current  atomic.Pointer[domain.AllocationSnapshot]
	now      func() time.Time
	logger   *slog.Logger
}

// New creates an Allocator. The published snapshot starts empty; callers see
// no allocations until the first cycle completes.
func New(cfg Config, profiles ProfileSource, balance BalanceSource, logger *slog.Logger) *Allocator {
	a := &Allocator{
		cfg:      cfg,
		profiles: profiles,
		balance:  balance,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "allocator")),
	}
	a.current.Store(&domain.AllocationSnapshot{Entries: map[string]domain.AllocationEntry{}})
	return a
}

// Snapshot returns the latest published allocation table. The snapshot is
// immutable; callers must not modify it.
func (a *Allocator) Snapshot() *domain.AllocationSnapshot {
	return a.current.Load()
}

// Run recomputes allocations on a fixed interval until ctx is cancelled. An
// initial cycle runs immediately.
func (a *Allocator) Run(ctx context.Context) error {
	if err := a.Recompute(ctx); err != nil {
		a.logger.ErrorContext(ctx, "initial allocation failed", slog.Any("error", err))
	}
	ticker := time.NewTicker(a.cfg.RecomputeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.Recompute(ctx); err != nil {
				a.logger.ErrorContext(ctx, "allocation cycle failed", slog.Any("error", err))
			}
		}
	}
}

// Recompute runs one allocation cycle and atomically publishes the result.
func (a *Allocator) Recompute(ctx context.Context) error {
	profiles, err := a.profiles.ListTracked(ctx)
	if err != nil {
		return fmt.Errorf("allocator: list whales: %w", err)
	}
	corr, err := a.profiles.LoadCorrelations(ctx)
	if err != nil {
		return fmt.Errorf("allocator: load correlations: %w", err)
	}
	capital, err := a.balance.TotalCapital(ctx)
	if err != nil {
		return fmt.Errorf("allocator: total capital: %w", err)
	}

	snap := a.Compute(profiles, corr, capital)
	a.current.Store(snap)
	a.logger.InfoContext(ctx, "allocation published",
		slog.Int("whales", len(snap.Entries)),
		slog.Float64("capital", capital),
	)
	return nil
}

// Compute builds an allocation snapshot from the given inputs. Pure function
// of its arguments; the published table is only touched by Recompute.
func (a *Allocator) Compute(profiles []domain.WhaleProfile, corr *domain.CorrelationMatrix, totalCapital float64) *domain.AllocationSnapshot {
	ranked := make([]domain.WhaleProfile, len(profiles))
	copy(ranked, profiles)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].QualityScore > ranked[j].QualityScore
	})

	entries := make(map[string]domain.AllocationEntry, len(ranked))

	tierOf := func(rank int) domain.Tier {
		switch {
		case rank < a.cfg.TopTierCount:
			return domain.TierTop
		case rank < a.cfg.TopTierCount+a.cfg.MidTierCount:
			return domain.TierMid
		default:
			return domain.TierExperimental
		}
	}
	poolOf := func(t domain.Tier) float64 {
		switch t {
		case domain.TierTop:
			return a.cfg.TopTierPool
		case domain.TierMid:
			return a.cfg.MidTierPool
		default:
			return a.cfg.ExperimentalPool
		}
	}

	// Sum quality scores per tier for proportional shares.
	tierScore := map[domain.Tier]float64{}
	for rank, p := range ranked {
		tierScore[tierOf(rank)] += p.QualityScore
	}

	for rank, p := range ranked {
		tier := tierOf(rank)
		basePct := 0.0
		if s := tierScore[tier]; s > 0 {
			basePct = poolOf(tier) * p.QualityScore / s
		}
		entries[p.Address] = domain.AllocationEntry{
			Whale:          p.Address,
			Tier:           tier,
			QualityScore:   p.QualityScore,
			BasePct:        basePct,
			CorrelationAdj: 1.0,
		}
	}

	// One flat penalty per whale that sits in any high-correlation pair,
	// regardless of how many such pairs it is in.
	if corr != nil {
		penalized := map[string]bool{}
		addrs := make([]string, 0, len(entries))
		for addr := range entries {
			addrs = append(addrs, addr)
		}
		sort.Strings(addrs)
		for i := 0; i < len(addrs); i++ {
			for j := i + 1; j < len(addrs); j++ {
				if corr.Get(addrs[i], addrs[j]) >= a.cfg.HighCorrelation {
					penalized[addrs[i]] = true
					penalized[addrs[j]] = true
				}
			}
		}
		for addr := range penalized {
			e := entries[addr]
			e.CorrelationAdj = a.cfg.CorrelationPenalty
			entries[addr] = e
		}
	}

	for addr, e := range entries {
		e.FinalPct = e.BasePct * e.CorrelationAdj
		e.AllocatedCapital = totalCapital * e.FinalPct
		e.MaxPositionSize = e.AllocatedCapital * a.cfg.MaxPositionPct
		entries[addr] = e
	}

	return &domain.AllocationSnapshot{
		Entries:      entries,
		TotalCapital: totalCapital,
		ComputedAt:   a.now(),
	}
}
