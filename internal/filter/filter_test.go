package filter

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/quantfold/whalecopy/internal/domain"
)

type fakeProfiles struct {
	profiles map[string]domain.WhaleProfile
	matrix   *domain.CorrelationMatrix
	corrErr  error
	loads    int
}

func (f *fakeProfiles) GetByAddress(_ context.Context, address string) (domain.WhaleProfile, error) {
	p, ok := f.profiles[address]
	if !ok {
		return domain.WhaleProfile{}, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakeProfiles) LoadCorrelations(context.Context) (*domain.CorrelationMatrix, error) {
	f.loads++
	if f.corrErr != nil {
		return nil, f.corrErr
	}
	if f.matrix == nil {
		return domain.NewCorrelationMatrix(), nil
	}
	return f.matrix, nil
}

type fakePrices struct {
	price float64
	err   error
	calls int
}

func (f *fakePrices) CurrentPrice(context.Context, string) (float64, error) {
	f.calls++
	return f.price, f.err
}

type fakePortfolio struct {
	snap domain.PortfolioSnapshot
	open []string
}

func (f *fakePortfolio) Snapshot() domain.PortfolioSnapshot { return f.snap }
func (f *fakePortfolio) OpenWhales() []string               { return f.open }

const whaleAddr = "0xwhale"

func goodProfile() domain.WhaleProfile {
	return domain.WhaleProfile{
		Address:      whaleAddr,
		QualityScore: 80,
		Sharpe30d:    2.0,
		Sharpe90d:    1.5,
		Drawdown:     0.10,
		ADV:          5_000_000,
	}
}

func goodSignal() domain.TradeSignal {
	return domain.TradeSignal{
		ID:         "sig-1",
		Whale:      whaleAddr,
		MarketID:   "mkt-1",
		TokenID:    "tok-1",
		Side:       domain.OrderSideBuy,
		Size:       10000,
		Price:      0.55,
		Category:   "politics",
		Resolution: time.Now().Add(30 * 24 * time.Hour),
		CreatedAt:  time.Now(),
	}
}

func newTestFilter(profiles *fakeProfiles, prices *fakePrices, portfolio *fakePortfolio) *Filter {
	return New(DefaultConfig(), profiles, prices, portfolio, slog.Default())
}

func fixtures() (*fakeProfiles, *fakePrices, *fakePortfolio) {
	return &fakeProfiles{profiles: map[string]domain.WhaleProfile{whaleAddr: goodProfile()}},
		&fakePrices{price: 0.52},
		&fakePortfolio{snap: domain.PortfolioSnapshot{NAV: 100000, SectorExposure: map[string]float64{}}}
}

func TestEvaluatePasses(t *testing.T) {
	profiles, prices, portfolio := fixtures()
	f := newTestFilter(profiles, prices, portfolio)

	v, err := f.Evaluate(context.Background(), goodSignal())
	if err != nil {
		t.Fatal(err)
	}
	if !v.Passed {
		t.Fatalf("rejected: %+v", v.Rejection)
	}
	if v.EstEdge <= 0 {
		t.Errorf("edge = %v, want positive", v.EstEdge)
	}
	if v.EstSlippage <= 0 {
		t.Errorf("impact = %v, want positive", v.EstSlippage)
	}
}

func TestEvaluateStageOneRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.WhaleProfile)
	}{
		{"low quality", func(p *domain.WhaleProfile) { p.QualityScore = 40 }},
		{"no momentum", func(p *domain.WhaleProfile) { p.Sharpe30d = 1.4; p.Sharpe90d = 1.5 }},
		{"flat momentum", func(p *domain.WhaleProfile) { p.Sharpe30d = 1.5; p.Sharpe90d = 1.5 }},
		{"deep drawdown", func(p *domain.WhaleProfile) { p.Drawdown = 0.30 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profiles, prices, portfolio := fixtures()
			p := goodProfile()
			tt.mutate(&p)
			profiles.profiles[whaleAddr] = p
			f := newTestFilter(profiles, prices, portfolio)

			v, err := f.Evaluate(context.Background(), goodSignal())
			if err != nil {
				t.Fatal(err)
			}
			if v.Passed {
				t.Fatal("want rejection")
			}
			if v.Rejection.Stage != domain.StageWhale {
				t.Errorf("stage = %d, want 1", v.Rejection.Stage)
			}
			// Short circuit: stage 2's price lookup never runs.
			if prices.calls != 0 {
				t.Errorf("price lookups = %d after stage-1 failure, want 0", prices.calls)
			}
		})
	}
}

func TestEvaluateStageTwoRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(sig *domain.TradeSignal, profiles *fakeProfiles, prices *fakePrices)
	}{
		{"small notional", func(sig *domain.TradeSignal, _ *fakeProfiles, _ *fakePrices) {
			sig.Size = 100
		}},
		{"high impact", func(_ *domain.TradeSignal, profiles *fakeProfiles, _ *fakePrices) {
			p := profiles.profiles[whaleAddr]
			p.ADV = 20000
			profiles.profiles[whaleAddr] = p
		}},
		{"unknown adv", func(_ *domain.TradeSignal, profiles *fakeProfiles, _ *fakePrices) {
			p := profiles.profiles[whaleAddr]
			p.ADV = 0
			profiles.profiles[whaleAddr] = p
		}},
		{"distant resolution", func(sig *domain.TradeSignal, _ *fakeProfiles, _ *fakePrices) {
			sig.Resolution = time.Now().Add(365 * 24 * time.Hour)
		}},
		{"no edge", func(_ *domain.TradeSignal, _ *fakeProfiles, prices *fakePrices) {
			prices.price = 0.58 // market moved past the whale's entry
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profiles, prices, portfolio := fixtures()
			sig := goodSignal()
			tt.mutate(&sig, profiles, prices)
			f := newTestFilter(profiles, prices, portfolio)

			v, err := f.Evaluate(context.Background(), sig)
			if err != nil {
				t.Fatal(err)
			}
			if v.Passed {
				t.Fatal("want rejection")
			}
			if v.Rejection.Stage != domain.StageTrade {
				t.Errorf("stage = %d (%s), want 2", v.Rejection.Stage, v.Rejection.Reason)
			}
			// Short circuit: stage 3's correlation load never runs.
			if profiles.loads != 0 {
				t.Errorf("correlation loads = %d after stage-2 failure, want 0", profiles.loads)
			}
		})
	}
}

func TestEvaluateStageThreeCorrelation(t *testing.T) {
	profiles, prices, portfolio := fixtures()
	portfolio.open = []string{"0xother"}
	profiles.matrix = domain.NewCorrelationMatrix()
	profiles.matrix.Set(whaleAddr, "0xother", 0.85)
	f := newTestFilter(profiles, prices, portfolio)

	v, err := f.Evaluate(context.Background(), goodSignal())
	if err != nil {
		t.Fatal(err)
	}
	if v.Passed {
		t.Fatal("want rejection")
	}
	if v.Rejection.Stage != domain.StagePortfolio {
		t.Errorf("stage = %d, want 3", v.Rejection.Stage)
	}
}

func TestEvaluateStageThreeExposure(t *testing.T) {
	profiles, prices, portfolio := fixtures()
	portfolio.snap.TotalExposurePct = 0.7998 // projected copy adds ~0.055% on a 100k book
	f := newTestFilter(profiles, prices, portfolio)

	v, err := f.Evaluate(context.Background(), goodSignal())
	if err != nil {
		t.Fatal(err)
	}
	if v.Passed || v.Rejection.Stage != domain.StagePortfolio {
		t.Fatalf("verdict = %+v, want stage-3 exposure rejection", v)
	}
}

func TestEvaluateStageThreeConcentration(t *testing.T) {
	profiles, prices, portfolio := fixtures()
	portfolio.snap.SectorExposure["politics"] = 29960 // 29.96% + projected 0.055% > 30% cap
	f := newTestFilter(profiles, prices, portfolio)

	v, err := f.Evaluate(context.Background(), goodSignal())
	if err != nil {
		t.Fatal(err)
	}
	if v.Passed || v.Rejection.Stage != domain.StagePortfolio {
		t.Fatalf("verdict = %+v, want stage-3 concentration rejection", v)
	}
}

func TestEvaluateInfrastructureErrors(t *testing.T) {
	profiles, prices, portfolio := fixtures()
	prices.err = errors.New("redis down")
	f := newTestFilter(profiles, prices, portfolio)

	if _, err := f.Evaluate(context.Background(), goodSignal()); err == nil {
		t.Fatal("want error when price source fails")
	}

	profiles, prices, portfolio = fixtures()
	f = newTestFilter(profiles, prices, portfolio)
	sig := goodSignal()
	sig.Whale = "0xunknown"
	if _, err := f.Evaluate(context.Background(), sig); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
