package depth

import (
	"log/slog"
	"math"
	"testing"

	"github.com/quantfold/whalecopy/internal/domain"
)

func testAnalyzer() *Analyzer {
	return NewAnalyzer(nil, DefaultConfig(), slog.Default())
}

func approx(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestSimulateSingleLevelFill(t *testing.T) {
	snap := domain.BookSnapshot{
		AssetID: "tok-1",
		Asks:    []domain.PriceLevel{{Price: 0.50, Size: 4000}},
		BestAsk: 0.50,
	}
	est := testAnalyzer().Simulate(snap, domain.OrderSideBuy, 500)
	if est.ShouldSkip {
		t.Fatalf("unexpected skip: %s", est.SkipReason)
	}
	if est.AvgFillPrice != 0.50 {
		t.Errorf("avg fill = %v, want best ask 0.50", est.AvgFillPrice)
	}
	if est.Slippage != 0 {
		t.Errorf("slippage = %v, want 0", est.Slippage)
	}
	if est.LevelsConsumed != 1 {
		t.Errorf("levels = %d, want 1", est.LevelsConsumed)
	}
}

func TestSimulateMultiLevelWalk(t *testing.T) {
	// $500 buy against asks (0.50, 400sh) then (0.51, 800sh): level one
	// contributes $200 / 400 shares, level two $300 / ~588.24 shares. The
	// consumption cap is lifted so the walk itself is what's under test.
	a := NewAnalyzer(nil, Config{
		MaxSlippageLimit:  0.02,
		MaxSlippageMarket: 0.05,
		MaxLiquidityUsed:  1.0,
	}, slog.Default())
	snap := domain.BookSnapshot{
		AssetID: "tok-1",
		Asks: []domain.PriceLevel{
			{Price: 0.50, Size: 400},
			{Price: 0.51, Size: 800},
		},
		BestAsk: 0.50,
	}
	est := a.Simulate(snap, domain.OrderSideBuy, 500)
	if est.ShouldSkip {
		t.Fatalf("unexpected skip: %s", est.SkipReason)
	}
	wantShares := 400 + 300/0.51
	if !approx(est.FilledSize, wantShares, 1e-6) {
		t.Errorf("filled = %v, want %v", est.FilledSize, wantShares)
	}
	wantAvg := 500 / wantShares
	if !approx(est.AvgFillPrice, wantAvg, 1e-9) {
		t.Errorf("avg = %v, want %v", est.AvgFillPrice, wantAvg)
	}
	wantSlip := (wantAvg - 0.50) / 0.50
	if !approx(est.Slippage, wantSlip, 1e-9) {
		t.Errorf("slippage = %v, want %v", est.Slippage, wantSlip)
	}
	if est.WorstPrice != 0.51 {
		t.Errorf("worst = %v, want 0.51", est.WorstPrice)
	}
	if est.LevelsConsumed != 2 {
		t.Errorf("levels = %d, want 2", est.LevelsConsumed)
	}
}

func TestSimulateInsufficientLiquidity(t *testing.T) {
	snap := domain.BookSnapshot{
		AssetID: "tok-1",
		Asks:    []domain.PriceLevel{{Price: 0.40, Size: 100}},
		BestAsk: 0.40,
	}
	est := testAnalyzer().Simulate(snap, domain.OrderSideBuy, 500)
	if !est.ShouldSkip {
		t.Fatal("want skip on thin book")
	}
}

func TestSimulateConsumptionCap(t *testing.T) {
	// $2000 of depth, $500 order -> 25% consumed, under the cap.
	snap := domain.BookSnapshot{
		AssetID: "tok-1",
		Asks:    []domain.PriceLevel{{Price: 0.50, Size: 4000}},
		BestAsk: 0.50,
	}
	est := testAnalyzer().Simulate(snap, domain.OrderSideBuy, 500)
	if est.ShouldSkip {
		t.Fatalf("unexpected skip: %s", est.SkipReason)
	}

	snap.Asks[0].Size = 1200 // $600 of depth, $500 order -> 83%
	est = testAnalyzer().Simulate(snap, domain.OrderSideBuy, 500)
	if !est.ShouldSkip {
		t.Fatal("want skip above consumption cap")
	}
}

func TestSimulateSlippageGrades(t *testing.T) {
	a := NewAnalyzer(nil, Config{
		MaxSlippageLimit:  0.02,
		MaxSlippageMarket: 0.05,
		MaxLiquidityUsed:  1.0,
	}, slog.Default())

	// Thin top of book forces a walk deep enough to breach the limit cap
	// but not the market cap.
	snap := domain.BookSnapshot{
		Asks: []domain.PriceLevel{
			{Price: 0.50, Size: 100},
			{Price: 0.52, Size: 10000},
		},
		BestAsk: 0.50,
	}
	est := a.Simulate(snap, domain.OrderSideBuy, 500)
	if est.ShouldSkip {
		t.Fatalf("unexpected skip: %s", est.SkipReason)
	}
	if est.RecommendedType != domain.OrderTypeMarket {
		t.Errorf("recommended = %v, want market", est.RecommendedType)
	}

	// Steeper second level breaches the market cap too.
	snap.Asks[1].Price = 0.60
	est = a.Simulate(snap, domain.OrderSideBuy, 500)
	if !est.ShouldSkip {
		t.Fatal("want skip above market slippage cap")
	}
}

func TestSimulateSellWalksBids(t *testing.T) {
	snap := domain.BookSnapshot{
		Bids: []domain.PriceLevel{
			{Price: 0.60, Size: 500},
			{Price: 0.58, Size: 5000},
		},
		BestBid: 0.60,
	}
	est := testAnalyzer().Simulate(snap, domain.OrderSideSell, 300)
	if est.ShouldSkip {
		t.Fatalf("unexpected skip: %s", est.SkipReason)
	}
	if est.AvgFillPrice != 0.60 {
		t.Errorf("avg = %v, want 0.60 (single bid level)", est.AvgFillPrice)
	}
	if est.Slippage != 0 {
		t.Errorf("slippage = %v, want 0", est.Slippage)
	}
}

func TestSimulateEmptyBook(t *testing.T) {
	est := testAnalyzer().Simulate(domain.BookSnapshot{}, domain.OrderSideBuy, 100)
	if !est.ShouldSkip {
		t.Fatal("want skip on empty book")
	}
}
