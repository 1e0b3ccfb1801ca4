package executor

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"testing"

	"github.com/quantfold/whalecopy/internal/domain"
)

type fakeBooks struct {
	snap domain.BookSnapshot
	err  error
}

func (f *fakeBooks) GetBook(context.Context, string) (domain.BookSnapshot, error) {
	return f.snap, f.err
}

func paperBook() domain.BookSnapshot {
	return domain.BookSnapshot{
		AssetID: "tok-1",
		Asks: []domain.PriceLevel{
			{Price: 0.50, Size: 400},
			{Price: 0.51, Size: 800},
			{Price: 0.55, Size: 1000},
		},
		Bids: []domain.PriceLevel{
			{Price: 0.49, Size: 600},
			{Price: 0.45, Size: 1000},
		},
		BestBid: 0.49,
		BestAsk: 0.50,
	}
}

func TestPaperFullFill(t *testing.T) {
	p := NewPaperPlacer(&fakeBooks{snap: paperBook()}, slog.Default())

	res, err := p.PlaceOrder(context.Background(), domain.Order{
		TokenID: "tok-1",
		Side:    domain.OrderSideBuy,
		Type:    domain.OrderTypeLimit,
		Price:   0.51,
		Size:    1000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != domain.OrderStatusMatched {
		t.Errorf("status = %v, want matched", res.Status)
	}
	// 400 @ 0.50 + 600 @ 0.51.
	wantAvg := (400*0.50 + 600*0.51) / 1000
	if math.Abs(res.FilledPrice-wantAvg) > 1e-12 {
		t.Errorf("avg = %v, want %v", res.FilledPrice, wantAvg)
	}
}

func TestPaperPartialFillRestsOpen(t *testing.T) {
	p := NewPaperPlacer(&fakeBooks{snap: paperBook()}, slog.Default())

	// Limit 0.50 only crosses the first ask level.
	res, err := p.PlaceOrder(context.Background(), domain.Order{
		TokenID: "tok-1",
		Side:    domain.OrderSideBuy,
		Type:    domain.OrderTypeLimit,
		Price:   0.50,
		Size:    1000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != domain.OrderStatusOpen {
		t.Errorf("status = %v, want open", res.Status)
	}
	order, err := p.GetOrder(context.Background(), res.OrderID)
	if err != nil {
		t.Fatal(err)
	}
	if order.FilledSize != 400 {
		t.Errorf("filled = %v, want 400", order.FilledSize)
	}

	if err := p.CancelOrder(context.Background(), res.OrderID); err != nil {
		t.Fatal(err)
	}
	order, _ = p.GetOrder(context.Background(), res.OrderID)
	if order.Status != domain.OrderStatusCancelled {
		t.Errorf("status = %v after cancel, want cancelled", order.Status)
	}
}

func TestPaperSellWalksBids(t *testing.T) {
	p := NewPaperPlacer(&fakeBooks{snap: paperBook()}, slog.Default())

	res, err := p.PlaceOrder(context.Background(), domain.Order{
		TokenID: "tok-1",
		Side:    domain.OrderSideSell,
		Type:    domain.OrderTypeLimit,
		Price:   0.45,
		Size:    1000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != domain.OrderStatusMatched {
		t.Errorf("status = %v, want matched", res.Status)
	}
	wantAvg := (600*0.49 + 400*0.45) / 1000
	if math.Abs(res.FilledPrice-wantAvg) > 1e-12 {
		t.Errorf("avg = %v, want %v", res.FilledPrice, wantAvg)
	}
}

func TestPaperUnknownOrder(t *testing.T) {
	p := NewPaperPlacer(&fakeBooks{snap: paperBook()}, slog.Default())
	if _, err := p.GetOrder(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPaperInvalidOrder(t *testing.T) {
	p := NewPaperPlacer(&fakeBooks{snap: paperBook()}, slog.Default())
	if _, err := p.PlaceOrder(context.Background(), domain.Order{TokenID: "tok-1"}); !errors.Is(err, domain.ErrInvalidOrder) {
		t.Errorf("err = %v, want ErrInvalidOrder", err)
	}
}
