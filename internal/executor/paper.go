package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantfold/whalecopy/internal/domain"
)

// BookSource supplies book snapshots for simulated fills.
type BookSource interface {
	GetBook(ctx context.Context, assetID string) (domain.BookSnapshot, error)
}

// PaperPlacer simulates the exchange order-management API against live book
// snapshots, for dry runs with real market data and no capital at risk. It
// fills limit orders by walking the book exactly the way the depth analyzer
// predicts fills.
type PaperPlacer struct {
	mu     sync.Mutex
	orders map[string]domain.Order
	books  BookSource
	now    func() time.Time
	logger *slog.Logger
}

// NewPaperPlacer creates a PaperPlacer.
func NewPaperPlacer(books BookSource, logger *slog.Logger) *PaperPlacer {
	return &PaperPlacer{
		orders: make(map[string]domain.Order),
		books:  books,
		now:    time.Now,
		logger: logger.With(slog.String("component", "paper_placer")),
	}
}

var _ OrderPlacer = (*PaperPlacer)(nil)

// PlaceOrder fills the order immediately against the current snapshot, up to
// the limit price. Liquidity beyond the limit stays on the book; the order
// rests open with whatever partial fill it got.
func (p *PaperPlacer) PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	if order.Price <= 0 || order.Size <= 0 {
		return domain.OrderResult{}, fmt.Errorf("paper: %w", domain.ErrInvalidOrder)
	}
	snap, err := p.books.GetBook(ctx, order.TokenID)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("paper: fetch book %s: %w", order.TokenID, err)
	}

	filled, avg := simulateFill(snap, order)

	order.ID = uuid.NewString()
	order.FilledSize = filled
	order.Status = domain.OrderStatusOpen
	if order.FillFraction() >= 1.0 {
		order.Status = domain.OrderStatusMatched
		ts := p.now()
		order.FilledAt = &ts
	}

	p.mu.Lock()
	p.orders[order.ID] = order
	p.mu.Unlock()

	p.logger.DebugContext(ctx, "paper order placed",
		slog.String("order", order.ID),
		slog.Float64("price", order.Price),
		slog.Float64("size", order.Size),
		slog.Float64("filled", filled),
	)
	return domain.OrderResult{
		Success:     true,
		OrderID:     order.ID,
		Status:      order.Status,
		FilledPrice: avg,
	}, nil
}

// GetOrder returns the simulated order state.
func (p *PaperPlacer) GetOrder(_ context.Context, orderID string) (domain.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return domain.Order{}, fmt.Errorf("paper: order %s: %w", orderID, domain.ErrNotFound)
	}
	return o, nil
}

// CancelOrder cancels a resting simulated order. Matched orders stay matched.
func (p *PaperPlacer) CancelOrder(_ context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("paper: order %s: %w", orderID, domain.ErrNotFound)
	}
	if o.Status == domain.OrderStatusOpen || o.Status == domain.OrderStatusPending {
		o.Status = domain.OrderStatusCancelled
		ts := p.now()
		o.CancelledAt = &ts
		p.orders[orderID] = o
	}
	return nil
}

// simulateFill walks the opposing side of the book, taking every level the
// limit price crosses, and returns filled shares and the average fill price.
func simulateFill(snap domain.BookSnapshot, order domain.Order) (shares, avg float64) {
	levels := snap.Asks
	crosses := func(level float64) bool { return level <= order.Price }
	if order.Side == domain.OrderSideSell {
		levels = snap.Bids
		crosses = func(level float64) bool { return level >= order.Price }
	}

	remaining := order.Size
	var spent float64
	for _, l := range levels {
		if remaining <= 0 || !crosses(l.Price) {
			break
		}
		take := l.Size
		if take > remaining {
			take = remaining
		}
		shares += take
		spent += take * l.Price
		remaining -= take
	}
	if shares > 0 {
		avg = spent / shares
	}
	return shares, avg
}
