// Package feed maintains live market state. It subscribes to the CLOB
// market-data WebSocket for the tracked tokens and keeps the book and price
// caches current so the decision pipeline never blocks on REST lookups.
package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/quantfold/whalecopy/internal/domain"
)

const (
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// MarketFeed subscribes to book, price_change, and last_trade_price for the
// configured asset IDs and writes every update into the caches. It reconnects
// with exponential backoff on disconnect.
type MarketFeed struct {
	wsURL    string
	assetIDs []string
	books    domain.BookCache
	prices   domain.PriceCache
	logger   *slog.Logger
}

// NewMarketFeed creates a feed for the given asset IDs.
func NewMarketFeed(wsURL string, assetIDs []string, books domain.BookCache, prices domain.PriceCache, logger *slog.Logger) *MarketFeed {
	return &MarketFeed{
		wsURL:    wsURL,
		assetIDs: assetIDs,
		books:    books,
		prices:   prices,
		logger:   logger.With(slog.String("component", "market_feed")),
	}
}

// Run connects and processes updates until ctx is cancelled. Returns nil on
// cancellation.
func (f *MarketFeed) Run(ctx context.Context) error {
	if len(f.assetIDs) == 0 {
		f.logger.Info("no asset IDs to subscribe, market feed idle")
		<-ctx.Done()
		return nil
	}

	delay := reconnectDelay
	for {
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			f.logger.Warn("market feed disconnected, reconnecting",
				slog.String("error", err.Error()),
				slog.Duration("delay", delay),
			)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// runConnection drives one WebSocket session until it drops or ctx ends.
func (f *MarketFeed) runConnection(ctx context.Context) error {
	client := NewWSClient(f.wsURL)
	defer client.Close()

	client.OnBook(func(snap domain.BookSnapshot) {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := f.books.SetSnapshot(cctx, snap.AssetID, snap); err != nil {
			f.logger.Debug("store book snapshot failed",
				slog.String("asset_id", snap.AssetID),
				slog.String("error", err.Error()),
			)
		}
	})

	client.OnPriceChange(func(change PriceChange) {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := f.books.UpdateLevel(cctx, change.AssetID, change.Side, change.Price, change.Size); err != nil {
			f.logger.Debug("update book level failed",
				slog.String("asset_id", change.AssetID),
				slog.String("error", err.Error()),
			)
		}
	})

	client.OnLastTrade(func(trade LastTrade) {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := f.prices.SetPrice(cctx, trade.AssetID, trade.Price, trade.Timestamp); err != nil {
			f.logger.Debug("store last trade price failed",
				slog.String("asset_id", trade.AssetID),
				slog.String("error", err.Error()),
			)
		}
	})

	connCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err := client.Connect(connCtx)
	cancel()
	if err != nil {
		return err
	}

	channels := []string{"book", "price_change", "last_trade_price"}
	if err := client.Subscribe(channels, f.assetIDs); err != nil {
		return err
	}
	f.logger.Info("market feed subscribed",
		slog.Int("assets", len(f.assetIDs)),
		slog.Int("channels", len(channels)),
	)

	select {
	case <-ctx.Done():
		return nil
	case <-client.Disconnected():
		return domain.ErrWSDisconnect
	}
}
