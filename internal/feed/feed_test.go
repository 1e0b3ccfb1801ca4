package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantfold/whalecopy/internal/domain"
)

type memBookCache struct {
	mu    sync.Mutex
	snaps map[string]domain.BookSnapshot
	lvls  int
}

func newMemBookCache() *memBookCache {
	return &memBookCache{snaps: make(map[string]domain.BookSnapshot)}
}

func (m *memBookCache) SetSnapshot(_ context.Context, assetID string, snap domain.BookSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[assetID] = snap
	return nil
}

func (m *memBookCache) GetSnapshot(_ context.Context, assetID string) (domain.BookSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snaps[assetID]
	if !ok {
		return domain.BookSnapshot{}, domain.ErrNotFound
	}
	return s, nil
}

func (m *memBookCache) UpdateLevel(_ context.Context, _, _ string, _, _ float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lvls++
	return nil
}

func (m *memBookCache) GetBBO(_ context.Context, assetID string) (float64, float64, error) {
	s, err := m.GetSnapshot(context.Background(), assetID)
	return s.BestBid, s.BestAsk, err
}

type memPriceCache struct {
	mu     sync.Mutex
	prices map[string]float64
}

func newMemPriceCache() *memPriceCache {
	return &memPriceCache{prices: make(map[string]float64)}
}

func (m *memPriceCache) SetPrice(_ context.Context, assetID string, price float64, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[assetID] = price
	return nil
}

func (m *memPriceCache) GetPrice(_ context.Context, assetID string) (float64, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prices[assetID]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p, time.Now(), nil
}

func (m *memPriceCache) GetPrices(_ context.Context, assetIDs []string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, id := range assetIDs {
		if p, _, err := m.GetPrice(context.Background(), id); err == nil {
			out[id] = p
		}
	}
	return out, nil
}

// wsTestServer upgrades incoming connections and pushes the given frames
// after receiving the first subscribe command.
func wsTestServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Wait for one subscribe command before pushing data.
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestMarketFeedFillsCaches(t *testing.T) {
	book := map[string]any{
		"msg_type": "book",
		"asset_id": "tok-1",
		"bids":     []map[string]string{{"price": "0.48", "size": "100"}, {"price": "0.49", "size": "50"}},
		"asks":     []map[string]string{{"price": "0.51", "size": "80"}},
	}
	trade := map[string]any{
		"msg_type": "last_trade_price",
		"asset_id": "tok-1",
		"price":    "0.50",
		"size":     "25",
	}
	change := map[string]any{
		"msg_type": "price_change",
		"asset_id": "tok-1",
		"side":     "BUY",
		"price":    "0.47",
		"size":     "10",
	}
	var frames []string
	for _, m := range []map[string]any{book, trade, change} {
		b, _ := json.Marshal(m)
		frames = append(frames, string(b))
	}

	srv := wsTestServer(t, frames)
	books := newMemBookCache()
	prices := newMemPriceCache()
	logger := slog.Default()

	feed := NewMarketFeed(wsURL(srv), []string{"tok-1"}, books, prices, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		feed.Run(ctx)
	}()

	waitFor(t, 3*time.Second, func() bool {
		books.mu.Lock()
		defer books.mu.Unlock()
		_, haveSnap := books.snaps["tok-1"]
		return haveSnap && books.lvls > 0
	})
	waitFor(t, 3*time.Second, func() bool {
		p, _, err := prices.GetPrice(context.Background(), "tok-1")
		return err == nil && p == 0.50
	})

	snap, err := books.GetSnapshot(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if snap.BestBid != 0.49 || snap.BestAsk != 0.51 {
		t.Errorf("best bid/ask = %g/%g, want 0.49/0.51", snap.BestBid, snap.BestAsk)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestMarketFeedIdleWithoutAssets(t *testing.T) {
	logger := slog.Default()
	feed := NewMarketFeed("ws://unused", nil, newMemBookCache(), newMemPriceCache(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := feed.Run(ctx); err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestBookToSnapshotArrayFrame(t *testing.T) {
	// The feed may deliver an array of frames in one message.
	raw := `[{"msg_type":"book","asset_id":"a1","bids":[{"price":"0.30","size":"10"}],"asks":[{"price":"0.35","size":"5"}]}]`

	client := NewWSClient("ws://unused")
	var got domain.BookSnapshot
	client.OnBook(func(s domain.BookSnapshot) { got = s })

	client.handleMessage([]byte(raw))

	if got.AssetID != "a1" {
		t.Fatalf("snapshot not dispatched: %+v", got)
	}
	if got.BestBid != 0.30 || got.BestAsk != 0.35 {
		t.Errorf("best bid/ask = %g/%g", got.BestBid, got.BestAsk)
	}
	if got.Spread < 0.049 || got.Spread > 0.051 {
		t.Errorf("spread = %g, want 0.05", got.Spread)
	}
}
