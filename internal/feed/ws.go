package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantfold/whalecopy/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// PriceChange is an incremental price-level update from the market stream.
type PriceChange struct {
	AssetID   string
	Side      string // "BUY" or "SELL"
	Price     float64
	Size      float64 // 0 means the level was removed
	Timestamp time.Time
}

// LastTrade is the most recent trade print for an asset.
type LastTrade struct {
	AssetID   string
	Price     float64
	Size      float64
	Timestamp time.Time
}

// BookHandler is called when a full book snapshot is received.
type BookHandler func(domain.BookSnapshot)

// PriceChangeHandler is called for each incremental level update.
type PriceChangeHandler func(PriceChange)

// LastTradeHandler is called for each last-trade-price message.
type LastTradeHandler func(LastTrade)

// wsCommand is the JSON payload sent to subscribe or unsubscribe.
type wsCommand struct {
	Type    string   `json:"type"` // "subscribe" or "unsubscribe"
	Channel string   `json:"channel,omitempty"`
	Assets  []string `json:"assets_ids,omitempty"`
}

// wsPriceLevel is a single bid/ask level on the wire.
type wsPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// wsBook is a full book snapshot frame.
type wsBook struct {
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Bids      []wsPriceLevel `json:"bids"`
	Asks      []wsPriceLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// wsPriceChange is an incremental level update frame.
type wsPriceChange struct {
	AssetID   string `json:"asset_id"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Timestamp string `json:"timestamp"`
}

// wsLastTrade is a last-trade-price frame.
type wsLastTrade struct {
	AssetID   string `json:"asset_id"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Timestamp string `json:"timestamp"`
}

// WSClient is a WebSocket client for the CLOB real-time market data feed. It
// manages the connection lifecycle, subscriptions, and dispatches frames to
// registered handlers.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// Subscriptions to restore on reconnect.
	subscriptions []wsCommand

	handlerMu         sync.RWMutex
	bookHandlers      []BookHandler
	priceHandlers     []PriceChangeHandler
	lastTradeHandlers []LastTradeHandler

	// done is closed when the client is shut down.
	done chan struct{}

	// disconnected is signalled once when the read loop dies.
	disconnected chan struct{}
	discOnce     sync.Once
}

// NewWSClient creates a client for the given market-data endpoint, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL:        wsURL,
		done:         make(chan struct{}),
		disconnected: make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops. Previously tracked subscriptions are restored.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("feed: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}

	w.conn = conn

	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop(conn)
	go w.pingLoop(conn)

	for _, cmd := range w.subscriptions {
		if err := w.sendCommand(cmd); err != nil {
			return fmt.Errorf("feed: restore subscription: %w", err)
		}
	}

	return nil
}

// Subscribe subscribes to the given channels for the specified asset IDs.
// Valid channels are "book", "price_change", and "last_trade_price".
func (w *WSClient) Subscribe(channels []string, assetIDs []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("feed: not connected")
	}

	for _, ch := range channels {
		cmd := wsCommand{
			Type:    "subscribe",
			Channel: ch,
			Assets:  assetIDs,
		}
		if err := w.sendCommand(cmd); err != nil {
			return fmt.Errorf("feed: subscribe to %s: %w", ch, err)
		}
		w.subscriptions = append(w.subscriptions, cmd)
	}

	return nil
}

// Close shuts down the connection and stops the read loop.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}

	return nil
}

// Disconnected returns a channel that is closed when the read loop exits,
// letting the owner drive reconnection.
func (w *WSClient) Disconnected() <-chan struct{} {
	return w.disconnected
}

// OnBook registers a handler for full book snapshots.
func (w *WSClient) OnBook(h BookHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.bookHandlers = append(w.bookHandlers, h)
}

// OnPriceChange registers a handler for incremental level updates.
func (w *WSClient) OnPriceChange(h PriceChangeHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.priceHandlers = append(w.priceHandlers, h)
}

// OnLastTrade registers a handler for last-trade prints.
func (w *WSClient) OnLastTrade(h LastTradeHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.lastTradeHandlers = append(w.lastTradeHandlers, h)
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// sendCommand sends a JSON command on the socket. Caller must hold w.mu.
func (w *WSClient) sendCommand(cmd wsCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads frames until the connection dies or the client closes, then
// signals Disconnected.
func (w *WSClient) readLoop(conn *websocket.Conn) {
	defer func() {
		conn.Close()
		w.discOnce.Do(func() { close(w.disconnected) })
	}()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic pings to keep the connection alive.
func (w *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-w.disconnected:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw frame and routes it by message type. Frames may
// arrive as single objects or arrays of objects.
func (w *WSClient) handleMessage(raw []byte) {
	if len(raw) > 0 && raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return
		}
		for _, item := range items {
			w.handleMessage(item)
		}
		return
	}

	var envelope struct {
		MsgType string `json:"msg_type"`
		Event   string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return // silently drop unparseable frames
	}

	msgType := envelope.MsgType
	if msgType == "" {
		msgType = envelope.Event
	}

	switch msgType {
	case "book":
		var book wsBook
		if err := json.Unmarshal(raw, &book); err != nil {
			return
		}
		snap := bookToSnapshot(&book)

		w.handlerMu.RLock()
		handlers := w.bookHandlers
		w.handlerMu.RUnlock()
		for _, h := range handlers {
			h(snap)
		}

	case "price_change":
		var pc wsPriceChange
		if err := json.Unmarshal(raw, &pc); err != nil {
			return
		}
		change := PriceChange{
			AssetID:   pc.AssetID,
			Side:      pc.Side,
			Timestamp: parseWSTimestamp(pc.Timestamp),
		}
		change.Price, _ = strconv.ParseFloat(pc.Price, 64)
		change.Size, _ = strconv.ParseFloat(pc.Size, 64)

		w.handlerMu.RLock()
		handlers := w.priceHandlers
		w.handlerMu.RUnlock()
		for _, h := range handlers {
			h(change)
		}

	case "last_trade_price":
		var lt wsLastTrade
		if err := json.Unmarshal(raw, &lt); err != nil {
			return
		}
		trade := LastTrade{
			AssetID:   lt.AssetID,
			Timestamp: parseWSTimestamp(lt.Timestamp),
		}
		trade.Price, _ = strconv.ParseFloat(lt.Price, 64)
		trade.Size, _ = strconv.ParseFloat(lt.Size, 64)

		w.handlerMu.RLock()
		handlers := w.lastTradeHandlers
		w.handlerMu.RUnlock()
		for _, h := range handlers {
			h(trade)
		}
	}
}

// bookToSnapshot converts a wire book frame to a domain.BookSnapshot.
func bookToSnapshot(b *wsBook) domain.BookSnapshot {
	snap := domain.BookSnapshot{AssetID: b.AssetID}

	for _, lvl := range b.Bids {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		snap.Bids = append(snap.Bids, domain.PriceLevel{Price: p, Size: s})
		if p > snap.BestBid {
			snap.BestBid = p
		}
	}
	for _, lvl := range b.Asks {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		snap.Asks = append(snap.Asks, domain.PriceLevel{Price: p, Size: s})
		if snap.BestAsk == 0 || p < snap.BestAsk {
			snap.BestAsk = p
		}
	}

	if snap.BestBid > 0 && snap.BestAsk > 0 {
		snap.Spread = snap.BestAsk - snap.BestBid
	}

	snap.Timestamp = parseWSTimestamp(b.Timestamp)
	return snap
}

// parseWSTimestamp handles both Unix-milli strings and RFC3339.
func parseWSTimestamp(ts string) time.Time {
	if ms, err := strconv.ParseInt(ts, 10, 64); err == nil {
		return time.UnixMilli(ms)
	}
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		return t
	}
	return time.Now()
}
