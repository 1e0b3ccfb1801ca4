package exchange

import (
	"math/big"
	"strconv"
	"time"

	"github.com/quantfold/whalecopy/internal/domain"
)

// apiOrder represents an order as returned by the CLOB API.
type apiOrder struct {
	ID            string  `json:"id"`
	Status        string  `json:"status"`
	MarketID      string  `json:"market"`
	AssetID       string  `json:"asset_id"`
	Side          string  `json:"side"` // "BUY" or "SELL"
	OriginalSize  string  `json:"original_size"`
	SizeMatched   string  `json:"size_matched"`
	Price         string  `json:"price"`
	MakerAmount   string  `json:"maker_amount"`
	TakerAmount   string  `json:"taker_amount"`
	Owner         string  `json:"owner"`
	Signature     string  `json:"signature"`
	SignatureType int     `json:"signature_type"`
	CreatedAt     string  `json:"created_at"`
	FilledAt      *string `json:"filled_at,omitempty"`
	CancelledAt   *string `json:"cancelled_at,omitempty"`
}

// apiOrderResult is the response from placing an order via the CLOB API.
type apiOrderResult struct {
	Success     bool   `json:"success"`
	ErrorMsg    string `json:"errorMsg,omitempty"`
	OrderID     string `json:"orderID,omitempty"`
	Status      string `json:"status,omitempty"`
	TransactID  string `json:"transactID,omitempty"`
	ShouldRetry bool   `json:"shouldRetry,omitempty"`
}

// apiPriceLevel is a single bid/ask level in the REST book response.
type apiPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// apiBook is the GET /book response shape.
type apiBook struct {
	Market    string          `json:"market"`
	AssetID   string          `json:"asset_id"`
	Bids      []apiPriceLevel `json:"bids"`
	Asks      []apiPriceLevel `json:"asks"`
	Timestamp string          `json:"timestamp"`
	Hash      string          `json:"hash"`
}

// toDomainOrder converts an apiOrder to a domain.Order.
func (a *apiOrder) toDomainOrder() domain.Order {
	o := domain.Order{
		ID:        a.ID,
		MarketID:  a.MarketID,
		TokenID:   a.AssetID,
		Wallet:    a.Owner,
		Signature: a.Signature,
		Type:      domain.OrderTypeLimit,
	}

	switch a.Side {
	case "BUY":
		o.Side = domain.OrderSideBuy
	case "SELL":
		o.Side = domain.OrderSideSell
	}

	switch a.Status {
	case "live", "open":
		o.Status = domain.OrderStatusOpen
	case "matched", "filled":
		o.Status = domain.OrderStatusMatched
	case "cancelled":
		o.Status = domain.OrderStatusCancelled
	default:
		o.Status = domain.OrderStatusPending
	}

	if price, err := strconv.ParseFloat(a.Price, 64); err == nil {
		o.Price = price
	}
	if orig, err := strconv.ParseFloat(a.OriginalSize, 64); err == nil {
		o.Size = orig
	}
	if matched, err := strconv.ParseFloat(a.SizeMatched, 64); err == nil {
		o.FilledSize = matched
	}

	if ma, ok := new(big.Int).SetString(a.MakerAmount, 10); ok {
		o.MakerAmount = ma
	}
	if ta, ok := new(big.Int).SetString(a.TakerAmount, 10); ok {
		o.TakerAmount = ta
	}

	if t, err := time.Parse(time.RFC3339, a.CreatedAt); err == nil {
		o.CreatedAt = t
	}
	if a.FilledAt != nil {
		if t, err := time.Parse(time.RFC3339, *a.FilledAt); err == nil {
			o.FilledAt = &t
		}
	}
	if a.CancelledAt != nil {
		if t, err := time.Parse(time.RFC3339, *a.CancelledAt); err == nil {
			o.CancelledAt = &t
		}
	}

	return o
}

// toDomainOrderResult converts an apiOrderResult to a domain.OrderResult.
func (r *apiOrderResult) toDomainOrderResult() domain.OrderResult {
	result := domain.OrderResult{
		Success: r.Success,
		OrderID: r.OrderID,
		Message: r.ErrorMsg,
	}

	switch r.Status {
	case "live", "open":
		result.Status = domain.OrderStatusOpen
	case "matched":
		result.Status = domain.OrderStatusMatched
	case "delayed":
		result.Status = domain.OrderStatusPending
	default:
		if r.Success {
			result.Status = domain.OrderStatusPending
		} else {
			result.Status = domain.OrderStatusFailed
		}
	}

	return result
}

// toDomainBook converts an apiBook to a domain.BookSnapshot, deriving the
// best bid/ask and spread from the levels.
func (b *apiBook) toDomainBook() domain.BookSnapshot {
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

	// CLOB timestamps arrive as Unix millis in a string; fall back to RFC3339.
	if ms, err := strconv.ParseInt(b.Timestamp, 10, 64); err == nil {
		snap.Timestamp = time.UnixMilli(ms)
	} else if t, err := time.Parse(time.RFC3339, b.Timestamp); err == nil {
		snap.Timestamp = t
	} else {
		snap.Timestamp = time.Now()
	}

	return snap
}
