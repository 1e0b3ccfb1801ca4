package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quantfold/whalecopy/internal/crypto"
	"github.com/quantfold/whalecopy/internal/domain"
)

const devKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	signer, err := crypto.NewSigner(devKey, 137)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return NewClient(srv.URL, signer, 2), srv
}

func TestPlaceOrderSignsAndPosts(t *testing.T) {
	var got map[string]any
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/order" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(apiOrderResult{Success: true, OrderID: "ord-1", Status: "live"})
	}))

	res, err := client.PlaceOrder(context.Background(), domain.Order{
		TokenID: "123456",
		Side:    domain.OrderSideBuy,
		Type:    domain.OrderTypeLimit,
		Price:   0.55,
		Size:    100,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if res.OrderID != "ord-1" || res.Status != domain.OrderStatusOpen {
		t.Errorf("result = %+v", res)
	}

	order, ok := got["order"].(map[string]any)
	if !ok {
		t.Fatalf("request missing order object: %v", got)
	}
	// buy of 100 shares at 0.55: maker gives 55 USDC, takes 100 shares
	if order["makerAmount"] != "55000000" {
		t.Errorf("makerAmount = %v, want 55000000", order["makerAmount"])
	}
	if order["takerAmount"] != "100000000" {
		t.Errorf("takerAmount = %v, want 100000000", order["takerAmount"])
	}
	if order["side"] != "BUY" {
		t.Errorf("side = %v", order["side"])
	}
	sig, _ := order["signature"].(string)
	if len(sig) != 2+65*2 {
		t.Errorf("signature %q is not 65 bytes of hex", sig)
	}
	if got["orderType"] != "GTC" {
		t.Errorf("orderType = %v, want GTC", got["orderType"])
	}
}

func TestPlaceOrderRejectionIsPlacementFailure(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(apiOrderResult{Success: false, ErrorMsg: "not enough balance"})
	}))

	_, err := client.PlaceOrder(context.Background(), domain.Order{
		TokenID: "1", Side: domain.OrderSideSell, Price: 0.40, Size: 10,
	})
	if !errors.Is(err, domain.ErrOrderPlacementFailed) {
		t.Errorf("err = %v, want ErrOrderPlacementFailed", err)
	}
}

func TestPlaceOrderValidatesInput(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request sent for invalid order")
	}))

	_, err := client.PlaceOrder(context.Background(), domain.Order{TokenID: "1", Side: domain.OrderSideBuy})
	if !errors.Is(err, domain.ErrInvalidOrder) {
		t.Errorf("err = %v, want ErrInvalidOrder", err)
	}
}

func TestGetOrderMapsStatuses(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/order/ord-9" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(apiOrder{
			ID: "ord-9", Status: "matched", Side: "SELL",
			OriginalSize: "50", SizeMatched: "50", Price: "0.62",
		})
	}))

	o, err := client.GetOrder(context.Background(), "ord-9")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if o.Status != domain.OrderStatusMatched || o.Side != domain.OrderSideSell {
		t.Errorf("order = %+v", o)
	}
	if o.FillFraction() != 1.0 {
		t.Errorf("FillFraction = %g, want 1", o.FillFraction())
	}
}

func TestGetBookDerivesTops(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token_id") != "tok-1" {
			t.Errorf("token_id = %q", r.URL.Query().Get("token_id"))
		}
		json.NewEncoder(w).Encode(apiBook{
			AssetID: "tok-1",
			Bids: []apiPriceLevel{
				{Price: "0.48", Size: "100"},
				{Price: "0.49", Size: "200"},
			},
			Asks: []apiPriceLevel{
				{Price: "0.52", Size: "150"},
				{Price: "0.51", Size: "50"},
			},
			Timestamp: "1700000000000",
		})
	}))

	snap, err := client.GetBook(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("GetBook: %v", err)
	}
	if snap.BestBid != 0.49 || snap.BestAsk != 0.51 {
		t.Errorf("best bid/ask = %g/%g, want 0.49/0.51", snap.BestBid, snap.BestAsk)
	}
	if snap.Spread < 0.0199 || snap.Spread > 0.0201 {
		t.Errorf("spread = %g, want 0.02", snap.Spread)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusUnauthorized, domain.ErrUnauthorized},
		{http.StatusTooManyRequests, domain.ErrRateLimited},
	}
	for _, tt := range tests {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		_, err := client.GetOrder(context.Background(), "x")
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: err = %v, want %v", tt.status, err, tt.want)
		}
	}
}

func TestDeriveAPIKeySendsL1Headers(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/derive-api-key" {
			t.Errorf("path = %s", r.URL.Path)
		}
		for _, h := range []string{"POLY_ADDRESS", "POLY_SIGNATURE", "POLY_TIMESTAMP", "POLY_NONCE"} {
			if r.Header.Get(h) == "" {
				t.Errorf("missing header %s", h)
			}
		}
		json.NewEncoder(w).Encode(map[string]string{
			"apiKey": "k", "secret": "czNjcjN0", "passphrase": "p",
		})
	}))

	if err := client.DeriveAPIKey(context.Background()); err != nil {
		t.Fatalf("DeriveAPIKey: %v", err)
	}
	if client.hmacAuth == nil || client.hmacAuth.Key != "k" {
		t.Errorf("hmacAuth = %+v", client.hmacAuth)
	}
}
