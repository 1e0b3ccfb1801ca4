// Package exchange is the REST client for the prediction-market CLOB
// (Central Limit Order Book) API: order placement, cancellation, status
// queries, and book snapshots.
package exchange

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/quantfold/whalecopy/internal/crypto"
	"github.com/quantfold/whalecopy/internal/domain"
)

// usdcScale converts decimal USDC/share amounts to the 6-decimal integer
// representation used in signed order payloads.
const usdcScale = 1e6

const zeroAddress = "0x0000000000000000000000000000000000000000"

// Client talks to the CLOB REST API. It signs orders with the wallet key and
// authenticates requests with the derived HMAC credentials.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth
	sigType    int
}

// NewClient creates a CLOB REST client.
//
// baseURL is the API root, e.g. "https://clob.polymarket.com". signer holds
// the wallet key used for EIP-712 order signatures; sigType selects the
// signature scheme (1 = EOA, 2 = Safe). Call DeriveAPIKey before placing
// orders so authenticated endpoints carry HMAC headers.
func NewClient(baseURL string, signer *crypto.Signer, sigType int) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer:  signer,
		sigType: sigType,
	}
}

// PlaceOrder signs and submits a limit order built from the order's price and
// size, returning the exchange's acceptance result.
func (c *Client) PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	if order.Price <= 0 || order.Size <= 0 {
		return domain.OrderResult{}, fmt.Errorf("exchange: %w: price=%.4f size=%.2f", domain.ErrInvalidOrder, order.Price, order.Size)
	}

	signed, err := c.signOrder(order)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("exchange: sign order: %w", err)
	}

	orderType := "GTC"
	if order.Type == domain.OrderTypeMarket {
		orderType = "FAK"
	}

	body := map[string]any{
		"order":     signed,
		"owner":     c.signer.Address().Hex(),
		"orderType": orderType,
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("exchange: post order: %w", err)
	}

	var apiResult apiOrderResult
	if err := json.Unmarshal(respBody, &apiResult); err != nil {
		return domain.OrderResult{}, fmt.Errorf("exchange: decode order result: %w", err)
	}

	result := apiResult.toDomainOrderResult()
	if !result.Success {
		return result, fmt.Errorf("exchange: %w: %s", domain.ErrOrderPlacementFailed, result.Message)
	}

	return result, nil
}

// GetOrder retrieves a single order by ID.
func (c *Client) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, "/order/"+orderID, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("exchange: get order %s: %w", orderID, err)
	}

	var ao apiOrder
	if err := json.Unmarshal(respBody, &ao); err != nil {
		return domain.Order{}, fmt.Errorf("exchange: decode order: %w", err)
	}

	return ao.toDomainOrder(), nil
}

// CancelOrder cancels a single order by its ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	body := map[string]any{"orderID": orderID}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodDelete, "/order", body)
	if err != nil {
		return fmt.Errorf("exchange: cancel order %s: %w", orderID, err)
	}

	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("exchange: decode cancel response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("exchange: cancel failed: %s", result.ErrorMsg)
	}

	return nil
}

// CancelAll cancels every open order for the authenticated wallet. Used on
// emergency stop.
func (c *Client) CancelAll(ctx context.Context) error {
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodDelete, "/cancel-all", nil)
	if err != nil {
		return fmt.Errorf("exchange: cancel all: %w", err)
	}

	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("exchange: decode cancel-all response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("exchange: cancel-all failed: %s", result.ErrorMsg)
	}

	return nil
}

// GetBook fetches the current order book for one token.
func (c *Client) GetBook(ctx context.Context, assetID string) (domain.BookSnapshot, error) {
	path := "/book?token_id=" + url.QueryEscape(assetID)

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("exchange: get book %s: %w", assetID, err)
	}

	var book apiBook
	if err := json.Unmarshal(respBody, &book); err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("exchange: decode book: %w", err)
	}

	return book.toDomainBook(), nil
}

// DeriveAPIKey performs the CLOB auth flow to obtain HMAC API credentials.
// It signs a ClobAuth EIP-712 message and sends it with L1 headers
// (POLY_ADDRESS, POLY_SIGNATURE, POLY_TIMESTAMP, POLY_NONCE). On success it
// populates the client's hmacAuth so subsequent requests are authenticated.
func (c *Client) DeriveAPIKey(ctx context.Context) error {
	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(address, timestamp, nonce)
	if err != nil {
		return fmt.Errorf("exchange: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("exchange: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", fmt.Sprintf("%d", timestamp))
	req.Header.Set("POLY_NONCE", fmt.Sprintf("%d", nonce))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("exchange: auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("exchange: read auth response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("exchange: auth failed (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("exchange: decode auth response: %w", err)
	}

	c.hmacAuth = &crypto.HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}

	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// signOrder converts price/size into the integer maker/taker amounts the
// CLOB expects, signs the payload, and returns the wire-ready order map.
//
// For a buy the maker gives USDC and takes shares; for a sell the reverse.
// Both amounts use 6-decimal fixed point.
func (c *Client) signOrder(order domain.Order) (map[string]any, error) {
	shares := big.NewInt(int64(math.Round(order.Size * usdcScale)))
	usdc := big.NewInt(int64(math.Round(order.Price * order.Size * usdcScale)))

	var makerAmount, takerAmount *big.Int
	var side int
	switch order.Side {
	case domain.OrderSideBuy:
		makerAmount, takerAmount = usdc, shares
		side = 0
	case domain.OrderSideSell:
		makerAmount, takerAmount = shares, usdc
		side = 1
	default:
		return nil, fmt.Errorf("%w: side %q", domain.ErrInvalidOrder, order.Side)
	}

	salt, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 63))
	if err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	address := c.signer.Address().Hex()
	payload := crypto.OrderPayload{
		Salt:          salt.String(),
		Maker:         address,
		Signer:        address,
		Taker:         zeroAddress,
		TokenID:       order.TokenID,
		MakerAmount:   makerAmount.String(),
		TakerAmount:   takerAmount.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          side,
		SignatureType: c.sigType,
	}

	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return nil, err
	}

	sideStr := "BUY"
	if side == 1 {
		sideStr = "SELL"
	}

	return map[string]any{
		"salt":          payload.Salt,
		"maker":         payload.Maker,
		"signer":        payload.Signer,
		"taker":         payload.Taker,
		"tokenID":       payload.TokenID,
		"makerAmount":   payload.MakerAmount,
		"takerAmount":   payload.TakerAmount,
		"expiration":    payload.Expiration,
		"nonce":         payload.Nonce,
		"feeRateBps":    payload.FeeRateBps,
		"side":          sideStr,
		"signatureType": payload.SignatureType,
		"signature":     sig,
	}, nil
}

// doAuthenticatedRequest builds, signs (HMAC), sends, and reads an HTTP
// request against the CLOB API. It returns the raw response body.
func (c *Client) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// Apply HMAC authentication headers.
	if c.hmacAuth != nil {
		address := c.signer.Address().Hex()
		headers := c.hmacAuth.L2Headers(address, method, path, bodyStr)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
