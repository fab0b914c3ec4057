// Package kalshi adapts the Kalshi exchange API to the domain venue
// interfaces: REST trading and market listing plus a WebSocket book feed.
package kalshi

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/quantfold/arbot/internal/domain"
)

// ClientConfig holds Kalshi REST client parameters.
type ClientConfig struct {
	BaseURL         string
	APIKeyID        string
	RateLimitPerSec int
}

// Client is the REST client for the Kalshi exchange API. It implements
// domain.VenueTrading and domain.MarketLister.
type Client struct {
	baseURL    string
	apiKeyID   string
	privateKey *rsa.PrivateKey
	limiter    domain.RateLimiter // optional
	rateLimit  int
	httpClient *http.Client
}

// NewClient creates a new Kalshi REST client. limiter may be nil, in which
// case requests are not throttled.
func NewClient(cfg ClientConfig, limiter domain.RateLimiter) *Client {
	return &Client{
		baseURL:   cfg.BaseURL,
		apiKeyID:  cfg.APIKeyID,
		limiter:   limiter,
		rateLimit: cfg.RateLimitPerSec,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetRSAPrivateKey loads an RSA private key from PEM-encoded bytes and
// configures the client for RSA-signed authentication.
func (c *Client) SetRSAPrivateKey(pemBytes []byte) error {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return fmt.Errorf("kalshi: no PEM block found in private key")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		// Try PKCS1 as fallback.
		pkcs1Key, pkcs1Err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if pkcs1Err != nil {
			return fmt.Errorf("kalshi: parse private key: %w (pkcs1: %v)", err, pkcs1Err)
		}
		c.privateKey = pkcs1Key
		return nil
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("kalshi: expected RSA private key, got %T", key)
	}
	c.privateKey = rsaKey
	return nil
}

// ListMarkets returns every open Kalshi market, following pagination
// cursors, mapped to venue-neutral listings for the matcher.
func (c *Client) ListMarkets(ctx context.Context) ([]domain.VenueMarket, error) {
	var out []domain.VenueMarket
	cursor := ""
	for {
		params := url.Values{}
		params.Set("limit", "200")
		params.Set("status", "open")
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		body, err := c.doSignedRequest(ctx, http.MethodGet, "/markets?"+params.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("kalshi: list markets: %w", err)
		}

		var resp struct {
			Markets []Market `json:"markets"`
			Cursor  string   `json:"cursor"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("kalshi: decode markets: %w", err)
		}

		for _, m := range resp.Markets {
			out = append(out, domain.VenueMarket{
				Venue:     domain.VenueKalshi,
				NativeID:  m.Ticker,
				Title:     m.Title,
				ExpiresAt: parseTime(m.ExpirationTime),
			})
		}

		if resp.Cursor == "" || len(resp.Markets) == 0 {
			return out, nil
		}
		cursor = resp.Cursor
	}
}

// GetMarket fetches one market by ticker, including its settlement status
// and result.
func (c *Client) GetMarket(ctx context.Context, ticker string) (Market, error) {
	body, err := c.doSignedRequest(ctx, http.MethodGet, "/markets/"+ticker, nil)
	if err != nil {
		return Market{}, fmt.Errorf("kalshi: get market %s: %w", ticker, err)
	}

	var resp struct {
		Market Market `json:"market"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return Market{}, fmt.Errorf("kalshi: decode market %s: %w", ticker, err)
	}
	return resp.Market, nil
}

// PlaceOrder submits a limit buy for one side of a market.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderHandle, error) {
	order := OrderRequest{
		Ticker: req.NativeID,
		Action: "buy",
		Side:   string(req.Side),
		Type:   "limit",
		Count:  req.Size,
	}
	price := req.PriceCents
	if req.Side == domain.SideYes {
		order.YesPrice = &price
	} else {
		order.NoPrice = &price
	}

	body, err := c.doSignedRequest(ctx, http.MethodPost, "/portfolio/orders", order)
	if err != nil {
		return domain.OrderHandle{}, fmt.Errorf("kalshi: place order: %w", err)
	}

	var resp OrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderHandle{}, fmt.Errorf("kalshi: decode order response: %w", err)
	}
	if resp.Order.OrderID == "" {
		return domain.OrderHandle{}, fmt.Errorf("kalshi: order response missing order_id")
	}

	return domain.OrderHandle{Venue: domain.VenueKalshi, OrderID: resp.Order.OrderID}, nil
}

// GetStatus returns the exchange's authoritative view of an order. It is a
// plain read and safe to retry.
func (c *Client) GetStatus(ctx context.Context, h domain.OrderHandle) (domain.OrderStatus, error) {
	path := fmt.Sprintf("/portfolio/orders/%s", url.PathEscape(h.OrderID))

	body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.OrderStatus{}, fmt.Errorf("kalshi: get order %s: %w", h.OrderID, err)
	}

	var resp OrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderStatus{}, fmt.Errorf("kalshi: decode order %s: %w", h.OrderID, err)
	}

	return orderToStatus(resp.Order), nil
}

// Cancel requests cancellation of a resting order. The returned bool only
// reports whether the exchange accepted the request; callers confirm the
// final order state via GetStatus.
func (c *Client) Cancel(ctx context.Context, h domain.OrderHandle) (bool, error) {
	path := fmt.Sprintf("/portfolio/orders/%s", url.PathEscape(h.OrderID))

	if _, err := c.doSignedRequest(ctx, http.MethodDelete, path, nil); err != nil {
		return false, fmt.Errorf("kalshi: cancel order %s: %w", h.OrderID, err)
	}
	return true, nil
}

// orderToStatus maps a Kalshi order to the venue-neutral status.
func orderToStatus(o Order) domain.OrderStatus {
	filled := o.TakerFillCount + o.MakerFillCount

	var state domain.OrderState
	switch o.Status {
	case "executed":
		state = domain.OrderFilled
	case "canceled":
		if filled > 0 {
			state = domain.OrderPartiallyFilled
		} else {
			state = domain.OrderCancelled
		}
	case "resting", "pending":
		state = domain.OrderPending
	default:
		state = domain.OrderRejected
	}

	price := o.YesPrice
	if o.Side == "no" {
		price = o.NoPrice
	}

	return domain.OrderStatus{
		State:            state,
		FilledSize:       filled,
		FilledPriceCents: price,
	}
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// throttle blocks until the rate limiter admits one request.
func (c *Client) throttle(ctx context.Context) error {
	if c.limiter == nil || c.rateLimit <= 0 {
		return nil
	}
	return c.limiter.Wait(ctx, "kalshi", c.rateLimit, time.Second)
}

// doSignedRequest builds, signs (RSA), sends, and reads an HTTP request
// against the Kalshi API.
func (c *Client) doSignedRequest(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if err := c.signRequest(req, method, path); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
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

	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// signRequest adds RSA authentication headers to the HTTP request. Kalshi
// uses RSA-PSS-SHA256 signatures over the timestamp + method + path message
// string.
func (c *Client) signRequest(req *http.Request, method, path string) error {
	if c.privateKey == nil {
		return fmt.Errorf("kalshi: RSA private key not configured")
	}

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)

	// Signed message excludes the query string.
	signedPath := path
	if i := strings.IndexByte(signedPath, '?'); i >= 0 {
		signedPath = signedPath[:i]
	}
	message := ts + method + signedPath

	hash := sha256.Sum256([]byte(message))
	signature, err := rsa.SignPSS(rand.Reader, c.privateKey, crypto.SHA256, hash[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return fmt.Errorf("RSA sign: %w", err)
	}

	req.Header.Set("KALSHI-ACCESS-KEY", c.apiKeyID)
	req.Header.Set("KALSHI-ACCESS-SIGNATURE", base64.StdEncoding.EncodeToString(signature))
	req.Header.Set("KALSHI-ACCESS-TIMESTAMP", ts)

	return nil
}

// checkStatus maps non-2xx HTTP status codes to appropriate errors.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr ErrorResponse
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("kalshi: not found: %s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("kalshi: unauthorized: %s (%s)", apiErr.Message, apiErr.Code)
	case http.StatusTooManyRequests:
		return fmt.Errorf("kalshi: %s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrRateLimited)
	case http.StatusBadRequest:
		return fmt.Errorf("kalshi: bad request: %s (%s)", apiErr.Message, apiErr.Code)
	default:
		return fmt.Errorf("kalshi: HTTP %d: %s (%s)", statusCode, apiErr.Message, apiErr.Code)
	}
}

// Compile-time interface checks.
var (
	_ domain.VenueTrading = (*Client)(nil)
	_ domain.MarketLister = (*Client)(nil)
)
