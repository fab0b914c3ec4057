// Package polymarket adapts the Polymarket CLOB and Gamma APIs to the
// domain venue interfaces: EIP-712 signed trading, market listing, and a
// WebSocket book feed.
package polymarket

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/quantfold/arbot/internal/domain"
)

const (
	zeroAddress = "0x0000000000000000000000000000000000000000"

	// Polymarket settles in USDC with 6 decimals; one cent of price on one
	// share is 10^4 base units.
	usdcPerContract = 1_000_000
	usdcPerCent     = 10_000
)

// ClientConfig holds Polymarket client parameters.
type ClientConfig struct {
	ClobHost        string
	GammaHost       string
	ChainID         int
	RateLimitPerSec int
}

// tokenPair holds the YES and NO CLOB token IDs of one binary market.
type tokenPair struct {
	yes string
	no  string
}

// Client talks to the Polymarket CLOB (orders) and Gamma (metadata) APIs.
// It implements domain.VenueTrading and domain.MarketLister.
type Client struct {
	clobHost   string
	gammaHost  string
	signer     *Signer
	hmacAuth   *HMACAuth
	limiter    domain.RateLimiter // optional
	rateLimit  int
	httpClient *http.Client

	mu     sync.RWMutex
	tokens map[string]tokenPair // condition ID -> token IDs
}

// NewClient creates a Polymarket client. limiter may be nil.
func NewClient(cfg ClientConfig, signer *Signer, limiter domain.RateLimiter) *Client {
	return &Client{
		clobHost:  cfg.ClobHost,
		gammaHost: cfg.GammaHost,
		signer:    signer,
		limiter:   limiter,
		rateLimit: cfg.RateLimitPerSec,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		tokens: make(map[string]tokenPair),
	}
}

// DeriveAPIKey performs the CLOB auth flow to obtain HMAC credentials. It
// signs a ClobAuth EIP-712 message and sends it with L1 headers to the
// derive-api-key endpoint, populating the client's hmacAuth on success.
func (c *Client) DeriveAPIKey(ctx context.Context) error {
	if c.signer == nil {
		return fmt.Errorf("polymarket: no signing key configured")
	}
	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()

	sig, err := c.signer.SignAuthMessage(address, timestamp, 0)
	if err != nil {
		return fmt.Errorf("polymarket: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.clobHost+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("POLY_NONCE", "0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket: auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("polymarket: read auth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("polymarket: auth failed (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("polymarket: decode auth response: %w", err)
	}

	c.hmacAuth = &HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}
	return nil
}

// ListMarkets returns active binary markets from the Gamma API, following
// offset pagination, and records each market's CLOB token IDs for order
// placement and feed subscription.
func (c *Client) ListMarkets(ctx context.Context) ([]domain.VenueMarket, error) {
	var out []domain.VenueMarket
	const pageSize = 200
	for offset := 0; ; offset += pageSize {
		params := url.Values{}
		params.Set("active", "true")
		params.Set("closed", "false")
		params.Set("limit", strconv.Itoa(pageSize))
		params.Set("offset", strconv.Itoa(offset))

		body, err := c.doRequest(ctx, http.MethodGet, c.gammaHost, "/markets?"+params.Encode(), nil, false)
		if err != nil {
			return nil, fmt.Errorf("polymarket: list markets: %w", err)
		}

		var markets []GammaMarket
		if err := json.Unmarshal(body, &markets); err != nil {
			return nil, fmt.Errorf("polymarket: decode markets: %w", err)
		}

		c.mu.Lock()
		for _, m := range markets {
			yes, no, err := m.TokenIDs()
			if err != nil {
				// Non-binary listings are not tradable here.
				continue
			}
			c.tokens[m.ConditionID] = tokenPair{yes: yes, no: no}
			out = append(out, domain.VenueMarket{
				Venue:     domain.VenuePolymarket,
				NativeID:  m.ConditionID,
				Title:     m.Question,
				ExpiresAt: parseEndDate(m.EndDate),
			})
		}
		c.mu.Unlock()

		if len(markets) < pageSize {
			return out, nil
		}
	}
}

// TokenIDs returns the YES and NO CLOB token IDs for a market previously
// seen by ListMarkets.
func (c *Client) TokenIDs(conditionID string) (yes, no string, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pair, ok := c.tokens[conditionID]
	return pair.yes, pair.no, ok
}

// PlaceOrder signs and submits a limit buy of one side's token.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderHandle, error) {
	if c.hmacAuth == nil {
		return domain.OrderHandle{}, fmt.Errorf("polymarket: API key not derived")
	}

	yes, no, ok := c.TokenIDs(req.NativeID)
	if !ok {
		return domain.OrderHandle{}, fmt.Errorf("polymarket: unknown market %s: %w", req.NativeID, domain.ErrNotFound)
	}
	tokenID := yes
	if req.Side == domain.SideNo {
		tokenID = no
	}

	salt, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return domain.OrderHandle{}, fmt.Errorf("polymarket: salt: %w", err)
	}

	address := c.signer.Address().Hex()
	payload := OrderPayload{
		Salt:          salt.String(),
		Maker:         address,
		Signer:        address,
		Taker:         zeroAddress,
		TokenID:       tokenID,
		MakerAmount:   strconv.FormatInt(req.PriceCents*req.Size*usdcPerCent, 10),
		TakerAmount:   strconv.FormatInt(req.Size*usdcPerContract, 10),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          0, // BUY
		SignatureType: 0, // EOA
	}
	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return domain.OrderHandle{}, fmt.Errorf("polymarket: sign order: %w", err)
	}

	body := map[string]any{
		"order": map[string]any{
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
			"side":          "BUY",
			"signatureType": payload.SignatureType,
			"signature":     sig,
			"price":         centsToPrice(req.PriceCents),
		},
		"owner":     address,
		"orderType": "GTC",
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, c.clobHost, "/order", body, true)
	if err != nil {
		return domain.OrderHandle{}, fmt.Errorf("polymarket: post order: %w", err)
	}

	var result APIOrderResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return domain.OrderHandle{}, fmt.Errorf("polymarket: decode order result: %w", err)
	}
	if !result.Success || result.OrderID == "" {
		return domain.OrderHandle{}, fmt.Errorf("polymarket: order rejected: %s", result.ErrorMsg)
	}

	return domain.OrderHandle{Venue: domain.VenuePolymarket, OrderID: result.OrderID}, nil
}

// GetStatus returns the CLOB's authoritative view of an order.
func (c *Client) GetStatus(ctx context.Context, h domain.OrderHandle) (domain.OrderStatus, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, c.clobHost, "/order/"+url.PathEscape(h.OrderID), nil, true)
	if err != nil {
		return domain.OrderStatus{}, fmt.Errorf("polymarket: get order %s: %w", h.OrderID, err)
	}

	var order APIOrder
	if err := json.Unmarshal(respBody, &order); err != nil {
		return domain.OrderStatus{}, fmt.Errorf("polymarket: decode order %s: %w", h.OrderID, err)
	}

	return orderToStatus(order)
}

// Cancel requests cancellation. The bool is advisory; the engine confirms
// via GetStatus.
func (c *Client) Cancel(ctx context.Context, h domain.OrderHandle) (bool, error) {
	body := map[string]any{"orderID": h.OrderID}

	respBody, err := c.doRequest(ctx, http.MethodDelete, c.clobHost, "/order", body, true)
	if err != nil {
		return false, fmt.Errorf("polymarket: cancel order %s: %w", h.OrderID, err)
	}

	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return false, fmt.Errorf("polymarket: decode cancel response: %w", err)
	}
	return result.Success, nil
}

// orderToStatus maps a CLOB order to the venue-neutral status.
func orderToStatus(o APIOrder) (domain.OrderStatus, error) {
	matched, err := sizeToContracts(o.SizeMatched)
	if err != nil {
		return domain.OrderStatus{}, err
	}
	price, err := priceToCents(o.Price)
	if err != nil {
		return domain.OrderStatus{}, err
	}

	var state domain.OrderState
	switch o.Status {
	case "MATCHED":
		state = domain.OrderFilled
	case "LIVE", "UNMATCHED", "DELAYED":
		state = domain.OrderPending
	case "CANCELED":
		if matched > 0 {
			state = domain.OrderPartiallyFilled
		} else {
			state = domain.OrderCancelled
		}
	default:
		state = domain.OrderRejected
	}

	return domain.OrderStatus{
		State:            state,
		FilledSize:       matched,
		FilledPriceCents: price,
	}, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) throttle(ctx context.Context) error {
	if c.limiter == nil || c.rateLimit <= 0 {
		return nil
	}
	return c.limiter.Wait(ctx, "polymarket", c.rateLimit, time.Second)
}

// doRequest builds, optionally HMAC-signs, sends, and reads an HTTP request.
func (c *Client) doRequest(ctx context.Context, method, host, path string, body any, authed bool) ([]byte, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}

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

	req, err := http.NewRequestWithContext(ctx, method, host+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if authed && c.hmacAuth != nil {
		for k, v := range c.hmacAuth.L2Headers(c.signer.Address().Hex(), method, path, bodyStr) {
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

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, string(body))
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, string(body))
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, string(body))
	}
}

// Compile-time interface checks.
var (
	_ domain.VenueTrading = (*Client)(nil)
	_ domain.MarketLister = (*Client)(nil)
)
