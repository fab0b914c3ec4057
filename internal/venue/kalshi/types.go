package kalshi

import (
	"encoding/json"
	"time"
)

// --------------------------------------------------------------------------
// Kalshi API DTOs. Prices are integer cents throughout.
// --------------------------------------------------------------------------

// Market represents a market as returned by the Kalshi REST API.
type Market struct {
	Ticker         string `json:"ticker"`
	EventTicker    string `json:"event_ticker"`
	Title          string `json:"title"`
	Status         string `json:"status"` // "open", "closed", "settled"
	YesBid         int64  `json:"yes_bid"`
	YesAsk         int64  `json:"yes_ask"`
	NoBid          int64  `json:"no_bid"`
	NoAsk          int64  `json:"no_ask"`
	Volume         int64  `json:"volume"`
	OpenInterest   int64  `json:"open_interest"`
	Result         string `json:"result"` // "yes", "no", "" (unsettled)
	ExpirationTime string `json:"expiration_time"`
	CloseTime      string `json:"close_time"`
}

// PriceLevel is a single price+quantity entry in the Kalshi orderbook.
type PriceLevel struct {
	Price    int64 `json:"price"`    // cents, 1-99
	Quantity int64 `json:"quantity"` // contracts
}

// Orderbook holds the resting bids on each side of a Kalshi market. Asks are
// implied: a YES ask at price p is a NO bid at 100-p.
type Orderbook struct {
	Ticker  string       `json:"ticker"`
	YesBids []PriceLevel `json:"yes"`
	NoBids  []PriceLevel `json:"no"`
}

// OrderRequest represents an order submitted to the Kalshi exchange.
type OrderRequest struct {
	Ticker   string `json:"ticker"`
	Action   string `json:"action"` // "buy" or "sell"
	Side     string `json:"side"`   // "yes" or "no"
	Type     string `json:"type"`   // "market" or "limit"
	Count    int64  `json:"count"`
	YesPrice *int64 `json:"yes_price,omitempty"` // cents, required for limit yes orders
	NoPrice  *int64 `json:"no_price,omitempty"`  // cents, required for limit no orders
}

// Order is the exchange's view of an order.
type Order struct {
	OrderID        string `json:"order_id"`
	Ticker         string `json:"ticker"`
	Status         string `json:"status"` // "resting", "canceled", "executed", "pending"
	Action         string `json:"action"`
	Side           string `json:"side"`
	YesPrice       int64  `json:"yes_price"`
	NoPrice        int64  `json:"no_price"`
	RemainingCount int64  `json:"remaining_count"`
	TakerFillCount int64  `json:"taker_fill_count"`
	MakerFillCount int64  `json:"maker_fill_count"`
	PlacedTime     string `json:"placed_time"`
	LastUpdateTime string `json:"last_update_time"`
}

// OrderResponse wraps the order envelope returned by order endpoints.
type OrderResponse struct {
	Order Order `json:"order"`
}

// ErrorResponse represents a Kalshi API error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// --------------------------------------------------------------------------
// Kalshi WebSocket DTOs
// --------------------------------------------------------------------------

// WSMessage is the envelope for Kalshi WebSocket messages.
type WSMessage struct {
	Type string          `json:"type"` // "orderbook_snapshot", "orderbook_delta", ...
	Msg  json.RawMessage `json:"msg"`
	SID  int64           `json:"sid"`
}

// WSOrderbook is the orderbook payload received via WebSocket.
type WSOrderbook struct {
	Ticker  string       `json:"market_ticker"`
	YesBids []PriceLevel `json:"yes"`
	NoBids  []PriceLevel `json:"no"`
}

// WSDelta is a single orderbook level change received via WebSocket.
type WSDelta struct {
	Ticker string `json:"market_ticker"`
	Price  int64  `json:"price"`
	Delta  int64  `json:"delta"`
	Side   string `json:"side"` // "yes" or "no"
}

// WSSubscribeCmd is the command sent to subscribe to WebSocket channels.
type WSSubscribeCmd struct {
	ID     int64             `json:"id"`
	Cmd    string            `json:"cmd"` // "subscribe" or "unsubscribe"
	Params WSSubscribeParams `json:"params"`
}

// WSSubscribeParams defines the subscription parameters.
type WSSubscribeParams struct {
	Channels []string `json:"channels"`
	Tickers  []string `json:"market_tickers"`
}

// parseTime parses Kalshi's RFC3339 timestamps, returning the zero time for
// empty or malformed values.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
