package polymarket

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Gamma API DTOs (market metadata)
// --------------------------------------------------------------------------

// GammaMarket is a market listing from the Gamma metadata API. ClobTokenIDs
// arrives as a JSON-encoded string array of the [YES, NO] token IDs.
type GammaMarket struct {
	ConditionID  string `json:"conditionId"`
	Question     string `json:"question"`
	EndDate      string `json:"endDate"`
	Active       bool   `json:"active"`
	Closed       bool   `json:"closed"`
	ClobTokenIDs string `json:"clobTokenIds"`
}

// TokenIDs decodes the embedded token ID array. Binary markets carry exactly
// two: YES first, NO second.
func (m GammaMarket) TokenIDs() (yes, no string, err error) {
	var ids []string
	if err := json.Unmarshal([]byte(m.ClobTokenIDs), &ids); err != nil {
		return "", "", fmt.Errorf("polymarket: decode token ids for %s: %w", m.ConditionID, err)
	}
	if len(ids) != 2 {
		return "", "", fmt.Errorf("polymarket: market %s has %d tokens, want 2", m.ConditionID, len(ids))
	}
	return ids[0], ids[1], nil
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIOrder is an order as returned by the CLOB API.
type APIOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"` // "LIVE", "MATCHED", "CANCELED", "UNMATCHED"
	Market       string `json:"market"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
}

// APIOrderResult is the response to a POST /order.
type APIOrderResult struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"`
}

// --------------------------------------------------------------------------
// WebSocket DTOs (market channel)
// --------------------------------------------------------------------------

// WSSubscribe is the subscription command for the market channel.
type WSSubscribe struct {
	AssetIDs []string `json:"assets_ids"`
	Type     string   `json:"type"` // "market"
}

// WSLevel is one price level; price and size are decimal strings.
type WSLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// WSBook is a full book snapshot for one asset (token).
type WSBook struct {
	EventType string    `json:"event_type"` // "book"
	AssetID   string    `json:"asset_id"`
	Bids      []WSLevel `json:"bids"`
	Asks      []WSLevel `json:"asks"`
	Timestamp string    `json:"timestamp"`
}

// WSPriceChange carries incremental level updates for one asset.
type WSPriceChange struct {
	EventType string `json:"event_type"` // "price_change"
	AssetID   string `json:"asset_id"`
	Changes   []struct {
		Price string `json:"price"`
		Side  string `json:"side"` // "BUY" or "SELL"
		Size  string `json:"size"`
	} `json:"changes"`
}

// --------------------------------------------------------------------------
// Unit conversion. Polymarket prices are decimal dollars in [0,1] and sizes
// are decimal share counts; the engine works in integer cents and whole
// contracts.
// --------------------------------------------------------------------------

// priceToCents parses a decimal price like "0.45" into cents, rounding up so
// a buy cost is never understated.
func priceToCents(s string) (int64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("polymarket: parse price %q: %w", s, err)
	}
	if f < 0 || f > 1 {
		return 0, fmt.Errorf("polymarket: price %q out of [0,1]", s)
	}
	// Round half up at the third decimal to absorb float noise.
	return int64(f*100 + 0.5), nil
}

// centsToPrice renders cents as the decimal string the CLOB expects.
func centsToPrice(c int64) string {
	return strconv.FormatFloat(float64(c)/100, 'f', 2, 64)
}

// sizeToContracts parses a decimal share count, truncating fractions.
func sizeToContracts(s string) (int64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("polymarket: parse size %q: %w", s, err)
	}
	if f < 0 {
		return 0, fmt.Errorf("polymarket: negative size %q", s)
	}
	return int64(f), nil
}

// parseEndDate parses Gamma end dates, which arrive as RFC3339.
func parseEndDate(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
