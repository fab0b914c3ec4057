package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantfold/arbot/internal/domain"
)

const (
	writeWait = 10 * time.Second

	// The CLOB socket drops idle clients; a text PING keeps it open and any
	// inbound frame counts as liveness.
	readWait   = 30 * time.Second
	pingPeriod = 10 * time.Second

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// Asset ties one CLOB token to the side of a matched market it represents.
type Asset struct {
	TokenID  string
	MarketID string
	Side     domain.Side
}

// tokenBook holds the resting asks of one token, price cents -> contracts.
type tokenBook map[int64]int64

// Feed streams Polymarket book tops over the market WebSocket channel. Each
// matched market has two tokens (YES and NO); buying a side means lifting
// that token's asks, so the feed tracks asks per token and emits a BookTop
// whenever either token of a market changes. Implements domain.VenueFeed.
type Feed struct {
	wsURL string

	mu       sync.Mutex
	assets   map[string]Asset     // token ID -> asset
	pairs    map[string][2]string // market ID -> [yes token, no token]
	asks     map[string]tokenBook // token ID -> asks
	versions map[string]int64     // market ID -> last emitted version

	logger *slog.Logger
}

// NewFeed creates a Polymarket book feed.
func NewFeed(wsURL string, logger *slog.Logger) *Feed {
	return &Feed{
		wsURL:    wsURL,
		assets:   make(map[string]Asset),
		pairs:    make(map[string][2]string),
		asks:     make(map[string]tokenBook),
		versions: make(map[string]int64),
		logger:   logger.With(slog.String("component", "polymarket_feed")),
	}
}

// SetAssets replaces the subscription list. Takes effect on the next
// (re)connect.
func (f *Feed) SetAssets(assets []Asset) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assets = make(map[string]Asset, len(assets))
	f.pairs = make(map[string][2]string)
	for _, a := range assets {
		f.assets[a.TokenID] = a
		pair := f.pairs[a.MarketID]
		if a.Side == domain.SideYes {
			pair[0] = a.TokenID
		} else {
			pair[1] = a.TokenID
		}
		f.pairs[a.MarketID] = pair
	}
}

// Run connects, subscribes, and pumps book updates into sink until the
// context ends, reconnecting with exponential backoff.
func (f *Feed) Run(ctx context.Context, sink func(domain.BookTop)) error {
	delay := reconnectDelay
	for {
		err := f.runConn(ctx, sink)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.WarnContext(ctx, "connection lost, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (f *Feed) runConn(ctx context.Context, sink func(domain.BookTop)) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w: %v", domain.ErrWSDisconnect, err)
	}
	defer conn.Close()

	f.mu.Lock()
	f.asks = make(map[string]tokenBook)
	tokenIDs := make([]string, 0, len(f.assets))
	for id := range f.assets {
		tokenIDs = append(tokenIDs, id)
	}
	f.mu.Unlock()

	if len(tokenIDs) > 0 {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(WSSubscribe{AssetIDs: tokenIDs, Type: "market"}); err != nil {
			return fmt.Errorf("polymarket/ws: subscribe: %w", err)
		}
	}

	// Keepalive loop; closing the connection unblocks the read loop.
	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, []byte("PING")); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readWait))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("polymarket/ws: read: %w: %v", domain.ErrWSDisconnect, err)
		}
		if string(data) == "PONG" {
			continue
		}

		// The market channel batches events into arrays; single objects
		// appear during subscription confirmation.
		var events []json.RawMessage
		if len(data) > 0 && data[0] == '[' {
			if err := json.Unmarshal(data, &events); err != nil {
				f.logger.WarnContext(ctx, "malformed batch", slog.String("error", err.Error()))
				continue
			}
		} else {
			events = []json.RawMessage{data}
		}

		for _, ev := range events {
			f.handleEvent(ctx, ev, sink)
		}
	}
}

func (f *Feed) handleEvent(ctx context.Context, data json.RawMessage, sink func(domain.BookTop)) {
	var head struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		f.logger.WarnContext(ctx, "malformed event", slog.String("error", err.Error()))
		return
	}

	switch head.EventType {
	case "book":
		var book WSBook
		if err := json.Unmarshal(data, &book); err != nil {
			f.logger.WarnContext(ctx, "malformed book", slog.String("error", err.Error()))
			return
		}
		f.applyBook(book, sink)
	case "price_change":
		var pc WSPriceChange
		if err := json.Unmarshal(data, &pc); err != nil {
			f.logger.WarnContext(ctx, "malformed price change", slog.String("error", err.Error()))
			return
		}
		f.applyPriceChange(pc, sink)
	}
}

// applyBook replaces a token's ask levels from a full snapshot.
func (f *Feed) applyBook(book WSBook, sink func(domain.BookTop)) {
	asks := make(tokenBook, len(book.Asks))
	for _, l := range book.Asks {
		price, err := priceToCents(l.Price)
		if err != nil {
			continue
		}
		size, err := sizeToContracts(l.Size)
		if err != nil || size <= 0 {
			continue
		}
		asks[price] = size
	}

	f.mu.Lock()
	f.asks[book.AssetID] = asks
	top, ok := f.topLocked(book.AssetID)
	f.mu.Unlock()
	if ok {
		sink(top)
	}
}

// applyPriceChange updates ask levels in place. SELL-side changes are asks;
// a zero size removes the level.
func (f *Feed) applyPriceChange(pc WSPriceChange, sink func(domain.BookTop)) {
	f.mu.Lock()
	book, ok := f.asks[pc.AssetID]
	if !ok {
		// Changes before the snapshot are unusable.
		f.mu.Unlock()
		return
	}
	changed := false
	for _, ch := range pc.Changes {
		if ch.Side != "SELL" {
			continue
		}
		price, err := priceToCents(ch.Price)
		if err != nil {
			continue
		}
		size, err := sizeToContracts(ch.Size)
		if err != nil {
			continue
		}
		if size <= 0 {
			delete(book, price)
		} else {
			book[price] = size
		}
		changed = true
	}
	var top domain.BookTop
	if changed {
		top, ok = f.topLocked(pc.AssetID)
	} else {
		ok = false
	}
	f.mu.Unlock()
	if ok {
		sink(top)
	}
}

// topLocked derives the top-of-book for the market containing the given
// token, requiring a best ask on both tokens. Caller holds f.mu.
func (f *Feed) topLocked(tokenID string) (domain.BookTop, bool) {
	asset, ok := f.assets[tokenID]
	if !ok {
		return domain.BookTop{}, false
	}
	pair := f.pairs[asset.MarketID]
	yesAsk, yesSize, ok := bestAsk(f.asks[pair[0]])
	if !ok {
		return domain.BookTop{}, false
	}
	noAsk, noSize, ok := bestAsk(f.asks[pair[1]])
	if !ok {
		return domain.BookTop{}, false
	}

	f.versions[asset.MarketID]++
	return domain.BookTop{
		Venue:       domain.VenuePolymarket,
		MarketID:    asset.MarketID,
		YesAskCents: yesAsk,
		YesAskSize:  yesSize,
		NoAskCents:  noAsk,
		NoAskSize:   noSize,
		Version:     f.versions[asset.MarketID],
		At:          time.Now(),
	}, true
}

// bestAsk returns the lowest-priced level with positive size.
func bestAsk(book tokenBook) (int64, int64, bool) {
	var price, size int64
	for p, s := range book {
		if s <= 0 {
			continue
		}
		if price == 0 || p < price {
			price, size = p, s
		}
	}
	return price, size, price > 0
}

// Compile-time interface check.
var _ domain.VenueFeed = (*Feed)(nil)
