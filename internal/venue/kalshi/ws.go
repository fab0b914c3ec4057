package kalshi

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
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message.
	pongWait = 30 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff.
	maxReconnectDelay = 60 * time.Second
)

// MarketIndex maps a Kalshi ticker to the canonical matched-market ID. The
// feed only emits books for tickers present in the index.
type MarketIndex interface {
	MarketIDFor(v domain.Venue, nativeID string) (string, bool)
}

// Feed streams Kalshi orderbook tops. It maintains its own book state from
// snapshots and deltas and emits one BookTop per change, with a strictly
// increasing version per market. Implements domain.VenueFeed.
type Feed struct {
	wsURL string
	index MarketIndex

	mu       sync.Mutex
	tickers  []string
	books    map[string]*Orderbook
	versions map[string]int64

	logger *slog.Logger
}

// NewFeed creates a Kalshi book feed for the given tickers.
func NewFeed(wsURL string, index MarketIndex, logger *slog.Logger) *Feed {
	return &Feed{
		wsURL:    wsURL,
		index:    index,
		books:    make(map[string]*Orderbook),
		versions: make(map[string]int64),
		logger:   logger.With(slog.String("component", "kalshi_feed")),
	}
}

// SetTickers replaces the subscription list. Takes effect on the next
// (re)connect.
func (f *Feed) SetTickers(tickers []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickers = append([]string(nil), tickers...)
}

// Run connects, subscribes, and pumps book updates into sink until the
// context ends. Disconnects reconnect with exponential backoff; book state
// resets on reconnect so the next snapshot rebuilds it.
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

// runConn handles one connection lifetime.
func (f *Feed) runConn(ctx context.Context, sink func(domain.BookTop)) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("kalshi/ws: connect: %w: %v", domain.ErrWSDisconnect, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	f.mu.Lock()
	f.books = make(map[string]*Orderbook)
	tickers := append([]string(nil), f.tickers...)
	f.mu.Unlock()

	if len(tickers) > 0 {
		cmd := WSSubscribeCmd{
			ID:  1,
			Cmd: "subscribe",
			Params: WSSubscribeParams{
				Channels: []string{"orderbook_delta"},
				Tickers:  tickers,
			},
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(cmd); err != nil {
			return fmt.Errorf("kalshi/ws: subscribe: %w", err)
		}
	}

	// Ping loop; closing the connection unblocks the read loop.
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
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
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
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("kalshi/ws: read: %w: %v", domain.ErrWSDisconnect, err)
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			f.logger.WarnContext(ctx, "malformed message", slog.String("error", err.Error()))
			continue
		}

		switch msg.Type {
		case "orderbook_snapshot":
			var ob WSOrderbook
			if err := json.Unmarshal(msg.Msg, &ob); err != nil {
				f.logger.WarnContext(ctx, "malformed snapshot", slog.String("error", err.Error()))
				continue
			}
			f.applySnapshot(ob, sink)
		case "orderbook_delta":
			var d WSDelta
			if err := json.Unmarshal(msg.Msg, &d); err != nil {
				f.logger.WarnContext(ctx, "malformed delta", slog.String("error", err.Error()))
				continue
			}
			f.applyDelta(d, sink)
		}
	}
}

func (f *Feed) applySnapshot(ob WSOrderbook, sink func(domain.BookTop)) {
	f.mu.Lock()
	f.books[ob.Ticker] = &Orderbook{
		Ticker:  ob.Ticker,
		YesBids: ob.YesBids,
		NoBids:  ob.NoBids,
	}
	top, ok := f.topLocked(ob.Ticker)
	f.mu.Unlock()
	if ok {
		sink(top)
	}
}

func (f *Feed) applyDelta(d WSDelta, sink func(domain.BookTop)) {
	f.mu.Lock()
	book, ok := f.books[d.Ticker]
	if !ok {
		// Deltas before the snapshot are unusable.
		f.mu.Unlock()
		return
	}
	if d.Side == "yes" {
		book.YesBids = applyLevel(book.YesBids, d.Price, d.Delta)
	} else {
		book.NoBids = applyLevel(book.NoBids, d.Price, d.Delta)
	}
	top, ok := f.topLocked(d.Ticker)
	f.mu.Unlock()
	if ok {
		sink(top)
	}
}

// topLocked derives the top-of-book for a ticker. Kalshi publishes resting
// bids; the ask on one side is the complement of the best bid on the other
// (a YES ask at p is a NO bid at 100-p). Caller holds f.mu.
func (f *Feed) topLocked(ticker string) (domain.BookTop, bool) {
	marketID, ok := f.index.MarketIDFor(domain.VenueKalshi, ticker)
	if !ok {
		return domain.BookTop{}, false
	}
	book := f.books[ticker]
	bestYesBid, yesBidSize := bestBid(book.YesBids)
	bestNoBid, noBidSize := bestBid(book.NoBids)
	if bestYesBid == 0 || bestNoBid == 0 {
		return domain.BookTop{}, false
	}

	f.versions[ticker]++
	return domain.BookTop{
		Venue:       domain.VenueKalshi,
		MarketID:    marketID,
		YesAskCents: 100 - bestNoBid,
		YesAskSize:  noBidSize,
		NoAskCents:  100 - bestYesBid,
		NoAskSize:   yesBidSize,
		Version:     f.versions[ticker],
		At:          time.Now(),
	}, true
}

// bestBid returns the highest-priced level with positive quantity.
func bestBid(levels []PriceLevel) (int64, int64) {
	var price, size int64
	for _, l := range levels {
		if l.Quantity > 0 && l.Price > price {
			price, size = l.Price, l.Quantity
		}
	}
	return price, size
}

// applyLevel adds delta contracts at price, removing the level when it
// empties.
func applyLevel(levels []PriceLevel, price, delta int64) []PriceLevel {
	for i := range levels {
		if levels[i].Price == price {
			levels[i].Quantity += delta
			if levels[i].Quantity <= 0 {
				return append(levels[:i], levels[i+1:]...)
			}
			return levels
		}
	}
	if delta > 0 {
		return append(levels, PriceLevel{Price: price, Quantity: delta})
	}
	return levels
}

// Compile-time interface check.
var _ domain.VenueFeed = (*Feed)(nil)
