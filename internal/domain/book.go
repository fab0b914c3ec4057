package domain

import (
	"fmt"
	"time"
)

// BookTop is one venue's best-ask view of a matched market: the cheapest YES
// and cheapest NO offers with their available sizes. Version is a per-venue
// monotonic sequence number; updates carrying an older or equal version are
// dropped by the book store.
type BookTop struct {
	Venue       Venue
	MarketID    string // canonical MatchedMarket id
	YesAskCents int64
	YesAskSize  int64
	NoAskCents  int64
	NoAskSize   int64
	Version     int64
	At          time.Time
}

// Validate checks the price and size bounds. Prices must fall in [0,100]
// cents and sizes must be non-negative.
func (t BookTop) Validate() error {
	if t.MarketID == "" {
		return fmt.Errorf("book top: empty market id")
	}
	if t.YesAskCents < 0 || t.YesAskCents > 100 {
		return fmt.Errorf("book top %s: yes ask %d out of [0,100]", t.MarketID, t.YesAskCents)
	}
	if t.NoAskCents < 0 || t.NoAskCents > 100 {
		return fmt.Errorf("book top %s: no ask %d out of [0,100]", t.MarketID, t.NoAskCents)
	}
	if t.YesAskSize < 0 || t.NoAskSize < 0 {
		return fmt.Errorf("book top %s: negative size", t.MarketID)
	}
	return nil
}

// Ask returns the ask price and size for the given side.
func (t BookTop) Ask(s Side) (priceCents, size int64) {
	if s == SideYes {
		return t.YesAskCents, t.YesAskSize
	}
	return t.NoAskCents, t.NoAskSize
}

// BookPair is a consistent copy of both venues' tops for one matched market.
type BookPair struct {
	Kalshi     BookTop
	Polymarket BookTop
}

// Top returns the side of the pair belonging to the given venue.
func (p BookPair) Top(v Venue) BookTop {
	if v == VenueKalshi {
		return p.Kalshi
	}
	return p.Polymarket
}
