// Package book holds the live top-of-book state for every matched market on
// both venues. One writer per venue feed, many concurrent readers (the
// detector loop); synchronization is a per-market cell lock so a busy market
// never blocks reads of another.
package book

import (
	"sync"
	"sync/atomic"

	"github.com/quantfold/arbot/internal/domain"
)

// cell is one market's state. The cell lock covers both venue tops so a
// reader always sees a consistent pair.
type cell struct {
	mu   sync.RWMutex
	tops map[domain.Venue]domain.BookTop
}

// Store is the concurrent book state store. Updates with a version lower
// than or equal to the current one are silently dropped and counted; they are
// an expected artifact of feed replays, not an error.
type Store struct {
	mu    sync.RWMutex
	cells map[string]*cell

	staleDropped atomic.Int64
	onStale      func(v domain.Venue)
}

// NewStore creates an empty Store. onStale, if non-nil, is invoked for every
// dropped stale update (metrics hook).
func NewStore(onStale func(v domain.Venue)) *Store {
	return &Store{
		cells:   make(map[string]*cell),
		onStale: onStale,
	}
}

func (s *Store) cellFor(marketID string) *cell {
	s.mu.RLock()
	c, ok := s.cells[marketID]
	s.mu.RUnlock()
	if ok {
		return c
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok = s.cells[marketID]; ok {
		return c
	}
	c = &cell{tops: make(map[domain.Venue]domain.BookTop, 2)}
	s.cells[marketID] = c
	return c
}

// Update applies a venue top-of-book update. It returns true if the update
// was accepted, false if it was dropped as stale or invalid.
func (s *Store) Update(top domain.BookTop) bool {
	if err := top.Validate(); err != nil {
		return false
	}
	c := s.cellFor(top.MarketID)

	c.mu.Lock()
	cur, ok := c.tops[top.Venue]
	if ok && top.Version <= cur.Version {
		c.mu.Unlock()
		s.staleDropped.Add(1)
		if s.onStale != nil {
			s.onStale(top.Venue)
		}
		return false
	}
	c.tops[top.Venue] = top
	c.mu.Unlock()
	return true
}

// Read returns a consistent copy of both venue tops for the market. ok is
// false until both venues have reported at least once.
func (s *Store) Read(marketID string) (pair domain.BookPair, ok bool) {
	s.mu.RLock()
	c, exists := s.cells[marketID]
	s.mu.RUnlock()
	if !exists {
		return domain.BookPair{}, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	k, haveK := c.tops[domain.VenueKalshi]
	p, haveP := c.tops[domain.VenuePolymarket]
	if !haveK || !haveP {
		return domain.BookPair{}, false
	}
	return domain.BookPair{Kalshi: k, Polymarket: p}, true
}

// Markets returns the ids of all markets with at least one venue top.
func (s *Store) Markets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.cells))
	for id := range s.cells {
		ids = append(ids, id)
	}
	return ids
}

// Forget drops all state for a market (e.g. after expiry or re-resolution).
func (s *Store) Forget(marketID string) {
	s.mu.Lock()
	delete(s.cells, marketID)
	s.mu.Unlock()
}

// StaleDropped returns the number of updates dropped for staleness since
// startup.
func (s *Store) StaleDropped() int64 {
	return s.staleDropped.Load()
}
