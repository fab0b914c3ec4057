package engine

import "sync"

// InFlightSet guards against concurrent executions against the same matched
// market. Claim is an atomic test-and-set; Release is unconditional and must
// run on every exit path of an attempt, success or failure.
type InFlightSet struct {
	mu      sync.Mutex
	markets map[string]struct{}
}

// NewInFlightSet creates an empty set.
func NewInFlightSet() *InFlightSet {
	return &InFlightSet{markets: make(map[string]struct{})}
}

// Claim marks marketID in flight. It returns false if the market is already
// claimed.
func (s *InFlightSet) Claim(marketID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[marketID]; ok {
		return false
	}
	s.markets[marketID] = struct{}{}
	return true
}

// Release removes marketID from the set. Releasing an unclaimed market is a
// no-op.
func (s *InFlightSet) Release(marketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.markets, marketID)
}

// Len returns the number of markets currently in flight.
func (s *InFlightSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.markets)
}
