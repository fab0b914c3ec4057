package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrNoMatch         = errors.New("no matching market")
	ErrAmbiguousMatch  = errors.New("ambiguous market match")
	ErrHalted          = errors.New("circuit breaker halted")
	ErrAlreadyInFlight = errors.New("market already in flight")
	ErrStaleSnapshot   = errors.New("stale orderbook snapshot")
	ErrRateLimited     = errors.New("rate limited")
	ErrWSDisconnect    = errors.New("websocket disconnected")
	ErrLedgerCorrupt   = errors.New("ledger state corrupt")
)
