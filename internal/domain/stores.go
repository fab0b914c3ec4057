package domain

import (
	"context"
	"time"
)

// FillStore persists confirmed fills. The ledger journals every fill here;
// the daily archiver reads them back at rollover.
type FillStore interface {
	Insert(ctx context.Context, f Fill) error
	ListBetween(ctx context.Context, from, to time.Time) ([]Fill, error)
}

// OpportunityStore records every opportunity the detector emits and the
// outcome the engine reached for it.
type OpportunityStore interface {
	Insert(ctx context.Context, o Opportunity) error
	MarkOutcome(ctx context.Context, id string, outcome ExecutionOutcome) error
	ListRecent(ctx context.Context, limit int) ([]Opportunity, error)
}

// MatchCache caches resolved market matches under their canonical key with a
// TTL, so restarts and multiple resolvers share one resolution.
type MatchCache interface {
	Put(ctx context.Context, key string, m MatchedMarket, ttl time.Duration) error
	Get(ctx context.Context, key string) (MatchedMarket, error)
}

// RateLimiter enforces a sliding-window request budget per key. Venue REST
// clients throttle through Wait; Allow is the non-blocking form. Wait returns
// an error wrapping ErrRateLimited if ctx ends before a slot opens.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// Signal stream names published on the SignalBus.
const (
	SignalArbDetected = "arb_detected"
	SignalArbExecuted = "arb_executed"
	SignalBreakerTrip = "breaker_tripped"
	SignalExposure    = "exposure"
)

// SignalBus publishes engine events (detections, executions, breaker trips)
// for external consumers.
type SignalBus interface {
	Publish(ctx context.Context, stream string, payload []byte) error
	Subscribe(ctx context.Context, stream string) (<-chan []byte, error)
}

// BlobWriter writes immutable objects to blob storage (daily fill archives).
type BlobWriter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}
