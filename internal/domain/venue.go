package domain

import (
	"context"
	"time"
)

// OrderState is the lifecycle state of a venue order as reported by the
// idempotent status query.
type OrderState string

const (
	OrderPending         OrderState = "pending"
	OrderFilled          OrderState = "filled"
	OrderPartiallyFilled OrderState = "partially_filled"
	OrderCancelled       OrderState = "cancelled"
	OrderRejected        OrderState = "rejected"
)

// Closed reports whether the order can no longer fill.
func (s OrderState) Closed() bool {
	return s == OrderFilled || s == OrderCancelled || s == OrderRejected
}

// OrderHandle identifies an order previously placed on a venue.
type OrderHandle struct {
	Venue   Venue
	OrderID string
}

// OrderRequest asks a venue to buy size contracts of one side at a limit
// price. NativeID is the venue's own market identifier.
type OrderRequest struct {
	NativeID   string
	Side       Side
	PriceCents int64
	Size       int64
}

// OrderStatus is the venue's authoritative view of an order. FilledSize and
// FilledPriceCents are meaningful for Filled and PartiallyFilled states.
type OrderStatus struct {
	State            OrderState
	FilledSize       int64
	FilledPriceCents int64
}

// VenueTrading places, queries, and cancels orders on one venue. GetStatus
// must be idempotent and safe to retry; the engine relies on it to confirm a
// leg's true state before treating a cancellation as final.
type VenueTrading interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderHandle, error)
	GetStatus(ctx context.Context, h OrderHandle) (OrderStatus, error)
	// Cancel requests cancellation. The returned bool is advisory; the
	// caller must confirm via GetStatus before considering the leg closed.
	Cancel(ctx context.Context, h OrderHandle) (bool, error)
}

// VenueFeed streams top-of-book updates for subscribed markets into a sink.
// Each feed is single-threaded per venue: it calls the sink sequentially with
// strictly increasing versions per market.
type VenueFeed interface {
	Run(ctx context.Context, sink func(BookTop)) error
}

// MarketLister enumerates a venue's active markets for the matcher.
type MarketLister interface {
	ListMarkets(ctx context.Context) ([]VenueMarket, error)
}

// Credentials are venue API credentials, opaque to the core.
type Credentials struct {
	APIKey     string
	APISecret  string
	PrivateKey string
}

// CredentialProvider hands out venue credentials at startup.
type CredentialProvider interface {
	Get(v Venue) (Credentials, error)
}

// EngineStatus is the point-in-time snapshot exposed to the monitoring
// surface.
type EngineStatus struct {
	BreakerState       string
	BreakerReason      string
	BreakerUntil       time.Time
	DailyPnLCents      int64
	TotalOpenContracts int64
	OpenMarkets        int
	OpportunitiesSeen  int64
	Executed           int64
	Rejected           int64
}
