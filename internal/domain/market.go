// Package domain holds the core types and interfaces shared across the
// arbitrage engine. Monetary values are integer cents and contract counts are
// integer contracts; floats never appear in profit arithmetic.
package domain

import "time"

// Venue identifies one of the two trading venues.
type Venue string

const (
	VenueKalshi     Venue = "kalshi"
	VenuePolymarket Venue = "polymarket"
)

// Venues lists the two venues in a fixed order.
var Venues = [2]Venue{VenueKalshi, VenuePolymarket}

// Other returns the opposite venue.
func (v Venue) Other() Venue {
	if v == VenueKalshi {
		return VenuePolymarket
	}
	return VenueKalshi
}

// Side is the YES or NO side of a binary market.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Opposite returns the other side of the contract.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// MatchedMarket pairs a Kalshi market with a Polymarket market judged to
// reference the same real-world binary event. Immutable within a TTL epoch;
// the matcher re-resolves it when the TTL elapses.
type MatchedMarket struct {
	ID           string // canonical id, stable across re-resolution
	KalshiTicker string
	PolymarketID string
	Title        string
	ExpiresAt    time.Time
	Confidence   float64
	ResolvedAt   time.Time
}

// NativeID returns the venue-specific market identifier.
func (m MatchedMarket) NativeID(v Venue) string {
	if v == VenueKalshi {
		return m.KalshiTicker
	}
	return m.PolymarketID
}

// VenueMarket is a single venue's view of a market, as returned by a market
// listing endpoint. The matcher normalizes these into canonical keys.
type VenueMarket struct {
	Venue     Venue
	NativeID  string
	Title     string
	ExpiresAt time.Time
}
