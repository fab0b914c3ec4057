package domain

import "time"

// Leg is one side of a two-leg arbitrage trade: an order to buy one side of
// the binary contract on one venue.
type Leg struct {
	Venue      Venue
	Side       Side
	PriceCents int64
	FeeCents   int64 // settlement fee per contract at this price
}

// CostCents is the per-contract cost of the leg including its fee.
func (l Leg) CostCents() int64 {
	return l.PriceCents + l.FeeCents
}

// Opportunity is a detected cross-venue mispricing: buying LegA and LegB
// together locks in NetPerContractCents at settlement regardless of outcome.
// Valid only while the generating book versions remain current; the engine
// re-validates against live prices immediately before execution.
type Opportunity struct {
	ID                  string
	MarketID            string
	LegA                Leg
	LegB                Leg
	MatchedSize         int64 // min available size across both legs
	NetPerContractCents int64 // 100 - priceA - priceB - feeA - feeB
	KalshiVersion       int64
	PolymarketVersion   int64
	DetectedAt          time.Time
}

// ExpectedProfitCents is the total expected dollar profit in cents, the
// ranking key between simultaneously detected opportunities.
func (o Opportunity) ExpectedProfitCents() int64 {
	return o.NetPerContractCents * o.MatchedSize
}

// LegFor returns the leg placed on the given venue.
func (o Opportunity) LegFor(v Venue) Leg {
	if o.LegA.Venue == v {
		return o.LegA
	}
	return o.LegB
}

// ExecutionOutcome classifies the result of an execution attempt.
type ExecutionOutcome string

const (
	OutcomeExecuted        ExecutionOutcome = "executed"
	OutcomeAlreadyInFlight ExecutionOutcome = "already_in_flight"
	OutcomeStale           ExecutionOutcome = "stale"
	OutcomeHalted          ExecutionOutcome = "halted"
	OutcomeNoFill          ExecutionOutcome = "no_fill"
	OutcomePartialFill     ExecutionOutcome = "partial_fill"
)

// ExecutionResult reports what an execution attempt did. Fills contains the
// confirmed fills recorded in the ledger (zero, one, or two). Exposed is set
// when exactly one leg filled and the position is directionally exposed.
type ExecutionResult struct {
	OpportunityID string
	Outcome       ExecutionOutcome
	Fills         []Fill
	Exposed       bool
}

// Fill is one confirmed execution on one venue. Only fills mutate the ledger.
type Fill struct {
	ID         string
	MarketID   string
	Venue      Venue
	Side       Side
	PriceCents int64
	Size       int64
	FeeCents   int64 // total fee for the fill, not per contract
	OrderID    string
	FilledAt   time.Time
}

// CostCents is the total cash outlay for the fill including fees.
func (f Fill) CostCents() int64 {
	return f.PriceCents*f.Size + f.FeeCents
}

// Position is the per-market inventory held across both venues. Mutated only
// by the ledger on confirmed fills.
type Position struct {
	MarketID     string
	YesQty       int64
	NoQty        int64
	YesCostCents int64 // cost basis including fees
	NoCostCents  int64
	UpdatedAt    time.Time
}

// LockedQty is the number of hedged YES/NO pairs, each paying out 100 cents
// at settlement regardless of outcome.
func (p Position) LockedQty() int64 {
	if p.YesQty < p.NoQty {
		return p.YesQty
	}
	return p.NoQty
}

// OpenQty is the total contract exposure of the position, the quantity the
// circuit breaker counts against position caps.
func (p Position) OpenQty() int64 {
	return p.YesQty + p.NoQty
}
