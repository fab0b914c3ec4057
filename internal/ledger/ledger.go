// Package ledger is the authoritative record of positions and realized P&L.
// It is the only writer of Position entities; the circuit breaker reads
// position counts and daily P&L exclusively from here. P&L is computed from
// confirmed fills only, never from in-flight or assumed executions.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quantfold/arbot/internal/domain"
)

// Ledger tracks per-market positions and daily realized P&L in integer
// cents. A hedged YES/NO pair realizes its locked profit as soon as both
// fills confirm; the remainder realizes at settlement.
type Ledger struct {
	mu             sync.Mutex
	positions      map[string]*domain.Position
	lockedRealized map[string]int64 // locked profit already recognized per market
	dailyPnLCents  int64
	dayStart       time.Time

	fills  domain.FillStore // optional journal; nil in dry-run without a database
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Ledger. fills may be nil, in which case fills are held in
// memory only.
func New(fills domain.FillStore, logger *slog.Logger) *Ledger {
	l := &Ledger{
		positions:      make(map[string]*domain.Position),
		lockedRealized: make(map[string]int64),
		fills:          fills,
		logger:         logger.With(slog.String("component", "ledger")),
		now:            time.Now,
	}
	l.dayStart = l.now().UTC().Truncate(24 * time.Hour)
	return l
}

// SetNow overrides the clock, for tests.
func (l *Ledger) SetNow(now func() time.Time) { l.now = now }

// RecordFill applies one confirmed fill to the market's position, journals it
// to the fill store, and recognizes any newly locked profit into the daily
// P&L. It returns the realized P&L delta in cents.
func (l *Ledger) RecordFill(ctx context.Context, f domain.Fill) (int64, error) {
	if f.Size <= 0 {
		return 0, fmt.Errorf("ledger: fill size %d must be positive", f.Size)
	}
	if f.PriceCents < 0 || f.PriceCents > 100 {
		return 0, fmt.Errorf("ledger: fill price %d out of [0,100]", f.PriceCents)
	}

	l.mu.Lock()
	pos, ok := l.positions[f.MarketID]
	if !ok {
		pos = &domain.Position{MarketID: f.MarketID}
		l.positions[f.MarketID] = pos
	}
	switch f.Side {
	case domain.SideYes:
		pos.YesQty += f.Size
		pos.YesCostCents += f.CostCents()
	case domain.SideNo:
		pos.NoQty += f.Size
		pos.NoCostCents += f.CostCents()
	default:
		l.mu.Unlock()
		return 0, fmt.Errorf("ledger: unknown side %q", f.Side)
	}
	pos.UpdatedAt = f.FilledAt

	delta := l.recognizeLockedLocked(f.MarketID, pos)
	l.dailyPnLCents += delta
	l.mu.Unlock()

	if l.fills != nil {
		if err := l.fills.Insert(ctx, f); err != nil {
			// The in-memory state is authoritative; a journal failure is
			// logged, not propagated into the trading path.
			l.logger.WarnContext(ctx, "fill journal insert failed",
				slog.String("fill_id", f.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	l.logger.InfoContext(ctx, "fill recorded",
		slog.String("market", f.MarketID),
		slog.String("venue", string(f.Venue)),
		slog.String("side", string(f.Side)),
		slog.Int64("price_cents", f.PriceCents),
		slog.Int64("size", f.Size),
		slog.Int64("realized_delta_cents", delta),
	)
	return delta, nil
}

// recognizeLockedLocked recomputes the locked profit for the market and
// returns the not-yet-recognized portion. Caller holds l.mu.
func (l *Ledger) recognizeLockedLocked(marketID string, pos *domain.Position) int64 {
	locked := pos.LockedQty()
	if locked == 0 {
		return 0
	}
	// Prorated cost of the locked portion. Cost is rounded up so profit is
	// never overstated by integer division.
	cost := ceilDiv(pos.YesCostCents*locked, pos.YesQty) + ceilDiv(pos.NoCostCents*locked, pos.NoQty)
	total := locked*100 - cost
	delta := total - l.lockedRealized[marketID]
	l.lockedRealized[marketID] = total
	return delta
}

func ceilDiv(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// Settle realizes a resolved market: the winning side pays 100 cents per
// contract, the losing side nothing. The position is removed and the
// remaining (not yet recognized) P&L lands in the daily total. The returned
// value is the settlement delta, which can be negative.
func (l *Ledger) Settle(ctx context.Context, marketID string, winner domain.Side) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[marketID]
	if !ok {
		return 0, fmt.Errorf("ledger: settle %s: %w", marketID, domain.ErrNotFound)
	}
	var payout int64
	if winner == domain.SideYes {
		payout = pos.YesQty * 100
	} else {
		payout = pos.NoQty * 100
	}
	total := payout - pos.YesCostCents - pos.NoCostCents
	delta := total - l.lockedRealized[marketID]
	l.dailyPnLCents += delta
	delete(l.positions, marketID)
	delete(l.lockedRealized, marketID)

	l.logger.InfoContext(ctx, "market settled",
		slog.String("market", marketID),
		slog.String("winner", string(winner)),
		slog.Int64("settlement_delta_cents", delta),
	)
	return delta, nil
}

// DailyPnL returns the realized P&L in cents since the last daily reset.
func (l *Ledger) DailyPnL() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dailyPnLCents
}

// ResetDaily zeroes the daily realized P&L at the configured rollover
// boundary. Open positions carry over.
func (l *Ledger) ResetDaily() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dailyPnLCents = 0
	l.dayStart = l.now().UTC().Truncate(24 * time.Hour)
}

// DayStart returns the start of the current accounting day (UTC).
func (l *Ledger) DayStart() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dayStart
}

// Position returns a copy of the market's position.
func (l *Ledger) Position(marketID string) (domain.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[marketID]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// Positions returns copies of all open positions.
func (l *Ledger) Positions() []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	return out
}

// OpenByMarket returns the open contract count for one market.
func (l *Ledger) OpenByMarket(marketID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pos, ok := l.positions[marketID]; ok {
		return pos.OpenQty()
	}
	return 0
}

// TotalOpen returns the open contract count across all markets.
func (l *Ledger) TotalOpen() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total int64
	for _, p := range l.positions {
		total += p.OpenQty()
	}
	return total
}
