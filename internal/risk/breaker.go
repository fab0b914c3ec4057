// Package risk enforces hard execution limits. The circuit breaker sits in
// front of the execution engine: while it is halted no new execution starts,
// though detection and feed processing keep running.
package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quantfold/arbot/internal/domain"
)

// State is the breaker state.
type State string

const (
	StateArmed  State = "armed"
	StateHalted State = "halted"
)

// LedgerView is the read side of the ledger the breaker consults. Position
// counts and P&L come from confirmed fills only.
type LedgerView interface {
	DailyPnL() int64
	OpenByMarket(marketID string) int64
	TotalOpen() int64
}

// Limits are the trip thresholds. Values of zero disable the corresponding
// check.
type Limits struct {
	MaxPositionPerMarket int64
	MaxTotalPosition     int64
	MaxDailyLossCents    int64 // positive magnitude; trips when daily P&L <= -MaxDailyLossCents
	MaxConsecutiveErrors int
	Cooldown             time.Duration
}

// Breaker is a two-state machine: armed or halted until a deadline. It
// re-arms automatically once the cooldown deadline passes, or earlier via
// Rearm.
type Breaker struct {
	mu        sync.Mutex
	state     State
	reason    string
	until     time.Time
	errStreak int
	limits    Limits

	ledger LedgerView
	logger *slog.Logger
	now    func() time.Time
	onTrip func(reason string)
}

// New creates an armed Breaker. onTrip may be nil.
func New(limits Limits, ledger LedgerView, logger *slog.Logger, onTrip func(reason string)) *Breaker {
	return &Breaker{
		state:  StateArmed,
		limits: limits,
		ledger: ledger,
		logger: logger.With(slog.String("component", "breaker")),
		now:    time.Now,
		onTrip: onTrip,
	}
}

// SetNow overrides the clock, for tests.
func (b *Breaker) SetNow(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// UpdateLimits swaps the trip thresholds. Used by config hot reload.
func (b *Breaker) UpdateLimits(limits Limits) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.limits = limits
}

// CanExecute reports whether an execution adding addSize contracts to
// marketID may proceed. It trips the breaker and returns ErrHalted when a
// limit would be breached.
func (b *Breaker) CanExecute(marketID string, addSize int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeRearmLocked()
	if b.state == StateHalted {
		return fmt.Errorf("risk: %s until %s: %w", b.reason, b.until.Format(time.RFC3339), domain.ErrHalted)
	}
	if b.limits.MaxDailyLossCents > 0 && b.ledger.DailyPnL() <= -b.limits.MaxDailyLossCents {
		b.tripLocked(fmt.Sprintf("daily loss floor reached (%d cents)", b.ledger.DailyPnL()))
		return fmt.Errorf("risk: daily loss floor: %w", domain.ErrHalted)
	}
	if b.limits.MaxPositionPerMarket > 0 && b.ledger.OpenByMarket(marketID)+addSize > b.limits.MaxPositionPerMarket {
		b.tripLocked(fmt.Sprintf("per-market position cap on %s", marketID))
		return fmt.Errorf("risk: market position cap: %w", domain.ErrHalted)
	}
	if b.limits.MaxTotalPosition > 0 && b.ledger.TotalOpen()+addSize > b.limits.MaxTotalPosition {
		b.tripLocked("total position cap")
		return fmt.Errorf("risk: total position cap: %w", domain.ErrHalted)
	}
	return nil
}

// CheckAfterFill re-evaluates the loss floor once the ledger has absorbed new
// fills. Called by the engine after settlement or fill accounting.
func (b *Breaker) CheckAfterFill() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalted {
		return
	}
	if b.limits.MaxDailyLossCents > 0 && b.ledger.DailyPnL() <= -b.limits.MaxDailyLossCents {
		b.tripLocked(fmt.Sprintf("daily loss floor reached (%d cents)", b.ledger.DailyPnL()))
	}
}

// RecordError counts one consecutive execution error and trips the breaker
// when the streak hits the limit.
func (b *Breaker) RecordError() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errStreak++
	if b.limits.MaxConsecutiveErrors > 0 && b.errStreak >= b.limits.MaxConsecutiveErrors {
		b.tripLocked(fmt.Sprintf("%d consecutive execution errors", b.errStreak))
	}
}

// RecordSuccess resets the consecutive error streak.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errStreak = 0
}

// Trip halts execution with an operator-supplied reason.
func (b *Breaker) Trip(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tripLocked(reason)
}

// Rearm clears a halt before the cooldown deadline. The error streak resets.
func (b *Breaker) Rearm() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rearmLocked()
}

// Status returns the current state, trip reason and halt deadline.
func (b *Breaker) Status() (State, string, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeRearmLocked()
	return b.state, b.reason, b.until
}

func (b *Breaker) tripLocked(reason string) {
	if b.state == StateHalted {
		return
	}
	b.state = StateHalted
	b.reason = reason
	b.until = b.now().Add(b.limits.Cooldown)
	b.logger.Warn("breaker tripped",
		slog.String("reason", reason),
		slog.Time("until", b.until),
	)
	if b.onTrip != nil {
		b.onTrip(reason)
	}
}

func (b *Breaker) maybeRearmLocked() {
	if b.state == StateHalted && !b.now().Before(b.until) {
		b.rearmLocked()
	}
}

func (b *Breaker) rearmLocked() {
	if b.state == StateArmed {
		return
	}
	b.state = StateArmed
	b.reason = ""
	b.until = time.Time{}
	b.errStreak = 0
	b.logger.Info("breaker rearmed")
}
