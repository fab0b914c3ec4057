package risk

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/arbot/internal/domain"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeLedger is a settable LedgerView.
type fakeLedger struct {
	pnl      int64
	byMarket map[string]int64
	total    int64
}

func (f *fakeLedger) DailyPnL() int64                  { return f.pnl }
func (f *fakeLedger) OpenByMarket(marketID string) int64 { return f.byMarket[marketID] }
func (f *fakeLedger) TotalOpen() int64                 { return f.total }

func testLimits() Limits {
	return Limits{
		MaxPositionPerMarket: 500,
		MaxTotalPosition:     2000,
		MaxDailyLossCents:    5000,
		MaxConsecutiveErrors: 3,
		Cooldown:             5 * time.Minute,
	}
}

func TestCanExecute(t *testing.T) {
	t.Run("armed under limits", func(t *testing.T) {
		b := New(testLimits(), &fakeLedger{}, testLogger, nil)
		assert.NoError(t, b.CanExecute("m1", 100))
	})

	t.Run("daily loss floor trips", func(t *testing.T) {
		led := &fakeLedger{pnl: -5000}
		b := New(testLimits(), led, testLogger, nil)
		err := b.CanExecute("m1", 10)
		assert.ErrorIs(t, err, domain.ErrHalted)
		state, reason, _ := b.Status()
		assert.Equal(t, StateHalted, state)
		assert.Contains(t, reason, "daily loss floor")
	})

	t.Run("per-market cap trips", func(t *testing.T) {
		led := &fakeLedger{byMarket: map[string]int64{"m1": 450}}
		b := New(testLimits(), led, testLogger, nil)
		assert.ErrorIs(t, b.CanExecute("m1", 160), domain.ErrHalted)
	})

	t.Run("per-market cap allows exact fit", func(t *testing.T) {
		led := &fakeLedger{byMarket: map[string]int64{"m1": 450}}
		b := New(testLimits(), led, testLogger, nil)
		assert.NoError(t, b.CanExecute("m1", 50))
	})

	t.Run("total cap trips", func(t *testing.T) {
		led := &fakeLedger{total: 1950}
		b := New(testLimits(), led, testLogger, nil)
		assert.ErrorIs(t, b.CanExecute("m1", 100), domain.ErrHalted)
	})

	t.Run("zero limits disable checks", func(t *testing.T) {
		led := &fakeLedger{pnl: -1 << 40, total: 1 << 40}
		b := New(Limits{Cooldown: time.Minute}, led, testLogger, nil)
		assert.NoError(t, b.CanExecute("m1", 1<<30))
	})

	t.Run("halted rejects everything", func(t *testing.T) {
		b := New(testLimits(), &fakeLedger{}, testLogger, nil)
		b.Trip("manual")
		assert.ErrorIs(t, b.CanExecute("m1", 1), domain.ErrHalted)
	})
}

func TestErrorStreak(t *testing.T) {
	t.Run("trips at the limit", func(t *testing.T) {
		var tripped string
		b := New(testLimits(), &fakeLedger{}, testLogger, func(reason string) { tripped = reason })

		b.RecordError()
		b.RecordError()
		state, _, _ := b.Status()
		assert.Equal(t, StateArmed, state)

		b.RecordError()
		state, _, _ = b.Status()
		assert.Equal(t, StateHalted, state)
		assert.Contains(t, tripped, "consecutive execution errors")
	})

	t.Run("success resets the streak", func(t *testing.T) {
		b := New(testLimits(), &fakeLedger{}, testLogger, nil)
		b.RecordError()
		b.RecordError()
		b.RecordSuccess()
		b.RecordError()
		b.RecordError()
		state, _, _ := b.Status()
		assert.Equal(t, StateArmed, state)
	})
}

func TestCooldownRearm(t *testing.T) {
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	now := base
	b := New(testLimits(), &fakeLedger{}, testLogger, nil)
	b.SetNow(func() time.Time { return now })

	b.Trip("manual")
	state, _, until := b.Status()
	require.Equal(t, StateHalted, state)
	assert.Equal(t, base.Add(5*time.Minute), until)

	now = base.Add(4 * time.Minute)
	state, _, _ = b.Status()
	assert.Equal(t, StateHalted, state, "still cooling down")

	now = base.Add(5 * time.Minute)
	state, _, _ = b.Status()
	assert.Equal(t, StateArmed, state, "auto rearm after cooldown")
	assert.NoError(t, b.CanExecute("m1", 1))
}

func TestManualRearm(t *testing.T) {
	b := New(testLimits(), &fakeLedger{}, testLogger, nil)
	b.Trip("manual")
	b.Rearm()
	state, reason, until := b.Status()
	assert.Equal(t, StateArmed, state)
	assert.Empty(t, reason)
	assert.True(t, until.IsZero())
}

func TestCheckAfterFill(t *testing.T) {
	led := &fakeLedger{pnl: 0}
	b := New(testLimits(), led, testLogger, nil)

	b.CheckAfterFill()
	state, _, _ := b.Status()
	assert.Equal(t, StateArmed, state)

	led.pnl = -6000
	b.CheckAfterFill()
	state, _, _ = b.Status()
	assert.Equal(t, StateHalted, state)
}

func TestOnTripFiresOnce(t *testing.T) {
	count := 0
	b := New(testLimits(), &fakeLedger{}, testLogger, func(string) { count++ })
	b.Trip("first")
	b.Trip("second")
	assert.Equal(t, 1, count, "already halted, no second trip")
}
