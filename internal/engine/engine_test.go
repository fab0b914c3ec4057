package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/arbot/internal/domain"
	"github.com/quantfold/arbot/internal/ledger"
	"github.com/quantfold/arbot/internal/risk"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeBooks map[string]domain.BookPair

func (f fakeBooks) Read(marketID string) (domain.BookPair, bool) {
	pair, ok := f[marketID]
	return pair, ok
}

type fakeMarkets map[string]domain.MatchedMarket

func (f fakeMarkets) ByID(marketID string) (domain.MatchedMarket, bool) {
	mm, ok := f[marketID]
	return mm, ok
}

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []string
}

func (f *fakeAlerter) Alert(ctx context.Context, title, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, title)
}

// fakeTrader scripts one venue's order behavior.
type fakeTrader struct {
	mu                sync.Mutex
	status            domain.OrderStatus
	statusAfterCancel *domain.OrderStatus
	placeErr          error
	started           chan struct{} // signaled on PlaceOrder entry, if non-nil
	gate              chan struct{} // PlaceOrder blocks until closed, if non-nil
	cancelled         bool
	placed            int
}

func (f *fakeTrader) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderHandle, error) {
	f.mu.Lock()
	f.placed++
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return domain.OrderHandle{}, ctx.Err()
		}
	}
	if f.placeErr != nil {
		return domain.OrderHandle{}, f.placeErr
	}
	return domain.OrderHandle{OrderID: "order-" + string(req.Side)}, nil
}

func (f *fakeTrader) GetStatus(ctx context.Context, h domain.OrderHandle) (domain.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelled && f.statusAfterCancel != nil {
		return *f.statusAfterCancel, nil
	}
	return f.status, nil
}

func (f *fakeTrader) Cancel(ctx context.Context, h domain.OrderHandle) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = true
	return true, nil
}

func (f *fakeTrader) wasCancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

func filledTrader(size, price int64) *fakeTrader {
	return &fakeTrader{status: domain.OrderStatus{
		State:            domain.OrderFilled,
		FilledSize:       size,
		FilledPriceCents: price,
	}}
}

func testOpp() domain.Opportunity {
	return domain.Opportunity{
		ID:       "opp1",
		MarketID: "m1",
		LegA: domain.Leg{
			Venue: domain.VenueKalshi, Side: domain.SideYes, PriceCents: 45, FeeCents: 1,
		},
		LegB: domain.Leg{
			Venue: domain.VenuePolymarket, Side: domain.SideNo, PriceCents: 50, FeeCents: 1,
		},
		MatchedSize:         80,
		NetPerContractCents: 3,
		KalshiVersion:       1,
		PolymarketVersion:   1,
		DetectedAt:          time.Now(),
	}
}

func testBooks() fakeBooks {
	return fakeBooks{"m1": domain.BookPair{
		Kalshi: domain.BookTop{
			Venue: domain.VenueKalshi, MarketID: "m1", Version: 1,
			YesAskCents: 45, YesAskSize: 100, NoAskCents: 60, NoAskSize: 100,
		},
		Polymarket: domain.BookTop{
			Venue: domain.VenuePolymarket, MarketID: "m1", Version: 1,
			YesAskCents: 60, YesAskSize: 100, NoAskCents: 50, NoAskSize: 80,
		},
	}}
}

func testMarkets() fakeMarkets {
	return fakeMarkets{"m1": domain.MatchedMarket{
		ID: "m1", KalshiTicker: "FED-26SEP", PolymarketID: "0xabc",
	}}
}

type testRig struct {
	engine  *Engine
	ledger  *ledger.Ledger
	breaker *risk.Breaker
	alerter *fakeAlerter
	kalshi  *fakeTrader
	poly    *fakeTrader
}

func newRig(t *testing.T, cfg Config, kalshi, poly *fakeTrader) *testRig {
	t.Helper()
	led := ledger.New(nil, testLogger)
	breaker := risk.New(risk.Limits{Cooldown: time.Minute}, led, testLogger, nil)
	alerter := &fakeAlerter{}
	trading := map[domain.Venue]domain.VenueTrading{
		domain.VenueKalshi:     kalshi,
		domain.VenuePolymarket: poly,
	}
	eng := New(cfg, testBooks(), testMarkets(), breaker, led, trading, nil, nil, alerter, nil, testLogger)
	return &testRig{engine: eng, ledger: led, breaker: breaker, alerter: alerter, kalshi: kalshi, poly: poly}
}

func TestAttemptDryRun(t *testing.T) {
	rig := newRig(t, Config{DryRun: true, ExecTimeout: time.Second}, &fakeTrader{}, &fakeTrader{})

	res, err := rig.engine.Attempt(context.Background(), testOpp())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeExecuted, res.Outcome)
	require.Len(t, res.Fills, 2)
	assert.False(t, res.Exposed)

	// YES 80@45 + 80 fee and NO 80@50 + 80 fee lock 240 cents.
	assert.Equal(t, int64(240), rig.ledger.DailyPnL())
	assert.Equal(t, int64(160), rig.ledger.OpenByMarket("m1"))

	// Dry run must never touch the venues.
	assert.Zero(t, rig.kalshi.placed)
	assert.Zero(t, rig.poly.placed)
}

func TestAttemptStaleBook(t *testing.T) {
	rig := newRig(t, Config{DryRun: true, ExecTimeout: time.Second}, &fakeTrader{}, &fakeTrader{})

	t.Run("price moved above captured", func(t *testing.T) {
		opp := testOpp()
		opp.LegA.PriceCents = 44 // live ask is 45
		res, err := rig.engine.Attempt(context.Background(), opp)
		assert.ErrorIs(t, err, domain.ErrStaleSnapshot)
		assert.Equal(t, domain.OutcomeStale, res.Outcome)
		assert.Zero(t, rig.ledger.DailyPnL())
	})

	t.Run("size no longer covers", func(t *testing.T) {
		opp := testOpp()
		opp.MatchedSize = 200 // poly NO ask size is 80
		res, err := rig.engine.Attempt(context.Background(), opp)
		assert.ErrorIs(t, err, domain.ErrStaleSnapshot)
		assert.Equal(t, domain.OutcomeStale, res.Outcome)
	})

	t.Run("unknown market", func(t *testing.T) {
		opp := testOpp()
		opp.MarketID = "gone"
		_, err := rig.engine.Attempt(context.Background(), opp)
		assert.ErrorIs(t, err, domain.ErrStaleSnapshot)
	})
}

func TestAttemptHalted(t *testing.T) {
	rig := newRig(t, Config{DryRun: true, ExecTimeout: time.Second}, &fakeTrader{}, &fakeTrader{})
	rig.breaker.Trip("manual")

	res, err := rig.engine.Attempt(context.Background(), testOpp())
	assert.ErrorIs(t, err, domain.ErrHalted)
	assert.Equal(t, domain.OutcomeHalted, res.Outcome)
	assert.Empty(t, res.Fills)
}

func TestAttemptSingleFlight(t *testing.T) {
	kalshi := filledTrader(80, 45)
	kalshi.started = make(chan struct{}, 1)
	kalshi.gate = make(chan struct{})
	poly := filledTrader(80, 50)
	poly.gate = kalshi.gate

	rig := newRig(t, Config{ExecTimeout: 5 * time.Second, PollInterval: 5 * time.Millisecond}, kalshi, poly)

	done := make(chan domain.ExecutionResult, 1)
	go func() {
		res, _ := rig.engine.Attempt(context.Background(), testOpp())
		done <- res
	}()

	// Wait until the first attempt is inside order placement, then race a
	// second attempt on the same market.
	<-kalshi.started
	res2, err := rig.engine.Attempt(context.Background(), testOpp())
	assert.ErrorIs(t, err, domain.ErrAlreadyInFlight)
	assert.Equal(t, domain.OutcomeAlreadyInFlight, res2.Outcome)

	close(kalshi.gate)
	res1 := <-done
	assert.Equal(t, domain.OutcomeExecuted, res1.Outcome)
	assert.Len(t, res1.Fills, 2)

	// Claim released after the attempt finishes.
	assert.Zero(t, rig.engine.InFlight().Len())
}

func TestAttemptPartialFill(t *testing.T) {
	kalshi := filledTrader(80, 45)
	poly := &fakeTrader{status: domain.OrderStatus{State: domain.OrderCancelled}}

	rig := newRig(t, Config{ExecTimeout: time.Second, PollInterval: 5 * time.Millisecond}, kalshi, poly)

	res, err := rig.engine.Attempt(context.Background(), testOpp())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomePartialFill, res.Outcome)
	assert.True(t, res.Exposed)
	require.Len(t, res.Fills, 1)
	assert.Equal(t, domain.VenueKalshi, res.Fills[0].Venue)

	// One-sided position, nothing realized.
	assert.Zero(t, rig.ledger.DailyPnL())
	assert.Equal(t, int64(80), rig.ledger.OpenByMarket("m1"))

	rig.alerter.mu.Lock()
	defer rig.alerter.mu.Unlock()
	require.Len(t, rig.alerter.alerts, 1)
	assert.Equal(t, "one-sided exposure", rig.alerter.alerts[0])
}

func TestAttemptNoFill(t *testing.T) {
	kalshi := &fakeTrader{status: domain.OrderStatus{State: domain.OrderCancelled}}
	poly := &fakeTrader{status: domain.OrderStatus{State: domain.OrderRejected}}

	rig := newRig(t, Config{ExecTimeout: time.Second, PollInterval: 5 * time.Millisecond}, kalshi, poly)

	res, err := rig.engine.Attempt(context.Background(), testOpp())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNoFill, res.Outcome)
	assert.Empty(t, res.Fills)
	assert.Zero(t, rig.ledger.TotalOpen())
}

func TestAttemptCancelConfirmRecoversFill(t *testing.T) {
	// The Kalshi leg stays pending past the deadline; the cancel races a
	// partial fill, which the confirming status read must pick up.
	kalshi := &fakeTrader{
		status:            domain.OrderStatus{State: domain.OrderPending},
		statusAfterCancel: &domain.OrderStatus{State: domain.OrderPartiallyFilled, FilledSize: 30, FilledPriceCents: 45},
	}
	poly := filledTrader(80, 50)

	rig := newRig(t, Config{ExecTimeout: 50 * time.Millisecond, PollInterval: 5 * time.Millisecond}, kalshi, poly)

	res, err := rig.engine.Attempt(context.Background(), testOpp())
	require.NoError(t, err)
	assert.True(t, kalshi.wasCancelled())
	require.Len(t, res.Fills, 2)

	fill := res.Fills[0]
	if fill.Venue != domain.VenueKalshi {
		fill = res.Fills[1]
	}
	assert.Equal(t, int64(30), fill.Size)
	assert.Equal(t, int64(45), fill.PriceCents)
}

func TestAttemptFillPriceFallsBackToLegPrice(t *testing.T) {
	// Venue reports a fill without a price; the captured leg price is used.
	kalshi := filledTrader(80, 0)
	poly := filledTrader(80, 0)

	rig := newRig(t, Config{ExecTimeout: time.Second, PollInterval: 5 * time.Millisecond}, kalshi, poly)

	res, err := rig.engine.Attempt(context.Background(), testOpp())
	require.NoError(t, err)
	require.Len(t, res.Fills, 2)
	for _, f := range res.Fills {
		leg := testOpp().LegFor(f.Venue)
		assert.Equal(t, leg.PriceCents, f.PriceCents)
	}
}
