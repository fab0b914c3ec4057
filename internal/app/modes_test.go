package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/arbot/internal/book"
	"github.com/quantfold/arbot/internal/domain"
	"github.com/quantfold/arbot/internal/ledger"
	"github.com/quantfold/arbot/internal/risk"
	"github.com/quantfold/arbot/internal/venue/kalshi"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func testApp() *App {
	return &App{logger: testLogger}
}

// fakeResolution serves canned settlement lookups keyed by ticker.
type fakeResolution struct {
	markets map[string]kalshi.Market
	err     error
}

func (f *fakeResolution) GetMarket(_ context.Context, ticker string) (kalshi.Market, error) {
	if f.err != nil {
		return kalshi.Market{}, f.err
	}
	m, ok := f.markets[ticker]
	if !ok {
		return kalshi.Market{}, errors.New("no such market")
	}
	return m, nil
}

// fakeIndex maps canonical market IDs back to matched pairs.
type fakeIndex struct {
	pairs map[string]domain.MatchedMarket
}

func (f *fakeIndex) ByID(id string) (domain.MatchedMarket, bool) {
	mm, ok := f.pairs[id]
	return mm, ok
}

func recordPair(t *testing.T, led *ledger.Ledger, market string, yesQty, yesPrice, noQty, noPrice int64) {
	t.Helper()
	_, err := led.RecordFill(context.Background(), domain.Fill{
		ID: market + "-yes", MarketID: market, Venue: domain.VenueKalshi,
		Side: domain.SideYes, PriceCents: yesPrice, Size: yesQty, FilledAt: time.Now(),
	})
	require.NoError(t, err)
	_, err = led.RecordFill(context.Background(), domain.Fill{
		ID: market + "-no", MarketID: market, Venue: domain.VenuePolymarket,
		Side: domain.SideNo, PriceCents: noPrice, Size: noQty, FilledAt: time.Now(),
	})
	require.NoError(t, err)
}

func TestSettleResolvedPaysOutAndPrunes(t *testing.T) {
	led := ledger.New(nil, testLogger)
	books := book.NewStore(nil)
	breaker := risk.New(risk.Limits{}, led, testLogger, func(string) {})

	// Imbalanced pair: 10 YES at 45, 8 NO at 50. The 8 locked pairs realize
	// ceil(450*8/10)+400 = 760 cost against 800 payout, 40 cents up front.
	recordPair(t, led, "mkt-1", 10, 45, 8, 50)
	require.Equal(t, int64(40), led.DailyPnL())

	books.Update(domain.BookTop{
		Venue: domain.VenueKalshi, MarketID: "mkt-1",
		YesAskCents: 45, YesAskSize: 100, NoAskCents: 56, NoAskSize: 100,
		Version: 1, At: time.Now(),
	})

	src := &fakeResolution{markets: map[string]kalshi.Market{
		"TICK-1": {Ticker: "TICK-1", Status: "settled", Result: "yes"},
	}}
	idx := &fakeIndex{pairs: map[string]domain.MatchedMarket{
		"mkt-1": {ID: "mkt-1", KalshiTicker: "TICK-1"},
	}}

	testApp().settleResolved(context.Background(), src, idx, led, books, breaker)

	// YES won: payout 1000 against 850 total cost is 150 realized, of which
	// 40 was recognized at lock time.
	assert.Equal(t, int64(150), led.DailyPnL())
	_, open := led.Position("mkt-1")
	assert.False(t, open, "settled position should be removed")
	assert.NotContains(t, books.Markets(), "mkt-1", "settled market's book should be forgotten")

	state, _, _ := breaker.Status()
	assert.Equal(t, risk.StateArmed, state)
}

func TestSettleResolvedSkipsOpenAndUnknown(t *testing.T) {
	led := ledger.New(nil, testLogger)
	books := book.NewStore(nil)
	breaker := risk.New(risk.Limits{}, led, testLogger, func(string) {})

	recordPair(t, led, "mkt-open", 5, 45, 5, 50)
	recordPair(t, led, "mkt-noresult", 5, 45, 5, 50)
	recordPair(t, led, "mkt-unmatched", 5, 45, 5, 50)

	src := &fakeResolution{markets: map[string]kalshi.Market{
		"TICK-OPEN":     {Status: "open"},
		"TICK-NORESULT": {Status: "settled", Result: ""},
	}}
	idx := &fakeIndex{pairs: map[string]domain.MatchedMarket{
		"mkt-open":     {ID: "mkt-open", KalshiTicker: "TICK-OPEN"},
		"mkt-noresult": {ID: "mkt-noresult", KalshiTicker: "TICK-NORESULT"},
	}}

	before := led.DailyPnL()
	testApp().settleResolved(context.Background(), src, idx, led, books, breaker)

	assert.Equal(t, before, led.DailyPnL())
	assert.Len(t, led.Positions(), 3, "no position should settle")
}

func TestSettleResolvedToleratesLookupErrors(t *testing.T) {
	led := ledger.New(nil, testLogger)
	books := book.NewStore(nil)
	breaker := risk.New(risk.Limits{}, led, testLogger, func(string) {})

	recordPair(t, led, "mkt-err", 5, 45, 5, 50)

	src := &fakeResolution{err: errors.New("venue unavailable")}
	idx := &fakeIndex{pairs: map[string]domain.MatchedMarket{
		"mkt-err": {ID: "mkt-err", KalshiTicker: "TICK-ERR"},
	}}

	testApp().settleResolved(context.Background(), src, idx, led, books, breaker)

	_, open := led.Position("mkt-err")
	assert.True(t, open, "position must survive a failed status lookup")
}

func TestConsumeOpportunitiesDoesNotBlockOnSlowAttempt(t *testing.T) {
	led := ledger.New(nil, testLogger)
	breaker := risk.New(risk.Limits{}, led, testLogger, func(string) {})
	board := newStatusBoard(breaker, led)

	opps := make(chan domain.Opportunity, 2)
	started := make(chan string, 2)
	gate := make(chan struct{})

	attempt := func(_ context.Context, opp domain.Opportunity) {
		started <- opp.MarketID
		<-gate
	}

	done := make(chan error, 1)
	go func() {
		done <- consumeOpportunities(context.Background(), opps, attempt, board)
	}()

	opps <- domain.Opportunity{MarketID: "mkt-a"}
	opps <- domain.Opportunity{MarketID: "mkt-b"}

	// Both attempts must be running before either finishes: the first is
	// still gated when the second starts.
	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-started:
			got[id] = true
		case <-time.After(time.Second):
			t.Fatal("attempt did not start while another was in flight")
		}
	}
	assert.True(t, got["mkt-a"] && got["mkt-b"])

	close(gate)
	close(opps)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not drain after channel close")
	}
	assert.Equal(t, int64(2), board.seen.Load())
}

func TestConsumeOpportunitiesStopsOnCancel(t *testing.T) {
	led := ledger.New(nil, testLogger)
	breaker := risk.New(risk.Limits{}, led, testLogger, func(string) {})
	board := newStatusBoard(breaker, led)

	ctx, cancel := context.WithCancel(context.Background())
	opps := make(chan domain.Opportunity)

	done := make(chan error, 1)
	go func() {
		done <- consumeOpportunities(ctx, opps, func(context.Context, domain.Opportunity) {}, board)
	}()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop on cancel")
	}
}
