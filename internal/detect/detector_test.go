package detect

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/arbot/internal/book"
	"github.com/quantfold/arbot/internal/domain"
	"github.com/quantfold/arbot/internal/fees"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type staticMarkets []domain.MatchedMarket

func (s staticMarkets) All() []domain.MatchedMarket { return s }

func testFees(t *testing.T) *fees.Model {
	t.Helper()
	m, err := fees.New(map[domain.Venue]fees.Schedule{
		domain.VenueKalshi:     {Convex: true, K: 7},
		domain.VenuePolymarket: {FlatCents: 0},
	})
	require.NoError(t, err)
	return m
}

func newTestDetector(t *testing.T, minNet int64) (*Detector, *book.Store) {
	t.Helper()
	books := book.NewStore(nil)
	d := New(Config{MinNetCents: minNet, SweepInterval: time.Second}, books, testFees(t), staticMarkets(nil), nil, nil, nil, testLogger)
	return d, books
}

func setBooks(t *testing.T, books *book.Store, kalshi, poly domain.BookTop) {
	t.Helper()
	require.True(t, books.Update(kalshi))
	require.True(t, books.Update(poly))
}

func kalshiTop(market string, version, yesAsk, yesSize, noAsk, noSize int64) domain.BookTop {
	return domain.BookTop{
		Venue: domain.VenueKalshi, MarketID: market, Version: version,
		YesAskCents: yesAsk, YesAskSize: yesSize,
		NoAskCents: noAsk, NoAskSize: noSize,
		At: time.Now(),
	}
}

func polyTop(market string, version, yesAsk, yesSize, noAsk, noSize int64) domain.BookTop {
	top := kalshiTop(market, version, yesAsk, yesSize, noAsk, noSize)
	top.Venue = domain.VenuePolymarket
	return top
}

func TestEvaluate(t *testing.T) {
	t.Run("profitable cross-venue pair", func(t *testing.T) {
		d, books := newTestDetector(t, 2)
		// YES on Kalshi at 45 (fee 2), NO on Polymarket at 50 (fee 0):
		// net = 100 - 45 - 50 - 2 = 3.
		setBooks(t, books,
			kalshiTop("m1", 7, 45, 100, 60, 100),
			polyTop("m1", 3, 60, 100, 50, 80),
		)

		opp, ok := d.Evaluate("m1")
		require.True(t, ok)
		assert.Equal(t, int64(3), opp.NetPerContractCents)
		assert.Equal(t, int64(80), opp.MatchedSize)
		assert.Equal(t, int64(240), opp.ExpectedProfitCents())
		assert.Equal(t, int64(7), opp.KalshiVersion)
		assert.Equal(t, int64(3), opp.PolymarketVersion)

		yes := opp.LegFor(domain.VenueKalshi)
		assert.Equal(t, domain.SideYes, yes.Side)
		assert.Equal(t, int64(45), yes.PriceCents)
		assert.Equal(t, int64(2), yes.FeeCents)

		no := opp.LegFor(domain.VenuePolymarket)
		assert.Equal(t, domain.SideNo, no.Side)
		assert.Equal(t, int64(50), no.PriceCents)
		assert.Equal(t, int64(0), no.FeeCents)
	})

	t.Run("fees erase a nominal edge", func(t *testing.T) {
		d, books := newTestDetector(t, 1)
		// 100 - 49 - 50 = 1 gross, but the Kalshi fee at 49 is 2.
		setBooks(t, books,
			kalshiTop("m1", 1, 49, 100, 90, 100),
			polyTop("m1", 1, 90, 100, 50, 100),
		)
		_, ok := d.Evaluate("m1")
		assert.False(t, ok)
	})

	t.Run("below threshold", func(t *testing.T) {
		d, books := newTestDetector(t, 5)
		setBooks(t, books,
			kalshiTop("m1", 1, 45, 100, 60, 100),
			polyTop("m1", 1, 60, 100, 50, 80),
		)
		_, ok := d.Evaluate("m1")
		assert.False(t, ok, "net 3 under min 5")
	})

	t.Run("picks the better venue combination", func(t *testing.T) {
		d, books := newTestDetector(t, 1)
		// YES on Kalshi + NO on Polymarket nets 3; the reverse combination
		// (YES on Polymarket at 40, NO on Kalshi at 52) nets 100-40-52-2=6.
		setBooks(t, books,
			kalshiTop("m1", 1, 45, 100, 52, 100),
			polyTop("m1", 1, 40, 100, 50, 100),
		)
		opp, ok := d.Evaluate("m1")
		require.True(t, ok)
		assert.Equal(t, domain.VenuePolymarket, opp.LegA.Venue)
		assert.Equal(t, int64(6), opp.NetPerContractCents)
	})

	t.Run("zero size on either leg disqualifies", func(t *testing.T) {
		d, books := newTestDetector(t, 1)
		setBooks(t, books,
			kalshiTop("m1", 1, 45, 0, 60, 0),
			polyTop("m1", 1, 40, 100, 50, 100),
		)
		_, ok := d.Evaluate("m1")
		assert.False(t, ok)
	})

	t.Run("missing venue yields nothing", func(t *testing.T) {
		d, books := newTestDetector(t, 1)
		require.True(t, books.Update(kalshiTop("m1", 1, 45, 100, 60, 100)))
		_, ok := d.Evaluate("m1")
		assert.False(t, ok)
	})
}

func TestOnUpdateEmits(t *testing.T) {
	d, books := newTestDetector(t, 2)
	setBooks(t, books,
		kalshiTop("m1", 1, 45, 100, 60, 100),
		polyTop("m1", 1, 60, 100, 50, 80),
	)

	d.OnUpdate(context.Background(), "m1")

	select {
	case opp := <-d.Opportunities():
		assert.Equal(t, "m1", opp.MarketID)
		assert.Equal(t, int64(3), opp.NetPerContractCents)
	default:
		t.Fatal("expected an emitted opportunity")
	}
}

func TestSweepEmitsLargestEdgeFirst(t *testing.T) {
	books := book.NewStore(nil)
	markets := staticMarkets{}
	for i, size := range []int64{40, 10, 80, 20, 70, 30, 60, 50} {
		id := fmt.Sprintf("m%d", i+1)
		markets = append(markets, domain.MatchedMarket{ID: id})
		setBooks(t, books,
			kalshiTop(id, 1, 45, size, 60, size),
			polyTop(id, 1, 60, size, 50, size),
		)
	}
	d := New(Config{MinNetCents: 2, SweepInterval: time.Second, Buffer: 16},
		books, testFees(t), markets, nil, nil, nil, testLogger)

	d.sweep(context.Background())

	profits := make([]int64, 0, len(markets))
	for range markets {
		select {
		case opp := <-d.Opportunities():
			profits = append(profits, opp.ExpectedProfitCents())
		default:
			t.Fatalf("expected %d emitted opportunities, got %d", len(markets), len(profits))
		}
	}
	// Net is 3c for every market, so ordering is by matched size.
	assert.Equal(t, []int64{240, 210, 180, 150, 120, 90, 60, 30}, profits)
}

func TestSetMinNetRaisesThreshold(t *testing.T) {
	d, books := newTestDetector(t, 2)
	setBooks(t, books,
		kalshiTop("m1", 1, 45, 100, 60, 100),
		polyTop("m1", 1, 60, 100, 50, 80),
	)

	d.SetMinNet(10)
	d.OnUpdate(context.Background(), "m1")

	select {
	case <-d.Opportunities():
		t.Fatal("3c net must not clear a 10c threshold")
	default:
	}
}

func TestEmitIsLossyUnderBackpressure(t *testing.T) {
	books := book.NewStore(nil)
	d := New(Config{MinNetCents: 1, SweepInterval: time.Second, Buffer: 1}, books, testFees(t), staticMarkets(nil), nil, nil, nil, testLogger)
	setBooks(t, books,
		kalshiTop("m1", 1, 45, 100, 60, 100),
		polyTop("m1", 1, 60, 100, 50, 80),
	)

	// Second emission must not block with a full buffer and no consumer.
	d.OnUpdate(context.Background(), "m1")
	d.OnUpdate(context.Background(), "m1")

	assert.Len(t, d.Opportunities(), 1)
}
