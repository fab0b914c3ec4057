package match

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/arbot/internal/domain"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeLister returns a fixed market listing.
type fakeLister struct {
	markets []domain.VenueMarket
	err     error
}

func (f *fakeLister) ListMarkets(ctx context.Context) ([]domain.VenueMarket, error) {
	return f.markets, f.err
}

func listing(v domain.Venue, nativeID, title string, expires time.Time) domain.VenueMarket {
	return domain.VenueMarket{Venue: v, NativeID: nativeID, Title: title, ExpiresAt: expires}
}

func newTestMatcher(kalshi, poly []domain.VenueMarket) *Matcher {
	return New(map[domain.Venue]domain.MarketLister{
		domain.VenueKalshi:     &fakeLister{markets: kalshi},
		domain.VenuePolymarket: &fakeLister{markets: poly},
	}, nil, time.Hour, testLogger)
}

func TestKey(t *testing.T) {
	expires := time.Date(2026, 9, 15, 23, 59, 0, 0, time.UTC)

	t.Run("cosmetic differences cancel out", func(t *testing.T) {
		a := Key("Fed hike: March?", expires)
		b := Key("fed   hike march", expires)
		assert.Equal(t, a, b)
		assert.Equal(t, "fed hike march|2026-09-15", a)
	})

	t.Run("expiry day separates otherwise equal titles", func(t *testing.T) {
		a := Key("BTC above 100k", expires)
		b := Key("BTC above 100k", expires.AddDate(0, 0, 1))
		assert.NotEqual(t, a, b)
	})

	t.Run("expiry is taken in UTC", func(t *testing.T) {
		est := time.FixedZone("EST", -5*3600)
		// 22:00 EST on the 15th is 03:00 UTC on the 16th.
		a := Key("BTC above 100k", time.Date(2026, 9, 15, 22, 0, 0, 0, est))
		b := Key("BTC above 100k", time.Date(2026, 9, 16, 3, 0, 0, 0, time.UTC))
		assert.Equal(t, a, b)
	})
}

func TestRefresh(t *testing.T) {
	expires := time.Date(2026, 9, 15, 12, 0, 0, 0, time.UTC)

	t.Run("one-to-one titles match", func(t *testing.T) {
		m := newTestMatcher(
			[]domain.VenueMarket{listing(domain.VenueKalshi, "FED-26SEP", "Fed hike in September?", expires)},
			[]domain.VenueMarket{listing(domain.VenuePolymarket, "0xabc", "Fed hike in September", expires)},
		)
		require.NoError(t, m.Refresh(context.Background()))

		all := m.All()
		require.Len(t, all, 1)
		mm := all[0]
		assert.Equal(t, "FED-26SEP", mm.KalshiTicker)
		assert.Equal(t, "0xabc", mm.PolymarketID)
		assert.Equal(t, 1.0, mm.Confidence)
		assert.NotEmpty(t, mm.ID)

		got, ok := m.ByID(mm.ID)
		require.True(t, ok)
		assert.Equal(t, mm.KalshiTicker, got.KalshiTicker)
	})

	t.Run("ambiguous keys fail closed", func(t *testing.T) {
		m := newTestMatcher(
			[]domain.VenueMarket{
				listing(domain.VenueKalshi, "FED-A", "Fed hike in September?", expires),
				listing(domain.VenueKalshi, "FED-B", "Fed hike in September", expires),
			},
			[]domain.VenueMarket{listing(domain.VenuePolymarket, "0xabc", "Fed hike in September", expires)},
		)
		require.NoError(t, m.Refresh(context.Background()))
		assert.Empty(t, m.All())

		key := Key("Fed hike in September", expires)
		_, err := m.Resolve(context.Background(), key)
		assert.ErrorIs(t, err, domain.ErrAmbiguousMatch)
	})

	t.Run("unmatched keys resolve to ErrNoMatch", func(t *testing.T) {
		m := newTestMatcher(nil, nil)
		require.NoError(t, m.Refresh(context.Background()))
		_, err := m.Resolve(context.Background(), "nothing|2026-09-15")
		assert.ErrorIs(t, err, domain.ErrNoMatch)
	})

	t.Run("stable IDs across refreshes", func(t *testing.T) {
		kalshi := []domain.VenueMarket{listing(domain.VenueKalshi, "FED-26SEP", "Fed hike in September?", expires)}
		poly := []domain.VenueMarket{listing(domain.VenuePolymarket, "0xabc", "Fed hike in September", expires)}

		m := newTestMatcher(kalshi, poly)
		require.NoError(t, m.Refresh(context.Background()))
		id1 := m.All()[0].ID

		m2 := newTestMatcher(kalshi, poly)
		require.NoError(t, m2.Refresh(context.Background()))
		assert.Equal(t, id1, m2.All()[0].ID)
	})
}

func TestMarketIDFor(t *testing.T) {
	expires := time.Date(2026, 9, 15, 12, 0, 0, 0, time.UTC)
	m := newTestMatcher(
		[]domain.VenueMarket{listing(domain.VenueKalshi, "FED-26SEP", "Fed hike in September?", expires)},
		[]domain.VenueMarket{listing(domain.VenuePolymarket, "0xabc", "Fed hike in September", expires)},
	)
	require.NoError(t, m.Refresh(context.Background()))
	want := m.All()[0].ID

	id, ok := m.MarketIDFor(domain.VenueKalshi, "FED-26SEP")
	require.True(t, ok)
	assert.Equal(t, want, id)

	id, ok = m.MarketIDFor(domain.VenuePolymarket, "0xabc")
	require.True(t, ok)
	assert.Equal(t, want, id)

	_, ok = m.MarketIDFor(domain.VenueKalshi, "UNKNOWN")
	assert.False(t, ok)
}
