package match

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quantfold/arbot/internal/domain"
)

// Matcher resolves cross-venue market pairs. It periodically lists every
// venue's active markets, normalizes titles into canonical keys, and keeps
// only keys that resolve to exactly one market on each venue. Resolutions
// are valid for one TTL epoch and are shared through the match cache.
type Matcher struct {
	mu        sync.RWMutex
	byKey     map[string]domain.MatchedMarket
	byID      map[string]domain.MatchedMarket
	byNative  map[domain.Venue]map[string]string
	ambiguous map[string]struct{}

	listers map[domain.Venue]domain.MarketLister
	cache   domain.MatchCache // optional
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Matcher. cache may be nil.
func New(listers map[domain.Venue]domain.MarketLister, cache domain.MatchCache, ttl time.Duration, logger *slog.Logger) *Matcher {
	return &Matcher{
		byKey:     make(map[string]domain.MatchedMarket),
		byID:      make(map[string]domain.MatchedMarket),
		byNative:  make(map[domain.Venue]map[string]string),
		ambiguous: make(map[string]struct{}),
		listers:   listers,
		cache:     cache,
		ttl:       ttl,
		logger:    logger.With(slog.String("component", "matcher")),
		now:       time.Now,
	}
}

// Refresh rebuilds the match table from fresh venue listings. Keys that
// appear more than once on either venue are recorded as ambiguous and never
// matched.
func (m *Matcher) Refresh(ctx context.Context) error {
	perVenue := make(map[domain.Venue]map[string][]domain.VenueMarket, len(m.listers))
	for v, lister := range m.listers {
		markets, err := lister.ListMarkets(ctx)
		if err != nil {
			return fmt.Errorf("match: list %s markets: %w", v, err)
		}
		keyed := make(map[string][]domain.VenueMarket, len(markets))
		for _, vm := range markets {
			k := Key(vm.Title, vm.ExpiresAt)
			keyed[k] = append(keyed[k], vm)
		}
		perVenue[v] = keyed
	}

	byKey := make(map[string]domain.MatchedMarket)
	byID := make(map[string]domain.MatchedMarket)
	byNative := map[domain.Venue]map[string]string{
		domain.VenueKalshi:     make(map[string]string),
		domain.VenuePolymarket: make(map[string]string),
	}
	ambiguous := make(map[string]struct{})
	resolvedAt := m.now()

	kalshi := perVenue[domain.VenueKalshi]
	poly := perVenue[domain.VenuePolymarket]
	for k, ks := range kalshi {
		ps, ok := poly[k]
		if !ok {
			continue
		}
		if len(ks) > 1 || len(ps) > 1 {
			ambiguous[k] = struct{}{}
			m.logger.WarnContext(ctx, "ambiguous market key skipped",
				slog.String("key", k),
				slog.Int("kalshi_candidates", len(ks)),
				slog.Int("polymarket_candidates", len(ps)),
			)
			continue
		}
		mm := domain.MatchedMarket{
			ID:           marketID(k),
			KalshiTicker: ks[0].NativeID,
			PolymarketID: ps[0].NativeID,
			Title:        ks[0].Title,
			ExpiresAt:    ks[0].ExpiresAt,
			Confidence:   1.0,
			ResolvedAt:   resolvedAt,
		}
		byKey[k] = mm
		byID[mm.ID] = mm
		byNative[domain.VenueKalshi][mm.KalshiTicker] = mm.ID
		byNative[domain.VenuePolymarket][mm.PolymarketID] = mm.ID
		if m.cache != nil {
			if err := m.cache.Put(ctx, k, mm, m.ttl); err != nil {
				m.logger.WarnContext(ctx, "match cache put failed",
					slog.String("key", k),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	m.mu.Lock()
	m.byKey = byKey
	m.byID = byID
	m.byNative = byNative
	m.ambiguous = ambiguous
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "match table refreshed",
		slog.Int("matched", len(byKey)),
		slog.Int("ambiguous", len(ambiguous)),
	)
	return nil
}

// Resolve returns the matched market for a canonical key. It fails closed:
// unknown keys return ErrNoMatch and keys with multiple candidates return
// ErrAmbiguousMatch.
func (m *Matcher) Resolve(ctx context.Context, key string) (domain.MatchedMarket, error) {
	m.mu.RLock()
	mm, ok := m.byKey[key]
	_, amb := m.ambiguous[key]
	m.mu.RUnlock()
	if amb {
		return domain.MatchedMarket{}, fmt.Errorf("match: key %q: %w", key, domain.ErrAmbiguousMatch)
	}
	if ok {
		return mm, nil
	}
	if m.cache != nil {
		if mm, err := m.cache.Get(ctx, key); err == nil {
			return mm, nil
		}
	}
	return domain.MatchedMarket{}, fmt.Errorf("match: key %q: %w", key, domain.ErrNoMatch)
}

// ByID returns the matched market for a canonical market ID.
func (m *Matcher) ByID(marketID string) (domain.MatchedMarket, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mm, ok := m.byID[marketID]
	return mm, ok
}

// MarketIDFor maps a venue-native identifier to the canonical market ID.
// Feeds use it to tag book updates.
func (m *Matcher) MarketIDFor(v domain.Venue, nativeID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byNative[v][nativeID]
	return id, ok
}

// All returns copies of every current match.
func (m *Matcher) All() []domain.MatchedMarket {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.MatchedMarket, 0, len(m.byID))
	for _, mm := range m.byID {
		out = append(out, mm)
	}
	return out
}

// Run refreshes the match table immediately and then at half the TTL, so a
// resolution is always renewed before it expires.
func (m *Matcher) Run(ctx context.Context) error {
	if err := m.Refresh(ctx); err != nil {
		return err
	}
	interval := m.ttl / 2
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Refresh(ctx); err != nil {
				m.logger.ErrorContext(ctx, "match refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

// marketID derives a stable canonical market ID from the match key, so the
// same pairing keeps its ID across restarts and re-resolutions.
func marketID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}
