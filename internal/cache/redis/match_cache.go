package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantfold/arbot/internal/domain"
)

// MatchCache implements domain.MatchCache using JSON-serialized matched
// markets under the canonical match key with a caller-supplied TTL, so
// restarts within a TTL epoch reuse the same resolution.
//
// Key schema:
//
//	match:{key} - JSON-encoded domain.MatchedMarket
type MatchCache struct {
	rdb *redis.Client
}

// NewMatchCache creates a MatchCache backed by the given Client.
func NewMatchCache(c *Client) *MatchCache {
	return &MatchCache{rdb: c.Underlying()}
}

func matchKey(key string) string { return "match:" + key }

// Put stores a matched market under its canonical key for ttl.
func (mc *MatchCache) Put(ctx context.Context, key string, m domain.MatchedMarket, ttl time.Duration) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis: marshal match %s: %w", key, err)
	}
	if err := mc.rdb.Set(ctx, matchKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: put match %s: %w", key, err)
	}
	return nil
}

// Get retrieves a matched market by its canonical key. It returns
// domain.ErrNotFound when the key is absent or expired.
func (mc *MatchCache) Get(ctx context.Context, key string) (domain.MatchedMarket, error) {
	data, err := mc.rdb.Get(ctx, matchKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MatchedMarket{}, domain.ErrNotFound
		}
		return domain.MatchedMarket{}, fmt.Errorf("redis: get match %s: %w", key, err)
	}

	var m domain.MatchedMarket
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.MatchedMarket{}, fmt.Errorf("redis: unmarshal match %s: %w", key, err)
	}
	return m, nil
}

// Compile-time interface check.
var _ domain.MatchCache = (*MatchCache)(nil)
