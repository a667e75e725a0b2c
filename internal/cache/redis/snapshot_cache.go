package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jamsturg/sturgtrader-sub001/internal/domain"
)

const snapTTL = time.Minute

// SnapshotCache implements domain.SnapshotCache using Redis string values
// with JSON-serialized snapshots.
//
// Key schema:
//
//	px:{exchange}:{BASE/QUOTE} - JSON-encoded PriceSnapshot
type SnapshotCache struct {
	rdb *redis.Client
}

var _ domain.SnapshotCache = (*SnapshotCache)(nil)

// NewSnapshotCache creates a SnapshotCache backed by the given Client.
func NewSnapshotCache(c *Client) *SnapshotCache {
	return &SnapshotCache{rdb: c.Underlying()}
}

func snapKey(exchange string, pair domain.TradingPair) string {
	return "px:" + exchange + ":" + pair.Symbol()
}

// SetSnapshot stores the latest snapshot for (exchange, pair) with a short
// TTL so stale entries fall out on their own.
func (c *SnapshotCache) SetSnapshot(ctx context.Context, snap domain.PriceSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s %s: %w", snap.Exchange, snap.Pair.Symbol(), err)
	}
	if err := c.rdb.Set(ctx, snapKey(snap.Exchange, snap.Pair), data, snapTTL).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot %s %s: %w", snap.Exchange, snap.Pair.Symbol(), err)
	}
	return nil
}

// GetSnapshot retrieves the latest mirrored snapshot for (exchange, pair).
// It returns domain.ErrNotFound when the key does not exist.
func (c *SnapshotCache) GetSnapshot(ctx context.Context, exchange string, pair domain.TradingPair) (domain.PriceSnapshot, error) {
	data, err := c.rdb.Get(ctx, snapKey(exchange, pair)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.PriceSnapshot{}, domain.ErrNotFound
		}
		return domain.PriceSnapshot{}, fmt.Errorf("redis: get snapshot %s %s: %w", exchange, pair.Symbol(), err)
	}

	var snap domain.PriceSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("redis: unmarshal snapshot %s %s: %w", exchange, pair.Symbol(), err)
	}
	return snap, nil
}
