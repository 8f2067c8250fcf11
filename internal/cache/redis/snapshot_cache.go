package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Poornadinethyapa/predictionm/internal/domain"
)

const defaultSnapshotTTL = 5 * time.Minute

// SnapshotCache implements domain.SnapshotCache. Each viewer's snapshot is a
// hash with a single "data" field holding the JSON document:
//
//	snapshot:{viewer}       - viewer-specific snapshot
//	snapshot:_anonymous     - snapshot read without a connected wallet
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSnapshotCache creates a SnapshotCache on c. A non-positive ttl uses the
// five minute default.
func NewSnapshotCache(c *Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &SnapshotCache{rdb: c.Underlying(), ttl: ttl}
}

func snapshotKey(viewer string) string {
	v := domain.NormalizeAddress(viewer)
	if v == "" {
		v = "_anonymous"
	}
	return "snapshot:" + v
}

// Set stores snap under its viewer.
func (sc *SnapshotCache) Set(ctx context.Context, snap *domain.Snapshot) error {
	if snap == nil {
		return nil
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot: %w", err)
	}
	key := snapshotKey(snap.Viewer)
	pipe := sc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, sc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", key, err)
	}
	return nil
}

// Get returns the cached snapshot for viewer, or domain.ErrNotFound.
func (sc *SnapshotCache) Get(ctx context.Context, viewer string) (*domain.Snapshot, error) {
	key := snapshotKey(viewer)
	data, err := sc.rdb.HGet(ctx, key, "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get snapshot %s: %w", key, err)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("redis: unmarshal snapshot %s: %w", key, err)
	}
	return &snap, nil
}

// Invalidate drops the cached snapshot for viewer.
func (sc *SnapshotCache) Invalidate(ctx context.Context, viewer string) error {
	if err := sc.rdb.Del(ctx, snapshotKey(viewer)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate snapshot: %w", err)
	}
	return nil
}

var _ domain.SnapshotCache = (*SnapshotCache)(nil)
