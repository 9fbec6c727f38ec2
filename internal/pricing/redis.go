package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const snapshotKey = "fund:quotes:snapshot"

// RedisSnapshotStore shares the latest quote snapshot between instances.
// The key outlives the cache TTL so that a stale snapshot is still there
// to serve when the upstream is down.
type RedisSnapshotStore struct {
	rdb       *redis.Client
	retention time.Duration
}

// NewRedisSnapshotStore keeps snapshots for retention (0 means no expiry).
func NewRedisSnapshotStore(rdb *redis.Client, retention time.Duration) *RedisSnapshotStore {
	return &RedisSnapshotStore{rdb: rdb, retention: retention}
}

// Load returns the shared snapshot, or nil if there is none.
func (s *RedisSnapshotStore) Load(ctx context.Context) (*Snapshot, error) {
	data, err := s.rdb.Get(ctx, snapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// Save replaces the shared snapshot unless a newer one is already stored.
func (s *RedisSnapshotStore) Save(ctx context.Context, snap *Snapshot) error {
	if existing, err := s.Load(ctx); err == nil && existing != nil && existing.FetchedAt.After(snap.FetchedAt) {
		return nil
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, snapshotKey, data, s.retention).Err()
}
