package delegation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	appErr "pokervault/pkg/errors"

	"github.com/redis/go-redis/v9"
)

// Snapshot is the private-context copy of one delegated record. Data
// holds the full serialized record; Flushed is the per-record state
// tag the commit step checks before publishing anything back to the
// public ledger. Every private mutation clears Flushed again.
type Snapshot struct {
	Kind    string          `json:"kind"`
	Flushed bool            `json:"flushed"`
	Data    json.RawMessage `json:"data"`
}

// Store is the private compute context. While a record is delegated
// its store copy is authoritative and the public ledger row is stale.
type Store interface {
	Put(ctx context.Context, key string, snap Snapshot) error
	Get(ctx context.Context, key string) (Snapshot, error)
	Delete(ctx context.Context, keys ...string) error
}

const keyPrefix = "privctx"

// RedisStore keeps delegated snapshots in redis.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Put(ctx context.Context, key string, snap Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, raw, 0).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) (Snapshot, error) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Snapshot{}, fmt.Errorf("%w: %s", appErr.ErrNotDelegated, key)
		}
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}
