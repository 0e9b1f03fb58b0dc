package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/mn-ibiz/pos-sub020/confirmation"
)

const resultKeyPrefix = "pushpay:result:"

// RedisStore keeps results in Redis so they survive restarts and are shared
// by every instance behind the terminal API
type RedisStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisClient connects and pings Redis
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// NewRedisStore wraps a Redis client; ttl <= 0 stores without expiry
func NewRedisStore(client redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Save stores snap as JSON under the sale's key
func (r *RedisStore) Save(ctx context.Context, snap confirmation.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := r.client.Set(ctx, resultKeyPrefix+snap.SaleID, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

// Get loads the latest result for saleID
func (r *RedisStore) Get(ctx context.Context, saleID string) (confirmation.Snapshot, error) {
	data, err := r.client.Get(ctx, resultKeyPrefix+saleID).Bytes()
	if errors.Is(err, redis.Nil) {
		return confirmation.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return confirmation.Snapshot{}, fmt.Errorf("failed to load result: %w", err)
	}

	var snap confirmation.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return confirmation.Snapshot{}, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return snap, nil
}
