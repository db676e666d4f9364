package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"gap_strategy_backend/models"
)

// DefaultRedisKey holds the serialized ledger
const DefaultRedisKey = "gapscanner:ledger"

// RedisStore keeps the ledger as a JSON value under one key
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisStore creates a store. ttl 0 keeps the key without expiry.
func NewRedisStore(client *redis.Client, key string, ttl time.Duration) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key, ttl: ttl}
}

// DialRedis connects to addr and verifies it with PING
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}
	return client, nil
}

func (r *RedisStore) Load(ctx context.Context) (models.HistoricalLedger, error) {
	raw, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return make(models.HistoricalLedger), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", r.key, err)
	}

	ledger := make(models.HistoricalLedger)
	if err := json.Unmarshal(raw, &ledger); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", r.key, err)
	}
	return ledger, nil
}

func (r *RedisStore) Save(ctx context.Context, ledger models.HistoricalLedger) error {
	raw, err := json.Marshal(ledger)
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}
	if err := r.client.Set(ctx, r.key, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", r.key, err)
	}
	return nil
}

// Close closes the client
func (r *RedisStore) Close() error {
	return r.client.Close()
}
