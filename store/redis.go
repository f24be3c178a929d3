package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"trendrider/models"
)

const maxStoredOutcomes = 1000

// RedisStore keeps the position as a JSON value and outcomes as a capped list.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store under prefix. An empty prefix uses
// "trendrider".
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "trendrider"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) positionKey(market string) string {
	return fmt.Sprintf("%s:position:%s", r.prefix, market)
}

func (r *RedisStore) outcomesKey(market string) string {
	return fmt.Sprintf("%s:outcomes:%s", r.prefix, market)
}

// SavePosition overwrites the stored position of its market.
func (r *RedisStore) SavePosition(ctx context.Context, snap models.PositionSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal position: %w", err)
	}
	return r.client.Set(ctx, r.positionKey(snap.Market), data, 0).Err()
}

// LoadPosition returns nil, nil when market has no stored position.
func (r *RedisStore) LoadPosition(ctx context.Context, market string) (*models.PositionSnapshot, error) {
	data, err := r.client.Get(ctx, r.positionKey(market)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap models.PositionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal position: %w", err)
	}
	return &snap, nil
}

// ClearPosition removes the stored position of market.
func (r *RedisStore) ClearPosition(ctx context.Context, market string) error {
	return r.client.Del(ctx, r.positionKey(market)).Err()
}

// RecordOutcome prepends o to the market's outcome list.
func (r *RedisStore) RecordOutcome(ctx context.Context, o models.TradeOutcome) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}
	key := r.outcomesKey(o.Market)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, maxStoredOutcomes-1)
	_, err = pipe.Exec(ctx)
	return err
}

// ListOutcomes returns up to limit outcomes of market, oldest first.
func (r *RedisStore) ListOutcomes(ctx context.Context, market string, limit int) ([]models.TradeOutcome, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	items, err := r.client.LRange(ctx, r.outcomesKey(market), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.TradeOutcome, len(items))
	for i, item := range items {
		var o models.TradeOutcome
		if err := json.Unmarshal([]byte(item), &o); err != nil {
			return nil, fmt.Errorf("failed to unmarshal outcome: %w", err)
		}
		out[len(items)-1-i] = o
	}
	return out, nil
}

// Close closes the client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
