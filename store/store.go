// Package store persists the open position and closed-trade outcomes.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"trendrider/models"
)

// ErrUnknownDriver is returned by Open for an unsupported driver name.
var ErrUnknownDriver = errors.New("unknown store driver")

// Store is the persistence used by the coordinator and the status server.
type Store interface {
	SavePosition(ctx context.Context, snap models.PositionSnapshot) error
	LoadPosition(ctx context.Context, market string) (*models.PositionSnapshot, error)
	ClearPosition(ctx context.Context, market string) error
	RecordOutcome(ctx context.Context, outcome models.TradeOutcome) error
	ListOutcomes(ctx context.Context, market string, limit int) ([]models.TradeOutcome, error)
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Driver        string
	DSN           string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Open returns the backend named by opts.Driver. "none" returns nil, nil.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(opts.Driver) {
	case "", "none":
		return nil, nil
	case "sqlite", "postgres":
		return OpenGorm(opts.Driver, opts.DSN)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping %s: %w", opts.RedisAddr, err)
		}
		return NewRedisStore(client, opts.RedisPrefix), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
}
