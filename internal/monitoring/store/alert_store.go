// Package store persists the bounded alert history.
//
// Records are serialized alerts kept most-recent-first. Every push trims the
// history back to its capacity in the same atomic operation, so readers never
// observe more than Capacity entries.
package store

import (
	"context"
	"fmt"

	"github.com/qiniu/logmon/internal/config"
	"github.com/redis/go-redis/v9"
)

// DefaultCapacity is the number of alerts retained.
const DefaultCapacity = 1000

// AlertStore is an append-to-front bounded list.
type AlertStore interface {
	// PushFront inserts record at the head and trims the tail to capacity.
	PushFront(ctx context.Context, record []byte) error
	// Range returns up to count records starting from the head.
	Range(ctx context.Context, count int) ([][]byte, error)
	// Len reports the number of stored records.
	Len(ctx context.Context) (int64, error)
	// Capacity is the retention bound.
	Capacity() int
}

// NewRedisClientFromConfig constructs a redis client from app config.
func NewRedisClientFromConfig(c *config.RedisConfig) *redis.Client {
	if c == nil {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	})
}

// NewFromConfig picks the backend named by cfg.Store.Driver.
func NewFromConfig(ctx context.Context, cfg *config.Config) (AlertStore, func() error, error) {
	switch cfg.Store.Driver {
	case "", "redis":
		rdb := NewRedisClientFromConfig(&cfg.Redis)
		return NewRedisStore(rdb, cfg.Store.Key, cfg.Store.Capacity), rdb.Close, nil
	case "postgres":
		pg, err := OpenPgStore(ctx, cfg.Database.DSN(), cfg.Store.Capacity)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown alert store driver %q", cfg.Store.Driver)
	}
}
