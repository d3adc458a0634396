package store

import (
	"context"

	"github.com/qiniu/logmon/internal/monitoring/model"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the history in a single redis list.
type RedisStore struct {
	rdb      *redis.Client
	key      string
	capacity int
}

func NewRedisStore(rdb *redis.Client, key string, capacity int) *RedisStore {
	if key == "" {
		key = "alerts"
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RedisStore{rdb: rdb, key: key, capacity: capacity}
}

// PushFront runs LPUSH and LTRIM inside MULTI/EXEC.
func (s *RedisStore) PushFront(ctx context.Context, record []byte) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.key, record)
		pipe.LTrim(ctx, s.key, 0, int64(s.capacity-1))
		return nil
	})
	if err != nil {
		return &model.UpstreamError{Upstream: "redis", Op: "push", Err: err}
	}
	return nil
}

func (s *RedisStore) Range(ctx context.Context, count int) ([][]byte, error) {
	if count <= 0 {
		return [][]byte{}, nil
	}
	vals, err := s.rdb.LRange(ctx, s.key, 0, int64(count-1)).Result()
	if err != nil {
		return nil, &model.UpstreamError{Upstream: "redis", Op: "range", Err: err}
	}
	out := make([][]byte, 0, len(vals))
	for _, v := range vals {
		out = append(out, []byte(v))
	}
	return out, nil
}

func (s *RedisStore) Len(ctx context.Context) (int64, error) {
	n, err := s.rdb.LLen(ctx, s.key).Result()
	if err != nil {
		return 0, &model.UpstreamError{Upstream: "redis", Op: "len", Err: err}
	}
	return n, nil
}

func (s *RedisStore) Capacity() int { return s.capacity }
