// Package store persists evaluations and finished analyses: a Redis
// second-level evaluation store shared between server instances, and a
// Mongo (or in-memory) store for completed game analyses.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gamereview/api/internal/eval"
)

// evalKeyPrefix namespaces evaluation entries in Redis.
const evalKeyPrefix = "eval:"

// RedisEvalStore implements eval.SharedStore on a Redis client.
// Entries are JSON evaluation results with a TTL.
type RedisEvalStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisEvalStore connects to addr and verifies the connection.
func NewRedisEvalStore(ctx context.Context, addr string, ttl time.Duration) (*RedisEvalStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   0,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	return &RedisEvalStore{client: client, ttl: ttl}, nil
}

// Get fetches a cached evaluation by position fingerprint.
func (s *RedisEvalStore) Get(ctx context.Context, key string) (eval.Result, bool, error) {
	raw, err := s.client.Get(ctx, evalKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return eval.Result{}, false, nil
	}
	if err != nil {
		return eval.Result{}, false, err
	}

	var r eval.Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return eval.Result{}, false, fmt.Errorf("decode eval %s: %w", key, err)
	}
	return r, true, nil
}

// Put stores an evaluation under the position fingerprint.
func (s *RedisEvalStore) Put(ctx context.Context, key string, r eval.Result) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, evalKeyPrefix+key, raw, s.ttl).Err()
}

// Close releases the underlying client.
func (s *RedisEvalStore) Close() error {
	return s.client.Close()
}
