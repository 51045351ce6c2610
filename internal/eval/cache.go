package eval

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// SharedStore is an optional second-level evaluation store consulted on
// local cache misses and written through on success. Implementations
// must tolerate concurrent calls; errors are treated as misses.
type SharedStore interface {
	Get(ctx context.Context, key string) (Result, bool, error)
	Put(ctx context.Context, key string, r Result) error
}

// Cache memoizes evaluation results by position fingerprint. It is
// sharded for low lock contention and coalesces concurrent computes for
// the same fingerprint: transpositions reaching the same position issue
// one oracle call and share the result.
//
// Failed computes are never cached. All coalesced waiters of a failed
// flight receive the error, the flight is forgotten, and the next call
// recomputes — a broken oracle cannot wedge future lookups.
type Cache struct {
	shards      [256]*cacheShard
	maxPerShard int
	flight      singleflight.Group
	shared      SharedStore
	log         zerolog.Logger

	hits     uint64
	misses   uint64
	shareHit uint64
}

type cacheShard struct {
	mu      sync.RWMutex
	entries map[string]Result
	order   []string // FIFO order for eviction
}

// NewCache creates a cache bounded to roughly maxEntries results.
// shared may be nil.
func NewCache(maxEntries int, shared SharedStore, log zerolog.Logger) *Cache {
	maxPerShard := maxEntries / 256
	if maxPerShard < 16 {
		maxPerShard = 16
	}

	c := &Cache{
		maxPerShard: maxPerShard,
		shared:      shared,
		log:         log,
	}
	for i := range c.shards {
		c.shards[i] = &cacheShard{
			entries: make(map[string]Result),
		}
	}
	return c
}

func (c *Cache) shard(key string) *cacheShard {
	if key == "" {
		return c.shards[0]
	}
	return c.shards[key[0]]
}

// GetOrCompute returns the cached result for key, or runs compute at
// most once across all concurrent callers and caches its result.
func (c *Cache) GetOrCompute(ctx context.Context, key string, compute func(context.Context) (Result, error)) (Result, error) {
	if r, ok := c.get(key); ok {
		atomic.AddUint64(&c.hits, 1)
		return r, nil
	}
	atomic.AddUint64(&c.misses, 1)

	v, err, _ := c.flight.Do(key, func() (any, error) {
		// A concurrent flight may have filled the shard after our miss.
		if r, ok := c.get(key); ok {
			return r, nil
		}

		if c.shared != nil {
			r, ok, err := c.shared.Get(ctx, key)
			if err != nil {
				c.log.Debug().Err(err).Msg("shared eval store read failed")
			} else if ok {
				atomic.AddUint64(&c.shareHit, 1)
				c.put(key, r)
				return r, nil
			}
		}

		r, err := compute(ctx)
		if err != nil {
			return Result{}, err
		}
		c.put(key, r)
		if c.shared != nil {
			if err := c.shared.Put(ctx, key, r); err != nil {
				c.log.Debug().Err(err).Msg("shared eval store write failed")
			}
		}
		return r, nil
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (c *Cache) get(key string) (Result, bool) {
	shard := c.shard(key)
	shard.mu.RLock()
	r, ok := shard.entries[key]
	shard.mu.RUnlock()
	return r, ok
}

func (c *Cache) put(key string, r Result) {
	shard := c.shard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if _, exists := shard.entries[key]; exists {
		shard.entries[key] = r
		return
	}

	// Evict oldest first when at capacity.
	for len(shard.entries) >= c.maxPerShard && len(shard.order) > 0 {
		oldest := shard.order[0]
		shard.order = shard.order[1:]
		delete(shard.entries, oldest)
	}

	shard.entries[key] = r
	shard.order = append(shard.order, key)
}

// CacheStats holds cache counters.
type CacheStats struct {
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
	SharedHits uint64 `json:"shared_hits"`
	Size       int    `json:"size"`
}

// Stats returns current cache counters.
func (c *Cache) Stats() CacheStats {
	s := CacheStats{
		Hits:       atomic.LoadUint64(&c.hits),
		Misses:     atomic.LoadUint64(&c.misses),
		SharedHits: atomic.LoadUint64(&c.shareHit),
	}
	for _, shard := range c.shards {
		shard.mu.RLock()
		s.Size += len(shard.entries)
		shard.mu.RUnlock()
	}
	return s
}
