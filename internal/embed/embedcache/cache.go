// Package embedcache is the two-tier embedding cache: an in-process LRU hot
// tier in front of a persistent keyed store. Entries are keyed by
// (model, content fingerprint), so a model change is a logically disjoint
// namespace and old-model rows age out under capacity pressure.
package embedcache

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

const (
	// HotCapacity bounds the in-process tier.
	HotCapacity = 10_000
	// PersistentCapacity is the ceiling enforced by Evict, not per write.
	PersistentCapacity = 200_000
)

// Store is the persistent tier. Implementations keep writes O(1); capacity
// is enforced by the explicit eviction call.
type Store interface {
	GetCachedEmbedding(ctx context.Context, key string) ([]float32, bool, error)
	PutCachedEmbedding(ctx context.Context, key string, vec []float32) error
	EvictCachedEmbeddings(ctx context.Context, maxEntries int) error
}

// Cache fronts the persistent store with an LRU map. A nil store degrades to
// hot-tier-only caching.
type Cache struct {
	hot   *lru.Cache[string, []float32]
	store Store
}

func New(store Store) (*Cache, error) {
	hot, err := lru.New[string, []float32](HotCapacity)
	if err != nil {
		return nil, err
	}
	return &Cache{hot: hot, store: store}, nil
}

func cacheKey(model, hash string) string { return model + ":" + hash }

// Get checks the hot tier, then the persistent tier, promoting persistent
// hits. Storage errors are logged and treated as misses.
func (c *Cache) Get(ctx context.Context, model, hash string) ([]float32, bool) {
	key := cacheKey(model, hash)
	if vec, ok := c.hot.Get(key); ok {
		return clone(vec), true
	}
	if c.store == nil {
		return nil, false
	}
	vec, ok, err := c.store.GetCachedEmbedding(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("embedding cache read failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	c.hot.Add(key, clone(vec))
	return vec, true
}

// Put writes to both tiers. Persistent write failures are logged, not
// propagated; the cache is an accelerator, not a source of truth.
func (c *Cache) Put(ctx context.Context, model, hash string, vec []float32) {
	key := cacheKey(model, hash)
	c.hot.Add(key, clone(vec))
	if c.store == nil {
		return
	}
	if err := c.store.PutCachedEmbedding(ctx, key, vec); err != nil {
		log.Warn().Err(err).Msg("embedding cache write failed")
	}
}

// Evict trims the persistent tier to its capacity. Meant for periodic
// maintenance so the write path stays O(1).
func (c *Cache) Evict(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	return c.store.EvictCachedEmbeddings(ctx, PersistentCapacity)
}

func clone(vec []float32) []float32 {
	if len(vec) == 0 {
		return nil
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return out
}
