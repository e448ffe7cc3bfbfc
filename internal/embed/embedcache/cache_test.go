package embedcache

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

type fakeStore struct {
	entries map[string][]float32
	gets    int
	puts    int
	evicted int
	failAll bool
}

func newFakeStore() *fakeStore { return &fakeStore{entries: make(map[string][]float32)} }

func (s *fakeStore) GetCachedEmbedding(_ context.Context, key string) ([]float32, bool, error) {
	s.gets++
	if s.failAll {
		return nil, false, errors.New("storage down")
	}
	vec, ok := s.entries[key]
	return vec, ok, nil
}

func (s *fakeStore) PutCachedEmbedding(_ context.Context, key string, vec []float32) error {
	s.puts++
	if s.failAll {
		return errors.New("storage down")
	}
	s.entries[key] = vec
	return nil
}

func (s *fakeStore) EvictCachedEmbeddings(_ context.Context, maxEntries int) error {
	s.evicted = maxEntries
	return nil
}

func TestCacheHotHit(t *testing.T) {
	store := newFakeStore()
	c, err := New(store)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	c.Put(ctx, "model-a", "hash1", []float32{1, 2, 3})
	vec, ok := c.Get(ctx, "model-a", "hash1")
	if !ok {
		t.Fatal("miss after put")
	}
	if len(vec) != 3 || vec[0] != 1 {
		t.Errorf("got %v", vec)
	}
	// Hot hit: no persistent read needed.
	if store.gets != 0 {
		t.Errorf("persistent tier read %d times for a hot hit", store.gets)
	}
}

func TestCachePersistentPromotion(t *testing.T) {
	store := newFakeStore()
	store.entries["model-a:hashX"] = []float32{9, 8}

	c, err := New(store)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	vec, ok := c.Get(ctx, "model-a", "hashX")
	if !ok || vec[0] != 9 {
		t.Fatalf("persistent entry not found: %v %v", vec, ok)
	}
	if store.gets != 1 {
		t.Fatalf("persistent reads = %d, want 1", store.gets)
	}

	// Promoted: second read served from the hot tier.
	if _, ok := c.Get(ctx, "model-a", "hashX"); !ok {
		t.Fatal("promoted entry missing")
	}
	if store.gets != 1 {
		t.Errorf("persistent reads = %d after promotion, want 1", store.gets)
	}
}

func TestCacheModelNamespaces(t *testing.T) {
	c, err := New(newFakeStore())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	c.Put(ctx, "model-a", "same-hash", []float32{1})
	if _, ok := c.Get(ctx, "model-b", "same-hash"); ok {
		t.Error("entry leaked across model namespaces")
	}
	if _, ok := c.Get(ctx, "model-a", "same-hash"); !ok {
		t.Error("entry missing in its own namespace")
	}
}

func TestCacheStorageErrorIsMiss(t *testing.T) {
	store := newFakeStore()
	store.failAll = true
	c, err := New(store)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	// Put must not propagate the storage failure.
	c.Put(ctx, "m", "h", []float32{1})
	// Hot tier still works even when storage is down.
	if _, ok := c.Get(ctx, "m", "h"); !ok {
		t.Error("hot tier lost the entry when storage failed")
	}
	// A cold key against failing storage is just a miss.
	if _, ok := c.Get(ctx, "m", "other"); ok {
		t.Error("failing storage produced a hit")
	}
}

func TestCacheNilStore(t *testing.T) {
	c, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	c.Put(ctx, "m", "h", []float32{4, 5})
	if vec, ok := c.Get(ctx, "m", "h"); !ok || vec[1] != 5 {
		t.Errorf("hot-only cache failed: %v %v", vec, ok)
	}
	if _, ok := c.Get(ctx, "m", "cold"); ok {
		t.Error("hit for a key never written")
	}
	if err := c.Evict(ctx); err != nil {
		t.Errorf("Evict with nil store: %v", err)
	}
}

func TestCacheEvictUsesCapacity(t *testing.T) {
	store := newFakeStore()
	c, err := New(store)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Evict(context.Background()); err != nil {
		t.Fatal(err)
	}
	if store.evicted != PersistentCapacity {
		t.Errorf("evict capacity %d, want %d", store.evicted, PersistentCapacity)
	}
}

func TestCacheReturnsCopies(t *testing.T) {
	c, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	orig := []float32{1, 2, 3}
	c.Put(ctx, "m", "h", orig)
	orig[0] = 99

	vec, _ := c.Get(ctx, "m", "h")
	if vec[0] != 1 {
		t.Error("cache shares backing array with caller")
	}
	vec[1] = 99
	again, _ := c.Get(ctx, "m", "h")
	if again[1] != 2 {
		t.Error("mutating a returned vector corrupted the cache")
	}
}
