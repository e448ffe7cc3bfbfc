package embed

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/kestrelab/annex/internal/embed/embedcache"
	"github.com/kestrelab/annex/internal/offload"
	"github.com/kestrelab/annex/internal/textutil"
)

const (
	// MaxBatchItems is the provider's per-call input ceiling.
	MaxBatchItems = 2048
	// MaxItemChars truncates each input to a length the provider accepts.
	MaxItemChars = 8000
	// OffloadThreshold routes larger fallback batches to the worker.
	OffloadThreshold = 50
)

// health is the provider's tagged state. Once disabled it stays disabled for
// the rest of the process; recovery is a restart, by design, to avoid
// request storms against a known-bad credential.
type health struct {
	disabled bool
	reason   string
}

// Generator produces one vector per text. Single texts and batches consult
// the cache first; misses go to the remote provider when healthy, otherwise
// to the statistical fallback.
type Generator struct {
	provider Provider // nil when not configured
	fallback *Fallback
	cache    *embedcache.Cache
	pool     *offload.Pool // nil when offload is disabled

	mu    sync.Mutex
	state health
}

// New wires a generator. provider and pool may be nil.
func New(provider Provider, cache *embedcache.Cache, pool *offload.Pool) *Generator {
	return &Generator{
		provider: provider,
		fallback: NewFallback(),
		cache:    cache,
		pool:     pool,
	}
}

// HasRemoteProvider reports whether the remote provider is configured and
// still eligible.
func (g *Generator) HasRemoteProvider() bool {
	if g.provider == nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.state.disabled
}

// Model identifies what produces vectors right now; it namespaces cache
// entries.
func (g *Generator) Model() string {
	if g.HasRemoteProvider() {
		return g.provider.Model()
	}
	return FallbackModel
}

// Dim is the dimensionality of vectors the generator currently produces.
func (g *Generator) Dim() int {
	if g.provider != nil {
		return g.provider.Dim()
	}
	return FallbackDim
}

// BuildCorpusStatistics rebuilds the fallback's document-frequency table,
// on the offload worker when the corpus is large enough.
func (g *Generator) BuildCorpusStatistics(ctx context.Context, corpus []string) {
	if g.pool != nil && len(corpus) > OffloadThreshold {
		if err := g.pool.Do(ctx, func() { g.fallback.BuildCorpusStatistics(corpus) }); err == nil {
			return
		}
	}
	g.fallback.BuildCorpusStatistics(corpus)
}

// Embed returns one vector for text: fingerprint, cache lookup, then remote
// or fallback computation, then cache write.
func (g *Generator) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch partitions texts into cached and uncached, embeds the uncached
// remainder in provider-sized slices, and never loses a whole batch to one
// provider error: failed slices degrade to per-item fallback vectors.
func (g *Generator) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	model := g.Model()

	var missIdx []int
	for i, t := range texts {
		hash := textutil.Fingerprint(t)
		if g.cache != nil {
			if vec, ok := g.cache.Get(ctx, model, hash); ok {
				out[i] = vec
				continue
			}
		}
		missIdx = append(missIdx, i)
	}
	if len(missIdx) == 0 {
		return out, nil
	}

	if g.HasRemoteProvider() {
		g.embedRemote(ctx, texts, missIdx, out)
	} else {
		g.embedFallback(ctx, texts, missIdx, out)
	}
	return out, nil
}

// embedRemote fills out[i] for each miss via the provider in slices of at
// most MaxBatchItems. A fatal provider error disables the provider for the
// process; any error downgrades the failed slice to fallback vectors.
func (g *Generator) embedRemote(ctx context.Context, texts []string, missIdx []int, out [][]float32) {
	for start := 0; start < len(missIdx); start += MaxBatchItems {
		end := min(start+MaxBatchItems, len(missIdx))
		slice := missIdx[start:end]

		if !g.HasRemoteProvider() {
			g.embedFallback(ctx, texts, missIdx[start:], out)
			return
		}

		inputs := make([]string, len(slice))
		for j, i := range slice {
			inputs[j] = truncate(texts[i], MaxItemChars)
		}

		vecs, err := g.provider.EmbedBatch(ctx, inputs)
		if err != nil {
			if IsFatal(err) {
				g.disable(err.Error())
			} else {
				log.Warn().Err(err).Int("batch", len(inputs)).Msg("provider batch failed, using fallback")
			}
			g.embedFallback(ctx, texts, slice, out)
			continue
		}

		model := g.provider.Model()
		for j, i := range slice {
			out[i] = vecs[j]
			if g.cache != nil {
				g.cache.Put(ctx, model, textutil.Fingerprint(texts[i]), vecs[j])
			}
		}
	}
}

// embedFallback fills out[i] for each index with statistical vectors,
// offloading large batches to the worker when one is available.
func (g *Generator) embedFallback(ctx context.Context, texts []string, idx []int, out [][]float32) {
	inputs := make([]string, len(idx))
	for j, i := range idx {
		inputs[j] = texts[i]
	}

	var vecs [][]float32
	if g.pool != nil && len(inputs) > OffloadThreshold {
		err := g.pool.Do(ctx, func() { vecs = g.fallback.EmbedBatch(inputs) })
		if err != nil {
			log.Debug().Err(err).Msg("offload unavailable, computing inline")
			vecs = nil
		}
	}
	if vecs == nil {
		vecs = g.fallback.EmbedBatch(inputs)
	}

	for j, i := range idx {
		out[i] = vecs[j]
		if g.cache != nil {
			g.cache.Put(ctx, FallbackModel, textutil.Fingerprint(texts[i]), vecs[j])
		}
	}
}

func (g *Generator) disable(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.disabled {
		return
	}
	g.state = health{disabled: true, reason: reason}
	log.Error().Str("reason", reason).Msg("remote embedding provider disabled for this process")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
