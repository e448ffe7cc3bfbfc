// Package embed produces fixed-size vectors for text, via a remote provider
// when one is configured and healthy, otherwise via a local statistical
// fallback. It owns provider health state and consults the two-tier
// embedding cache before computing anything.
package embed

import (
	"math"
	"sync"

	"github.com/kestrelab/annex/internal/textutil"
)

const (
	// FallbackDim is the fixed dimensionality of fallback vectors.
	FallbackDim = 256
	// FallbackModel namespaces fallback vectors in the embedding cache.
	FallbackModel = "local-tfidf-256"
)

// unknownIDF is the inverse-document-frequency assigned to tokens never seen
// during the corpus statistics build.
var unknownIDF = math.Log(10)

// Fallback is a TF-IDF, feature-hashed embedder. Corpus statistics are
// optional; without them every token weighs unknownIDF.
type Fallback struct {
	mu      sync.RWMutex
	df      map[string]int
	numDocs int
}

func NewFallback() *Fallback {
	return &Fallback{df: make(map[string]int)}
}

// BuildCorpusStatistics counts document frequency over the corpus. Prior
// state is cleared completely so no stale token weights linger.
func (f *Fallback) BuildCorpusStatistics(corpus []string) {
	df := make(map[string]int)
	for _, doc := range corpus {
		seen := make(map[string]struct{})
		for _, tok := range textutil.Tokenize(doc) {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}
	f.mu.Lock()
	f.df = df
	f.numDocs = len(corpus)
	f.mu.Unlock()
}

// idf returns the smoothed inverse-document-frequency, always positive.
func (f *Fallback) idf(token string) float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n, ok := f.df[token]
	if !ok {
		return unknownIDF
	}
	return math.Log(float64(f.numDocs+1)/float64(n+1)) + 1
}

// Embed hashes each token into one of FallbackDim dimensions with a signed
// contribution weighted by tf-idf, then L2-normalizes. Empty or degenerate
// text yields the zero vector, never NaN.
func (f *Fallback) Embed(text string) []float32 {
	vec := make([]float32, FallbackDim)
	tokens := textutil.Tokenize(text)
	if len(tokens) == 0 {
		return vec
	}

	tf := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}
	for tok, count := range tf {
		weight := float64(count) / float64(len(tokens)) * f.idf(tok)
		dim, sign := hashToken(tok)
		vec[dim] += float32(sign) * float32(weight)
	}
	return normalize(vec)
}

// EmbedBatch vectorizes texts sequentially; callers route large batches
// through the offload pool.
func (f *Fallback) EmbedBatch(texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.Embed(t)
	}
	return out
}

// hashToken maps a token to a dimension and a sign via FNV-1a.
func hashToken(tok string) (dim int, sign int) {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	var h uint64 = offset64
	for i := 0; i < len(tok); i++ {
		h ^= uint64(tok[i])
		h *= prime64
	}
	dim = int(h % FallbackDim)
	sign = 1
	if (h>>32)&1 == 1 {
		sign = -1
	}
	return dim, sign
}

func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
