// Package search is the query path: embed the query once, ask storage for a
// combined vector + keyword ranking, drop weak hits.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/kestrelab/annex/pkg/models"
)

// Store is what the query path needs from storage. The merge/ranking
// arithmetic lives behind HybridSearch.
type Store interface {
	HybridSearch(ctx context.Context, queryVec []float32, queryText string, topK int) ([]models.SearchResult, error)
	ChunkCount(ctx context.Context) (int, error)
}

// Embedder embeds query text with the same generator the indexer uses.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Reindexer triggers the lazy bootstrap when the corpus has never been
// indexed.
type Reindexer interface {
	ReindexAll(ctx context.Context) error
}

// Service answers search queries against the indexed corpus.
type Service struct {
	store    Store
	embedder Embedder
	indexer  Reindexer
}

func NewService(store Store, embedder Embedder, indexer Reindexer) *Service {
	return &Service{store: store, embedder: embedder, indexer: indexer}
}

// Search returns up to topK results scoring at least minScore. An empty
// corpus triggers a synchronous bootstrap reindex first; the query fails
// only if that bootstrap itself fails.
func (s *Service) Search(ctx context.Context, query string, topK int, minScore float64) ([]models.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 10
	}

	count, err := s.store.ChunkCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("chunk count: %w", err)
	}
	if count == 0 && s.indexer != nil {
		log.Info().Msg("corpus never indexed, bootstrapping")
		if err := s.indexer.ReindexAll(ctx); err != nil {
			return nil, fmt.Errorf("bootstrap reindex: %w", err)
		}
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		log.Warn().Err(err).Msg("query embedding failed, keyword-only search")
		vec = nil
	}

	results, err := s.store.HybridSearch(ctx, vec, query, topK)
	if err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}

	out := results[:0]
	for _, r := range results {
		if r.Score >= minScore {
			out = append(out, r)
		}
	}
	return out, nil
}
