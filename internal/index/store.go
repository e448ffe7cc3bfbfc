package index

import (
	"context"

	"github.com/kestrelab/annex/pkg/models"
)

// Store is the narrow storage collaborator the orchestrator mutates. The
// on-disk representation of chunks and embeddings is the implementation's
// concern; this core only requires keyword and vector search primitives on
// top of keyed persistence.
type Store interface {
	UpsertChunks(ctx context.Context, chunks []models.Chunk) error
	DeleteChunksByFile(ctx context.Context, path string) error
	DeleteChunksByFolder(ctx context.Context, folder string) error
	DeleteAllChunks(ctx context.Context) error
	UpsertChunkEmbeddings(ctx context.Context, embeddings []models.ChunkEmbedding) error
	HybridSearch(ctx context.Context, queryVec []float32, queryText string, topK int) ([]models.SearchResult, error)
	ChunkCount(ctx context.Context) (int, error)
	UpsertFolderStats(ctx context.Context, stats models.FolderStats) error
	ListFolderStats(ctx context.Context) ([]models.FolderStats, error)
	HasVectorSearch() bool
}
