package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/kestrelab/annex/internal/chunker"
	"github.com/kestrelab/annex/pkg/models"
)

// ErrBusy means another reindex holds the single-flight guard; the caller
// should retry the batch once the guard clears.
var ErrBusy = errors.New("reindex already running")

// ReindexFiles re-chunks and re-embeds the given paths, one batch at a time.
// Deleted files simply lose their chunks. Shares the single-flight guard
// with full reindex; a busy engine refuses the batch with ErrBusy so the
// caller can requeue it.
func (o *Orchestrator) ReindexFiles(ctx context.Context, paths []string) error {
	if !o.indexing.CompareAndSwap(false, true) {
		log.Info().Int("files", len(paths)).Msg("reindex already running, incremental batch deferred")
		return ErrBusy
	}
	defer o.indexing.Store(false)

	for _, path := range paths {
		if err := o.reindexFile(ctx, path); err != nil {
			// Per-file errors never abort the batch.
			log.Warn().Err(err).Str("path", path).Msg("incremental reindex failed")
		}
	}
	return nil
}

func (o *Orchestrator) reindexFile(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	folder, ok := o.folderFor(abs)
	if !ok {
		log.Debug().Str("path", abs).Msg("changed file outside indexed roots, ignoring")
		return nil
	}

	if err := o.store.DeleteChunksByFile(ctx, abs); err != nil {
		return err
	}

	if _, err := os.Stat(abs); err != nil {
		// File is gone; its chunks are too. Done.
		return nil
	}
	if !Indexable(abs) {
		return nil
	}

	rel, err := filepath.Rel(folder, abs)
	if err != nil {
		rel = abs
	}
	chunks, err := chunker.ChunkFile(abs, rel, folder)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	if err := o.store.UpsertChunks(ctx, chunks); err != nil {
		return err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vecs, err := o.gen.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	model := o.gen.Model()
	embeddings := make([]models.ChunkEmbedding, len(chunks))
	for i, c := range chunks {
		embeddings[i] = models.ChunkEmbedding{ChunkID: c.ID, Vector: vecs[i], Model: model}
	}
	return o.store.UpsertChunkEmbeddings(ctx, embeddings)
}

// Stats aggregates folder stats and the total chunk count.
type Stats struct {
	Folders    []models.FolderStats `json:"folders"`
	ChunkCount int                  `json:"chunk_count"`
}

func (o *Orchestrator) Stats(ctx context.Context) (Stats, error) {
	folders, err := o.store.ListFolderStats(ctx)
	if err != nil {
		return Stats{}, err
	}
	count, err := o.store.ChunkCount(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Folders: folders, ChunkCount: count}, nil
}
