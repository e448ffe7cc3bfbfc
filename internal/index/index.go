// Package index orchestrates the retrieval pipeline: scan, chunk, persist,
// embed, in explicit phases with throttled progress reporting. A
// single-flight guard keeps at most one reindex running; requests received
// while busy are no-ops, not queued.
package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"

	"github.com/kestrelab/annex/internal/chunker"
	"github.com/kestrelab/annex/internal/embed"
	"github.com/kestrelab/annex/pkg/models"
)

const (
	// MaxIndexFiles hard-caps one reindex; indexing terminates in bounded
	// time and memory regardless of corpus size.
	MaxIndexFiles = 10_000

	chunkBatchSize  = 200
	embedBatchSize  = 64
	yieldEveryFiles = 20
)

// FileSystemWalker abstracts directory walking for tests.
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// DefaultFileSystemWalker walks with godirwalk.
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// Orchestrator owns full and incremental reindexing across the workspace
// root and any user-added folders.
type Orchestrator struct {
	store     Store
	gen       *embed.Generator
	workspace string
	walker    FileSystemWalker

	mu      sync.Mutex
	folders []string

	indexing atomic.Bool
	progress func(models.Progress)
	lastEmit time.Time
}

// New creates an orchestrator. workspace is the reserved root that is always
// indexed; progress may be nil.
func New(store Store, gen *embed.Generator, workspace string, progress func(models.Progress)) *Orchestrator {
	return &Orchestrator{
		store:     store,
		gen:       gen,
		workspace: workspace,
		walker:    &DefaultFileSystemWalker{},
		progress:  progress,
	}
}

// Folders returns the indexed roots, workspace first.
func (o *Orchestrator) Folders() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.folders)+1)
	out = append(out, o.workspace)
	out = append(out, o.folders...)
	return out
}

// RegisterFolder adds a root to the indexed set without reindexing it, for
// wiring up folders whose data is already persisted.
func (o *Orchestrator) RegisterFolder(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, f := range o.folders {
		if f == abs {
			return
		}
	}
	o.folders = append(o.folders, abs)
}

// AddFolder registers a new root and indexes it without disturbing other
// folders' data.
func (o *Orchestrator) AddFolder(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve folder: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("stat folder: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", abs)
	}

	o.mu.Lock()
	for _, f := range o.folders {
		if f == abs {
			o.mu.Unlock()
			return nil
		}
	}
	o.folders = append(o.folders, abs)
	o.mu.Unlock()

	return o.ReindexFolder(ctx, abs)
}

// RemoveFolder drops a root and all of its persisted chunks.
func (o *Orchestrator) RemoveFolder(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve folder: %w", err)
	}

	o.mu.Lock()
	kept := o.folders[:0]
	for _, f := range o.folders {
		if f != abs {
			kept = append(kept, f)
		}
	}
	o.folders = kept
	o.mu.Unlock()

	return o.store.DeleteChunksByFolder(ctx, abs)
}

// ReindexAll runs the full pipeline over every root. A request while a
// reindex is already running is a no-op.
func (o *Orchestrator) ReindexAll(ctx context.Context) error {
	if !o.indexing.CompareAndSwap(false, true) {
		log.Info().Msg("reindex already running, request ignored")
		return nil
	}
	defer o.indexing.Store(false)

	if err := o.store.DeleteAllChunks(ctx); err != nil {
		o.fail(fmt.Errorf("clear index: %w", err))
		return fmt.Errorf("clear index: %w", err)
	}

	err := o.pipeline(ctx, o.Folders())
	if err != nil {
		o.fail(err)
	}
	return err
}

// ReindexFolder runs the chunk/persist/embed pipeline scoped to one root.
func (o *Orchestrator) ReindexFolder(ctx context.Context, folder string) error {
	if !o.indexing.CompareAndSwap(false, true) {
		log.Info().Str("folder", folder).Msg("reindex already running, folder request ignored")
		return nil
	}
	defer o.indexing.Store(false)

	if err := o.store.DeleteChunksByFolder(ctx, folder); err != nil {
		o.fail(fmt.Errorf("clear folder: %w", err))
		return fmt.Errorf("clear folder: %w", err)
	}

	err := o.pipeline(ctx, []string{folder})
	if err != nil {
		o.fail(err)
	}
	return err
}

// pipeline is the phased scan -> chunk -> save -> embed sequence over the
// given roots. Chunk persistence for a batch always completes before that
// batch's embeddings are requested.
func (o *Orchestrator) pipeline(ctx context.Context, roots []string) error {
	o.emit(models.Progress{Phase: models.PhaseScanning}, true)

	files, perFolder, err := o.scan(ctx, roots)
	if err != nil {
		return err
	}

	// Chunking: per-file failures are logged and skipped, never abort.
	o.emit(models.Progress{Phase: models.PhaseChunking, FilesTotal: len(files)}, true)
	pace := newPacer(yieldEveryFiles)
	var chunks []models.Chunk
	chunksPerFolder := make(map[string]int)
	for i, f := range files {
		if err := pace.tick(ctx); err != nil {
			return err
		}
		cs, err := chunker.ChunkFile(f.path, f.rel, f.folder)
		if err != nil {
			log.Warn().Err(err).Str("path", f.path).Msg("skipping file")
			continue
		}
		chunks = append(chunks, cs...)
		chunksPerFolder[f.folder] += len(cs)
		o.emit(models.Progress{
			Phase:          models.PhaseChunking,
			FilesProcessed: i + 1,
			FilesTotal:     len(files),
			ChunksCreated:  len(chunks),
			OverallPercent: 10 + 35*float64(i+1)/float64(max(len(files), 1)),
		}, false)
	}

	// Saving: storage errors are fatal past this point.
	o.emit(models.Progress{
		Phase:          models.PhaseSaving,
		FilesProcessed: len(files),
		FilesTotal:     len(files),
		ChunksCreated:  len(chunks),
		OverallPercent: 45,
	}, true)
	for start := 0; start < len(chunks); start += chunkBatchSize {
		end := min(start+chunkBatchSize, len(chunks))
		if err := o.store.UpsertChunks(ctx, chunks[start:end]); err != nil {
			return fmt.Errorf("persist chunks: %w", err)
		}
		if err := pace.tick(ctx); err != nil {
			return err
		}
	}

	now := time.Now()
	for _, root := range roots {
		stats := models.FolderStats{
			Path:          root,
			FileCount:     perFolder[root],
			ChunkCount:    chunksPerFolder[root],
			LastIndexedAt: now,
		}
		if err := o.store.UpsertFolderStats(ctx, stats); err != nil {
			return fmt.Errorf("persist folder stats: %w", err)
		}
	}

	if err := o.embedChunks(ctx, chunks, len(files)); err != nil {
		return err
	}

	o.emit(models.Progress{
		Phase:            models.PhaseDone,
		FilesProcessed:   len(files),
		FilesTotal:       len(files),
		ChunksCreated:    len(chunks),
		EmbeddingPercent: 100,
		OverallPercent:   100,
	}, true)
	return nil
}

// embedChunks produces and persists vectors for already-persisted chunks.
func (o *Orchestrator) embedChunks(ctx context.Context, chunks []models.Chunk, filesTotal int) error {
	o.emit(models.Progress{
		Phase:          models.PhaseEmbedding,
		FilesProcessed: filesTotal,
		FilesTotal:     filesTotal,
		ChunksCreated:  len(chunks),
		OverallPercent: 55,
	}, true)
	if len(chunks) == 0 {
		return nil
	}

	if !o.gen.HasRemoteProvider() {
		corpus := make([]string, len(chunks))
		for i, c := range chunks {
			corpus[i] = c.Content
		}
		o.gen.BuildCorpusStatistics(ctx, corpus)
	}

	pace := newPacer(1)
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := min(start+embedBatchSize, len(chunks))
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		vecs, err := o.gen.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch: %w", err)
		}

		// Read the label after the batch: a provider disabled mid-reindex
		// hands back fallback vectors, which must not carry its name.
		model := o.gen.Model()

		embeddings := make([]models.ChunkEmbedding, len(batch))
		for i, c := range batch {
			embeddings[i] = models.ChunkEmbedding{ChunkID: c.ID, Vector: vecs[i], Model: model}
		}
		if err := o.store.UpsertChunkEmbeddings(ctx, embeddings); err != nil {
			return fmt.Errorf("persist embeddings: %w", err)
		}

		pct := 100 * float64(end) / float64(len(chunks))
		o.emit(models.Progress{
			Phase:            models.PhaseEmbedding,
			FilesProcessed:   filesTotal,
			FilesTotal:       filesTotal,
			ChunksCreated:    len(chunks),
			EmbeddingPercent: pct,
			OverallPercent:   55 + 45*pct/100,
		}, false)
		if err := pace.tick(ctx); err != nil {
			return err
		}
	}
	return nil
}

type indexFile struct {
	path   string
	rel    string
	folder string
}

// scan enumerates eligible files under the roots, honoring the extension
// allow-list, the directory exclusion set, and the total file cap.
func (o *Orchestrator) scan(ctx context.Context, roots []string) ([]indexFile, map[string]int, error) {
	var files []indexFile
	perFolder := make(map[string]int)

	for _, root := range roots {
		if len(files) >= MaxIndexFiles {
			break
		}
		folder := root
		err := o.walker.Walk(root, &godirwalk.Options{
			Unsorted: true,
			Callback: func(path string, de *godirwalk.Dirent) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				if de != nil && de.IsDir() {
					if ExcludedDir(de.Name()) {
						return filepath.SkipDir
					}
					return nil
				}
				if !Indexable(path) {
					return nil
				}
				if len(files) >= MaxIndexFiles {
					return errFileCap
				}
				rel, err := filepath.Rel(folder, path)
				if err != nil {
					rel = path
				}
				files = append(files, indexFile{path: path, rel: rel, folder: folder})
				perFolder[folder]++
				return nil
			},
			ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
				log.Warn().Err(err).Str("path", path).Msg("walk error, skipping")
				return godirwalk.SkipNode
			},
		})
		if err != nil && err != errFileCap {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			// One unreadable root should not abort the others.
			log.Warn().Err(err).Str("root", root).Msg("walk failed")
		}
	}

	// Deterministic processing order.
	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })
	return files, perFolder, nil
}

var errFileCap = fmt.Errorf("file cap reached")

// fail reports a terminal error on the progress stream.
func (o *Orchestrator) fail(err error) {
	o.emit(models.Progress{Phase: models.PhaseError, Err: err.Error()}, true)
}

// folderFor returns the indexed root containing path, longest prefix wins.
func (o *Orchestrator) folderFor(path string) (string, bool) {
	best := ""
	for _, root := range o.Folders() {
		if strings.HasPrefix(path, root+string(filepath.Separator)) || path == root {
			if len(root) > len(best) {
				best = root
			}
		}
	}
	return best, best != ""
}
