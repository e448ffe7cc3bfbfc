// Package engine wires the retrieval pipeline into one facade: indexing,
// watching, searching, periodic cache maintenance, and the progress event
// stream consumed by the agent/UI layer.
package engine

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/kestrelab/annex/internal/config"
	"github.com/kestrelab/annex/internal/embed"
	"github.com/kestrelab/annex/internal/embed/embedcache"
	"github.com/kestrelab/annex/internal/index"
	"github.com/kestrelab/annex/internal/offload"
	"github.com/kestrelab/annex/internal/search"
	"github.com/kestrelab/annex/internal/watch"
	"github.com/kestrelab/annex/pkg/models"
)

// Storage is everything the engine needs from the storage collaborator.
type Storage interface {
	index.Store
	embedcache.Store
}

// Engine is the retrieval engine facade.
type Engine struct {
	gen      *embed.Generator
	cache    *embedcache.Cache
	pool     *offload.Pool
	orch     *index.Orchestrator
	searcher *search.Service
	watcher  *watch.Watcher
	cron     *cron.Cron

	events  chan models.Progress
	destroy sync.Once
}

// New builds and starts the engine. The watcher and the maintenance cron
// are optional per configuration; their failure never blocks indexing.
func New(ctx context.Context, cfg config.Specification, st Storage) (*Engine, error) {
	pool := offload.NewPool(4)

	cache, err := embedcache.New(st)
	if err != nil {
		pool.Stop()
		return nil, err
	}

	var provider embed.Provider
	if strings.EqualFold(cfg.Provider, "gemini") {
		p, err := embed.NewGeminiProvider(ctx, cfg.APIKey, cfg.EmbedModel, cfg.Dim)
		if err != nil {
			pool.Stop()
			return nil, err
		}
		provider = p
	}

	gen := embed.New(provider, cache, pool)

	e := &Engine{
		gen:    gen,
		cache:  cache,
		pool:   pool,
		events: make(chan models.Progress, 64),
	}

	e.orch = index.New(st, gen, cfg.Workspace, e.publish)
	for _, f := range cfg.Folders {
		e.orch.RegisterFolder(f)
	}
	e.searcher = search.NewService(st, gen, e.orch)

	if cfg.Watch {
		var w *watch.Watcher
		w, err = watch.New(func(paths []string) {
			err := e.orch.ReindexFiles(context.Background(), paths)
			if errors.Is(err, index.ErrBusy) {
				// A full reindex holds the guard; keep the batch alive for
				// the next debounce window instead of losing it.
				w.Requeue(paths)
				return
			}
			if err != nil {
				log.Warn().Err(err).Msg("incremental reindex batch failed")
			}
		})
		if err != nil {
			log.Warn().Err(err).Msg("file watching disabled")
		} else {
			e.watcher = w
			for _, root := range e.orch.Folders() {
				if err := w.AddRoot(root); err != nil {
					log.Warn().Err(err).Str("root", root).Msg("watch root failed")
				}
			}
		}
	}

	if spec := strings.TrimSpace(cfg.CacheEvictSpec); spec != "" {
		c := cron.New()
		_, err := c.AddFunc(spec, func() {
			if err := cache.Evict(context.Background()); err != nil {
				log.Warn().Err(err).Msg("embedding cache eviction failed")
			}
		})
		if err != nil {
			log.Warn().Err(err).Str("spec", spec).Msg("cache eviction not scheduled")
		} else {
			c.Start()
			e.cron = c
		}
	}

	return e, nil
}

// publish pushes a progress snapshot onto the event stream without ever
// blocking the indexing phases; slow consumers lose intermediate snapshots.
func (e *Engine) publish(p models.Progress) {
	select {
	case e.events <- p:
	default:
	}
}

// Events is the progress stream.
func (e *Engine) Events() <-chan models.Progress { return e.events }

// Reindex runs a full reindex; a no-op when one is already running.
func (e *Engine) Reindex(ctx context.Context) error {
	return e.orch.ReindexAll(ctx)
}

// AddFolder indexes a new root and starts watching it.
func (e *Engine) AddFolder(ctx context.Context, path string) error {
	if err := e.orch.AddFolder(ctx, path); err != nil {
		return err
	}
	if e.watcher != nil {
		if err := e.watcher.AddRoot(path); err != nil {
			log.Warn().Err(err).Str("root", path).Msg("watch root failed")
		}
	}
	return nil
}

// RemoveFolder drops a root, its chunks, and its watch.
func (e *Engine) RemoveFolder(ctx context.Context, path string) error {
	if e.watcher != nil {
		e.watcher.RemoveRoot(path)
	}
	return e.orch.RemoveFolder(ctx, path)
}

// Search answers a query, bootstrapping the index on first use.
func (e *Engine) Search(ctx context.Context, query string, topK int, minScore float64) ([]models.SearchResult, error) {
	return e.searcher.Search(ctx, query, topK, minScore)
}

// Stats reports folder stats and the total chunk count.
func (e *Engine) Stats(ctx context.Context) (index.Stats, error) {
	return e.orch.Stats(ctx)
}

// Destroy stops watchers, the maintenance cron, and the offload worker.
func (e *Engine) Destroy() {
	e.destroy.Do(func() {
		if e.watcher != nil {
			if err := e.watcher.Close(); err != nil {
				log.Warn().Err(err).Msg("watcher close failed")
			}
		}
		if e.cron != nil {
			<-e.cron.Stop().Done()
		}
		e.pool.Stop()
		close(e.events)
	})
}
