package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/kestrelab/annex/internal/config"
	"github.com/kestrelab/annex/internal/embed"
	"github.com/kestrelab/annex/internal/engine"
	"github.com/kestrelab/annex/internal/store"
)

func main() {
	fs := pflag.NewFlagSet("annex-search", pflag.ExitOnError)
	fs.Int("top-k", 10, "Number of results")
	fs.Float64("min-score", 0, "Minimum relevance score")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)
	zlog.Logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		fmt.Fprintln(os.Stderr, "usage: annex-search [flags] <query>")
		os.Exit(2)
	}

	ctx := context.Background()

	dim := cfg.Dim
	if dim == 0 {
		if cfg.Provider == "gemini" {
			dim = 768
		} else {
			dim = embed.FallbackDim
		}
	}

	st, err := store.New(ctx, cfg.Database, dim)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// One-shot query: no watcher, no maintenance cron.
	cfg.Watch = false
	cfg.CacheEvictSpec = ""

	eng, err := engine.New(ctx, cfg, st)
	if err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}
	defer eng.Destroy()

	topK, _ := fs.GetInt("top-k")
	minScore, _ := fs.GetFloat64("min-score")

	results, err := eng.Search(ctx, query, topK, minScore)
	if err != nil {
		log.Fatalf("Search failed: %v", err)
	}

	for i, r := range results {
		fmt.Printf("%2d. [%.3f] %s — %s\n", i+1, r.Score, r.Chunk.FilePath, r.Chunk.Section)
		content := r.Chunk.Content
		if len(content) > 240 {
			content = content[:240] + "…"
		}
		fmt.Printf("    %s\n\n", strings.ReplaceAll(content, "\n", "\n    "))
	}
	if len(results) == 0 {
		fmt.Println("no results")
	}
}
