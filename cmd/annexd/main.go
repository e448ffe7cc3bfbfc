package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/kestrelab/annex/internal/config"
	"github.com/kestrelab/annex/internal/embed"
	"github.com/kestrelab/annex/internal/engine"
	"github.com/kestrelab/annex/internal/store"
	"github.com/kestrelab/annex/pkg/models"
)

func main() {
	fs := pflag.NewFlagSet("annexd", pflag.ExitOnError)
	fs.Bool("reindex", false, "Run a full reindex on startup")

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
	zlog.Logger = zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

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

	eng, err := engine.New(ctx, cfg, st)
	if err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}
	defer eng.Destroy()

	go func() {
		for p := range eng.Events() {
			ev := zlog.Info().
				Str("phase", string(p.Phase)).
				Int("files", p.FilesProcessed).
				Int("files_total", p.FilesTotal).
				Int("chunks", p.ChunksCreated).
				Float64("overall", p.OverallPercent)
			if p.Phase == models.PhaseError {
				ev = zlog.Error().Str("phase", string(p.Phase)).Str("error", p.Err)
			}
			ev.Msg("index progress")
		}
	}()

	if run, _ := fs.GetBool("reindex"); run {
		if err := eng.Reindex(ctx); err != nil {
			zlog.Error().Err(err).Msg("reindex failed")
		}
	}

	zlog.Info().Str("workspace", cfg.Workspace).Bool("watch", cfg.Watch).Msg("annexd running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	zlog.Info().Msg("shutting down")
}
