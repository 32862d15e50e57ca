package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"vidgrab/internal/config"
	"vidgrab/internal/database"
	"vidgrab/internal/extract"
	"vidgrab/internal/extract/hls"
	"vidgrab/internal/extract/ytdl"
	"vidgrab/internal/infocache"
	"vidgrab/internal/metrics"
	"vidgrab/internal/progress"
	"vidgrab/internal/server"
	"vidgrab/internal/task"
	"vidgrab/internal/worker"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the download orchestrator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Init(cmd.Root())
			if err := runServe(cmd.Context(), cfg); err != nil {
				return &ExitError{Code: ExitServe, Err: err}
			}
			return nil
		},
	}
}

func runServe(ctx context.Context, cfg config.Config) error {
	for _, dir := range []string{cfg.DownloadDir, cfg.DataDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	db, err := database.Init(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	cache, err := infocache.New(db, cfg.InfoCacheTTL)
	if err != nil {
		return fmt.Errorf("init info cache: %w", err)
	}

	backend := extract.NewDispatcher(ytdl.New(), hls.New(cfg.Headers))
	resolver := infocache.NewResolver(cache, backend)

	broker := progress.NewBroker()
	registry := task.NewRegistry(broker)
	m := metrics.New("vidgrab")

	w := worker.New(worker.Options{
		Registry:    registry,
		Resolver:    resolver,
		Fetcher:     backend,
		DownloadDir: cfg.DownloadDir,
		StagingDir:  filepath.Join(cfg.DataDir, "staging"),
		Metrics:     m,
	})

	srv := server.New(cfg, registry, broker, resolver, w, m)
	return srv.Start(ctx)
}
