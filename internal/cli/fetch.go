package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"vidgrab/internal/config"
	"vidgrab/internal/extract"
	"vidgrab/internal/extract/hls"
	"vidgrab/internal/extract/ytdl"
	"vidgrab/internal/model"
	"vidgrab/internal/progress"
	"vidgrab/internal/task"
	"vidgrab/internal/worker"
)

func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Download one URL and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			quality, _ := cmd.Flags().GetString("quality")
			cfg := config.Init(cmd.Root())
			if err := runFetch(cmd.Context(), cfg, args[0], quality); err != nil {
				return &ExitError{Code: ExitFetch, Err: err}
			}
			return nil
		},
	}
	cmd.Flags().StringP("quality", "q", "best", "quality selector (best, 1080p, 720p, 480p, 360p, worst, or a raw format expression)")
	return cmd
}

// runFetch drives a single task through the same registry and worker the
// API uses, reporting progress on stdout.
func runFetch(ctx context.Context, cfg config.Config, url, quality string) error {
	for _, dir := range []string{cfg.DownloadDir, cfg.DataDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	backend := extract.NewDispatcher(ytdl.New(), hls.New(cfg.Headers))
	broker := progress.NewBroker()
	registry := task.NewRegistry(broker)
	w := worker.New(worker.Options{
		Registry:    registry,
		Resolver:    backend,
		Fetcher:     backend,
		DownloadDir: cfg.DownloadDir,
		StagingDir:  filepath.Join(cfg.DataDir, "staging"),
	})

	t, _ := registry.GetOrCreate(url, quality)
	events, unsubscribe := broker.Subscribe(t.ID)
	defer unsubscribe()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	registry.Bind(t.ID, t.Epoch, cancel)
	go w.Run(runCtx, t)

	for ev := range events {
		switch ev.Status {
		case model.StatusDownloading:
			fmt.Printf("\r%5.1f%%  %-12s ETA %-8s", ev.Progress, ev.Speed, ev.ETA)
		case model.StatusCompleted:
			fmt.Printf("\nSaved %s\n", ev.Filename)
			return nil
		case model.StatusFailed:
			fmt.Println()
			return errors.New(ev.Error)
		case model.StatusCancelled:
			fmt.Println()
			return errors.New("cancelled")
		}
	}
	return nil
}
