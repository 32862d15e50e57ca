// Package worker executes download tasks: one Run per task, walking the
// quality fallback ladder until a rung succeeds, every rung is spent, or
// the task is cancelled.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"vidgrab/internal/extract"
	"vidgrab/internal/files"
	"vidgrab/internal/format"
	"vidgrab/internal/metrics"
	"vidgrab/internal/model"
	"vidgrab/internal/task"
)

type Options struct {
	Registry    *task.Registry
	Resolver    extract.Resolver
	Fetcher     extract.Fetcher
	DownloadDir string
	StagingDir  string
	Metrics     *metrics.Metrics
}

type Worker struct {
	registry    *task.Registry
	resolver    extract.Resolver
	fetcher     extract.Fetcher
	downloadDir string
	stagingDir  string
	metrics     *metrics.Metrics
}

func New(opts Options) *Worker {
	return &Worker{
		registry:    opts.Registry,
		resolver:    opts.Resolver,
		fetcher:     opts.Fetcher,
		downloadDir: opts.DownloadDir,
		stagingDir:  opts.StagingDir,
		metrics:     opts.Metrics,
	}
}

// Run drives one task to a terminal state. It is the only goroutine that
// publishes progress for the task; cancellation arrives through ctx and
// the registry's terminal guard, and every exit path below leaves the
// task terminal.
func (w *Worker) Run(ctx context.Context, t model.Task) {
	if err := w.registry.Start(t.ID, t.Epoch); err != nil {
		// Cancelled between submission and startup.
		return
	}
	w.metrics.TaskStarted()
	started := time.Now()
	defer func() {
		if final, err := w.registry.Get(t.ID); err == nil && final.Epoch == t.Epoch {
			w.metrics.TaskFinished(final.Status.String(), time.Since(started))
		}
	}()

	log.Printf("Task %s: starting download of %s (%s)", t.ID, t.SourceURL, t.QualitySelector)

	info, err := w.resolver.Resolve(ctx, t.SourceURL)
	if err != nil {
		if ctx.Err() != nil {
			w.cancelTask(t.ID, t.Epoch)
			return
		}
		w.failTask(t.ID, t.Epoch, fmt.Errorf("resolve source: %w", err))
		return
	}

	staging, err := files.MakeStagingDir(w.stagingDir, t.ID)
	if err != nil {
		w.failTask(t.ID, t.Epoch, fmt.Errorf("create staging dir: %w", err))
		return
	}
	defer files.Cleanup(staging)

	var lastErr error
	for rung, selector := range extract.FallbackLadder(t.QualitySelector) {
		if rung > 0 {
			if _, err := w.registry.AdvanceAttempt(t.ID, t.Epoch); err != nil {
				return
			}
			w.metrics.LadderRetry()
		}
		if ctx.Err() != nil {
			w.cancelTask(t.ID, t.Epoch)
			return
		}

		staged, err := w.fetcher.Fetch(ctx, t.SourceURL, selector, staging, func(s extract.Sample) {
			w.publishSample(t.ID, t.Epoch, s)
		})
		if err == nil {
			// A fetch can outrun its cancellation; a cancelled run
			// places no output.
			if ctx.Err() != nil {
				w.cancelTask(t.ID, t.Epoch)
				return
			}
			w.finalize(t.ID, t.Epoch, info.Title, selector, staged)
			return
		}
		if ctx.Err() != nil {
			w.cancelTask(t.ID, t.Epoch)
			return
		}
		lastErr = err
		log.Printf("Task %s: quality %s failed: %v", t.ID, selector, err)
	}

	w.failTask(t.ID, t.Epoch, fmt.Errorf("all formats exhausted: %w", lastErr))
}

// publishSample folds one raw byte sample into the task's stream.
func (w *Worker) publishSample(id, epoch string, s extract.Sample) {
	var percent float64
	if s.TotalBytes > 0 {
		percent = float64(s.DownloadedBytes) / float64(s.TotalBytes) * 100
	}
	eta := "Unknown"
	if s.Rate > 0 && s.TotalBytes > s.DownloadedBytes {
		remaining := float64(s.TotalBytes-s.DownloadedBytes) / s.Rate
		eta = format.Duration(int64(remaining))
	}
	// Samples racing a terminal transition are dropped by the registry.
	_ = w.registry.PublishProgress(id, epoch, percent, s.DownloadedBytes, s.TotalBytes, format.Speed(s.Rate), eta)
}

// finalize names the staged file after the media and moves it into the
// downloads directory.
func (w *Worker) finalize(id, epoch, title, selector, staged string) {
	name := files.OutputName(title, selector, filepath.Ext(staged))
	finalPath, err := files.Promote(staged, w.downloadDir, name)
	if err != nil {
		w.failTask(id, epoch, fmt.Errorf("finalize output: %w", err))
		return
	}
	if err := w.registry.Complete(id, epoch, finalPath, name); err != nil {
		// Lost the race with a cancel; the output is unwanted. When the
		// rejection came from a successor run, the name may already be
		// its output and is not ours to remove.
		if errors.Is(err, task.ErrInvalidTransition) {
			os.Remove(finalPath)
		}
		return
	}
	log.Printf("Task %s: completed as %s", id, name)
}

func (w *Worker) failTask(id, epoch string, err error) {
	if regErr := w.registry.Fail(id, epoch, err.Error()); regErr != nil {
		return
	}
	log.Printf("Task %s: failed: %v", id, err)
}

func (w *Worker) cancelTask(id, epoch string) {
	err := w.registry.Cancel(id, epoch)
	if err != nil && !errors.Is(err, task.ErrAlreadyTerminal) {
		log.Printf("Task %s: cancel: %v", id, err)
	}
}
