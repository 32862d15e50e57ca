package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidgrab/internal/extract"
	"vidgrab/internal/model"
	"vidgrab/internal/progress"
	"vidgrab/internal/task"
)

// scriptedBackend acts out a download plan: rungs listed in failWith
// error out, anything else emits its samples and produces a file.
type scriptedBackend struct {
	mu       sync.Mutex
	calls    []string
	failWith map[string]error
	samples  []extract.Sample

	resolveErr error
	title      string

	entered           chan string   // receives each selector as its fetch starts
	release           chan struct{} // when set, fetches block here until closed
	holdThroughCancel bool          // stay parked on release even after ctx dies
}

func (s *scriptedBackend) Resolve(ctx context.Context, url string) (*extract.VideoInfo, error) {
	if s.resolveErr != nil {
		return nil, s.resolveErr
	}
	title := s.title
	if title == "" {
		title = "My Video"
	}
	return &extract.VideoInfo{Title: title, Duration: "01:00"}, nil
}

func (s *scriptedBackend) Fetch(ctx context.Context, url, selector, dir string, onProgress extract.ProgressFunc) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, selector)
	s.mu.Unlock()

	if s.entered != nil {
		s.entered <- selector
	}
	if s.release != nil {
		if s.holdThroughCancel {
			<-s.release
		} else {
			select {
			case <-s.release:
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	if err, ok := s.failWith[selector]; ok {
		return "", err
	}

	for _, sample := range s.samples {
		onProgress(sample)
	}
	out := filepath.Join(dir, "media.mp4")
	if err := os.WriteFile(out, []byte("payload"), 0644); err != nil {
		return "", err
	}
	return out, nil
}

func (s *scriptedBackend) selectors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type fixture struct {
	registry *task.Registry
	broker   *progress.Broker
	worker   *Worker
	backend  *scriptedBackend
	dlDir    string
}

func newFixture(t *testing.T, backend *scriptedBackend) *fixture {
	t.Helper()
	broker := progress.NewBroker()
	registry := task.NewRegistry(broker)
	dlDir := t.TempDir()
	w := New(Options{
		Registry:    registry,
		Resolver:    backend,
		Fetcher:     backend,
		DownloadDir: dlDir,
		StagingDir:  t.TempDir(),
	})
	return &fixture{registry: registry, broker: broker, worker: w, backend: backend, dlDir: dlDir}
}

// runToTerminal executes the task synchronously and returns every event
// its stream carried, in order.
func (f *fixture) runToTerminal(t *testing.T, url, selector string) (model.Task, []model.Event) {
	t.Helper()
	created, isNew := f.registry.GetOrCreate(url, selector)
	require.True(t, isNew)

	events, unsubscribe := f.broker.Subscribe(created.ID)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.registry.Bind(created.ID, created.Epoch, cancel)
	f.worker.Run(ctx, created)

	var got []model.Event
	for ev := range events {
		got = append(got, ev)
	}
	final, err := f.registry.Get(created.ID)
	require.NoError(t, err)
	return final, got
}

func TestWorkerCompletesFirstRung(t *testing.T) {
	backend := &scriptedBackend{
		samples: []extract.Sample{
			{DownloadedBytes: 50, TotalBytes: 100, Rate: 1000},
			{DownloadedBytes: 100, TotalBytes: 100, Rate: 1000},
		},
	}
	f := newFixture(t, backend)

	final, events := f.runToTerminal(t, "https://example.com/v", "720p")

	assert.Equal(t, model.StatusCompleted, final.Status)
	assert.Equal(t, float64(100), final.Progress)
	assert.Equal(t, 0, final.Attempt)
	assert.Equal(t, "My Video_720p.mp4", final.Filename)
	assert.FileExists(t, final.ResultPath)
	assert.Equal(t, filepath.Join(f.dlDir, "My Video_720p.mp4"), final.ResultPath)

	assert.Equal(t, []string{"720p"}, backend.selectors())

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, model.StatusCompleted, last.Status)
	assert.Equal(t, "My Video_720p.mp4", last.Filename)
}

func TestWorkerWalksFallbackLadder(t *testing.T) {
	backend := &scriptedBackend{
		failWith: map[string]error{
			"1080p": errors.New("format gone"),
			"480p":  errors.New("format gone"),
		},
	}
	f := newFixture(t, backend)

	final, _ := f.runToTerminal(t, "https://example.com/v", "1080p")

	assert.Equal(t, model.StatusCompleted, final.Status)
	assert.Equal(t, 2, final.Attempt)
	assert.Equal(t, []string{"1080p", "480p", "720p"}, backend.selectors())
	assert.Equal(t, "My Video_720p.mp4", final.Filename)
}

func TestWorkerExhaustsLadder(t *testing.T) {
	boom := errors.New("nothing matched")
	backend := &scriptedBackend{
		failWith: map[string]error{
			"best": boom, "480p": boom, "720p": boom, "worst": boom,
		},
	}
	f := newFixture(t, backend)

	final, events := f.runToTerminal(t, "https://example.com/v", "best")

	assert.Equal(t, model.StatusFailed, final.Status)
	assert.Equal(t, 3, final.Attempt)
	assert.Contains(t, final.ErrorDetail, "all formats exhausted")
	assert.Contains(t, final.ErrorDetail, "nothing matched")
	assert.Equal(t, []string{"best", "480p", "720p", "worst"}, backend.selectors())

	terminals := 0
	for _, ev := range events {
		if ev.Terminal() {
			terminals++
		}
	}
	assert.Equal(t, 1, terminals, "stream must carry exactly one terminal event")
}

func TestWorkerProgressNeverDecreases(t *testing.T) {
	backend := &scriptedBackend{
		samples: []extract.Sample{
			{DownloadedBytes: 50, TotalBytes: 100, Rate: 10},
			{DownloadedBytes: 30, TotalBytes: 100, Rate: 10},
			{DownloadedBytes: 80, TotalBytes: 100, Rate: 10},
		},
	}
	f := newFixture(t, backend)

	_, events := f.runToTerminal(t, "https://example.com/v", "best")

	var prev float64
	for _, ev := range events {
		require.GreaterOrEqual(t, ev.Progress, prev, "progress went backwards at %+v", ev)
		prev = ev.Progress
	}
	assert.Equal(t, float64(100), prev)
}

func TestWorkerCancelMidFetch(t *testing.T) {
	backend := &scriptedBackend{
		entered: make(chan string, 1),
		release: make(chan struct{}),
	}
	f := newFixture(t, backend)

	created, _ := f.registry.GetOrCreate("https://example.com/v", "best")
	events, unsubscribe := f.broker.Subscribe(created.ID)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	f.registry.Bind(created.ID, created.Epoch, cancel)

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.worker.Run(ctx, created)
	}()

	<-backend.entered
	require.NoError(t, f.registry.Cancel(created.ID, created.Epoch))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}

	final, err := f.registry.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, final.Status)

	var got []model.Event
	for ev := range events {
		got = append(got, ev)
	}
	require.NotEmpty(t, got)
	assert.Equal(t, model.StatusCancelled, got[len(got)-1].Status)

	_, err = os.Stat(filepath.Join(f.dlDir, "My Video_best.mp4"))
	assert.True(t, os.IsNotExist(err), "cancelled task must not leave an output file")
}

func TestWorkerResolveFailure(t *testing.T) {
	backend := &scriptedBackend{resolveErr: errors.New("extractor said no")}
	f := newFixture(t, backend)

	final, _ := f.runToTerminal(t, "https://example.com/v", "best")

	assert.Equal(t, model.StatusFailed, final.Status)
	assert.Contains(t, final.ErrorDetail, "resolve source")
	assert.Empty(t, backend.selectors(), "no fetch may run without media info")
}

func TestWorkerStartOnCancelledTaskIsNoOp(t *testing.T) {
	backend := &scriptedBackend{}
	f := newFixture(t, backend)

	created, _ := f.registry.GetOrCreate("https://example.com/v", "best")
	require.NoError(t, f.registry.Cancel(created.ID, created.Epoch))

	f.worker.Run(context.Background(), created)

	final, _ := f.registry.Get(created.ID)
	assert.Equal(t, model.StatusCancelled, final.Status)
	assert.Empty(t, backend.selectors())
}

func TestWorkerCancelUnwindSparesResubmission(t *testing.T) {
	backend := &scriptedBackend{
		failWith:          map[string]error{"best": errors.New("format gone")},
		entered:           make(chan string, 1),
		release:           make(chan struct{}),
		holdThroughCancel: true,
	}
	f := newFixture(t, backend)

	first, isNew := f.registry.GetOrCreate("https://example.com/v", "best")
	require.True(t, isNew)
	ctx, cancel := context.WithCancel(context.Background())
	f.registry.Bind(first.ID, first.Epoch, cancel)

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.worker.Run(ctx, first)
	}()
	<-backend.entered
	require.NoError(t, f.registry.Cancel(first.ID, first.Epoch))

	// The same request arrives again while the cancelled worker is still
	// parked inside its fetch.
	second, isNew := f.registry.GetOrCreate("https://example.com/v", "best")
	require.True(t, isNew)
	require.Equal(t, first.ID, second.ID)
	require.NotEqual(t, first.Epoch, second.Epoch)

	freshCtx, freshCancel := context.WithCancel(context.Background())
	defer freshCancel()
	f.registry.Bind(second.ID, second.Epoch, freshCancel)
	events, unsubscribe := f.broker.Subscribe(second.ID)
	defer unsubscribe()

	// Let the old worker unwind; its late cancellation must land nowhere.
	close(backend.release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("old worker never exited")
	}

	got, err := f.registry.Get(second.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, got.Status)
	assert.Equal(t, second.Epoch, got.Epoch)

	select {
	case <-freshCtx.Done():
		t.Fatal("old worker fired the new run's context")
	default:
	}
	select {
	case ev := <-events:
		t.Fatalf("new run's stream carried an event it never produced: %s", ev.Status)
	default:
	}
}

func TestWorkerCannotCompleteReplacedRun(t *testing.T) {
	backend := &scriptedBackend{
		samples:           []extract.Sample{{DownloadedBytes: 100, TotalBytes: 100, Rate: 1000}},
		entered:           make(chan string, 1),
		release:           make(chan struct{}),
		holdThroughCancel: true,
	}
	f := newFixture(t, backend)

	first, _ := f.registry.GetOrCreate("https://example.com/v", "best")
	ctx, cancel := context.WithCancel(context.Background())
	f.registry.Bind(first.ID, first.Epoch, cancel)

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.worker.Run(ctx, first)
	}()
	<-backend.entered
	require.NoError(t, f.registry.Cancel(first.ID, first.Epoch))

	second, isNew := f.registry.GetOrCreate("https://example.com/v", "best")
	require.True(t, isNew)

	// The old fetch now hands back a finished file for the cancelled run.
	close(backend.release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("old worker never exited")
	}

	got, err := f.registry.Get(second.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, got.Status)
	assert.Zero(t, got.Progress)
	assert.Zero(t, got.DownloadedBytes)
	assert.Empty(t, got.Filename)
	assert.NoFileExists(t, filepath.Join(f.dlDir, "My Video_best.mp4"))
}
