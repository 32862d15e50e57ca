package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidgrab/internal/model"
	"vidgrab/internal/progress"
)

func newTestRegistry() (*Registry, *progress.Broker) {
	broker := progress.NewBroker()
	return NewRegistry(broker), broker
}

func TestGetOrCreateRegistersQueuedTask(t *testing.T) {
	reg, _ := newTestRegistry()

	task, isNew := reg.GetOrCreate("https://example.com/v", "720p")
	require.True(t, isNew)
	assert.Equal(t, Fingerprint("https://example.com/v", "720p"), task.ID)
	assert.NotEmpty(t, task.Epoch)
	assert.Equal(t, model.StatusQueued, task.Status)
	assert.Equal(t, "720p", task.QualitySelector)
	assert.Equal(t, "0 B/s", task.Speed)
	assert.Zero(t, task.Progress)
}

func TestGetOrCreateDeduplicatesActiveTask(t *testing.T) {
	reg, _ := newTestRegistry()

	first, isNew := reg.GetOrCreate("https://example.com/v", "720p")
	require.True(t, isNew)
	require.NoError(t, reg.Start(first.ID, first.Epoch))

	// Same media, noisier URL: still the running task.
	second, isNew := reg.GetOrCreate("https://www.example.com/v?utm_source=x", "720p")
	assert.False(t, isNew)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Epoch, second.Epoch)
	assert.Equal(t, model.StatusDownloading, second.Status)
}

func TestGetOrCreateReplacesTerminalTask(t *testing.T) {
	reg, broker := newTestRegistry()

	first, _ := reg.GetOrCreate("https://example.com/v", "720p")
	require.NoError(t, reg.Start(first.ID, first.Epoch))
	require.NoError(t, reg.Fail(first.ID, first.Epoch, "boom"))

	second, isNew := reg.GetOrCreate("https://example.com/v", "720p")
	assert.True(t, isNew)
	assert.Equal(t, first.ID, second.ID)
	assert.NotEqual(t, first.Epoch, second.Epoch)
	assert.Equal(t, model.StatusQueued, second.Status)
	assert.Empty(t, second.ErrorDetail)
	assert.Zero(t, second.Attempt)

	// The old terminal event must not leak into the new run's stream.
	_, ok := broker.LastEvent(second.ID)
	assert.False(t, ok)
}

func TestGetUnknownTask(t *testing.T) {
	reg, _ := newTestRegistry()
	_, err := reg.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStartPublishesInitialEvent(t *testing.T) {
	reg, broker := newTestRegistry()

	task, _ := reg.GetOrCreate("https://example.com/v", "best")
	require.NoError(t, reg.Start(task.ID, task.Epoch))

	ev, ok := broker.LastEvent(task.ID)
	require.True(t, ok)
	assert.Equal(t, model.StatusDownloading, ev.Status)
	assert.Zero(t, ev.Progress)
	assert.Equal(t, "0 B/s", ev.Speed)
	assert.Equal(t, "Unknown", ev.ETA)
}

func TestProgressPercentIsMonotonic(t *testing.T) {
	reg, _ := newTestRegistry()

	task, _ := reg.GetOrCreate("https://example.com/v", "best")
	require.NoError(t, reg.Start(task.ID, task.Epoch))

	require.NoError(t, reg.PublishProgress(task.ID, task.Epoch, 50, 500, 1000, "1.0 kB/s", "00:10"))
	require.NoError(t, reg.PublishProgress(task.ID, task.Epoch, 30, 600, 1000, "1.0 kB/s", "00:08"))

	got, err := reg.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(50), got.Progress)
	assert.Equal(t, int64(600), got.DownloadedBytes)

	require.NoError(t, reg.PublishProgress(task.ID, task.Epoch, 150, 1000, 1000, "", ""))
	got, _ = reg.Get(task.ID)
	assert.Equal(t, float64(100), got.Progress)
}

func TestTerminalTaskIsFrozen(t *testing.T) {
	reg, _ := newTestRegistry()

	task, _ := reg.GetOrCreate("https://example.com/v", "best")
	require.NoError(t, reg.Start(task.ID, task.Epoch))
	require.NoError(t, reg.Complete(task.ID, task.Epoch, "/tmp/out.mp4", "out.mp4"))

	assert.ErrorIs(t, reg.PublishProgress(task.ID, task.Epoch, 99, 0, 0, "", ""), ErrInvalidTransition)
	assert.ErrorIs(t, reg.Fail(task.ID, task.Epoch, "late failure"), ErrInvalidTransition)
	assert.ErrorIs(t, reg.Start(task.ID, task.Epoch), ErrInvalidTransition)

	_, err := reg.AdvanceAttempt(task.ID, task.Epoch)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, _ := reg.Get(task.ID)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, float64(100), got.Progress)
	assert.Equal(t, "out.mp4", got.Filename)
	assert.Equal(t, "/tmp/out.mp4", got.ResultPath)
}

func TestCancelSemantics(t *testing.T) {
	reg, broker := newTestRegistry()

	assert.ErrorIs(t, reg.Cancel("nope", ""), ErrNotFound)

	task, _ := reg.GetOrCreate("https://example.com/v", "best")
	ctx, cancel := context.WithCancel(context.Background())
	reg.Bind(task.ID, task.Epoch, cancel)
	require.NoError(t, reg.Start(task.ID, task.Epoch))

	require.NoError(t, reg.Cancel(task.ID, task.Epoch))
	assert.ErrorIs(t, reg.Cancel(task.ID, task.Epoch), ErrAlreadyTerminal)

	select {
	case <-ctx.Done():
	default:
		t.Fatal("cancel did not fire the worker context")
	}

	ev, ok := broker.LastEvent(task.ID)
	require.True(t, ok)
	assert.Equal(t, model.StatusCancelled, ev.Status)
}

func TestBindAfterTerminalFiresImmediately(t *testing.T) {
	reg, _ := newTestRegistry()

	task, _ := reg.GetOrCreate("https://example.com/v", "best")
	require.NoError(t, reg.Cancel(task.ID, task.Epoch))

	ctx, cancel := context.WithCancel(context.Background())
	reg.Bind(task.ID, task.Epoch, cancel)

	select {
	case <-ctx.Done():
	default:
		t.Fatal("bind on a finished task must kill the context")
	}
}

func TestMutationsFromReplacedRunAreRejected(t *testing.T) {
	reg, broker := newTestRegistry()

	first, _ := reg.GetOrCreate("https://example.com/v", "best")
	require.NoError(t, reg.Start(first.ID, first.Epoch))
	require.NoError(t, reg.Cancel(first.ID, first.Epoch))

	second, isNew := reg.GetOrCreate("https://example.com/v", "best")
	require.True(t, isNew)
	require.Equal(t, first.ID, second.ID)
	require.NotEqual(t, first.Epoch, second.Epoch)

	// Every mutation still carrying the replaced run's epoch bounces.
	assert.ErrorIs(t, reg.Start(first.ID, first.Epoch), ErrAlreadyTerminal)
	assert.ErrorIs(t, reg.PublishProgress(first.ID, first.Epoch, 50, 500, 1000, "", ""), ErrAlreadyTerminal)
	assert.ErrorIs(t, reg.Complete(first.ID, first.Epoch, "/tmp/out.mp4", "out.mp4"), ErrAlreadyTerminal)
	assert.ErrorIs(t, reg.Fail(first.ID, first.Epoch, "late"), ErrAlreadyTerminal)
	assert.ErrorIs(t, reg.Cancel(first.ID, first.Epoch), ErrAlreadyTerminal)
	_, err := reg.AdvanceAttempt(first.ID, first.Epoch)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)

	// A cancel binding from the replaced run dies on arrival instead of
	// arming against the new run.
	staleCtx, staleCancel := context.WithCancel(context.Background())
	reg.Bind(first.ID, first.Epoch, staleCancel)
	select {
	case <-staleCtx.Done():
	default:
		t.Fatal("bind from a replaced run must fire its own cancel func")
	}

	// The new run is untouched, its stream silent, and still mutable.
	got, err := reg.Get(second.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, got.Status)
	assert.Equal(t, second.Epoch, got.Epoch)
	_, ok := broker.LastEvent(second.ID)
	assert.False(t, ok, "rejected mutations must not publish")

	require.NoError(t, reg.Start(second.ID, second.Epoch))
}

func TestAdvanceAttempt(t *testing.T) {
	reg, _ := newTestRegistry()

	task, _ := reg.GetOrCreate("https://example.com/v", "best")
	require.NoError(t, reg.Start(task.ID, task.Epoch))

	n, err := reg.AdvanceAttempt(task.ID, task.Epoch)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = reg.AdvanceAttempt(task.ID, task.Epoch)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestListNewestFirst(t *testing.T) {
	reg, _ := newTestRegistry()

	reg.GetOrCreate("https://example.com/a", "best")
	time.Sleep(2 * time.Millisecond)
	reg.GetOrCreate("https://example.com/b", "best")
	time.Sleep(2 * time.Millisecond)
	newest, _ := reg.GetOrCreate("https://example.com/c", "best")

	tasks := reg.List()
	require.Len(t, tasks, 3)
	assert.Equal(t, newest.ID, tasks[0].ID)
}
