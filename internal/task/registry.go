package task

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"vidgrab/internal/model"
	"vidgrab/internal/progress"
)

var (
	// ErrNotFound means no task is registered under the id.
	ErrNotFound = errors.New("task not found")

	// ErrAlreadyTerminal means the run the caller addressed is over: it
	// finished before the call, or the id has moved on to a newer run.
	ErrAlreadyTerminal = errors.New("task already in a terminal state")

	// ErrInvalidTransition means a mutation arrived for a task that has
	// already reached a terminal state.
	ErrInvalidTransition = errors.New("task state is frozen")
)

// entry pairs one task with its lock and its worker's cancel func.
type entry struct {
	mu     sync.Mutex
	task   model.Task
	cancel context.CancelFunc
}

// Registry is the single source of truth for task state. Every mutation
// goes through an accessor that holds the task's lock, and events are
// published inside the same critical section, so each task's stream
// order matches its state history and nothing follows a terminal event.
// Mutators name the run they act for by its epoch; a call whose epoch no
// longer matches the registered run lands nowhere, so a worker unwinding
// from a finished run cannot touch the run that replaced it.
type Registry struct {
	mu     sync.RWMutex
	tasks  map[string]*entry
	broker *progress.Broker
}

func NewRegistry(broker *progress.Broker) *Registry {
	return &Registry{
		tasks:  make(map[string]*entry),
		broker: broker,
	}
}

// GetOrCreate returns the task registered under the fingerprint of
// (url, selector). A fresh queued task under a new epoch is created when
// none exists, or when the previous run under this id already reached a
// terminal state; the second return reports whether the caller owns a
// new task and must start a worker for it.
func (r *Registry) GetOrCreate(rawURL, selector string) (model.Task, bool) {
	id := Fingerprint(rawURL, selector)

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.tasks[id]; ok {
		e.mu.Lock()
		t := e.task
		e.mu.Unlock()
		if !t.Status.IsTerminal() {
			return t, false
		}
	}

	now := time.Now()
	e := &entry{task: model.Task{
		ID:              id,
		Epoch:           uuid.NewString(),
		SourceURL:       strings.TrimSpace(rawURL),
		QualitySelector: NormalizeSelector(selector),
		Status:          model.StatusQueued,
		Speed:           "0 B/s",
		ETA:             "Unknown",
		CreatedAt:       now,
		UpdatedAt:       now,
	}}
	r.tasks[id] = e
	r.broker.Reset(id)
	return e.task, true
}

// Get returns a snapshot of the task registered under id.
func (r *Registry) Get(id string) (model.Task, error) {
	e, err := r.lookup(id)
	if err != nil {
		return model.Task{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.task, nil
}

// List returns snapshots of every registered task, newest first.
func (r *Registry) List() []model.Task {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.tasks))
	for _, e := range r.tasks {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	tasks := make([]model.Task, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		tasks = append(tasks, e.task)
		e.mu.Unlock()
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks
}

// Bind attaches the worker's cancel func to its run. If the run went
// terminal or was replaced before the worker attached, the func is fired
// immediately so the worker's context is dead before it does any work.
func (r *Registry) Bind(id, epoch string, cancel context.CancelFunc) {
	e, err := r.lookup(id)
	if err != nil {
		cancel()
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.task.Epoch != epoch || e.task.Status.IsTerminal() {
		cancel()
		return
	}
	e.cancel = cancel
}

// Start moves the task into the downloading state and publishes the
// initial zero-progress event.
func (r *Registry) Start(id, epoch string) error {
	return r.mutate(id, epoch, true, func(t *model.Task) {
		t.Status = model.StatusDownloading
	})
}

// PublishProgress folds one normalized sample into the task and its
// stream. Percent is clamped to [0, 100] and never decreases while the
// task runs, regardless of what the source reports.
func (r *Registry) PublishProgress(id, epoch string, percent float64, downloaded, total int64, speed, eta string) error {
	return r.mutate(id, epoch, true, func(t *model.Task) {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		if percent > t.Progress {
			t.Progress = percent
		}
		t.DownloadedBytes = downloaded
		t.TotalBytes = total
		if speed != "" {
			t.Speed = speed
		}
		if eta != "" {
			t.ETA = eta
		}
	})
}

// AdvanceAttempt bumps the attempt counter when the worker moves to the
// next fallback rung. The returned error doubles as the worker's
// cancellation safe point: a terminal task refuses the advance.
func (r *Registry) AdvanceAttempt(id, epoch string) (int, error) {
	var attempt int
	err := r.mutate(id, epoch, false, func(t *model.Task) {
		t.Attempt++
		attempt = t.Attempt
	})
	return attempt, err
}

// Complete finalizes a successful task with its placed output file.
func (r *Registry) Complete(id, epoch, resultPath, filename string) error {
	return r.mutate(id, epoch, true, func(t *model.Task) {
		t.Status = model.StatusCompleted
		t.Progress = 100
		t.ResultPath = resultPath
		t.Filename = filename
		t.Speed = ""
		t.ETA = ""
	})
}

// Fail finalizes a task whose every attempt was exhausted.
func (r *Registry) Fail(id, epoch, errorDetail string) error {
	return r.mutate(id, epoch, true, func(t *model.Task) {
		t.Status = model.StatusFailed
		t.ErrorDetail = errorDetail
		t.Speed = ""
		t.ETA = ""
	})
}

// Cancel stops a non-terminal run: it publishes the cancelled terminal
// event and fires the worker's context. Callers distinguish an unknown
// id (ErrNotFound) from a lost race with completion or a newer run
// (ErrAlreadyTerminal).
func (r *Registry) Cancel(id, epoch string) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.task.Epoch != epoch || e.task.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	e.task.Status = model.StatusCancelled
	e.task.Speed = ""
	e.task.ETA = ""
	e.task.UpdatedAt = time.Now()
	r.broker.Publish(e.task.Event())
	if e.cancel != nil {
		e.cancel()
	}
	return nil
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// mutate runs fn on the task under its lock, stamps the update time and
// optionally publishes the resulting event. Terminal tasks are frozen,
// and a mutation carrying a replaced run's epoch is refused outright.
func (r *Registry) mutate(id, epoch string, publish bool, fn func(*model.Task)) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.task.Epoch != epoch {
		return ErrAlreadyTerminal
	}
	if e.task.Status.IsTerminal() {
		return ErrInvalidTransition
	}
	fn(&e.task)
	e.task.UpdatedAt = time.Now()
	if publish {
		r.broker.Publish(e.task.Event())
	}
	return nil
}
