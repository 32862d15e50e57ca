package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"vidgrab/internal/model"
)

// observerBuffer is the per-subscriber channel depth. Consumers that lag
// further than this lose their oldest buffered events, never the newest.
const observerBuffer = 16

type observer struct {
	id string
	ch chan model.Event
}

// Broker fans each task's events out to its live observers and remembers
// the last event per task so a late subscriber sees current state
// immediately. Publishing never blocks, whatever the consumers do.
type Broker struct {
	mu        sync.Mutex
	observers map[string]map[string]*observer
	last      map[string]model.Event
}

func NewBroker() *Broker {
	return &Broker{
		observers: make(map[string]map[string]*observer),
		last:      make(map[string]model.Event),
	}
}

// Publish delivers ev to every observer of its task. A terminal event
// closes and detaches all of them; the stream is over.
func (b *Broker) Publish(ev model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.last[ev.DownloadID] = ev
	for _, obs := range b.observers[ev.DownloadID] {
		send(obs.ch, ev)
	}
	if ev.Terminal() {
		for _, obs := range b.observers[ev.DownloadID] {
			close(obs.ch)
		}
		delete(b.observers, ev.DownloadID)
	}
}

// send enqueues without blocking, evicting the observer's oldest buffered
// event when it is full. Terminal events therefore always fit.
func send(ch chan model.Event, ev model.Event) {
	for {
		select {
		case ch <- ev:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Subscribe registers an observer for the task. The task's last-known
// event, if any, is replayed as the first delivery; subscribing after the
// terminal event yields just that event on an already-closed channel.
// The returned func detaches the observer and is safe to call more than
// once.
func (b *Broker) Subscribe(taskID string) (<-chan model.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan model.Event, observerBuffer)
	if last, ok := b.last[taskID]; ok {
		ch <- last
		if last.Terminal() {
			close(ch)
			return ch, func() {}
		}
	}

	obs := &observer{id: uuid.NewString(), ch: ch}
	if b.observers[taskID] == nil {
		b.observers[taskID] = make(map[string]*observer)
	}
	b.observers[taskID][obs.id] = obs

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		m, ok := b.observers[taskID]
		if !ok {
			return
		}
		if _, ok := m[obs.id]; !ok {
			return
		}
		delete(m, obs.id)
		close(obs.ch)
		if len(m) == 0 {
			delete(b.observers, taskID)
		}
	}
	return ch, cancel
}

// LastEvent returns the most recent event published for the task.
func (b *Broker) LastEvent(taskID string) (model.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev, ok := b.last[taskID]
	return ev, ok
}

// Reset clears the replay state for an id whose previous run finished,
// so a new run does not inherit the old terminal event.
func (b *Broker) Reset(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.last, taskID)
}

// Keepalive builds the liveness marker streamed while a task is idle.
func Keepalive(taskID string) model.Event {
	return model.Event{
		DownloadID: taskID,
		Status:     model.StatusKeepalive,
		UpdatedAt:  time.Now(),
	}
}
