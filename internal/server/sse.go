package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"vidgrab/internal/model"
	"vidgrab/internal/progress"
)

// handleProgress streams a task's events as server-sent events: the
// last-known state first, then live updates, keepalives while idle, and
// the stream closes right after the terminal event.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, unsubscribe := s.broker.Subscribe(id)
	defer unsubscribe()

	// Resolve the task after subscribing: a terminal run can be replaced
	// by a resubmission between the two, and the opener must describe
	// the run whose events the subscription carries.
	t, err := s.registry.Get(id)
	if err != nil {
		http.Error(w, "Download not found", http.StatusNotFound)
		return
	}

	s.metrics.ObserverConnected()
	defer s.metrics.ObserverDisconnected()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// A run nobody has touched yet has no stream history; synthesize the
	// opening event from its registered state.
	if last, ok := s.broker.LastEvent(id); !ok || last.Epoch != t.Epoch {
		if err := writeEvent(w, flusher, t.Event()); err != nil {
			return
		}
		if t.Status.IsTerminal() {
			return
		}
	}

	keepalive := time.NewTimer(s.cfg.Keepalive)
	defer keepalive.Stop()

	for {
		select {
		case ev, open := <-events:
			if !open {
				return
			}
			if ev.Epoch != t.Epoch {
				// Replay left over from a replaced run.
				continue
			}
			if err := writeEvent(w, flusher, ev); err != nil {
				return
			}
			if ev.Terminal() {
				return
			}
			resetTimer(keepalive, s.cfg.Keepalive)
		case <-keepalive.C:
			if err := writeEvent(w, flusher, progress.Keepalive(id)); err != nil {
				return
			}
			keepalive.Reset(s.cfg.Keepalive)
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w io.Writer, flusher http.Flusher, ev model.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
