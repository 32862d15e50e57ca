// Package server exposes the orchestrator over HTTP: task submission,
// listing, live progress streams, cancellation and file delivery.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vidgrab/internal/config"
	"vidgrab/internal/extract"
	"vidgrab/internal/metrics"
	"vidgrab/internal/model"
	"vidgrab/internal/progress"
	"vidgrab/internal/task"
	"vidgrab/internal/worker"
)

type Server struct {
	cfg      config.Config
	registry *task.Registry
	broker   *progress.Broker
	resolver extract.Resolver
	worker   *worker.Worker
	metrics  *metrics.Metrics
	baseCtx  context.Context
}

func New(cfg config.Config, registry *task.Registry, broker *progress.Broker, resolver extract.Resolver, w *worker.Worker, m *metrics.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		broker:   broker,
		resolver: resolver,
		worker:   w,
		metrics:  m,
	}
}

// Routes builds the HTTP surface.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("POST /api/video-info", s.handleVideoInfo)
	mux.HandleFunc("POST /api/downloads", s.handleSubmit)
	mux.HandleFunc("GET /api/downloads", s.handleList)
	mux.HandleFunc("GET /api/download-progress/{id}", s.handleProgress)
	mux.HandleFunc("DELETE /api/downloads/{id}", s.handleCancel)
	mux.HandleFunc("GET /api/downloads/{id}/file", s.handleFile)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s.cors(mux)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
// Workers launched for running tasks share ctx as their parent.
func (s *Server) Start(ctx context.Context) error {
	s.baseCtx = ctx

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	srv := &http.Server{Addr: addr, Handler: s.Routes()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("vidgrab API listening at http://%s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// launch starts the worker goroutine that owns the task. The worker's
// context descends from the server's, not the request's, so the download
// outlives the submitting HTTP call.
func (s *Server) launch(t model.Task) {
	base := s.baseCtx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	s.registry.Bind(t.ID, t.Epoch, cancel)
	go func() {
		defer cancel()
		s.worker.Run(ctx, t)
	}()
}

// cors applies the configured origin allowlist.
func (s *Server) cors(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(s.cfg.AllowedOrigins))
	for _, origin := range s.cfg.AllowedOrigins {
		allowed[origin] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Cache-Control")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}
