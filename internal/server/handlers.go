package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"vidgrab/internal/model"
	"vidgrab/internal/task"
)

// downloadRequest is the submission payload.
type downloadRequest struct {
	URL             string `json:"url"`
	QualitySelector string `json:"qualitySelector"`
}

// downloadResponse answers a submission. Duplicate marks requests that
// attached to an already-running task instead of starting a new one.
type downloadResponse struct {
	DownloadID string  `json:"download_id"`
	Status     string  `json:"status"`
	Message    string  `json:"message"`
	Progress   float64 `json:"progress,omitempty"`
	Duplicate  bool    `json:"duplicate"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "vidgrab API is running"})
}

func (s *Server) handleVideoInfo(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := validateURL(body.URL); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	info, err := s.resolver.Resolve(r.Context(), body.URL)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to extract video info: %v", err), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := validateURL(body.URL); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	t, isNew := s.registry.GetOrCreate(body.URL, body.QualitySelector)
	if !isNew {
		writeJSON(w, http.StatusOK, downloadResponse{
			DownloadID: t.ID,
			Status:     t.Status.String(),
			Message:    "Download already in progress",
			Progress:   t.Progress,
			Duplicate:  true,
		})
		return
	}

	s.launch(t)
	writeJSON(w, http.StatusOK, downloadResponse{
		DownloadID: t.ID,
		Status:     t.Status.String(),
		Message:    "Download started",
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	t, err := s.registry.Get(id)
	if err != nil {
		http.Error(w, "Download not found", http.StatusNotFound)
		return
	}

	switch err := s.registry.Cancel(t.ID, t.Epoch); {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"message": "Download cancelled"})
	case errors.Is(err, task.ErrAlreadyTerminal):
		if cur, getErr := s.registry.Get(id); getErr == nil {
			t = cur
		}
		http.Error(w, fmt.Sprintf("Download already %s", t.Status), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	t, err := s.registry.Get(id)
	if err != nil {
		http.Error(w, "Download not found", http.StatusNotFound)
		return
	}
	if t.Status != model.StatusCompleted {
		http.Error(w, fmt.Sprintf("Download is %s, not completed", t.Status), http.StatusConflict)
		return
	}
	if t.ResultPath == "" {
		http.Error(w, "Download output is gone", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", t.Filename))
	http.ServeFile(w, r, t.ResultPath)
}

func validateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.New("invalid url")
	}
	return nil
}
