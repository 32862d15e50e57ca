package model

import "time"

// Task is one orchestrated download. The ID is the fingerprint of the
// (source URL, quality selector) pair, so resubmitting the same request
// always lands on the same task. Epoch tells successive runs under one
// ID apart: a resubmission after a terminal state reuses the ID with a
// fresh epoch.
type Task struct {
	ID              string    `json:"download_id"`
	Epoch           string    `json:"-"`
	SourceURL       string    `json:"url"`
	QualitySelector string    `json:"quality"`
	Status          Status    `json:"status"`
	Progress        float64   `json:"progress"`
	DownloadedBytes int64     `json:"downloaded_bytes"`
	TotalBytes      int64     `json:"total_bytes"`
	Speed           string    `json:"speed"`
	ETA             string    `json:"eta"`
	Attempt         int       `json:"attempt"`
	Filename        string    `json:"filename,omitempty"`
	ResultPath      string    `json:"-"`
	ErrorDetail     string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Event materializes the task's current fields as one stream event.
func (t Task) Event() Event {
	return Event{
		DownloadID:      t.ID,
		Epoch:           t.Epoch,
		Status:          t.Status,
		Progress:        t.Progress,
		DownloadedBytes: t.DownloadedBytes,
		TotalBytes:      t.TotalBytes,
		Speed:           t.Speed,
		ETA:             t.ETA,
		Filename:        t.Filename,
		Error:           t.ErrorDetail,
		UpdatedAt:       t.UpdatedAt,
	}
}
