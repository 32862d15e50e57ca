package model

import "time"

// Event is one record on a task's progress stream. Epoch names the run
// that produced it and stays off the wire.
type Event struct {
	DownloadID      string    `json:"download_id"`
	Epoch           string    `json:"-"`
	Status          Status    `json:"status"`
	Progress        float64   `json:"progress"`
	DownloadedBytes int64     `json:"downloaded_bytes"`
	TotalBytes      int64     `json:"total_bytes"`
	Speed           string    `json:"speed,omitempty"`
	ETA             string    `json:"eta,omitempty"`
	Filename        string    `json:"filename,omitempty"`
	Error           string    `json:"error,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Terminal reports whether this event ends the stream.
func (e Event) Terminal() bool {
	return e.Status.IsTerminal()
}
