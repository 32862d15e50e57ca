package model

// Status is the lifecycle state of a download task.
type Status string

const (
	// StatusQueued means the task is registered but no worker has picked
	// it up yet.
	StatusQueued Status = "queued"

	// StatusDownloading means a worker is actively transferring bytes.
	StatusDownloading Status = "downloading"

	// StatusCompleted means the output file is placed and servable.
	StatusCompleted Status = "completed"

	// StatusFailed means every fallback attempt was exhausted.
	StatusFailed Status = "failed"

	// StatusCancelled means the task was stopped on request.
	StatusCancelled Status = "cancelled"

	// StatusKeepalive only ever appears on the event stream, as a
	// liveness marker while a task is idle. Tasks never hold this state.
	StatusKeepalive Status = "keepalive"
)

func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether the state admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsActive reports whether a worker still owns the task.
func (s Status) IsActive() bool {
	return s == StatusQueued || s == StatusDownloading
}
