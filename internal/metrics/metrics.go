// Package metrics exposes orchestrator activity to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics carries the collectors for task throughput and stream fanout.
// A nil *Metrics is valid and records nothing, which keeps collaborators
// free of registration side effects in tests.
type Metrics struct {
	tasksTotal    *prometheus.CounterVec
	ladderRetries prometheus.Counter
	inProgress    prometheus.Gauge
	observers     prometheus.Gauge
	taskDuration  *prometheus.HistogramVec
}

func New(serviceName string) *Metrics {
	m := &Metrics{
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: serviceName + "_tasks_total",
			Help: "Tasks finished, by terminal state",
		}, []string{"state"}),
		ladderRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: serviceName + "_ladder_retries_total",
			Help: "Fallback rungs attempted after a failed quality",
		}),
		inProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: serviceName + "_tasks_in_progress",
			Help: "Tasks currently executing",
		}),
		observers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: serviceName + "_stream_observers",
			Help: "Connected progress stream subscribers",
		}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    serviceName + "_task_duration_seconds",
			Help:    "Wall time from worker start to terminal state",
			Buckets: prometheus.DefBuckets,
		}, []string{"state"}),
	}

	prometheus.MustRegister(m.tasksTotal, m.ladderRetries, m.inProgress, m.observers, m.taskDuration)
	return m
}

// TaskStarted records a worker picking up a task.
func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.inProgress.Inc()
}

// TaskFinished records a task reaching the given terminal state.
func (m *Metrics) TaskFinished(state string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.inProgress.Dec()
	m.tasksTotal.WithLabelValues(state).Inc()
	m.taskDuration.WithLabelValues(state).Observe(elapsed.Seconds())
}

// LadderRetry records one fallback rung being attempted.
func (m *Metrics) LadderRetry() {
	if m == nil {
		return
	}
	m.ladderRetries.Inc()
}

// ObserverConnected records a progress stream subscriber attaching.
func (m *Metrics) ObserverConnected() {
	if m == nil {
		return
	}
	m.observers.Inc()
}

// ObserverDisconnected records a progress stream subscriber detaching.
func (m *Metrics) ObserverDisconnected() {
	if m == nil {
		return
	}
	m.observers.Dec()
}
