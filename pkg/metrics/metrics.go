// Package metrics exposes Helios's Prometheus instrumentation: task
// submissions, queue depth, container lifecycle durations, and fan-out
// subscriber counts.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Manager / ingress metrics.
	TasksSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helios_tasks_submitted_total",
			Help: "Total number of task submissions by priority and outcome",
		},
		[]string{"priority", "outcome"},
	)

	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helios_api_requests_total",
			Help: "Total number of HTTP API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "helios_api_request_duration_seconds",
			Help:    "HTTP API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Queue / broker metrics.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "helios_queue_depth",
			Help: "Approximate number of pending jobs per queue",
		},
		[]string{"queue"},
	)

	QueueLeaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "helios_queue_lease_wait_seconds",
			Help:    "Time a worker spent blocked waiting for a lease",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)

	// Worker / container metrics.
	TasksRunningTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "helios_tasks_running",
			Help: "Number of tasks currently executing on this worker",
		},
	)

	TaskExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helios_task_executions_total",
			Help: "Total number of task executions by outcome",
		},
		[]string{"outcome"},
	)

	ContainerRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "helios_container_run_duration_seconds",
			Help:    "Wall-clock duration of a task's container run",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 300, 900, 3600},
		},
	)

	// Fan-out metrics.
	FanoutActiveTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "helios_fanout_active_tasks",
			Help: "Number of tasks with an active log forwarding loop",
		},
	)

	FanoutSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "helios_fanout_subscribers",
			Help: "Total number of live log subscriber sessions across all tasks",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TasksSubmittedTotal,
		APIRequestsTotal,
		APIRequestDuration,
		QueueDepth,
		QueueLeaseDuration,
		TasksRunningTotal,
		TaskExecutionsTotal,
		ContainerRunDuration,
		FanoutActiveTasks,
		FanoutSubscribers,
	)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a small helper for timing operations and observing the elapsed
// duration into a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with
// the given label values.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
