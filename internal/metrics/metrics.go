package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RequestsTotal counts HTTP requests by method, path, status.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coordinator_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDurationSeconds measures request latency.
	RequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coordinator_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// TasksSubmitted counts accepted task submissions.
	TasksSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coordinator_tasks_submitted_total",
			Help: "Total tasks accepted for scheduling",
		},
	)

	// TaskResults counts reported execution attempts by outcome.
	TaskResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coordinator_task_results_total",
			Help: "Total task execution results by status",
		},
		[]string{"status"},
	)

	// WorkersOffline counts workers marked offline by the heartbeat monitor.
	WorkersOffline = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coordinator_workers_offline_total",
			Help: "Total workers marked offline after missed heartbeats",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDurationSeconds,
		TasksSubmitted,
		TaskResults,
		WorkersOffline,
	)
}
