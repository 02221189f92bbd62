// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)
)

var (
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_submissions_total",
			Help: "Submissions admitted, by triage tier and classification method",
		},
		[]string{"tier", "method"},
	)

	AdmissionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_failures_total",
			Help: "Submissions that did not receive a queue position, by error code",
		},
		[]string{"code"},
	)

	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "admission_pipeline_duration_seconds",
			Help:    "End-to-end duration of a submit call",
			Buckets: prometheus.DefBuckets,
		},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "admission_queue_depth",
			Help: "Active entries per facility queue",
		},
		[]string{"facility"},
	)

	QueueReorders = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_reorders_total",
			Help: "Queue recomputations per facility",
		},
		[]string{"facility"},
	)

	InvariantViolations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "admission_invariant_violations_total",
			Help: "Queue ordering invariant violations detected before commit",
		},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_notifications_total",
			Help: "Notification deliveries by event kind and outcome",
		},
		[]string{"kind", "status"},
	)
)
