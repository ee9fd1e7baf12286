package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RuleExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_rule_executions_total",
			Help: "Total number of rule executions by outcome",
		},
		[]string{"outcome"},
	)

	RuleExecutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "argus_rule_execution_duration_seconds",
			Help:    "Time taken to execute a single rule against the backend",
			Buckets: prometheus.DefBuckets,
		},
	)

	BatchExecutions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_batch_executions_total",
			Help: "Total number of execution batches run",
		},
	)

	AlertsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_alerts_generated_total",
			Help: "Total number of alerts inserted into the alert store",
		},
		[]string{"severity"},
	)

	AlertsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_alerts_suppressed_total",
			Help: "Total number of alerts suppressed as duplicates",
		},
	)

	AlertStoreFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_alert_store_failures_total",
			Help: "Total number of alerts dropped because the store rejected them",
		},
	)

	AlertsStored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "argus_alerts_stored",
			Help: "Current number of alerts held in the alert store",
		},
	)

	AlertArchiveFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_alert_archive_failures_total",
			Help: "Total number of alert batches that failed to archive",
		},
	)

	TransformWarnings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_transform_warnings_total",
			Help: "Total number of unmapped semantic fields seen while transforming queries",
		},
	)

	BackendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_backend_requests_total",
			Help: "Total number of backend queries by result",
		},
		[]string{"result"},
	)

	BackendRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_backend_retries_total",
			Help: "Total number of backend query retries",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "argus_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	WorkerPoolActiveWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "argus_worker_pool_active_workers",
			Help: "Number of workers running in a worker pool",
		},
		[]string{"pool_type"},
	)

	WorkerPoolQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "argus_worker_pool_queue_size",
			Help: "Number of tasks waiting in a worker pool queue",
		},
		[]string{"pool_type"},
	)

	WorkerPoolTasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_worker_pool_tasks_processed_total",
			Help: "Total number of tasks processed by a worker pool",
		},
		[]string{"pool_type"},
	)

	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"route", "status"},
	)
)
