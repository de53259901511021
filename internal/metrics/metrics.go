package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsSubmitted tracks create-task outcomes (submitted, failed)
	JobsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artline_jobs_submitted_total",
			Help: "Total number of generation job submissions by outcome",
		},
		[]string{"outcome"},
	)

	// SubmitRetries tracks create-task retries by failure class
	SubmitRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artline_job_submit_retries_total",
			Help: "Total number of retried job submissions",
		},
		[]string{"class"},
	)

	// JobOutcomes tracks terminal job states
	JobOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artline_job_outcomes_total",
			Help: "Total number of jobs reaching a terminal state",
		},
		[]string{"status"},
	)

	// PollErrors tracks failed status polls by class
	PollErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artline_job_poll_errors_total",
			Help: "Total number of failed status polls",
		},
		[]string{"class"},
	)

	// PollAttempts tracks how many polls a job needed before its terminal state
	PollAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "artline_job_poll_attempts",
			Help:    "Number of status polls per job",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34, 60},
		},
	)

	// JobDuration tracks wall-clock time from first poll to terminal state
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "artline_job_duration_seconds",
			Help:    "Time spent polling a job until it reached a terminal state",
			Buckets: []float64{5, 10, 20, 30, 60, 120, 240, 600},
		},
		[]string{"status"},
	)

	// SlowJobs tracks completions that exceeded the slow thresholds
	SlowJobs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "artline_jobs_slow_total",
			Help: "Total number of completed jobs tagged as slow",
		},
	)

	// Handoffs tracks stage-to-stage deliveries by edge and result
	Handoffs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artline_handoffs_total",
			Help: "Total number of stage handoffs by result",
		},
		[]string{"from", "to", "result"},
	)

	// ContractViolations tracks rejected payloads by violation code
	ContractViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artline_contract_violations_total",
			Help: "Total number of payloads rejected by contract validation",
		},
		[]string{"from", "to", "code"},
	)

	// Runs tracks pipeline run outcomes
	Runs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artline_runs_total",
			Help: "Total number of pipeline runs by outcome",
		},
		[]string{"status"},
	)

	// Regenerations tracks QA-requested regenerations
	Regenerations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "artline_regenerations_total",
			Help: "Total number of image regenerations requested by QA",
		},
	)

	// RemoteRequests tracks calls to the image service
	RemoteRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artline_remote_requests_total",
			Help: "Total number of requests to the image generation service",
		},
		[]string{"operation", "result"},
	)

	// RemoteLatency tracks image service call latency
	RemoteLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "artline_remote_latency_seconds",
			Help:    "Image generation service call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// DBConnectionPoolUsage tracks the percentage of used database connections
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "artline_db_connection_pool_usage_percent",
			Help: "Percentage of open database connections in use",
		},
	)
)
