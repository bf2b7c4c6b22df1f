package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label value constants to prevent typos
const (
	// Queue item results
	ResultSuccess     = "success"
	ResultRetry       = "retry"
	ResultFailure     = "failure"
	ResultSkipped     = "skipped"
	ResultRateLimited = "rate_limited"

	// Queue item statuses
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"

	// HTTP endpoints
	EndpointWebhook       = "webhooks"
	EndpointCron          = "cron_process_queue"
	EndpointOAuthConnect  = "oauth_connect"
	EndpointOAuthCallback = "oauth_callback"
	EndpointHealth        = "health"

	// Strava API operations
	OpExchangeCode = "exchange_code"
	OpRefreshToken = "refresh_token"
	OpGetActivity  = "get_activity"
	OpGetStreams   = "get_streams"

	// Achievement kinds
	AchievementKindNew         = "new"
	AchievementKindImprovement = "improvement"
)

// HTTP Metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint", "status_code"},
	)
)

// Queue Metrics
var (
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Number of queue items by status",
		},
		[]string{"status"},
	)

	QueueEnqueueTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_enqueue_total",
			Help: "Total number of enqueue attempts by outcome",
		},
		[]string{"outcome"},
	)

	QueueItemsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_items_processed_total",
			Help: "Total number of queue items processed with result",
		},
		[]string{"result"},
	)

	QueueProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_processing_duration_seconds",
			Help:    "Time spent processing queue items",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"result"},
	)
)

// Worker Metrics
var (
	WorkerRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Total number of queue drain runs",
		},
	)

	WorkerRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worker_run_duration_seconds",
			Help:    "Duration of queue drain runs",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
	)

	WorkerActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_active",
			Help: "Whether a queue drain run is in progress (1) or not (0)",
		},
	)
)

// Strava API Metrics
var (
	StravaAPIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strava_api_requests_total",
			Help: "Total number of Strava API requests",
		},
		[]string{"operation", "status_code"},
	)

	StravaAPIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "strava_api_request_duration_seconds",
			Help:    "Strava API request latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation"},
	)
)

// Business Metrics
var (
	WebhookEventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_received_total",
			Help: "Total number of webhook events received by outcome",
		},
		[]string{"outcome"},
	)

	AchievementsRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "achievements_recorded_total",
			Help: "Total number of achievement rows recorded",
		},
		[]string{"milestone", "kind"},
	)

	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_refreshes_total",
			Help: "Total number of OAuth token refreshes",
		},
		[]string{"result"},
	)
)
