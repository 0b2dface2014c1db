package monitoring

import "github.com/prometheus/client_golang/prometheus"

var (
	HttpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path"},
	)

	HttpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_connections",
			Help: "Number of active connections",
		},
	)

	ActiveSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_feed_subscriptions",
			Help: "Number of open feed subscriptions",
		},
	)

	FollowOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "follow_operations_total",
			Help: "Total number of follow ledger operations",
		},
		[]string{"operation", "result"},
	)

	IngestMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_messages_total",
			Help: "Total number of messages consumed from the upstream stream",
		},
		[]string{"kind"},
	)

	IngestProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_processing_duration_seconds",
			Help:    "Duration of upstream message processing",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	CounterRepairs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "follower_counter_repairs_total",
			Help: "Total number of follower counters repaired by the audit task",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HttpRequestsTotal,
		HttpRequestDuration,
		ActiveConnections,
		ActiveSubscriptions,
		FollowOperations,
		IngestMessages,
		IngestProcessingDuration,
		CounterRepairs,
	)
}
