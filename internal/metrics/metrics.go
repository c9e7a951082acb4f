package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	ReadingsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_readings_ingested_total",
			Help: "Reading submissions by result (success, storage_error).",
		},
		[]string{"result"},
	)

	ForwardsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_forwards_total",
			Help: "Forward attempts to the downstream backend by result.",
		},
		[]string{"result"},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_notifications_total",
			Help: "Push notification attempts by delivery outcome.",
		},
		[]string{"outcome"},
	)

	CredentialFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_push_credential_fetches_total",
			Help: "Push gateway credential fetches by result.",
		},
		[]string{"result"},
	)

	NotifyQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_notify_queue_depth",
			Help: "Notification jobs waiting in the dispatch queue.",
		},
	)

	NotifyDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_notify_dropped_total",
			Help: "Notification jobs rejected because the queue was full.",
		},
	)
)

// MustRegister registers every collector with reg
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		ReadingsIngestedTotal,
		ForwardsTotal,
		NotificationsTotal,
		CredentialFetchesTotal,
		NotifyQueueDepth,
		NotifyDroppedTotal,
	)
}
