package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	apiRequestsTotal  *prometheus.CounterVec
	apiLatencySeconds *prometheus.HistogramVec
	apiErrorsTotal    *prometheus.CounterVec

	streamSubscribersActive prometheus.Gauge
	streamEventsTotal       *prometheus.CounterVec
	threadConnectionsTotal  prometheus.Counter
	messagesSentTotal       *prometheus.CounterVec

	sseClientsActive            prometheus.Gauge
	notificationsPublishedTotal *prometheus.CounterVec

	postsCreatedTotal *prometheus.CounterVec

	uploadRequestsTotal *prometheus.CounterVec
	uploadRejectedTotal *prometheus.CounterVec
	uploadLatencySecs   prometheus.Histogram
)

// RegisterMetrics initialises the Prometheus collectors.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "connect_api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "connect_api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "connect_api_errors_total",
			Help: "Total number of error responses returned by API endpoints.",
		}, []string{"method", "route", "status"})

		streamSubscribersActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "connect_stream_subscribers_active",
			Help: "Number of currently active realtime stream subscriptions.",
		})

		streamEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "connect_stream_events_total",
			Help: "Total number of stream events fanned out, by topic and action.",
		}, []string{"topic", "action"})

		threadConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "connect_thread_connections_total",
			Help: "Total number of websocket thread connections accepted.",
		})

		messagesSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "connect_messages_sent_total",
			Help: "Total number of messages persisted, by message type.",
		}, []string{"type"})

		sseClientsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "connect_sse_clients_active",
			Help: "Number of currently connected notification SSE clients.",
		})

		notificationsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "connect_notifications_published_total",
			Help: "Total number of notifications published, by type.",
		}, []string{"type"})

		postsCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "connect_posts_created_total",
			Help: "Total number of feed posts created, by context.",
		}, []string{"context"})

		uploadRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "connect_upload_requests_total",
			Help: "Total number of media uploads stored, by attachment class.",
		}, []string{"class"})

		uploadRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "connect_upload_rejected_total",
			Help: "Total number of uploads rejected, by reason.",
		}, []string{"reason"})

		uploadLatencySecs = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "connect_upload_latency_seconds",
			Help:    "Latency distribution for media upload processing.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		})

		prometheus.MustRegister(
			apiRequestsTotal, apiLatencySeconds, apiErrorsTotal,
			streamSubscribersActive, streamEventsTotal, threadConnectionsTotal, messagesSentTotal,
			sseClientsActive, notificationsPublishedTotal,
			postsCreatedTotal,
			uploadRequestsTotal, uploadRejectedTotal, uploadLatencySecs,
		)
	})
}

// ApiRequests exposes the counter for API requests.
func ApiRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// ApiLatency exposes the latency histogram for API requests.
func ApiLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// ApiErrors exposes the counter for API error responses.
func ApiErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// StreamSubscribersActive exposes the gauge of live stream subscriptions.
func StreamSubscribersActive() prometheus.Gauge {
	RegisterMetrics()
	return streamSubscribersActive
}

// StreamEventsTotal exposes the counter for fanned-out stream events.
func StreamEventsTotal() *prometheus.CounterVec {
	RegisterMetrics()
	return streamEventsTotal
}

// ThreadConnectionsTotal exposes the counter for accepted thread sockets.
func ThreadConnectionsTotal() prometheus.Counter {
	RegisterMetrics()
	return threadConnectionsTotal
}

// MessagesSent exposes the counter for persisted messages.
func MessagesSent() *prometheus.CounterVec {
	RegisterMetrics()
	return messagesSentTotal
}

// SSEClientsActive exposes the gauge of connected SSE clients.
func SSEClientsActive() prometheus.Gauge {
	RegisterMetrics()
	return sseClientsActive
}

// NotificationsPublishedTotal exposes the counter for published notifications.
func NotificationsPublishedTotal() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationsPublishedTotal
}

// PostsCreatedTotal exposes the counter for created posts.
func PostsCreatedTotal() *prometheus.CounterVec {
	RegisterMetrics()
	return postsCreatedTotal
}

// UploadRequests exposes the counter for stored uploads.
func UploadRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return uploadRequestsTotal
}

// UploadRejected exposes the counter for rejected uploads.
func UploadRejected() *prometheus.CounterVec {
	RegisterMetrics()
	return uploadRejectedTotal
}

// UploadLatency exposes the histogram for upload processing latency.
func UploadLatency() prometheus.Histogram {
	RegisterMetrics()
	return uploadLatencySecs
}
