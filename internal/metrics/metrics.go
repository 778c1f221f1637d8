package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds all Prometheus metrics for the Switchboard service
type Metrics struct {
	// Event feed metrics
	EventsReceived    *prometheus.CounterVec // by event type
	EventDecodeErrors *prometheus.CounterVec // by reason
	HandlerFailures   *prometheus.CounterVec // by event type
	HandlersInFlight  *prometheus.GaugeVec   // dispatched, not yet returned
	FeedReconnects    *prometheus.CounterVec // by reason
	FeedConnected     *prometheus.GaugeVec   // 1 when connected

	// Dialer metrics
	Originations   *prometheus.CounterVec // by status (success/failed)
	QuotaBlocks    *prometheus.CounterVec // by blocking cap
	QueuedContacts *prometheus.GaugeVec
	ActiveSessions *prometheus.GaugeVec

	// Kafka metrics
	KafkaMessages *prometheus.CounterVec
	KafkaDuration *prometheus.HistogramVec
}
