package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	WebhookDeliveries   *prometheus.CounterVec
	InboundMessages     *prometheus.CounterVec
	StatusCallbacks     *prometheus.CounterVec
	OrdersCreated       *prometheus.CounterVec
	OrderTransitions    *prometheus.CounterVec
	Notifications       *prometheus.CounterVec
	ProviderRequests    *prometheus.CounterVec
	ProviderLatency     *prometheus.HistogramVec
	RealtimeBroadcasts  *prometheus.CounterVec
	RealtimeConnections prometheus.Gauge
	Errors              *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			WebhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_deliveries_total",
				Help:      "Webhook deliveries by outcome.",
			}, []string{"outcome"}),
			InboundMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inbound_messages_total",
				Help:      "Inbound customer messages stored, by channel and type.",
			}, []string{"channel", "type"}),
			StatusCallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "message_status_callbacks_total",
				Help:      "Provider delivery-status callbacks by status and result.",
			}, []string{"status", "result"}),
			OrdersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_created_total",
				Help:      "Orders created by delivery type.",
			}, []string{"delivery_type"}),
			OrderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "order_transitions_total",
				Help:      "Order status transitions by target status.",
			}, []string{"status"}),
			Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Customer notifications by kind and outcome.",
			}, []string{"kind", "outcome"}),
			ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Messaging provider API requests by endpoint and status.",
			}, []string{"endpoint", "status"}),
			ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_request_duration_seconds",
				Help:      "Latency distribution for messaging provider API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"endpoint", "status"}),
			RealtimeBroadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "realtime_broadcasts_total",
				Help:      "Real-time events emitted by event name and result.",
			}, []string{"event", "result"}),
			RealtimeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "realtime_connections",
				Help:      "Currently attached real-time connections.",
			}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.WebhookDeliveries,
			metricsInstance.InboundMessages,
			metricsInstance.StatusCallbacks,
			metricsInstance.OrdersCreated,
			metricsInstance.OrderTransitions,
			metricsInstance.Notifications,
			metricsInstance.ProviderRequests,
			metricsInstance.ProviderLatency,
			metricsInstance.RealtimeBroadcasts,
			metricsInstance.RealtimeConnections,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
