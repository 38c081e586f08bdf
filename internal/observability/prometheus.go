package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the domain counters exported on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	ordersCreated     *prometheus.CounterVec
	stockRejections   prometheus.Counter
	webhookDeliveries *prometheus.CounterVec
	shipments         *prometheus.CounterVec
	statusTransitions *prometheus.CounterVec
	gatewayLatency    *prometheus.HistogramVec
	httpLatency       *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ordersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shophub",
			Name:      "orders_created_total",
			Help:      "Orders created, by payment method.",
		}, []string{"payment_method"}),
		stockRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shophub",
			Name:      "stock_rejections_total",
			Help:      "Checkouts rejected because a line item was oversold.",
		}),
		webhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shophub",
			Name:      "webhook_deliveries_total",
			Help:      "Gateway webhook deliveries by provider and outcome.",
		}, []string{"provider", "outcome"}),
		shipments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shophub",
			Name:      "shipments_total",
			Help:      "Shipment creation attempts by result category.",
		}, []string{"category"}),
		statusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shophub",
			Name:      "order_status_transitions_total",
			Help:      "Applied order status transitions by source and target status.",
		}, []string{"source", "to"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shophub",
			Name:      "gateway_request_seconds",
			Help:      "Latency of outbound gateway calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shophub",
			Name:      "http_request_seconds",
			Help:      "Latency of served HTTP requests by route and status class.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status_class"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ordersCreated,
		m.stockRejections,
		m.webhookDeliveries,
		m.shipments,
		m.statusTransitions,
		m.gatewayLatency,
		m.httpLatency,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// The recorders below accept a nil receiver so tests and tools can run
// without a registry.

func (m *Metrics) OrderCreated(paymentMethod string) {
	if m == nil {
		return
	}
	m.ordersCreated.WithLabelValues(paymentMethod).Inc()
}

func (m *Metrics) StockRejected() {
	if m == nil {
		return
	}
	m.stockRejections.Inc()
}

func (m *Metrics) WebhookDelivery(provider, outcome string) {
	if m == nil {
		return
	}
	m.webhookDeliveries.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) ShipmentResult(category string) {
	if m == nil {
		return
	}
	m.shipments.WithLabelValues(category).Inc()
}

func (m *Metrics) StatusTransition(source, to string) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(source, to).Inc()
}

func (m *Metrics) ObserveGateway(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.gatewayLatency.WithLabelValues(operation).Observe(seconds)
}

func (m *Metrics) ObserveHTTP(route, method string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.httpLatency.WithLabelValues(route, method, statusClass(status)).Observe(seconds)
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}
