package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OrderMetrics counts the outcomes of the order workflow.
type OrderMetrics struct {
	OrdersCreated     prometheus.Counter
	OrdersCompensated *prometheus.CounterVec
	StockRejections   prometheus.Counter
	StockConflicts    prometheus.Counter
	EventsPublished   prometheus.Counter
}

func NewOrderMetrics() *OrderMetrics {
	created := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "posterly",
		Subsystem: "orders",
		Name:      "created_total",
		Help:      "Orders successfully placed.",
	})
	compensated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "posterly",
		Subsystem: "orders",
		Name:      "compensated_total",
		Help:      "Orders whose inventory was restored, by final status.",
	}, []string{"status"})
	rejections := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "posterly",
		Subsystem: "orders",
		Name:      "insufficient_stock_total",
		Help:      "Order attempts rejected for insufficient stock.",
	})
	conflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "posterly",
		Subsystem: "orders",
		Name:      "stock_conflicts_total",
		Help:      "Transactions aborted by a concurrent inventory update.",
	})
	published := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "posterly",
		Subsystem: "outbox",
		Name:      "events_published_total",
		Help:      "Outbox events delivered to the notification topic.",
	})

	prometheus.MustRegister(created, compensated, rejections, conflicts, published)
	return &OrderMetrics{
		OrdersCreated:     created,
		OrdersCompensated: compensated,
		StockRejections:   rejections,
		StockConflicts:    conflicts,
		EventsPublished:   published,
	}
}

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func NewServerMetrics(service string) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "posterly",
		Subsystem: service,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "posterly",
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})

	prometheus.MustRegister(requests, latency)
	return &ServerMetrics{Requests: requests, LatencyMS: latency}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
