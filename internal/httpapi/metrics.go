package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Store queries, used as the "query" label.
const (
	queryCount  = "count"
	queryList   = "list"
	queryGet    = "get"
	queryByItem = "by_item"
)

// Metrics holds the collectors of the query API and the live stream.
type Metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	responseBytes *prometheus.HistogramVec
	rateLimited   prometheus.Counter

	queryLatency *prometheus.HistogramVec
	queryErrors  *prometheus.CounterVec
	rowsServed   *prometheus.CounterVec
	notFound     prometheus.Counter

	subscribers  *prometheus.GaugeVec
	streamEvents *prometheus.CounterVec
}

func newMetrics(registry *prometheus.Registry) *Metrics {
	const ns, sub = "auctions", "http"
	m := &Metrics{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "requests_total",
			Help: "API requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub,
			Name:    "request_duration_seconds",
			Help:    "API request latency by route pattern.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"route"}),
		responseBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub,
			Name:    "response_bytes",
			Help:    "Bytes written per response after compression.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		}, []string{"route"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "rate_limited_total",
			Help: "Requests rejected by the per-client limiter.",
		}),
		queryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub,
			Name:    "query_duration_seconds",
			Help:    "Store query latency by query.",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, 1},
		}, []string{"query"}),
		queryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "query_errors_total",
			Help: "Store queries that failed while serving a request.",
		}, []string{"query"}),
		rowsServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "auctions_served_total",
			Help: "Auction rows returned by route pattern.",
		}, []string{"route"}),
		notFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "auction_not_found_total",
			Help: "Single-auction lookups for ids the store does not hold.",
		}),
		subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "stream",
			Name: "subscribers",
			Help: "Connected live stream clients by transport.",
		}, []string{"transport"}),
		streamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "stream",
			Name: "events_total",
			Help: "Saved auctions offered to stream clients, by transport and outcome (sent, dropped).",
		}, []string{"transport", "outcome"}),
	}

	registry.MustRegister(
		m.requests, m.latency, m.responseBytes, m.rateLimited,
		m.queryLatency, m.queryErrors, m.rowsServed, m.notFound,
		m.subscribers, m.streamEvents,
	)
	return m
}

// Handler serves every collector of the registry, including those registered
// by the harvester.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(route, method string, status int, dur time.Duration, bytes int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route).Observe(dur.Seconds())
	m.responseBytes.WithLabelValues(route).Observe(float64(bytes))
}

// ObserveQuery records one store query and whether it failed.
func (m *Metrics) ObserveQuery(query string, dur time.Duration, err error) {
	if m == nil {
		return
	}
	m.queryLatency.WithLabelValues(query).Observe(dur.Seconds())
	if err != nil {
		m.queryErrors.WithLabelValues(query).Inc()
	}
}

func (m *Metrics) AddRowsServed(route string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.rowsServed.WithLabelValues(route).Add(float64(n))
}

func (m *Metrics) IncNotFound() {
	if m == nil {
		return
	}
	m.notFound.Inc()
}

func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// AddSubscribers adjusts the subscriber gauge of transport by delta.
func (m *Metrics) AddSubscribers(transport string, delta float64) {
	if m == nil {
		return
	}
	m.subscribers.WithLabelValues(transport).Add(delta)
}

// ObserveStreamEvent counts one auction offered to a subscriber.
func (m *Metrics) ObserveStreamEvent(transport string, delivered bool) {
	if m == nil {
		return
	}
	outcome := "sent"
	if !delivered {
		outcome = "dropped"
	}
	m.streamEvents.WithLabelValues(transport, outcome).Inc()
}
