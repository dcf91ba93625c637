package harvester

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the Prometheus collectors of the ingestion loop.
type Metrics struct {
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	fetched       prometheus.Counter
	saved         prometheus.Counter
	duplicates    prometheus.Counter
	dropped       prometheus.Counter
	decodeFailed  prometheus.Counter
	lastUpdated   prometheus.Gauge
	state         prometheus.Gauge
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auctions",
			Name:      "cycles_total",
			Help:      "Ingestion cycles by result",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "auctions",
			Name:      "cycle_duration_seconds",
			Help:      "Histogram of ingestion cycle durations",
			Buckets:   prometheus.DefBuckets,
		}),
		fetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "auctions",
			Name:      "fetched_total",
			Help:      "Auctions received from upstream",
		}),
		saved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "auctions",
			Name:      "saved_total",
			Help:      "Auctions written as new rows",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "auctions",
			Name:      "duplicates_total",
			Help:      "Auctions skipped because the id was already stored",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "auctions",
			Name:      "dropped_total",
			Help:      "Auctions dropped by validation",
		}),
		decodeFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "auctions",
			Name:      "decode_failures_total",
			Help:      "Auctions kept without attributes because the item payload failed to decode",
		}),
		lastUpdated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "auctions",
			Name:      "upstream_last_updated_ms",
			Help:      "lastUpdated reported by the most recent fetch",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "auctions",
			Name:      "harvester_state",
			Help:      "Current loop state (0 idle, 1 fetching, 2 processing, 3 saving, 4 sleeping, 5 stopped)",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.cycles,
			m.cycleDuration,
			m.fetched,
			m.saved,
			m.duplicates,
			m.dropped,
			m.decodeFailed,
			m.lastUpdated,
			m.state,
		)
	}
	return m
}

func (m *Metrics) ObserveCycle(result string, dur time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(dur.Seconds())
}

func (m *Metrics) ObserveFetch(n int, lastUpdated int64) {
	if m == nil {
		return
	}
	m.fetched.Add(float64(n))
	m.lastUpdated.Set(float64(lastUpdated))
}

func (m *Metrics) ObserveReport(r Report) {
	if m == nil {
		return
	}
	m.saved.Add(float64(r.Saved))
	m.duplicates.Add(float64(r.Duplicates))
	m.dropped.Add(float64(r.Dropped))
	m.decodeFailed.Add(float64(r.DecodeFailed))
}

func (m *Metrics) SetState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}
