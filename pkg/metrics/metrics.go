package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector provides harvester metrics collection
type Collector struct {
	registry *prometheus.Registry

	// Cycle Metrics
	CyclesTotal        *prometheus.CounterVec
	CycleDuration      prometheus.Histogram
	LastCycleTimestamp prometheus.Gauge

	// Feed Metrics
	FetchErrorsTotal prometheus.Counter
	FeedBytes        prometheus.Gauge
	RowsTotal        *prometheus.CounterVec

	// Publish Metrics
	BatchesTotal      *prometheus.CounterVec
	EntitiesPublished prometheus.Counter
	BatchSize         prometheus.Histogram
	StationsNoData    prometheus.Counter
}

// NewCollector creates a collector on its own registry, so several can
// coexist in one process (tests, embedded use).
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,

		CyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_total",
				Help:      "Total number of harvesting cycles by result",
			},
			[]string{"result"},
		),

		CycleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Duration of a full fetch, build and publish cycle",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
		),

		LastCycleTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_cycle_timestamp_seconds",
				Help:      "Unix time the last cycle finished",
			},
		),

		FetchErrorsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_errors_total",
				Help:      "Total number of failed dataset downloads",
			},
		),

		FeedBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "feed_bytes",
				Help:      "Size of the last downloaded dataset",
			},
		),

		RowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "feed_rows_total",
				Help:      "Feed rows by handling result",
			},
			[]string{"result"}, // "read", "unknown_station", "unknown_magnitude", "malformed"
		),

		BatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publish_batches_total",
				Help:      "Station batches sent to the context broker by outcome",
			},
			[]string{"outcome"},
		),

		EntitiesPublished: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entities_published_total",
				Help:      "Entities accepted by the context broker",
			},
		),

		BatchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "publish_batch_size",
				Help:      "Number of entities per station batch",
				Buckets:   []float64{1, 2, 4, 8, 12, 16, 24},
			},
		),

		StationsNoData: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stations_no_data_total",
				Help:      "Stations skipped because no hour had a valid reading",
			},
		),
	}
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordCycle increments the cycle counter and stamps the finish time
func (c *Collector) RecordCycle(result string) {
	c.CyclesTotal.WithLabelValues(result).Inc()
	c.LastCycleTimestamp.SetToCurrentTime()
}

// RecordRows adds feed row counts for one handling result
func (c *Collector) RecordRows(result string, n int) {
	if n > 0 {
		c.RowsTotal.WithLabelValues(result).Add(float64(n))
	}
}

// RecordBatch records one station batch outcome
func (c *Collector) RecordBatch(outcome string, entities int, ok bool) {
	c.BatchesTotal.WithLabelValues(outcome).Inc()
	c.BatchSize.Observe(float64(entities))
	if ok {
		c.EntitiesPublished.Add(float64(entities))
	}
}
