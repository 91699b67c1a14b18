package reporter

import (
	"github.com/prometheus/client_golang/prometheus"
)

// A Collector exposes a load run's counters to Prometheus. It reads a fresh
// snapshot on every scrape rather than keeping counters of its own.
type Collector struct {
	source SnapshotSource

	requests    *prometheus.Desc
	perTemplate *prometheus.Desc
	clients     *prometheus.Desc
	latency     *prometheus.Desc
	maxLatency  *prometheus.Desc
}

// NewCollector returns a Collector labelled with the run id
func NewCollector(source SnapshotSource, runID string) *Collector {
	constLabels := prometheus.Labels{"run_id": runID}

	return &Collector{
		source: source,
		requests: prometheus.NewDesc(
			"lokiload_requests_total",
			"Push requests issued by virtual clients, by outcome.",
			[]string{"outcome"}, constLabels,
		),
		perTemplate: prometheus.NewDesc(
			"lokiload_template_requests_total",
			"Push requests issued per template.",
			[]string{"template"}, constLabels,
		),
		clients: prometheus.NewDesc(
			"lokiload_clients",
			"Virtual clients started so far.",
			nil, constLabels,
		),
		latency: prometheus.NewDesc(
			"lokiload_request_latency_seconds_total",
			"Total time spent waiting on push responses.",
			nil, constLabels,
		),
		maxLatency: prometheus.NewDesc(
			"lokiload_request_latency_max_seconds",
			"Slowest push response seen.",
			nil, constLabels,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.perTemplate
	ch <- c.clients
	ch <- c.latency
	ch <- c.maxLatency
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.source.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(snap.Succeeded), "success")
	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(snap.Failed), "failure")

	for name, count := range snap.PerTemplate {
		ch <- prometheus.MustNewConstMetric(c.perTemplate, prometheus.CounterValue, float64(count), name)
	}

	ch <- prometheus.MustNewConstMetric(c.clients, prometheus.GaugeValue, float64(snap.Clients))
	ch <- prometheus.MustNewConstMetric(c.latency, prometheus.CounterValue, snap.TotalLatency.Seconds())
	ch <- prometheus.MustNewConstMetric(c.maxLatency, prometheus.GaugeValue, snap.MaxLatency.Seconds())
}
