package stats

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricNamespace = "weft"
	metricSubsystem = "service"
)

// Collector exposes a stat store to a prometheus registry as gauges,
// one per stat, carrying the configured constant labels (typically the
// service self-link). It is an unchecked collector: stats appear and
// disappear at runtime.
type Collector struct {
	store  *Store
	labels prometheus.Labels
}

// NewCollector wraps store for registration with a prometheus registry.
func NewCollector(store *Store, labels prometheus.Labels) *Collector {
	return &Collector{store: store, labels: labels}
}

// Describe sends no descriptors, marking the collector unchecked.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {}

// Collect emits the latest value of every stat as a gauge.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for name, st := range c.store.Snapshot() {
		desc := prometheus.NewDesc(
			prometheus.BuildFQName(metricNamespace, metricSubsystem, sanitizeMetricName(name)),
			"Latest value of service stat "+name+".",
			nil, c.labels,
		)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, st.LatestValue)
	}
}

// sanitizeMetricName maps a stat name onto the prometheus metric name
// charset.
func sanitizeMetricName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9' && i > 0:
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
