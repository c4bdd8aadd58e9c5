package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector kinds a Metric can declare.
const (
	KindCounterVec   = "counter_vec"
	KindHistogramVec = "histogram_vec"
	KindSummaryVec   = "summary_vec"
)

// LatencyBucketsMs spans webhook handling from a cache-warm ack up to a
// gateway call that ran into its timeout.
var LatencyBucketsMs = []float64{
	10, 25, 50, 100, 250, 500,
	1000, 2000, 3000, 5000, 10000, 15000, 30000,
}

// Metric declares one labeled collector. MetricCollector is filled in once
// the collector is built and registered.
type Metric struct {
	MetricCollector prometheus.Collector
	ID              string
	Name            string
	Description     string
	Type            string
	Args            []string
}

// NewMetric builds the collector for m under subsystem. Declarations are
// static, so an unknown kind is a programming error and panics.
func NewMetric(m *Metric, subsystem string) prometheus.Collector {
	switch m.Type {
	case KindCounterVec:
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: subsystem, Name: m.Name, Help: m.Description,
		}, m.Args)
	case KindHistogramVec:
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: subsystem, Name: m.Name, Help: m.Description, Buckets: LatencyBucketsMs,
		}, m.Args)
	case KindSummaryVec:
		return prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Subsystem: subsystem, Name: m.Name, Help: m.Description,
		}, m.Args)
	}
	panic(fmt.Sprintf("metrics: unsupported kind %q for %s", m.Type, m.Name))
}

// MetricsBusinessProcess times units of work such as one webhook event or
// one sweep pass.
var MetricsBusinessProcess = &Metric{
	ID:          "bpDur",
	Name:        "bp_dur_ms",
	Description: "process latency in milliseconds",
	Type:        KindHistogramVec,
	Args:        []string{"type", "subtype"},
}

// RefererKey is the request header copied into the ref label.
const RefererKey = "X-Referer"
