package telemetry

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Observer records durations. PrometheusMetrics implements it; callers check
// for it with a type assertion on Metrics.
type Observer interface {
	Observe(key string, d time.Duration)
}

// PrometheusMetrics exports Add as a counter, Store as a gauge and Observe as
// a histogram, each labelled by key.
type PrometheusMetrics struct {
	counters  *prometheus.CounterVec
	gauges    *prometheus.GaugeVec
	durations *prometheus.HistogramVec
}

// NewPrometheusMetrics registers the collectors on reg under namespace.
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		counters: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Driver and session events by key.",
		}, []string{"key"}),
		gauges: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Most recent value of driver and session gauges by key.",
		}, []string{"key"}),
		durations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "duration_seconds",
			Help:      "Duration of driver operations by key.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .0167, .025, .05, .1},
		}, []string{"key"}),
	}
}

func (m *PrometheusMetrics) Add(key string, delta uint64) {
	if m == nil || key == "" {
		return
	}
	m.counters.WithLabelValues(sanitize(key)).Add(float64(delta))
}

func (m *PrometheusMetrics) Store(key string, value uint64) {
	if m == nil || key == "" {
		return
	}
	m.gauges.WithLabelValues(sanitize(key)).Set(float64(value))
}

func (m *PrometheusMetrics) Observe(key string, d time.Duration) {
	if m == nil || key == "" {
		return
	}
	m.durations.WithLabelValues(sanitize(key)).Observe(d.Seconds())
}

func sanitize(key string) string {
	return strings.ReplaceAll(key, ".", "_")
}

// Multi fans every call out to each non-nil Metrics.
func Multi(metrics ...Metrics) Metrics {
	var live []Metrics
	for _, m := range metrics {
		if m != nil {
			live = append(live, m)
		}
	}
	return multiMetrics(live)
}

type multiMetrics []Metrics

func (m multiMetrics) Add(key string, delta uint64) {
	for _, metrics := range m {
		metrics.Add(key, delta)
	}
}

func (m multiMetrics) Store(key string, value uint64) {
	for _, metrics := range m {
		metrics.Store(key, value)
	}
}

func (m multiMetrics) Observe(key string, d time.Duration) {
	for _, metrics := range m {
		if observer, ok := metrics.(Observer); ok {
			observer.Observe(key, d)
		}
	}
}
