package index

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts index operations. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	ops      *prometheus.CounterVec
	duration *prometheus.HistogramVec
	cache    *prometheus.CounterVec
}

// NewMetrics creates the index collectors and registers them with reg when
// reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "index",
			Name:      "operations_total",
			Help:      "Index operations by index, operation and result.",
		}, []string{"index", "op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ledger",
			Subsystem: "index",
			Name:      "operation_seconds",
			Help:      "Latency of index mutations.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"index", "op"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "index",
			Name:      "cache_lookups_total",
			Help:      "Primary record cache lookups by result.",
		}, []string{"index", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.ops, m.duration, m.cache)
	}
	return m
}

// Collectors returns the underlying collectors for custom registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	if m == nil {
		return nil
	}
	return []prometheus.Collector{m.ops, m.duration, m.cache}
}

func (m *Metrics) observe(index, op string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ops.WithLabelValues(index, op, result).Inc()
	m.duration.WithLabelValues(index, op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) cacheLookup(index string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cache.WithLabelValues(index, result).Inc()
}
