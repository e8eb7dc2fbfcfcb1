// Copyright 2025 The Chronos Authors
// This file is part of chronos/tdm.

package matrix

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors a Matrix reports through. Share
// one Metrics value across every Matrix in a process (via Options.Metrics)
// so per-keyspace labels land on a single set of collectors instead of each
// Matrix registering its own.
type Metrics struct {
	matricesOpen prometheus.Gauge
	putBatch     *prometheus.HistogramVec
	readTotal    *prometheus.CounterVec
	rollbacks    prometheus.Counter
}

// NewMetrics builds a Metrics set and registers it with reg. Pass
// prometheus.DefaultRegisterer for process-wide default registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		matricesOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chronos",
			Subsystem: "tdm",
			Name:      "matrices_open",
			Help:      "Number of Temporal Data Matrix instances currently open.",
		}),
		putBatch: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chronos",
			Subsystem: "tdm",
			Name:      "put_batch_size",
			Help:      "Size of entry batches committed via Put.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"keyspace"}),
		readTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chronos",
			Subsystem: "tdm",
			Name:      "reads_total",
			Help:      "Matrix read operations by kind.",
		}, []string{"keyspace", "op"}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chronos",
			Subsystem: "tdm",
			Name:      "rollbacks_total",
			Help:      "Number of Rollback calls across all matrices.",
		}),
	}
	reg.MustRegister(m.matricesOpen, m.putBatch, m.readTotal, m.rollbacks)
	return m
}

var (
	processMetrics     *Metrics
	processMetricsOnce sync.Once
)

// defaultMetrics lazily registers one Metrics set against prometheus'
// default registry, shared by every Matrix opened without its own.
func defaultMetrics() *Metrics {
	processMetricsOnce.Do(func() {
		processMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return processMetrics
}

func (m *Matrix) observeRead(op string) {
	m.metrics.readTotal.WithLabelValues(m.keyspace, op).Inc()
}
