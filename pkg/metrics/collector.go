// Package metrics holds the Prometheus collectors recorded by the engines,
// the reasoner and the caches.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "pagehand"

// Cache lookup results.
const (
	ResultHit  = "hit"
	ResultMiss = "miss"
)

// Collector groups the engine metrics. A nil *Collector records nothing.
type Collector struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	reasonerCalls     *prometheus.CounterVec
	cacheLookups      *prometheus.CounterVec
	chunksPerceived   *prometheus.CounterVec
	retriesTotal      *prometheus.CounterVec
}

// NewCollector registers the collectors on reg under namespace. A nil reg
// uses the default Prometheus registerer.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of act, extract and observe operations",
			},
			[]string{"operation", "outcome"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Operation duration in seconds",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"operation"},
		),
		reasonerCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reasoner_calls_total",
				Help:      "Total number of reasoner calls",
			},
			[]string{"kind", "status"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Total number of cache lookups",
			},
			[]string{"cache", "result"},
		),
		chunksPerceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chunks_perceived_total",
				Help:      "Total number of page chunks perceived",
			},
			[]string{"strategy"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "act_retries_total",
				Help:      "Total number of act retries",
			},
			[]string{"reason"},
		),
	}
}

// RecordOperation counts a finished operation and observes its duration.
func (c *Collector) RecordOperation(operation string, success bool, d time.Duration) {
	if c == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.operationsTotal.WithLabelValues(operation, outcome).Inc()
	c.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordReasonerCall counts a reasoner call of kind.
func (c *Collector) RecordReasonerCall(kind string, err error) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.reasonerCalls.WithLabelValues(kind, status).Inc()
}

// RecordCacheLookup counts a lookup on the named cache.
func (c *Collector) RecordCacheLookup(cache string, hit bool) {
	if c == nil {
		return
	}
	result := ResultMiss
	if hit {
		result = ResultHit
	}
	c.cacheLookups.WithLabelValues(cache, result).Inc()
}

// RecordChunks adds n perceived chunks for strategy.
func (c *Collector) RecordChunks(strategy string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.chunksPerceived.WithLabelValues(strategy).Add(float64(n))
}

// RecordRetry counts an act retry.
func (c *Collector) RecordRetry(reason string) {
	if c == nil {
		return
	}
	c.retriesTotal.WithLabelValues(reason).Inc()
}
