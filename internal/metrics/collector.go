// Package metrics records ingestion and query counters on a private registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"ragkb/internal/logging"
)

// Collector owns a prometheus registry and the engine's instruments.
type Collector struct {
	registry *prometheus.Registry

	ingestDocuments *prometheus.CounterVec
	ingestDuration  prometheus.Histogram

	queryTotal      *prometheus.CounterVec
	queryDuration   prometheus.Histogram
	queryTechniques *prometheus.CounterVec
	cragCorrections *prometheus.CounterVec

	adapterErrors *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector creates a collector registered on its own registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logging.Component(logger, "metrics"),
	}

	c.ingestDocuments = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_documents_total",
			Help:      "Documents seen by ingestion, by outcome",
		},
		[]string{"outcome"},
	)

	c.ingestDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Ingestion call duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		},
	)

	c.queryTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_total",
			Help:      "Queries answered, by evidence tier",
		},
		[]string{"evidence"},
	)

	c.queryDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Query call duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	c.queryTechniques = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_technique_total",
			Help:      "Retrieval techniques that fired",
		},
		[]string{"technique"},
	)

	c.cragCorrections = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crag_corrections_total",
			Help:      "Corrective retrieval passes, by trigger reason",
		},
		[]string{"reason"},
	)

	c.adapterErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_errors_total",
			Help:      "External adapter failures that degraded a call",
		},
		[]string{"adapter"},
	)

	return c
}

// Registry exposes the collector's registry, e.g. for testutil or a caller-owned exporter.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordIngest records one ingestion call.
func (c *Collector) RecordIngest(indexed, skipped, empty, pruned int, duration time.Duration) {
	if c == nil {
		return
	}
	c.ingestDocuments.WithLabelValues("indexed").Add(float64(indexed))
	c.ingestDocuments.WithLabelValues("skipped").Add(float64(skipped))
	c.ingestDocuments.WithLabelValues("empty").Add(float64(empty))
	c.ingestDocuments.WithLabelValues("pruned").Add(float64(pruned))
	c.ingestDuration.Observe(duration.Seconds())
}

// RecordQuery records one query call and the techniques it used.
func (c *Collector) RecordQuery(evidence string, techniques []string, duration time.Duration) {
	if c == nil {
		return
	}
	c.queryTotal.WithLabelValues(evidence).Inc()
	c.queryDuration.Observe(duration.Seconds())
	for _, t := range techniques {
		c.queryTechniques.WithLabelValues(t).Inc()
	}
}

// RecordCorrection records a corrective pass.
func (c *Collector) RecordCorrection(reason string) {
	if c == nil {
		return
	}
	c.cragCorrections.WithLabelValues(reason).Inc()
}

// RecordAdapterError records a degraded adapter call.
func (c *Collector) RecordAdapterError(adapter string, err error) {
	if c == nil {
		return
	}
	c.adapterErrors.WithLabelValues(adapter).Inc()
	c.logger.Debug("adapter error recorded", zap.String("adapter", adapter), zap.Error(err))
}
