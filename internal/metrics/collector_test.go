package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestNewCollector(t *testing.T) {
	collector := NewCollector("ragkb", zap.NewNop())

	assert.NotNil(t, collector.Registry())
	assert.NotNil(t, collector.queryTotal)
	assert.NotNil(t, collector.ingestDocuments)

	// each collector owns its registry, so a second one must not panic on registration
	assert.NotPanics(t, func() { NewCollector("ragkb", nil) })
}

func TestCollector_RecordIngest(t *testing.T) {
	collector := NewCollector("ragkb", zap.NewNop())

	collector.RecordIngest(3, 1, 2, 0, 20*time.Millisecond)
	collector.RecordIngest(1, 0, 0, 0, 5*time.Millisecond)

	assert.Equal(t, 4.0, testutil.ToFloat64(collector.ingestDocuments.WithLabelValues("indexed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.ingestDocuments.WithLabelValues("skipped")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.ingestDocuments.WithLabelValues("empty")))
}

func TestCollector_RecordQuery(t *testing.T) {
	collector := NewCollector("ragkb", zap.NewNop())

	collector.RecordQuery("populated", []string{"query_enhance", "fusion_rrf"}, time.Millisecond)
	collector.RecordQuery("empty_query", nil, time.Microsecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.queryTotal.WithLabelValues("populated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.queryTotal.WithLabelValues("empty_query")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.queryTechniques.WithLabelValues("fusion_rrf")))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.queryTechniques))
}

func TestCollector_CorrectionsAndErrors(t *testing.T) {
	collector := NewCollector("ragkb", zap.NewNop())

	collector.RecordCorrection("ambiguous")
	collector.RecordAdapterError("dense", errors.New("boom"))
	collector.RecordAdapterError("dense", errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.cragCorrections.WithLabelValues("ambiguous")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.adapterErrors.WithLabelValues("dense")))
}

func TestCollector_NilSafe(t *testing.T) {
	var collector *Collector
	assert.NotPanics(t, func() {
		collector.RecordIngest(1, 0, 0, 0, time.Second)
		collector.RecordQuery("populated", nil, time.Second)
		collector.RecordCorrection("insufficient")
		collector.RecordAdapterError("rerank", nil)
	})
}
