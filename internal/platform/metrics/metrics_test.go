package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jinford/kb-rag/internal/core/generation"
	"github.com/jinford/kb-rag/internal/core/ingestion"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observers(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveIngestion(ingestion.StatusIndexed, 12)
	m.ObserveIngestion(ingestion.StatusFailed, 0)
	m.ObserveIngestion(ingestion.StatusIndexed, 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.IngestionsTotal.WithLabelValues("indexed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestionsTotal.WithLabelValues("failed")))
	assert.Equal(t, 15.0, testutil.ToFloat64(m.ChunksWrittenTotal))

	m.ObserveStream(generation.StateDone, 40)
	m.ObserveStream(generation.StateClosedOnError, 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamsTotal.WithLabelValues("done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamsTotal.WithLabelValues("closed_on_error")))

	m.ObserveEvalCase(true, 0.9, false)
	m.ObserveEvalCase(false, 0, true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EvalCasesTotal.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EvalCasesTotal.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EvalJudgeFailures))

	m.ObserveRetrieval(25*time.Millisecond, 4)
	assert.Equal(t, 1, testutil.CollectAndCount(m.RetrievalDuration))
}

func TestMetrics_Handler(t *testing.T) {
	m := New(nil)
	m.ObserveIngestion(ingestion.StatusIndexed, 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `kb_rag_ingestions_total{status="indexed"} 1`)
}
