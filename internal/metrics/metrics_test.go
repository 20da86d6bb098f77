package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counters(t *testing.T) {
	c := NewCollector()

	c.RecordIndexed("text", 3)
	c.RecordIndexed("text", 2)
	c.RecordIndexed("file", 1)
	c.RecordQuery("answered")
	c.RecordQuery("no_documents")
	c.RecordQuery("answered")
	c.RecordPurge()

	assert.Equal(t, 5.0, testutil.ToFloat64(c.chunksIndexed.WithLabelValues("text")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.sourcesIndexed.WithLabelValues("text")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.chunksIndexed.WithLabelValues("file")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.queries.WithLabelValues("answered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.purges))
}

func TestCollector_ObserveOperation(t *testing.T) {
	c := NewCollector()

	c.ObserveOperation("query", time.Now(), nil)
	c.ObserveOperation("query", time.Now(), errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.operationErrors.WithLabelValues("query")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.operationDuration))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.RecordQuery("no_relevant")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `rag_queries_total{outcome="no_relevant"} 1`)
}
