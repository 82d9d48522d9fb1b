package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsIsSingleton(t *testing.T) {
	assert.Same(t, NewMetrics(), NewMetrics())
}

func TestRecorders(t *testing.T) {
	m := NewMetrics()

	before := testutil.ToFloat64(m.QueryStageFailures.WithLabelValues("embedding"))
	m.QueryFailed("embedding")
	assert.Equal(t, before+1, testutil.ToFloat64(m.QueryStageFailures.WithLabelValues("embedding")))

	okBefore := testutil.ToFloat64(m.QueriesTotal.WithLabelValues("ok"))
	m.ObserveQuery(QueryStages{Embed: time.Millisecond, Search: time.Millisecond, Total: 3 * time.Millisecond, FragmentsSearched: 10})
	assert.Equal(t, okBefore+1, testutil.ToFloat64(m.QueriesTotal.WithLabelValues("ok")))

	m.SetIndexSize(3, 12)
	assert.Equal(t, 12.0, testutil.ToFloat64(m.IndexFragments))

	skipped := testutil.ToFloat64(m.IngestedFilesTotal.WithLabelValues("skipped"))
	m.FileIngested("skipped", time.Millisecond)
	assert.Equal(t, skipped+1, testutil.ToFloat64(m.IngestedFilesTotal.WithLabelValues("skipped")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.QueryFailed("index")
	m.ObserveQuery(QueryStages{})
	m.FileIngested("failed", 0)
	m.SetIndexSize(1, 1)
}

func TestHandler(t *testing.T) {
	NewMetrics().SetIndexSize(1, 2)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "shiori_index_fragments"))
}
