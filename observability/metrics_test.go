package observability

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCascadeObserver(t *testing.T) {
	before := testutil.ToFloat64(cascadeDeletions.WithLabelValues("dataset", "success"))
	rowsBefore := testutil.ToFloat64(cascadeRows.WithLabelValues("documents"))

	var o CascadeObserver
	o.ObserveCascade("dataset", "success", map[string]int64{"datasets": 1, "documents": 4, "files": 0}, 20*time.Millisecond)

	assert.Equal(t, before+1, testutil.ToFloat64(cascadeDeletions.WithLabelValues("dataset", "success")))
	assert.Equal(t, rowsBefore+4, testutil.ToFloat64(cascadeRows.WithLabelValues("documents")))
}

func TestObserveRequest(t *testing.T) {
	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "unmatched", "404"))
	ObserveRequest("GET", "", 404, time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequests.WithLabelValues("GET", "unmatched", "404")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	ObserveRequest("GET", "/health", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ragflow_admin_http_requests_total")
}
