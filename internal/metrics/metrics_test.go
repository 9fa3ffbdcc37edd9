package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.ActiveSessions.Inc()
	a.Requests.WithLabelValues("text").Add(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.ActiveSessions))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.ActiveSessions))
	assert.Equal(t, 2.0, testutil.ToFloat64(a.Requests.WithLabelValues("text")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Uploads.WithLabelValues("pdf", "ok").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `voicesession_uploads_total{kind="pdf",result="ok"} 1`)
	assert.Contains(t, string(body), "voicesession_active_sessions 0")
}
