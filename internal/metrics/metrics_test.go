package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRun("succeeded", 2*time.Second)
	c.RecordRun("failed", time.Second)
	c.RecordRun("succeeded", time.Second)
	c.RecordGenerated(100, 340, 2100, 31)
	c.RecordTableWritten("analytics_events", 2100)
	c.RecordStage("events", 150*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.runs.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runs.WithLabelValues("failed")))
	assert.Equal(t, 2100.0, testutil.ToFloat64(c.events))
	assert.Equal(t, 31.0, testutil.ToFloat64(c.conversions))
	assert.Equal(t, 2100.0, testutil.ToFloat64(c.rows.WithLabelValues("analytics_events")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.stage))
}

func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg).RecordGenerated(1, 2, 3, 0)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "synth_events_generated_total 3")
}

func TestNop_SatisfiesRecorder(t *testing.T) {
	var r Recorder = Nop{}
	r.RecordRun("succeeded", time.Second)
	r.RecordGenerated(1, 1, 1, 1)
}
