package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sample returns the value of the series of name whose labels include all of
// want, or -1 when absent.
func sample(t *testing.T, m *Metrics, name string, want map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, metric := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue series
				}
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				return float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	return -1
}

func TestRecordJob(t *testing.T) {
	m := New("test")
	m.RecordJob("host1", "success", 90*time.Second)
	m.RecordJob("host1", "success", 0)
	m.RecordJob("host2", "failed", time.Second)

	assert.Equal(t, 2.0, sample(t, m, "test_jobs_total", map[string]string{"host": "host1", "outcome": "success"}))
	assert.Equal(t, 1.0, sample(t, m, "test_jobs_total", map[string]string{"host": "host2", "outcome": "failed"}))
	assert.Equal(t, 1.0, sample(t, m, "test_jobs_encode_seconds", map[string]string{"host": "host1"}))
}

func TestWorkersAndBytes(t *testing.T) {
	m := New("test")
	m.WorkerStarted()
	m.WorkerStarted()
	m.WorkerStopped()
	m.AddBytes("upload", 100)
	m.AddBytes("upload", -1)

	assert.Equal(t, 1.0, sample(t, m, "test_workers_active", nil))
	assert.Equal(t, 100.0, sample(t, m, "test_transfer_bytes_total", map[string]string{"direction": "upload"}))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordJob("h", "success", time.Second)
		m.RecordVeto("h")
		m.AddBytes("download", 5)
		m.WorkerStarted()
		m.WorkerStopped()
		m.RecordSession("done")
	})
}

func TestRouter(t *testing.T) {
	m := New("test")
	m.RecordVeto("host1")
	router := NewRouter(m, "ffcluster")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_jobs_vetoed_total{host="host1"} 1`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"component":"ffcluster"`)
}
