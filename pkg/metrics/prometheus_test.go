package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder_PipelineMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordCandidate("selected")
	r.RecordCandidate("selected")
	r.RecordCandidate("failed")
	r.RecordBatch(3, 12.5, 0.95)
	r.RecordSelection(12, 71.25)
	r.RecordError("fetch")

	assert.InDelta(t, 2, testutil.ToFloat64(r.candidates.WithLabelValues("selected")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(r.candidates.WithLabelValues("failed")), 1e-9)
	assert.InDelta(t, 0.95, testutil.ToFloat64(r.batchSuccess.WithLabelValues("3")), 1e-9)
	assert.InDelta(t, 12, testutil.ToFloat64(r.selected), 1e-9)
	assert.InDelta(t, 71.25, testutil.ToFloat64(r.averageScore), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(r.errorsTotal.WithLabelValues("fetch")), 1e-9)
}

func TestRecorder_HTTPInFlightBalances(t *testing.T) {
	t.Parallel()

	r := New(prometheus.NewRegistry())
	r.HTTPStarted("/api/selection/latest", "GET")
	assert.InDelta(t, 1, testutil.ToFloat64(r.httpInFlight.WithLabelValues("/api/selection/latest", "GET")), 1e-9)

	r.HTTPFinished("/api/selection/latest", "GET", 200, 0.01, 512)
	assert.InDelta(t, 0, testutil.ToFloat64(r.httpInFlight.WithLabelValues("/api/selection/latest", "GET")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(r.httpRequests.WithLabelValues("/api/selection/latest", "GET", "200")), 1e-9)
}

func TestStatusClass(t *testing.T) {
	t.Parallel()

	tests := map[int]string{101: "1xx", 204: "2xx", 301: "3xx", 404: "4xx", 503: "5xx"}
	for code, want := range tests {
		assert.Equal(t, want, StatusClass(code))
	}
}

func TestNew_SeparateRegistriesDoNotCollide(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
