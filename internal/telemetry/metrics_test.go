package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveFetch("a", true, "", time.Millisecond)
		m.ObserveRun("success", time.Millisecond)
		m.ObserveCache("fast", "hit")
	})
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.ObserveFetch("weather", true, "", 50*time.Millisecond)
	m.ObserveFetch("weather", false, "timeout", 5*time.Second)
	m.ObserveRun("success", 100*time.Millisecond)
	m.ObserveCache("fast", "hit")
	m.ObserveCache("durable", "miss")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "aggregator_fetch_attempts_total")
	assert.Contains(t, body, `source="weather"`)
	assert.Contains(t, body, `error_kind="timeout"`)
	assert.Contains(t, body, "aggregator_runs_total")
	assert.Contains(t, body, "aggregator_cache_events_total")
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	t.Parallel()

	// Instruments live on private registries, so two instances never
	// collide the way default-registry registration would
	assert.NotPanics(t, func() {
		NewMetrics()
		NewMetrics()
	})
}
