package v0

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicolasjuan/xml-api-aggregator/internal/cache"
	"github.com/nicolasjuan/xml-api-aggregator/internal/config"
	"github.com/nicolasjuan/xml-api-aggregator/internal/fetcher"
	"github.com/nicolasjuan/xml-api-aggregator/internal/httpclient"
	"github.com/nicolasjuan/xml-api-aggregator/internal/pipeline"
)

func newUpstream(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	server.Client().Transport.(*http.Transport).DisableKeepAlives = true
	t.Cleanup(server.Close)
	return server
}

func xmlUpstream(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(body))
	})
}

func newTestRouter(t *testing.T, sources ...config.SourceDescriptor) (http.Handler, *pipeline.Service) {
	t.Helper()

	cfg := &config.Config{Sources: sources}
	store := config.NewFileStore(cfg, t.TempDir())
	f := fetcher.New(httpclient.NewDefaultClient(0), store, nil)

	tiered, err := cache.NewTiered(filepath.Join(t.TempDir(), "cache.db"), 10, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = tiered.Close()
	})

	svc := pipeline.New(store, f, nil, pipeline.WithCache(tiered))

	return Router(svc, store), svc
}

func doRequest(t *testing.T, handler http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestGetHealth(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t)
	rec := doRequest(t, router, http.MethodGet, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestGetVersion(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t)
	rec := doRequest(t, router, http.MethodGet, "/version")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "version")
}

func TestGetAggregate(t *testing.T) {
	t.Parallel()

	upstream := xmlUpstream(t, `<feed><item>hello</item></feed>`)
	router, _ := newTestRouter(t, config.SourceDescriptor{
		ID: "feed", Name: "Feed", URL: upstream.URL, Retries: 1, Enabled: true,
	})

	rec := doRequest(t, router, http.MethodGet, "/aggregate")
	require.Equal(t, http.StatusOK, rec.Code)

	var result pipeline.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, pipeline.StatusSuccess, result.Status)
	assert.Contains(t, result.CombinedXML, `<feed><item>hello</item></feed>`)
	require.Len(t, result.SourceSummaries, 1)
	assert.Equal(t, "feed", result.SourceSummaries[0].ID)
	assert.Equal(t, "feed", result.SourceSummaries[0].RootElement)
}

func TestGetAggregate_XMLFormat(t *testing.T) {
	t.Parallel()

	upstream := xmlUpstream(t, `<doc/>`)
	router, _ := newTestRouter(t, config.SourceDescriptor{
		ID: "a", URL: upstream.URL, Retries: 1, Enabled: true,
	})

	rec := doRequest(t, router, http.MethodGet, "/aggregate?format=xml")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	assert.True(t, strings.Contains(rec.Body.String(), "<aggregate"))
	assert.Contains(t, rec.Body.String(), `<doc/>`)
}

func TestGetAggregate_BadQuery(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/aggregate?include=bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/aggregate?format=xml&include=metadata")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAggregate_AllSourcesDown(t *testing.T) {
	t.Parallel()

	upstream := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	router, _ := newTestRouter(t, config.SourceDescriptor{
		ID: "down", URL: upstream.URL, Retries: 1, Enabled: true,
	})

	rec := doRequest(t, router, http.MethodGet, "/aggregate")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var result pipeline.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, pipeline.StatusError, result.Status)
	require.Len(t, result.SourceErrors, 1)
	assert.Equal(t, "down", result.SourceErrors[0].ID)
}

func TestGetAggregate_InvalidXMLUpstream(t *testing.T) {
	t.Parallel()

	upstream := xmlUpstream(t, `this is not xml`)
	router, _ := newTestRouter(t, config.SourceDescriptor{
		ID: "garbage", URL: upstream.URL, Retries: 1, Enabled: true,
	})

	rec := doRequest(t, router, http.MethodGet, "/aggregate")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var result pipeline.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, pipeline.StatusError, result.Status)
}

func TestGetAggregate_NoSourcesIsWarning(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t)
	rec := doRequest(t, router, http.MethodGet, "/aggregate")
	require.Equal(t, http.StatusOK, rec.Code)

	var result pipeline.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, pipeline.StatusWarning, result.Status)
	assert.Empty(t, result.CombinedXML)
}

func TestGetSources(t *testing.T) {
	t.Parallel()

	upstream := xmlUpstream(t, `<doc/>`)
	router, _ := newTestRouter(t, config.SourceDescriptor{
		ID: "a", Name: "Source A", URL: upstream.URL, Retries: 1, Enabled: true,
	})

	// Before any run, no status is attached
	rec := doRequest(t, router, http.MethodGet, "/sources")
	require.Equal(t, http.StatusOK, rec.Code)
	var before []SourceStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &before))
	require.Len(t, before, 1)
	assert.Equal(t, "a", before[0].ID)
	assert.Nil(t, before[0].Status)

	// After a run, the last fetch status appears
	doRequest(t, router, http.MethodGet, "/aggregate")
	rec = doRequest(t, router, http.MethodGet, "/sources")
	var after []SourceStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &after))
	require.Len(t, after, 1)
	require.NotNil(t, after[0].Status)
	assert.Equal(t, config.FetchStateSuccess, after[0].Status.State)
}

func TestGetAggregate_ServedFromCache(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	upstream := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<doc/>`))
	})
	router, _ := newTestRouter(t, config.SourceDescriptor{
		ID: "a", URL: upstream.URL, Retries: 1, Enabled: true,
	})

	rec := doRequest(t, router, http.MethodGet, "/aggregate")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int32(1), hits.Load())

	// A repeat request inside the aggregate TTL never reaches the upstream
	rec = doRequest(t, router, http.MethodGet, "/aggregate")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(1), hits.Load())

	var result pipeline.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, pipeline.StatusSuccess, result.Status)
	assert.Contains(t, result.CombinedXML, `<doc/>`)

	// Sequential mode forces a fresh retrieval
	rec = doRequest(t, router, http.MethodGet, "/aggregate?mode=sequential")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(2), hits.Load())
}

func TestGetSourceDocument(t *testing.T) {
	t.Parallel()

	upstream := xmlUpstream(t, `<doc/>`)
	router, _ := newTestRouter(t, config.SourceDescriptor{
		ID: "a", URL: upstream.URL, Retries: 1, Enabled: true,
	})

	// Nothing cached before the first aggregation run
	rec := doRequest(t, router, http.MethodGet, "/sources/a/document")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	doRequest(t, router, http.MethodGet, "/aggregate")

	rec = doRequest(t, router, http.MethodGet, "/sources/a/document")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	assert.Equal(t, `<doc/>`, rec.Body.String())

	rec = doRequest(t, router, http.MethodGet, "/sources/unknown/document")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatsEndpoints(t *testing.T) {
	t.Parallel()

	upstream := xmlUpstream(t, `<doc/>`)
	router, svc := newTestRouter(t, config.SourceDescriptor{
		ID: "a", URL: upstream.URL, Retries: 1, Enabled: true,
	})

	doRequest(t, router, http.MethodGet, "/aggregate")

	rec := doRequest(t, router, http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap pipeline.StatsSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(1), snap.Runs)
	assert.Equal(t, int64(1), snap.Successes)

	rec = doRequest(t, router, http.MethodPost, "/stats/reset")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pipeline.StatsSnapshot{}, svc.Stats().Snapshot())
}
