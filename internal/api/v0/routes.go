// Package v0 provides the REST API handlers for aggregation access.
package v0

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nicolasjuan/xml-api-aggregator/internal/config"
	"github.com/nicolasjuan/xml-api-aggregator/internal/pipeline"
	"github.com/nicolasjuan/xml-api-aggregator/internal/versions"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// SourceStatusResponse describes one configured source and its last
// recorded fetch status
type SourceStatusResponse struct {
	ID      string              `json:"id"`
	Name    string              `json:"name"`
	URL     string              `json:"url"`
	Enabled bool                `json:"enabled"`
	Status  *config.FetchStatus `json:"status,omitempty"`
}

// Routes defines the routes for the aggregation API
type Routes struct {
	service *pipeline.Service
	store   config.Store
}

// Router creates a new router for the aggregation API
func Router(svc *pipeline.Service, store config.Store) http.Handler {
	routes := &Routes{service: svc, store: store}

	r := chi.NewRouter()
	r.Get("/health", routes.getHealth)
	r.Get("/version", routes.getVersion)
	r.Get("/aggregate", routes.getAggregate)
	r.Get("/sources", routes.getSources)
	r.Get("/sources/{id}/document", routes.getSourceDocument)
	r.Get("/stats", routes.getStats)
	r.Post("/stats/reset", routes.resetStats)

	return r
}

func (*Routes) getHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (*Routes) getVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, versions.GetVersionInfo())
}

// getAggregate handles GET /aggregate
//
// Query parameters:
//
//	mode=parallel|sequential  fetch mode (default parallel)
//	include=xml|structure|metadata|all  result sections (default all)
//	format=xml|json  response representation (default json)
func (rr *Routes) getAggregate(w http.ResponseWriter, r *http.Request) {
	opts := pipeline.Options{
		Sequential: r.URL.Query().Get("mode") == "sequential",
	}
	switch include := r.URL.Query().Get("include"); include {
	case "", "all":
		opts.Include = pipeline.IncludeAll
	case "xml":
		opts.Include = pipeline.IncludeXML
	case "structure":
		opts.Include = pipeline.IncludeStructure
	case "metadata":
		opts.Include = pipeline.IncludeMetadata
	default:
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid include value: " + include})
		return
	}

	format := r.URL.Query().Get("format")
	if format == "xml" && !(opts.Include == pipeline.IncludeXML || opts.Include == pipeline.IncludeAll) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "format=xml requires include=xml or include=all"})
		return
	}

	result := rr.service.Run(r.Context(), opts)

	if result.Status == pipeline.StatusError {
		status := result.SuggestedHTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, result)
		return
	}

	if format == "xml" {
		if result.CombinedXML == "" {
			// Warning result: nothing was aggregated
			writeJSON(w, http.StatusOK, result)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(result.CombinedXML))
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (rr *Routes) getSources(w http.ResponseWriter, r *http.Request) {
	statuses := rr.store.Statuses(r.Context())

	var out []SourceStatusResponse
	for _, src := range rr.store.EnabledSources(r.Context()) {
		resp := SourceStatusResponse{
			ID:      src.ID,
			Name:    src.Name,
			URL:     src.URL,
			Enabled: src.Enabled,
		}
		if st, ok := statuses[src.ID]; ok {
			resp.Status = &st
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

// getSourceDocument serves the last cached raw document for one source.
// Entries expire with their TTL, so a 404 means no fresh retrieval exists.
func (rr *Routes) getSourceDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	payload, ok := rr.service.CachedSourceDocument(r.Context(), id)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no cached document for source: " + id})
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (rr *Routes) getStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rr.service.Stats().Snapshot())
}

func (rr *Routes) resetStats(w http.ResponseWriter, _ *http.Request) {
	rr.service.Stats().Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
