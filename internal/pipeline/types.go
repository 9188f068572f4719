// Package pipeline orchestrates the fetch, validate, cache and aggregate
// stages into one request/response cycle.
package pipeline

import (
	"time"

	"github.com/nicolasjuan/xml-api-aggregator/internal/config"
	"github.com/nicolasjuan/xml-api-aggregator/internal/fetcher"
	"github.com/nicolasjuan/xml-api-aggregator/internal/xmlagg"
)

// Status is the terminal status of one aggregation run
type Status string

const (
	// StatusSuccess means a combined document was produced
	StatusSuccess Status = "success"

	// StatusWarning means the run had nothing to do (no enabled sources).
	// Distinct from an error: it reflects configuration state, not failure.
	StatusWarning Status = "warning"

	// StatusError means the run produced no combined document
	StatusError Status = "error"
)

// Stage identifies how far a run progressed
type Stage string

const (
	// StageResolving is the enabled-descriptor lookup
	StageResolving Stage = "resolving"

	// StageFetching is the bulk retrieval stage
	StageFetching Stage = "fetching"

	// StageValidating is the XML validation stage
	StageValidating Stage = "validating"

	// StageAggregating is the combined-document build stage
	StageAggregating Stage = "aggregating"

	// StageComplete means the run finished successfully
	StageComplete Stage = "complete"
)

// Include selects which optional sections are populated in the result, so
// callers do not pay for building unused, potentially large payloads.
type Include string

const (
	// IncludeXML populates only the combined XML text
	IncludeXML Include = "xml"

	// IncludeStructure populates only the structured tree
	IncludeStructure Include = "structure"

	// IncludeMetadata populates only the per-source summaries
	IncludeMetadata Include = "metadata"

	// IncludeAll populates every section
	IncludeAll Include = "all"
)

func (i Include) xml() bool       { return i == IncludeXML || i == IncludeAll || i == "" }
func (i Include) structure() bool { return i == IncludeStructure || i == IncludeAll || i == "" }
func (i Include) metadata() bool  { return i == IncludeMetadata || i == IncludeAll || i == "" }

// Options are the per-run options
type Options struct {
	// Sequential fetches sources one at a time instead of concurrently
	Sequential bool `json:"sequential,omitempty"`

	// TimeoutOverride replaces every descriptor's per-attempt timeout
	TimeoutOverride time.Duration `json:"timeout_override_ns,omitempty"`

	// Include selects the populated result sections; empty means all
	Include Include `json:"include,omitempty"`
}

// SourceSummary describes one source that made it into the aggregate
type SourceSummary struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	URL            string        `json:"url"`
	FetchedAt      time.Time     `json:"fetched_at"`
	ProcessingTime time.Duration `json:"processing_time_ns"`
	RootElement    string        `json:"root_element"`
	ElementCount   int           `json:"element_count"`
}

// SourceError names a source excluded from the aggregate and why
type SourceError struct {
	ID      string `json:"id"`
	Stage   Stage  `json:"stage"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Result is the outcome of one aggregation run. Every terminal result
// carries enough detail to diagnose which sources failed and why, even
// on overall success.
type Result struct {
	// RunID uniquely identifies this run
	RunID string `json:"run_id"`

	// Status is the terminal status
	Status Status `json:"status"`

	// Stage is the stage the run reached
	Stage Stage `json:"stage"`

	// Message is a human-readable summary
	Message string `json:"message,omitempty"`

	// SuggestedHTTPStatus is the HTTP-equivalent status class for
	// HTTP-facing collaborators to map directly; 0 for non-error results
	SuggestedHTTPStatus int `json:"suggested_http_status,omitempty"`

	// GeneratedAt is when the run completed
	GeneratedAt time.Time `json:"generated_at"`

	// Elapsed is the run wall time
	Elapsed time.Duration `json:"elapsed_ns"`

	// CombinedXML is the combined document text (include: xml|all)
	CombinedXML string `json:"combined_xml,omitempty"`

	// CombinedTree is the structured equivalent (include: structure|all)
	CombinedTree *xmlagg.Node `json:"combined_tree,omitempty"`

	// SourceSummaries lists the aggregated sources (include: metadata|all)
	SourceSummaries []SourceSummary `json:"source_summaries,omitempty"`

	// SourceErrors lists the sources excluded from the aggregate
	SourceErrors []SourceError `json:"source_errors,omitempty"`
}

// ValidatedSource wraps a successful fetch outcome with its validation
// result. A source with IsWellFormed == false is excluded from aggregation
// but still reported, with the validator's reason preserved.
type ValidatedSource struct {
	Descriptor       config.SourceDescriptor
	Outcome          fetcher.SuccessOutcome
	IsWellFormed     bool
	ValidationError  string
	ValidationReason xmlagg.ValidationReason
	RootElement      string
	ElementCount     int
	ProcessingTime   time.Duration
}
