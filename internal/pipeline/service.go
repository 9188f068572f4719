package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nicolasjuan/xml-api-aggregator/internal/cache"
	"github.com/nicolasjuan/xml-api-aggregator/internal/config"
	"github.com/nicolasjuan/xml-api-aggregator/internal/fetcher"
	"github.com/nicolasjuan/xml-api-aggregator/internal/telemetry"
	"github.com/nicolasjuan/xml-api-aggregator/internal/xmlagg"
)

// Service composes the fetcher, validator/aggregator and cache into one
// request/response cycle.
type Service struct {
	store   config.Store
	fetcher *fetcher.Fetcher
	cache   cache.Cache
	stats   *Stats
	logger  *zap.SugaredLogger
	metrics *telemetry.Metrics
	clock   func() time.Time
}

// ServiceOption configures a Service
//
//nolint:revive // pipeline.ServiceOption reads fine at call sites
type ServiceOption func(*Service)

// WithCache attaches a cache for aggregate results and raw source bodies.
// Without one, runs still work; nothing is cached.
func WithCache(c cache.Cache) ServiceOption {
	return func(s *Service) {
		s.cache = c
	}
}

// WithMetrics attaches run metrics
func WithMetrics(m *telemetry.Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock replaces the time source
func WithClock(clock func() time.Time) ServiceOption {
	return func(s *Service) {
		s.clock = clock
	}
}

// New creates a Service
func New(store config.Store, f *fetcher.Fetcher, logger *zap.SugaredLogger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Service{
		store:   store,
		fetcher: f,
		stats:   NewStats(),
		logger:  logger,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats returns the service's running statistics component
func (s *Service) Stats() *Stats {
	return s.stats
}

// Run executes one aggregation cycle: resolve enabled descriptors, fetch
// all, validate all, aggregate, and return a tagged result. Per-source
// failures are recovered locally; only an empty validated set turns the
// whole run into an error.
func (s *Service) Run(ctx context.Context, opts Options) *Result {
	start := s.clock()
	result := &Result{
		RunID: uuid.NewString(),
		Stage: StageResolving,
	}
	defer func() {
		result.Elapsed = s.clock().Sub(start)
		result.GeneratedAt = s.clock().UTC()
		s.stats.RecordRun(result.Status, result.Elapsed)
		s.metrics.ObserveRun(string(result.Status), result.Elapsed)
	}()

	if s.serveCachedAggregate(ctx, opts, result) {
		return result
	}

	descs := s.store.EnabledSources(ctx)
	if len(descs) == 0 {
		result.Status = StatusWarning
		result.Message = "no enabled sources configured"
		s.logger.Infow("Aggregation run has no enabled sources", "run", result.RunID)
		return result
	}

	if opts.TimeoutOverride > 0 {
		for i := range descs {
			descs[i].Timeout = opts.TimeoutOverride.String()
		}
	}

	// Fetch
	result.Stage = StageFetching
	mode := fetcher.ModeParallel
	if opts.Sequential {
		mode = fetcher.ModeSequential
	}
	fetched := s.fetcher.FetchAll(ctx, descs, mode)
	s.stats.RecordFetches(fetched.Stats.Requested, fetched.Stats.Succeeded, fetched.Stats.Failed)

	for i, outcome := range fetched.Outcomes {
		if outcome.Failure != nil {
			result.SourceErrors = append(result.SourceErrors, SourceError{
				ID:      descs[i].ID,
				Stage:   StageFetching,
				Kind:    string(outcome.Failure.ErrorKind),
				Message: outcome.Failure.Message,
			})
		}
	}
	if fetched.Stats.Succeeded == 0 {
		result.Status = StatusError
		result.Message = "no data could be fetched from any source"
		result.SuggestedHTTPStatus = http.StatusServiceUnavailable
		return result
	}

	// Validate
	result.Stage = StageValidating
	validated := s.validateAll(descs, fetched.Outcomes)

	wellFormed := make([]ValidatedSource, 0, len(validated))
	for _, v := range validated {
		if v.IsWellFormed {
			wellFormed = append(wellFormed, v)
			continue
		}
		result.SourceErrors = append(result.SourceErrors, SourceError{
			ID:      v.Descriptor.ID,
			Stage:   StageValidating,
			Kind:    string(v.ValidationReason),
			Message: v.ValidationError,
		})
	}
	if len(wellFormed) == 0 {
		result.Status = StatusError
		result.Message = "no valid XML among fetched sources"
		result.SuggestedHTTPStatus = http.StatusUnprocessableEntity
		return result
	}

	// Aggregate
	result.Stage = StageAggregating
	docs := make([]xmlagg.SourceDocument, 0, len(wellFormed))
	for _, v := range wellFormed {
		docs = append(docs, xmlagg.SourceDocument{
			ID:          v.Descriptor.ID,
			Name:        v.Descriptor.Name,
			URL:         v.Descriptor.URL,
			FetchedAt:   v.Outcome.FetchedAt,
			ContentType: v.Outcome.ContentType,
			Content:     v.Outcome.RawBody,
		})
	}

	combined, err := xmlagg.Aggregate(docs, s.clock())
	if err != nil {
		result.Status = StatusError
		result.Message = err.Error()
		result.SuggestedHTTPStatus = http.StatusInternalServerError
		return result
	}

	result.Stage = StageComplete
	result.Status = StatusSuccess
	result.CombinedXML = combined.XML
	result.CombinedTree = combined.Tree
	for _, v := range wellFormed {
		result.SourceSummaries = append(result.SourceSummaries, SourceSummary{
			ID:             v.Descriptor.ID,
			Name:           v.Descriptor.Name,
			URL:            v.Descriptor.URL,
			FetchedAt:      v.Outcome.FetchedAt,
			ProcessingTime: v.ProcessingTime,
			RootElement:    v.RootElement,
			ElementCount:   v.ElementCount,
		})
	}

	// Cache the fully-populated result before trimming to the requested
	// sections, so a later run can serve any include selection from it.
	s.cacheResults(ctx, wellFormed, result)
	applyInclude(opts.Include, result)

	s.logger.Infow("Aggregation run complete",
		"run", result.RunID,
		"sources", len(descs),
		"aggregated", len(wellFormed),
		"excluded", len(result.SourceErrors),
	)
	return result
}

// validationReason extracts the typed reason from a validation failure,
// falling back to malformed for untyped errors.
func validationReason(err error) xmlagg.ValidationReason {
	var vErr *xmlagg.ValidationError
	if errors.As(err, &vErr) {
		return vErr.Reason
	}
	return xmlagg.ReasonMalformed
}

// validateAll screens each successful outcome with the cheap structural
// check and, only when that passes, extracts metadata with the full
// parser. Order follows the input outcomes, which preserve descriptor
// order, so aggregation output is deterministic for a fixed input.
func (s *Service) validateAll(descs []config.SourceDescriptor, outcomes []fetcher.FetchOutcome) []ValidatedSource {
	validated := make([]ValidatedSource, 0, len(outcomes))
	for i, outcome := range outcomes {
		if !outcome.IsSuccess() {
			continue
		}

		start := s.clock()
		v := ValidatedSource{
			Descriptor: descs[i],
			Outcome:    *outcome.Success,
		}

		if err := xmlagg.QuickCheck(outcome.Success.RawBody); err != nil {
			v.ValidationError = err.Error()
			v.ValidationReason = validationReason(err)
		} else if meta, err := xmlagg.ExtractMetadata(outcome.Success.RawBody); err != nil {
			v.ValidationError = err.Error()
			v.ValidationReason = validationReason(err)
		} else {
			v.IsWellFormed = true
			v.RootElement = meta.RootElement
			v.ElementCount = meta.ElementCount
		}
		v.ProcessingTime = s.clock().Sub(start)

		if !v.IsWellFormed {
			s.logger.Debugw("Source failed validation",
				"source", descs[i].ID,
				"error", v.ValidationError,
			)
		}
		validated = append(validated, v)
	}
	return validated
}

// cacheResults stores the fully-populated run result and each source's raw
// body. Cache write failures are best-effort: logged, never failing the run.
func (s *Service) cacheResults(ctx context.Context, sources []ValidatedSource, result *Result) {
	if s.cache == nil {
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		s.logger.Warnw("Failed to encode aggregate result for caching", "error", err)
	} else if err := s.cache.Set(ctx, cache.AggregateResultKey, payload, cache.AggregateTTL); err != nil {
		s.logger.Warnw("Failed to cache aggregate result", "error", err)
	}

	for _, v := range sources {
		ttl := cache.SourceTTL(v.Descriptor.EffectiveInterval())
		key := cache.SourceKey(v.Descriptor.ID)
		if err := s.cache.Set(ctx, key, []byte(v.Outcome.RawBody), ttl); err != nil {
			s.logger.Warnw("Failed to cache source document", "source", v.Descriptor.ID, "error", err)
		}
	}
}

// serveCachedAggregate fills result from a fresh cached aggregate, if one
// exists. Runs with fetch-affecting options (sequential mode, timeout
// override) always go to the sources.
func (s *Service) serveCachedAggregate(ctx context.Context, opts Options, result *Result) bool {
	if s.cache == nil || opts.Sequential || opts.TimeoutOverride > 0 {
		return false
	}

	payload, ok := s.cache.Get(ctx, cache.AggregateResultKey)
	if !ok {
		return false
	}
	var cached Result
	if err := json.Unmarshal(payload, &cached); err != nil {
		s.logger.Warnw("Discarding unreadable cached aggregate", "error", err)
		return false
	}

	runID := result.RunID
	*result = cached
	result.RunID = runID
	result.Message = "served from cached aggregate"
	applyInclude(opts.Include, result)

	s.logger.Debugw("Serving cached aggregate", "run", result.RunID)
	return true
}

// CachedSourceDocument returns the cached raw document for one source id,
// if a fresh entry exists.
func (s *Service) CachedSourceDocument(ctx context.Context, id string) ([]byte, bool) {
	if s.cache == nil {
		return nil, false
	}
	return s.cache.Get(ctx, cache.SourceKey(id))
}

// applyInclude trims a fully-populated result down to the requested sections
func applyInclude(include Include, result *Result) {
	if !include.xml() {
		result.CombinedXML = ""
	}
	if !include.structure() {
		result.CombinedTree = nil
	}
	if !include.metadata() {
		result.SourceSummaries = nil
	}
}
