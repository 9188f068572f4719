package fetcher

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nicolasjuan/xml-api-aggregator/internal/config"
	"github.com/nicolasjuan/xml-api-aggregator/internal/httpclient"
	"github.com/nicolasjuan/xml-api-aggregator/internal/telemetry"
)

const (
	// BackoffBase is the delay before the second attempt
	BackoffBase = 1 * time.Second

	// BackoffCap is the ceiling on the inter-attempt delay
	BackoffCap = 5 * time.Second

	// SequentialPause is the fixed pause between requests in sequential mode
	SequentialPause = 100 * time.Millisecond
)

// Mode selects how FetchAll issues its retrievals
type Mode string

const (
	// ModeParallel issues all retrievals concurrently
	ModeParallel Mode = "parallel"

	// ModeSequential issues retrievals one at a time with a fixed pause
	ModeSequential Mode = "sequential"
)

// Sleeper waits for the given duration or until the context is cancelled.
// Injected so the retry loop is testable without real time.
type Sleeper func(ctx context.Context, d time.Duration) error

func defaultSleeper(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Fetcher retrieves documents for source descriptors
type Fetcher struct {
	client   httpclient.Client
	store    config.Store
	logger   *zap.SugaredLogger
	metrics  *telemetry.Metrics
	inflight *inflightTracker
	sleep    Sleeper
}

// FetcherOption configures a Fetcher
//
//nolint:revive // fetcher.FetcherOption reads fine at call sites
type FetcherOption func(*Fetcher)

// WithSleeper replaces the inter-attempt sleep function
func WithSleeper(s Sleeper) FetcherOption {
	return func(f *Fetcher) {
		f.sleep = s
	}
}

// WithMetrics attaches fetch metrics
func WithMetrics(m *telemetry.Metrics) FetcherOption {
	return func(f *Fetcher) {
		f.metrics = m
	}
}

// New creates a Fetcher. The store receives status notifications after each
// attempt sequence; notification failures are logged, never propagated.
func New(client httpclient.Client, store config.Store, logger *zap.SugaredLogger, opts ...FetcherOption) *Fetcher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	f := &Fetcher{
		client:   client,
		store:    store,
		logger:   logger,
		inflight: newInflightTracker(),
		sleep:    defaultSleeper,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchOne retrieves the document for one descriptor, retrying with
// exponential backoff up to the descriptor's attempt budget.
//
// If a retrieval for the same source id is already outstanding, FetchOne
// returns immediately with an alreadyInFlight failure instead of queuing
// or joining the existing attempt. This keeps overlapping triggers from
// stacking retrieval work on a slow source; the rejected caller is
// expected to come back on its next cycle.
func (f *Fetcher) FetchOne(ctx context.Context, desc config.SourceDescriptor) FetchOutcome {
	if !f.inflight.tryAcquire(desc.ID) {
		f.logger.Debugw("Rejecting fetch, request already in flight", "source", desc.ID)
		return FetchOutcome{
			SourceID: desc.ID,
			Failure: &FailureOutcome{
				ErrorKind: ErrorKindAlreadyInFlight,
				Message:   "a retrieval for this source is already in flight",
			},
		}
	}
	defer f.inflight.release(desc.ID)

	outcome := f.fetchWithRetry(ctx, desc)
	f.notifyStatus(ctx, desc, outcome)
	return outcome
}

func (f *Fetcher) fetchWithRetry(ctx context.Context, desc config.SourceDescriptor) FetchOutcome {
	retries := desc.EffectiveRetries()
	timeout := desc.EffectiveTimeout()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = BackoffBase
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = BackoffCap
	bo.Reset()

	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= retries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := f.client.Get(attemptCtx, desc.URL, desc.Headers)
		cancel()

		if err == nil {
			f.metrics.ObserveFetch(desc.ID, true, "", resp.Elapsed)
			f.logger.Debugw("Fetched source",
				"source", desc.ID,
				"attempt", attempt,
				"status", resp.StatusCode,
				"elapsed", resp.Elapsed,
			)
			return FetchOutcome{
				SourceID: desc.ID,
				Success: &SuccessOutcome{
					RawBody:      string(resp.Body),
					ContentType:  resp.ContentType,
					HTTPStatus:   resp.StatusCode,
					ResponseTime: resp.Elapsed,
					Attempt:      attempt,
					FetchedAt:    time.Now().UTC(),
				},
			}
		}

		lastErr = err
		f.logger.Debugw("Fetch attempt failed",
			"source", desc.ID,
			"attempt", attempt,
			"error", err,
		)

		if attempt < retries {
			if sleepErr := f.sleep(ctx, bo.NextBackOff()); sleepErr != nil {
				// Caller gave up while we were waiting to retry
				lastErr = sleepErr
				break
			}
		}
	}

	kind := ClassifyError(lastErr)
	elapsed := time.Since(start)
	f.metrics.ObserveFetch(desc.ID, false, string(kind), elapsed)
	f.logger.Warnw("Fetch failed terminally",
		"source", desc.ID,
		"attempts", retries,
		"error_kind", kind,
		"error", lastErr,
	)

	return FetchOutcome{
		SourceID: desc.ID,
		Failure: &FailureOutcome{
			ErrorKind:         kind,
			Message:           lastErr.Error(),
			AttemptsExhausted: true,
			ResponseTime:      elapsed,
		},
	}
}

// FetchAll retrieves documents for all given descriptors. Outcomes are
// returned in input order regardless of completion order, and one
// descriptor's failure never aborts the others.
func (f *Fetcher) FetchAll(ctx context.Context, descs []config.SourceDescriptor, mode Mode) FetchAllResult {
	start := time.Now()
	outcomes := make([]FetchOutcome, len(descs))

	switch mode {
	case ModeSequential:
		// Paced one at a time so a single remote operator is never burst.
		limiter := rate.NewLimiter(rate.Every(SequentialPause), 1)
		for i, desc := range descs {
			if err := limiter.Wait(ctx); err != nil {
				outcomes[i] = FetchOutcome{
					SourceID: desc.ID,
					Failure: &FailureOutcome{
						ErrorKind: ClassifyError(err),
						Message:   err.Error(),
					},
				}
				continue
			}
			outcomes[i] = f.FetchOne(ctx, desc)
		}
	default:
		done := make(chan struct{})
		for i, desc := range descs {
			go func(i int, desc config.SourceDescriptor) {
				outcomes[i] = f.FetchOne(ctx, desc)
				done <- struct{}{}
			}(i, desc)
		}
		for range descs {
			<-done
		}
	}

	stats := FetchAllStats{
		Requested: len(descs),
		Elapsed:   time.Since(start),
	}
	for i := range outcomes {
		if outcomes[i].IsSuccess() {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
	}

	return FetchAllResult{Outcomes: outcomes, Stats: stats}
}

// notifyStatus pushes the terminal outcome to the configuration store.
// AlreadyInFlight rejections perform no attempt, so they are not reported.
func (f *Fetcher) notifyStatus(ctx context.Context, desc config.SourceDescriptor, outcome FetchOutcome) {
	if f.store == nil {
		return
	}
	if outcome.Failure != nil && outcome.Failure.ErrorKind == ErrorKindAlreadyInFlight {
		return
	}

	status := config.FetchStatus{
		SourceID:  desc.ID,
		Timestamp: time.Now().UTC(),
	}
	if outcome.IsSuccess() {
		status.State = config.FetchStateSuccess
		status.ResponseTime = outcome.Success.ResponseTime
	} else {
		status.State = config.FetchStateError
		status.ResponseTime = outcome.Failure.ResponseTime
		status.LastError = outcome.Failure.Message
	}

	if err := f.store.RecordFetchStatus(ctx, status); err != nil {
		f.logger.Warnw("Failed to record fetch status", "source", desc.ID, "error", err)
	}
}
