// Package scheduler triggers aggregation runs on a timer. It is a thin
// collaborator of the pipeline: it decides when, the pipeline decides what.
package scheduler

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nicolasjuan/xml-api-aggregator/internal/config"
	"github.com/nicolasjuan/xml-api-aggregator/internal/pipeline"
)

const (
	// minTickInterval is the floor on the scheduling tick
	minTickInterval = 30 * time.Second

	// jitterFraction is the maximum random offset applied to the tick
	// interval, to prevent synchronized bursts across instances
	jitterFraction = 0.1
)

// Scheduler runs the aggregation pipeline periodically
type Scheduler struct {
	service *pipeline.Service
	store   config.Store
	logger  *zap.SugaredLogger

	mu         sync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{}
}

// New creates a Scheduler
func New(service *pipeline.Service, store config.Store, logger *zap.SugaredLogger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Scheduler{
		service: service,
		store:   store,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// tickInterval derives the scheduling tick from the shortest enabled-source
// refresh interval, with jitter applied.
func (s *Scheduler) tickInterval(ctx context.Context) time.Duration {
	interval := config.DefaultInterval
	for _, src := range s.store.EnabledSources(ctx) {
		if si := src.EffectiveInterval(); si < interval {
			interval = si
		}
	}
	if interval < minTickInterval {
		interval = minTickInterval
	}

	maxJitter := time.Duration(float64(interval) * jitterFraction)
	if maxJitter <= 0 {
		return interval
	}
	//nolint:gosec // G404: non-cryptographic randomness is fine for jitter
	offset := time.Duration(rand.Int64N(int64(2*maxJitter))) - maxJitter
	return interval + offset
}

// Start runs the scheduling loop. Blocks until ctx is cancelled or Stop
// is called.
func (s *Scheduler) Start(ctx context.Context) error {
	schedCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelFunc = cancel
	s.mu.Unlock()
	defer func() {
		close(s.done)
		s.logger.Infow("Scheduler shutting down")
	}()

	interval := s.tickInterval(schedCtx)
	s.logger.Infow("Starting scheduler", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-schedCtx.Done():
			return nil
		case <-ticker.C:
			result := s.service.Run(schedCtx, pipeline.Options{})
			s.logger.Infow("Scheduled aggregation run finished",
				"run", result.RunID,
				"status", result.Status,
				"elapsed", result.Elapsed,
			)

			// Re-derive in case the enabled set changed between ticks
			if next := s.tickInterval(schedCtx); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// Stop cancels the scheduling loop and waits for it to exit. Stopping a
// scheduler that never started is a no-op.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel := s.cancelFunc
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-s.done
	return nil
}
