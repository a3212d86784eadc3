// ABOUTME: Interval job runner for timer-triggered work
// ABOUTME: Wraps every firing with the correlation timer adapter

package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loomtrace-io/loomtrace/internal/correlation"
	"github.com/loomtrace-io/loomtrace/internal/observability"
)

// Job is one named unit of periodic work.
type Job struct {
	// Name identifies the job in logs.
	Name string

	// Interval between firings.
	Interval time.Duration

	// Run does the work. It receives a context whose correlation store is
	// populated by the timer adapter unless the surrounding context was
	// pre-seeded.
	Run func(ctx context.Context) error
}

// Scheduler runs registered jobs on their intervals until the context is
// cancelled. Each firing goes through correlation.RunScheduled, so a job gets
// a fresh correlation ID per firing and the store is cleared afterward.
type Scheduler struct {
	jobs    []Job
	metrics *observability.Metrics
	logger  *observability.ContextLogger
	wg      sync.WaitGroup
}

// New creates a scheduler.
func New(metrics *observability.Metrics, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		metrics: metrics,
		logger:  observability.NewContextLogger(logger),
	}
}

// Add registers a job. Must be called before Start.
func (s *Scheduler) Add(job Job) {
	s.jobs = append(s.jobs, job)
}

// Start launches one goroutine per job. It returns immediately; use Wait to
// block until all jobs have stopped after ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.runJob(ctx, job)
	}
}

// Wait blocks until all job goroutines have exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	s.logger.Logger().Info("scheduled job started",
		slog.String("job", job.Name),
		slog.Duration("interval", job.Interval),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Logger().Info("scheduled job stopped", slog.String("job", job.Name))
			return
		case <-ticker.C:
			s.fire(ctx, job)
		}
	}
}

// fire runs one firing under the timer adapter.
func (s *Scheduler) fire(ctx context.Context, job Job) {
	if s.metrics != nil {
		s.metrics.RecordScheduledRun()
	}

	err := correlation.RunScheduled(ctx, func(ctx context.Context) error {
		s.logger.Debug(ctx, "job firing", slog.String("job", job.Name))
		return job.Run(ctx)
	})
	if err != nil {
		s.logger.Logger().Error("scheduled job failed",
			slog.String("job", job.Name),
			slog.Any("error", err),
		)
	}
}
