package services

import (
	"context"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"github.com/manthysbr/umbrella/internal/core/domain"
)

// JobScheduler bounds how many jobs execute at once.
type JobScheduler struct {
	logger       *slog.Logger
	pendingQueue chan domain.JobID
	semaphore    *semaphore.Weighted
}

func NewJobScheduler(logger *slog.Logger, cfg domain.SchedulerConfig) *JobScheduler {
	limit := cfg.MaxConcurrentJobs
	if limit <= 0 {
		limit = 10
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 100
	}

	return &JobScheduler{
		logger:       logger,
		pendingQueue: make(chan domain.JobID, size),
		semaphore:    semaphore.NewWeighted(limit),
	}
}

// SubmitJob adds a job to the scheduling queue, waiting while it is full.
// It only fails when ctx ends first.
func (s *JobScheduler) SubmitJob(ctx context.Context, id domain.JobID) error {
	select {
	case s.pendingQueue <- id:
		s.logger.Debug("job queued", "job_id", id)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start consumes queued jobs and runs handler for each, holding one
// semaphore slot per job.
func (s *JobScheduler) Start(ctx context.Context, handler func(context.Context, domain.JobID)) {
	s.logger.Info("starting job scheduler")

	go func() {
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("stopping scheduler")
				return
			case id := <-s.pendingQueue:
				if err := s.semaphore.Acquire(ctx, 1); err != nil {
					s.logger.Info("scheduler stopped while waiting for a slot", "job_id", id)
					return
				}

				// Launch job in background so we don't block the consumer loop
				go func() {
					defer s.semaphore.Release(1)
					handler(ctx, id)
				}()
			}
		}
	}()
}
