package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/manthysbr/umbrella/internal/core/domain"
	"github.com/manthysbr/umbrella/internal/core/ports"
)

type registryEntry struct {
	job    domain.Job
	cancel context.CancelFunc
}

// JobRegistry is the authoritative in-memory view of jobs, written through
// to a JobRepository so finished jobs stay inspectable after a restart.
type JobRegistry struct {
	logger *slog.Logger
	repo   ports.JobRepository // optional; nil keeps jobs in memory only
	ttl    time.Duration

	mu   sync.RWMutex
	jobs map[domain.JobID]*registryEntry
}

func NewJobRegistry(logger *slog.Logger, repo ports.JobRepository, cfg domain.RegistryConfig) *JobRegistry {
	return &JobRegistry{
		logger: logger,
		repo:   repo,
		ttl:    cfg.JobTTL,
		jobs:   make(map[domain.JobID]*registryEntry),
	}
}

func (r *JobRegistry) persist(ctx context.Context, job domain.Job) {
	if r.repo == nil {
		return
	}
	if err := r.repo.SaveJob(context.WithoutCancel(ctx), job); err != nil {
		r.logger.Error("failed to save job", "job_id", job.ID, "error", err)
	}
}

// Create registers a new job.
func (r *JobRegistry) Create(ctx context.Context, job domain.Job) error {
	r.mu.Lock()
	if _, exists := r.jobs[job.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("job %s already registered", job.ID)
	}
	r.jobs[job.ID] = &registryEntry{job: job}
	r.mu.Unlock()

	r.persist(ctx, job)
	return nil
}

// Get returns a copy of the job. Jobs no longer in memory are looked up in
// the repository.
func (r *JobRegistry) Get(ctx context.Context, id domain.JobID) (domain.Job, error) {
	r.mu.RLock()
	e, ok := r.jobs[id]
	var job domain.Job
	if ok {
		job = cloneJob(e.job)
	}
	r.mu.RUnlock()
	if ok {
		return job, nil
	}

	if r.repo == nil {
		return domain.Job{}, domain.ErrJobNotFound
	}
	job, err := r.repo.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return domain.Job{}, domain.ErrJobNotFound
		}
		return domain.Job{}, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	return job, nil
}

// List returns all known jobs, newest first.
func (r *JobRegistry) List(ctx context.Context) ([]domain.Job, error) {
	r.mu.RLock()
	seen := make(map[domain.JobID]bool, len(r.jobs))
	out := make([]domain.Job, 0, len(r.jobs))
	for id, e := range r.jobs {
		seen[id] = true
		out = append(out, cloneJob(e.job))
	}
	r.mu.RUnlock()

	if r.repo != nil {
		stored, err := r.repo.ListJobs(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list jobs: %w", err)
		}
		for _, j := range stored {
			if !seen[j.ID] {
				out = append(out, j)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Update applies fn to a non-terminal job and persists the result.
func (r *JobRegistry) Update(ctx context.Context, id domain.JobID, fn func(*domain.Job)) (domain.Job, error) {
	r.mu.Lock()
	e, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return domain.Job{}, domain.ErrJobNotFound
	}
	if e.job.Status.IsTerminal() {
		r.mu.Unlock()
		return domain.Job{}, domain.ErrJobTerminal
	}
	fn(&e.job)
	e.job.UpdatedAt = time.Now().UTC()
	job := cloneJob(e.job)
	r.mu.Unlock()

	r.persist(ctx, job)
	return job, nil
}

// RecordSubtask updates one subtask record and the derived progress. It is
// kept in memory only; Finish persists the final snapshot.
func (r *JobRegistry) RecordSubtask(id domain.JobID, rec domain.SubtaskRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok {
		return
	}
	found := false
	for i := range e.job.Subtasks {
		if e.job.Subtasks[i].ID == rec.ID {
			e.job.Subtasks[i] = rec
			found = true
			break
		}
	}
	if !found {
		e.job.Subtasks = append(e.job.Subtasks, rec)
	}
	e.job.Progress = progressOf(e.job.Subtasks)
	e.job.UpdatedAt = time.Now().UTC()
}

// Finish records the outcome of an execution. A job cancelled meanwhile stays
// cancelled but still keeps the results that completed.
func (r *JobRegistry) Finish(ctx context.Context, id domain.JobID, res *ExecutionResult, execErr error) (domain.Job, error) {
	r.mu.Lock()
	e, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return domain.Job{}, domain.ErrJobNotFound
	}
	j := &e.job
	if res != nil {
		j.Subtasks = res.Subtasks
		j.Result = res.Results
		j.Progress = progressOf(j.Subtasks)
	}

	var agg *domain.AggregateFailure
	switch {
	case j.Status == domain.JobStatusCancelled:
	case res != nil && res.Cancelled:
		j.Status = domain.JobStatusCancelled
	case errors.As(execErr, &agg):
		j.Status = domain.JobStatusFailed
		j.Error = agg.JobError()
	case execErr != nil:
		j.Status = domain.JobStatusFailed
		j.Error = &domain.JobError{Message: execErr.Error()}
	default:
		j.Status = domain.JobStatusCompleted
		j.Progress = 100
	}
	j.UpdatedAt = time.Now().UTC()
	e.cancel = nil
	job := cloneJob(*j)
	r.mu.Unlock()

	r.persist(ctx, job)
	return job, nil
}

// Fail moves a non-terminal job straight to failed.
func (r *JobRegistry) Fail(ctx context.Context, id domain.JobID, msg string) (domain.Job, error) {
	return r.Update(ctx, id, func(j *domain.Job) {
		j.Status = domain.JobStatusFailed
		j.Error = &domain.JobError{Message: msg}
	})
}

// Reopen moves a job that failed before any subtask ran back to pending, so
// a replayed submission can schedule it again. A job that is still pending is
// returned unchanged.
func (r *JobRegistry) Reopen(ctx context.Context, id domain.JobID) (domain.Job, error) {
	r.mu.Lock()
	e, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return domain.Job{}, domain.ErrJobNotFound
	}
	switch {
	case e.job.Status == domain.JobStatusPending:
		job := cloneJob(e.job)
		r.mu.Unlock()
		return job, nil
	case e.job.Status != domain.JobStatusFailed || !neverStarted(e.job.Subtasks):
		status := e.job.Status
		r.mu.Unlock()
		return domain.Job{}, fmt.Errorf("%w: cannot reopen job in status %s", domain.ErrJobTerminal, status)
	}
	e.job.Status = domain.JobStatusPending
	e.job.Error = nil
	e.job.UpdatedAt = time.Now().UTC()
	job := cloneJob(e.job)
	r.mu.Unlock()

	r.persist(ctx, job)
	r.logger.Info("job reopened", "job_id", id, "correlation_id", string(job.CorrelationID))
	return job, nil
}

// Attach stores the cancel function of a starting execution. It reports
// false when the job was cancelled before it could start.
func (r *JobRegistry) Attach(id domain.JobID, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok || e.job.Status.IsTerminal() {
		return false
	}
	e.cancel = cancel
	return true
}

// Cancel marks the job cancelled and stops its execution, if any.
func (r *JobRegistry) Cancel(ctx context.Context, id domain.JobID) (domain.Job, error) {
	r.mu.Lock()
	e, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		if _, err := r.Get(ctx, id); err == nil {
			// Only finished jobs are evicted from memory.
			return domain.Job{}, domain.ErrJobTerminal
		}
		return domain.Job{}, domain.ErrJobNotFound
	}
	if e.job.Status.IsTerminal() {
		r.mu.Unlock()
		return domain.Job{}, domain.ErrJobTerminal
	}
	e.job.Status = domain.JobStatusCancelled
	e.job.UpdatedAt = time.Now().UTC()
	cancel := e.cancel
	job := cloneJob(e.job)
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.persist(ctx, job)
	r.logger.Info("job cancelled", "job_id", id, "correlation_id", string(job.CorrelationID))
	return job, nil
}

// Sweep evicts terminal jobs older than the TTL from memory and storage.
func (r *JobRegistry) Sweep(ctx context.Context, now time.Time) int {
	if r.ttl <= 0 {
		return 0
	}
	var expired []domain.JobID
	r.mu.Lock()
	for id, e := range r.jobs {
		if e.job.Status.IsTerminal() && now.Sub(e.job.UpdatedAt) > r.ttl {
			expired = append(expired, id)
			delete(r.jobs, id)
		}
	}
	r.mu.Unlock()

	if r.repo != nil {
		stored, err := r.repo.ListJobs(ctx)
		if err != nil {
			r.logger.Error("failed to list jobs for sweep", "error", err)
		}
		for _, j := range stored {
			if j.Status.IsTerminal() && now.Sub(j.UpdatedAt) > r.ttl {
				if err := r.repo.DeleteJob(ctx, j.ID); err != nil && !errors.Is(err, domain.ErrJobNotFound) {
					r.logger.Error("failed to delete expired job", "job_id", j.ID, "error", err)
					continue
				}
				if !containsJob(expired, j.ID) {
					expired = append(expired, j.ID)
				}
			}
		}
	}
	if len(expired) > 0 {
		r.logger.Info("swept expired jobs", "count", len(expired))
	}
	return len(expired)
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (r *JobRegistry) RunSweeper(ctx context.Context, interval time.Duration) error {
	if r.ttl <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			r.Sweep(ctx, now)
		}
	}
}

func progressOf(recs []domain.SubtaskRecord) int {
	if len(recs) == 0 {
		return 0
	}
	done := 0
	for _, rec := range recs {
		if rec.State.IsTerminal() {
			done++
		}
	}
	return done * 100 / len(recs)
}

func neverStarted(recs []domain.SubtaskRecord) bool {
	for _, rec := range recs {
		if rec.State != domain.SubtaskStatePending {
			return false
		}
	}
	return true
}

func containsJob(ids []domain.JobID, id domain.JobID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// cloneJob copies the slices a caller could otherwise mutate under us.
func cloneJob(j domain.Job) domain.Job {
	if j.Subtasks != nil {
		j.Subtasks = append([]domain.SubtaskRecord(nil), j.Subtasks...)
	}
	return j
}
