package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/manthysbr/umbrella/internal/core/domain"
	"github.com/manthysbr/umbrella/internal/observability"
)

// SubmitRequest is a caller's job request.
type SubmitRequest struct {
	Type    string         `json:"type"`
	Content map[string]any `json:"content"`
	Context map[string]any `json:"context,omitempty"`
}

type submittedMessage struct {
	JobID domain.JobID `json:"job_id"`
}

// JobService ties the pipeline together: submission goes through the
// message channel, the scheduler bounds concurrency and the executor runs
// each job's DAG.
type JobService struct {
	logger     *slog.Logger
	decomposer *Decomposer
	executor   *Executor
	registry   *JobRegistry
	scheduler  *JobScheduler
	channel    *MessageChannel
	eventBus   *EventBus
	metrics    *observability.Metrics // optional; nil-safe
}

func NewJobService(
	logger *slog.Logger,
	decomposer *Decomposer,
	executor *Executor,
	registry *JobRegistry,
	scheduler *JobScheduler,
	channel *MessageChannel,
	eventBus *EventBus,
	metrics *observability.Metrics,
) *JobService {
	return &JobService{
		logger:     logger,
		decomposer: decomposer,
		executor:   executor,
		registry:   registry,
		scheduler:  scheduler,
		channel:    channel,
		eventBus:   eventBus,
		metrics:    metrics,
	}
}

// Run wires the channel subscriptions and starts the scheduler loop.
func (s *JobService) Run(ctx context.Context) error {
	s.channel.OnDeadLetter(domain.TopicJobsSubmitted, s.onSubmissionDeadLettered)
	s.channel.OnReplay(domain.TopicJobsSubmitted, s.onSubmissionReplayed)

	if err := s.channel.Subscribe(ctx, domain.TopicJobsSubmitted, s.handleSubmitted); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicJobsSubmitted, err)
	}
	if s.eventBus != nil {
		if err := s.channel.Subscribe(ctx, domain.TopicJobsEvents, s.eventBus.HandleEnvelope); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicJobsEvents, err)
		}
	}
	s.scheduler.Start(ctx, s.executeJob)
	return nil
}

// Submit validates and decomposes the request, registers the job and hands
// it to the channel. Validation errors are returned before anything runs.
func (s *JobService) Submit(ctx context.Context, req SubmitRequest, cid domain.CorrelationID) (domain.Job, error) {
	if cid == "" {
		cid = domain.NewCorrelationID()
	}
	dag, err := s.decomposer.Decompose(req.Type, req.Content, req.Context, cid)
	if err != nil {
		return domain.Job{}, err
	}

	now := time.Now().UTC()
	job := domain.Job{
		ID:            domain.NewJobID(),
		Type:          req.Type,
		Content:       req.Content,
		Context:       req.Context,
		Status:        domain.JobStatusPending,
		CorrelationID: cid,
		Subtasks:      pendingRecords(dag),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.registry.Create(ctx, job); err != nil {
		return domain.Job{}, fmt.Errorf("failed to register job: %w", err)
	}

	priority := domain.DefaultPriority
	if p, ok := intValue(req.Context["priority"]); ok {
		priority = p
	}
	if err := s.channel.Publish(ctx, domain.TopicJobsSubmitted, submittedMessage{JobID: job.ID}, priority, cid); err != nil {
		_, _ = s.registry.Fail(ctx, job.ID, "dispatch failed: "+err.Error())
		return domain.Job{}, fmt.Errorf("failed to dispatch job: %w", err)
	}

	correlatedLogger(s.logger, cid).Info("job submitted", "job_id", job.ID, "job_type", job.Type, "subtasks", len(dag.Subtasks))
	return job, nil
}

// Get returns the job snapshot.
func (s *JobService) Get(ctx context.Context, id domain.JobID) (domain.Job, error) {
	return s.registry.Get(ctx, id)
}

func (s *JobService) List(ctx context.Context) ([]domain.Job, error) {
	return s.registry.List(ctx)
}

// Results returns the per-subtask results of a completed job.
func (s *JobService) Results(ctx context.Context, id domain.JobID) (map[string]any, error) {
	job, err := s.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusCompleted {
		return nil, fmt.Errorf("%w: status is %s", domain.ErrJobNotCompleted, job.Status)
	}
	return job.Result, nil
}

// Cancel stops a pending or running job.
func (s *JobService) Cancel(ctx context.Context, id domain.JobID) (domain.Job, error) {
	job, err := s.registry.Cancel(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	s.publishStatus(job)
	return job, nil
}

func (s *JobService) handleSubmitted(ctx context.Context, env domain.Envelope) error {
	var msg submittedMessage
	if err := json.Unmarshal(env.Body, &msg); err != nil {
		return fmt.Errorf("failed to decode submission: %w", err)
	}
	return s.scheduler.SubmitJob(ctx, msg.JobID)
}

func (s *JobService) onSubmissionDeadLettered(dl domain.DeadLetter) {
	var msg submittedMessage
	if err := json.Unmarshal(dl.Envelope.Body, &msg); err != nil || msg.JobID == "" {
		return
	}
	job, err := s.registry.Fail(context.Background(), msg.JobID, "dispatch failed: "+dl.Reason)
	if err != nil {
		return
	}
	s.metrics.JobFinished(job.Type, string(job.Status))
	s.publishStatus(job)
}

// onSubmissionReplayed reopens the job a dead-lettered submission failed, so
// the replayed message schedules it instead of finding it terminal.
func (s *JobService) onSubmissionReplayed(ctx context.Context, env domain.Envelope) error {
	var msg submittedMessage
	if err := json.Unmarshal(env.Body, &msg); err != nil {
		return fmt.Errorf("failed to decode submission: %w", err)
	}
	job, err := s.registry.Reopen(ctx, msg.JobID)
	if err != nil {
		return fmt.Errorf("failed to reopen job %s: %w", msg.JobID, err)
	}
	s.publishStatus(job)
	return nil
}

// executeJob is the callback for the scheduler
func (s *JobService) executeJob(ctx context.Context, id domain.JobID) {
	job, err := s.registry.Get(ctx, id)
	if err != nil {
		s.logger.Error("scheduled job vanished", "job_id", id, "error", err)
		return
	}
	logger := correlatedLogger(s.logger, job.CorrelationID).With("job_id", id)
	if job.Status.IsTerminal() {
		logger.Info("skipping job that finished before it was scheduled", "status", job.Status)
		return
	}

	// Decomposition is pure, so rebuilding the DAG gives the one validated
	// at submission.
	dag, err := s.decomposer.Decompose(job.Type, job.Content, job.Context, job.CorrelationID)
	if err != nil {
		s.finish(ctx, logger, job, nil, err)
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !s.registry.Attach(id, cancel) {
		logger.Info("job cancelled before start")
		return
	}

	job, err = s.registry.Update(ctx, id, func(j *domain.Job) { j.Status = domain.JobStatusRunning })
	if err != nil {
		logger.Info("job could not start", "error", err)
		return
	}
	s.publishStatus(job)
	s.metrics.JobStarted()
	defer s.metrics.JobDone()

	logger.Info("executing job")
	res, execErr := s.executor.Execute(jobCtx, dag, job.CorrelationID, ExecuteOptions{
		JobID: id,
		OnTransition: func(rec domain.SubtaskRecord) {
			s.registry.RecordSubtask(id, rec)
		},
	})
	s.finish(ctx, logger, job, res, execErr)
}

func (s *JobService) finish(ctx context.Context, logger *slog.Logger, job domain.Job, res *ExecutionResult, execErr error) {
	final, err := s.registry.Finish(ctx, job.ID, res, execErr)
	if err != nil {
		logger.Error("failed to record job outcome", "error", err)
		return
	}

	var agg *domain.AggregateFailure
	switch {
	case final.Status == domain.JobStatusCompleted:
		logger.Info("job completed")
	case errors.As(execErr, &agg):
		logger.Warn("job failed", "root_cause", agg.RootCause, "error", agg.Err)
	default:
		logger.Info("job finished", "status", final.Status, "error", execErr)
	}
	s.metrics.JobFinished(final.Type, string(final.Status))
	s.publishStatus(final)
}

// publishStatus announces a job status change on the channel.
func (s *JobService) publishStatus(job domain.Job) {
	body := map[string]any{
		"type":     EventTypeStatus,
		"job_id":   job.ID,
		"status":   job.Status,
		"progress": job.Progress,
	}
	if job.Error != nil {
		body["error"] = job.Error.Message
	}
	if err := s.channel.Publish(context.Background(), domain.TopicJobsEvents, body, domain.DefaultPriority, job.CorrelationID); err != nil {
		s.logger.Warn("failed to publish job status", "job_id", job.ID, "error", err)
	}
}

func pendingRecords(dag *domain.DAG) []domain.SubtaskRecord {
	recs := make([]domain.SubtaskRecord, len(dag.Subtasks))
	for i, st := range dag.Subtasks {
		recs[i] = domain.SubtaskRecord{
			ID:      st.ID,
			Service: st.Service,
			Action:  st.Action,
			State:   domain.SubtaskStatePending,
		}
	}
	return recs
}
