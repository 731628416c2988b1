package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/manthysbr/umbrella/internal/core/domain"
	"github.com/manthysbr/umbrella/internal/core/ports"
	"github.com/manthysbr/umbrella/internal/observability"
)

// ExecuteOptions tunes a single DAG execution.
type ExecuteOptions struct {
	JobID domain.JobID

	// MaxInFlight bounds concurrent subtasks. Zero means unbounded.
	MaxInFlight int

	// CancelGrace is how long in-flight calls may keep running after the
	// job context is cancelled.
	CancelGrace time.Duration

	// OnTransition observes every subtask state change. It runs on the
	// coordinator goroutine and must not block.
	OnTransition func(rec domain.SubtaskRecord)
}

// ExecutionResult is what a finished (or cancelled) execution leaves behind.
type ExecutionResult struct {
	Results   map[string]any // completed subtask outputs keyed by subtask ID
	Subtasks  []domain.SubtaskRecord
	Cancelled bool
}

// State returns the final state of id.
func (r *ExecutionResult) State(id domain.SubtaskID) domain.SubtaskState {
	for _, rec := range r.Subtasks {
		if rec.ID == id {
			return rec.State
		}
	}
	return ""
}

// Executor runs subtask graphs against remote services.
type Executor struct {
	logger    *slog.Logger
	caller    ports.RemoteCaller
	publisher ports.Publisher        // optional; nil-safe
	metrics   *observability.Metrics // optional; nil-safe
	defaults  domain.ExecutorConfig
}

func NewExecutor(logger *slog.Logger, caller ports.RemoteCaller, publisher ports.Publisher, metrics *observability.Metrics, cfg domain.ExecutorConfig) *Executor {
	return &Executor{
		logger:    logger,
		caller:    caller,
		publisher: publisher,
		metrics:   metrics,
		defaults:  cfg,
	}
}

type callOutcome struct {
	id       domain.SubtaskID
	result   map[string]any
	err      error
	duration time.Duration
}

// run is the per-execution state. Only the coordinator goroutine touches it.
type run struct {
	dag        *domain.DAG
	cid        domain.CorrelationID
	opts       ExecuteOptions
	logger     *slog.Logger
	results    *ResultStore
	records    map[domain.SubtaskID]*domain.SubtaskRecord
	remaining  map[domain.SubtaskID]int // unfinished dependencies
	dependents map[domain.SubtaskID][]domain.SubtaskID
	ready      []domain.SubtaskID
	inFlight   int

	rootCause domain.SubtaskID
	rootErr   error
	failed    []domain.SubtaskID
}

// Execute runs dag to completion. It returns a *domain.AggregateFailure
// when any subtask failed, and an error wrapping the context error when the
// execution was cancelled. The result is non-nil whenever the DAG was valid.
func (e *Executor) Execute(ctx context.Context, dag *domain.DAG, cid domain.CorrelationID, opts ExecuteOptions) (*ExecutionResult, error) {
	if err := dag.Validate(); err != nil {
		return nil, fmt.Errorf("refusing to execute: %w", err)
	}
	if opts.MaxInFlight == 0 {
		opts.MaxInFlight = e.defaults.MaxInFlight
	}
	if opts.CancelGrace == 0 {
		opts.CancelGrace = e.defaults.CancelGrace
	}

	r := &run{
		dag:        dag,
		cid:        cid,
		opts:       opts,
		logger:     correlatedLogger(e.logger, cid).With("job_id", opts.JobID),
		results:    NewResultStore(),
		records:    make(map[domain.SubtaskID]*domain.SubtaskRecord, len(dag.Subtasks)),
		remaining:  make(map[domain.SubtaskID]int, len(dag.Subtasks)),
		dependents: dag.Dependents(),
	}
	for _, st := range dag.Subtasks {
		r.records[st.ID] = &domain.SubtaskRecord{
			ID:      st.ID,
			Service: st.Service,
			Action:  st.Action,
			State:   domain.SubtaskStatePending,
		}
		r.remaining[st.ID] = len(st.Dependencies)
	}
	for _, st := range dag.Subtasks {
		if r.remaining[st.ID] == 0 {
			e.transition(r, st.ID, domain.SubtaskStateReady, nil)
			r.ready = append(r.ready, st.ID)
		}
	}

	r.logger.Info("executing subtask graph", "job_type", dag.JobType, "subtasks", len(dag.Subtasks))

	// In-flight calls outlive job cancellation by CancelGrace.
	callCtx, cancelCalls := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelCalls()

	done := make(chan callOutcome, len(dag.Subtasks))
	jobDone := ctx.Done()
	var graceC <-chan time.Time
	cancelled := false

	for {
		if !cancelled && ctx.Err() != nil {
			cancelled = true
			jobDone = nil
			graceC = e.beginCancel(r)
		}
		if !cancelled {
			e.dispatch(r, callCtx, done)
		}
		if r.inFlight == 0 {
			break
		}

		select {
		case out := <-done:
			r.inFlight--
			e.settle(r, out, cancelled)
		case <-jobDone:
			// handled at the top of the loop
		case <-graceC:
			r.logger.Warn("cancel grace elapsed, abandoning in-flight subtasks", "in_flight", r.inFlight)
			cancelCalls()
			graceC = nil
		}
	}

	// Anything still unfinished here was cut off by cancellation.
	for _, st := range dag.Subtasks {
		if !r.records[st.ID].State.IsTerminal() {
			e.transition(r, st.ID, domain.SubtaskStateSkipped, nil)
		}
	}

	res := &ExecutionResult{
		Results:   r.results.Snapshot(),
		Subtasks:  make([]domain.SubtaskRecord, 0, len(dag.Subtasks)),
		Cancelled: cancelled,
	}
	var skipped []domain.SubtaskID
	for _, st := range dag.Subtasks {
		rec := *r.records[st.ID]
		res.Subtasks = append(res.Subtasks, rec)
		if rec.State == domain.SubtaskStateSkipped {
			skipped = append(skipped, st.ID)
		}
	}

	if cancelled {
		r.logger.Info("subtask graph cancelled", "completed", r.results.Len())
		return res, fmt.Errorf("execution cancelled: %w", context.Cause(ctx))
	}
	if r.rootCause != "" {
		agg := &domain.AggregateFailure{
			RootCause: r.rootCause,
			Err:       r.rootErr,
			Failed:    r.failed,
			Skipped:   skipped,
		}
		r.logger.Warn("subtask graph failed", "root_cause", r.rootCause, "error", r.rootErr, "skipped", len(skipped))
		return res, agg
	}

	r.logger.Info("subtask graph completed", "results", r.results.Len())
	return res, nil
}

// dispatch starts ready subtasks, lowest priority value first, until the
// in-flight bound is reached.
func (e *Executor) dispatch(r *run, callCtx context.Context, done chan<- callOutcome) {
	if len(r.ready) == 0 {
		return
	}
	sort.Slice(r.ready, func(i, j int) bool {
		a, _ := r.dag.Get(r.ready[i])
		b, _ := r.dag.Get(r.ready[j])
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.ID < b.ID
	})

	for len(r.ready) > 0 && (r.opts.MaxInFlight <= 0 || r.inFlight < r.opts.MaxInFlight) {
		id := r.ready[0]
		r.ready = r.ready[1:]
		spec, _ := r.dag.Get(id)

		input, err := ResolveInput(id, spec.Input, r.dag.Upstream(id), r.results)
		if err != nil {
			r.logger.Error("failed to resolve subtask input", "subtask_id", id, "error", err)
			e.fail(r, id, err)
			continue
		}

		now := time.Now()
		r.records[id].StartedAt = &now
		e.transition(r, id, domain.SubtaskStateRunning, nil)
		r.inFlight++

		go func() {
			start := time.Now()
			out, err := e.caller.Call(callCtx, spec.Service, spec.Action, input, r.cid, spec.Policy())
			done <- callOutcome{id: id, result: out, err: err, duration: time.Since(start)}
		}()
	}
}

func (e *Executor) settle(r *run, out callOutcome, cancelled bool) {
	spec, _ := r.dag.Get(out.id)
	rec := r.records[out.id]
	now := time.Now()
	rec.CompletedAt = &now

	var rse *domain.RemoteServiceError
	if errors.As(out.err, &rse) {
		rec.Attempts = rse.Attempts
	}

	if out.err != nil {
		e.metrics.SubtaskFinished(string(spec.Service), string(domain.SubtaskStateFailed), out.duration)
		r.logger.Warn("subtask failed", "subtask_id", out.id, "service", spec.Service, "error", out.err)
		e.fail(r, out.id, out.err)
		return
	}

	if err := r.results.Put(out.id, out.result); err != nil {
		e.fail(r, out.id, err)
		return
	}
	e.metrics.SubtaskFinished(string(spec.Service), string(domain.SubtaskStateCompleted), out.duration)
	e.transition(r, out.id, domain.SubtaskStateCompleted, nil)
	r.logger.Info("subtask completed", "subtask_id", out.id, "duration_ms", out.duration.Milliseconds())

	if cancelled {
		return
	}
	for _, dep := range r.dependents[out.id] {
		r.remaining[dep]--
		if r.remaining[dep] == 0 && r.records[dep].State == domain.SubtaskStatePending {
			e.transition(r, dep, domain.SubtaskStateReady, nil)
			r.ready = append(r.ready, dep)
		}
	}
}

// fail marks id failed and skips everything downstream of it.
func (e *Executor) fail(r *run, id domain.SubtaskID, err error) {
	if r.rootCause == "" {
		r.rootCause = id
		r.rootErr = err
	}
	r.failed = append(r.failed, id)
	e.transition(r, id, domain.SubtaskStateFailed, err)

	queue := append([]domain.SubtaskID(nil), r.dependents[id]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if r.records[next].State.IsTerminal() {
			continue
		}
		e.transition(r, next, domain.SubtaskStateSkipped, nil)
		r.ready = removeID(r.ready, next)
		queue = append(queue, r.dependents[next]...)
	}
}

// beginCancel stops further dispatch and returns the grace timer, or nil when
// nothing is in flight.
func (e *Executor) beginCancel(r *run) <-chan time.Time {
	r.logger.Info("job cancelled, draining in-flight subtasks", "in_flight", r.inFlight, "grace", r.opts.CancelGrace)
	for _, st := range r.dag.Subtasks {
		s := r.records[st.ID].State
		if s == domain.SubtaskStatePending || s == domain.SubtaskStateReady {
			e.transition(r, st.ID, domain.SubtaskStateSkipped, nil)
		}
	}
	r.ready = nil
	if r.inFlight == 0 {
		return nil
	}
	return time.After(r.opts.CancelGrace)
}

func (e *Executor) transition(r *run, id domain.SubtaskID, state domain.SubtaskState, err error) {
	rec := r.records[id]
	rec.State = state
	if err != nil {
		msg := err.Error()
		rec.Error = &msg
	}

	if r.opts.OnTransition != nil {
		r.opts.OnTransition(*rec)
	}

	if state != domain.SubtaskStateCompleted && state != domain.SubtaskStateFailed {
		return
	}
	e.publish(r, "subtask."+string(state), rec)
}

// publish announces terminal subtask transitions on the channel.
func (e *Executor) publish(r *run, eventType string, rec *domain.SubtaskRecord) {
	if e.publisher == nil {
		return
	}
	body := map[string]any{
		"type":       eventType,
		"job_id":     r.opts.JobID,
		"subtask_id": rec.ID,
		"service":    rec.Service,
		"state":      rec.State,
	}
	if rec.Error != nil {
		body["error"] = *rec.Error
	}
	// The coordinator must not block on the channel; Publish only enqueues.
	if err := e.publisher.Publish(context.Background(), domain.TopicJobsEvents, body, domain.DefaultPriority, r.cid); err != nil {
		r.logger.Warn("failed to publish subtask event", "subtask_id", rec.ID, "error", err)
	}
}

func removeID(ids []domain.SubtaskID, id domain.SubtaskID) []domain.SubtaskID {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
