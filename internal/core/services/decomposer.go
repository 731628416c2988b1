package services

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/manthysbr/umbrella/internal/core/domain"
)

// Decomposer turns a job request into a validated DAG of subtasks.
// It performs no I/O and holds no state besides its workflow table.
type Decomposer struct {
	logger    *slog.Logger
	workflows map[string]Workflow
}

// NewDecomposer creates a decomposer loaded with the built-in workflows
func NewDecomposer(logger *slog.Logger) *Decomposer {
	return &Decomposer{
		logger:    logger,
		workflows: BuiltinWorkflows(),
	}
}

// Register adds or replaces a workflow template
func (d *Decomposer) Register(jobType string, wf Workflow) error {
	if jobType == "" {
		return fmt.Errorf("job type cannot be empty")
	}
	if wf.Build == nil {
		return fmt.Errorf("workflow %q has no build function", jobType)
	}
	d.workflows[jobType] = wf
	return nil
}

// JobTypes lists the supported job types, sorted.
func (d *Decomposer) JobTypes() []string {
	out := make([]string, 0, len(d.workflows))
	for t := range d.workflows {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Decompose validates the request and builds its DAG. Identical inputs
// always produce identical DAGs.
func (d *Decomposer) Decompose(jobType string, content, jobCtx map[string]any, cid domain.CorrelationID) (*domain.DAG, error) {
	logger := correlatedLogger(d.logger, cid).With("job_type", jobType)

	wf, ok := d.workflows[jobType]
	if !ok {
		logger.Warn("rejected job", "reason", "unsupported job type")
		return nil, domain.NewValidationError("unsupported job type: %s", jobType)
	}
	for _, field := range wf.Required {
		if isMissing(content[field]) {
			logger.Warn("rejected job", "reason", "missing field", "field", field)
			return nil, domain.NewValidationError("missing field: %s", field)
		}
	}

	maxRetries := domain.DefaultMaxRetries
	if n, ok := intValue(jobCtx["max_retries"]); ok {
		if n < 0 {
			return nil, domain.NewValidationError("invalid context value: max_retries must be >= 0")
		}
		maxRetries = n
	}

	specs := wf.Build(content, jobCtx)
	for i := range specs {
		if specs[i].MaxRetries == 0 {
			specs[i].MaxRetries = maxRetries
		}
		if specs[i].RetryBackoff == 0 {
			specs[i].RetryBackoff = domain.DefaultRetryBackoff
		}
	}

	dag := &domain.DAG{JobType: jobType, Subtasks: specs}
	if err := dag.Validate(); err != nil {
		// A bad template is a programming error, not a caller error.
		logger.Error("workflow produced an invalid graph", "error", err)
		return nil, fmt.Errorf("failed to decompose %s: %w", jobType, err)
	}
	if err := checkReferences(dag); err != nil {
		logger.Error("workflow produced an invalid graph", "error", err)
		return nil, fmt.Errorf("failed to decompose %s: %w", jobType, err)
	}

	logger.Info("decomposed job", "subtasks", len(specs))
	return dag, nil
}

// checkReferences rejects inputs that point at a subtask outside the
// referencing subtask's upstream.
func checkReferences(dag *domain.DAG) error {
	for _, st := range dag.Subtasks {
		upstream := dag.Upstream(st.ID)
		for _, ref := range ReferencedSubtasks(st.Input) {
			if !upstream[ref] {
				return fmt.Errorf("%w: subtask %q references %q which is not among its dependencies", domain.ErrInvalidGraph, st.ID, ref)
			}
		}
	}
	return nil
}

func isMissing(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	default:
		return false
	}
}
