package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type SubtaskID string
type SubtaskState string

const (
	SubtaskStatePending   SubtaskState = "pending"
	SubtaskStateReady     SubtaskState = "ready"
	SubtaskStateRunning   SubtaskState = "running"
	SubtaskStateCompleted SubtaskState = "completed"
	SubtaskStateFailed    SubtaskState = "failed"
	SubtaskStateSkipped   SubtaskState = "skipped"
)

func (s SubtaskState) IsTerminal() bool {
	return s == SubtaskStateCompleted || s == SubtaskStateFailed || s == SubtaskStateSkipped
}

const (
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = time.Second
)

// RetryPolicy bounds how a remote call is retried.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
}

// Policy returns the retry policy declared by the subtask.
func (s SubtaskSpec) Policy() RetryPolicy {
	return RetryPolicy{MaxRetries: s.MaxRetries, InitialBackoff: s.RetryBackoff}
}

// Reference points at a field of another subtask's completed result.
// FieldPath is dot-separated; numeric segments index into lists.
type Reference struct {
	SubtaskID SubtaskID `json:"subtask_id"`
	FieldPath string    `json:"field_path"`
}

// Ref builds a Reference. Used by workflow templates.
func Ref(id SubtaskID, fieldPath string) Reference {
	return Reference{SubtaskID: id, FieldPath: fieldPath}
}

func (r Reference) String() string {
	return fmt.Sprintf("%s.%s", r.SubtaskID, r.FieldPath)
}

// SubtaskSpec is one unit of work bound to a single collaborator action.
// It is immutable once produced by the decomposer.
type SubtaskSpec struct {
	ID           SubtaskID      `json:"id"`
	Service      ServiceName    `json:"service"`
	Action       string         `json:"action"`
	Input        map[string]any `json:"input"` // scalars, maps, lists and Reference values
	Dependencies []SubtaskID    `json:"dependencies,omitempty"`
	Priority     int            `json:"priority"` // lower runs first when admission is bounded
	MaxRetries   int            `json:"max_retries"`
	RetryBackoff time.Duration  `json:"retry_backoff"`
}

// DAG is the dependency graph of subtasks for one job.
type DAG struct {
	JobType  string        `json:"job_type"`
	Subtasks []SubtaskSpec `json:"subtasks"`
}

// Get returns the subtask with the given ID.
func (d *DAG) Get(id SubtaskID) (SubtaskSpec, bool) {
	for _, st := range d.Subtasks {
		if st.ID == id {
			return st, true
		}
	}
	return SubtaskSpec{}, false
}

// IDs returns subtask IDs in declaration order.
func (d *DAG) IDs() []SubtaskID {
	ids := make([]SubtaskID, len(d.Subtasks))
	for i, st := range d.Subtasks {
		ids[i] = st.ID
	}
	return ids
}

// Dependents maps each subtask to the subtasks that list it as a direct dependency.
func (d *DAG) Dependents() map[SubtaskID][]SubtaskID {
	out := make(map[SubtaskID][]SubtaskID, len(d.Subtasks))
	for _, st := range d.Subtasks {
		for _, dep := range st.Dependencies {
			out[dep] = append(out[dep], st.ID)
		}
	}
	return out
}

// Validate checks IDs are unique and non-empty, every dependency exists and
// the graph is acyclic.
func (d *DAG) Validate() error {
	seen := make(map[SubtaskID]bool, len(d.Subtasks))
	for _, st := range d.Subtasks {
		if st.ID == "" {
			return fmt.Errorf("%w: subtask with empty id", ErrInvalidGraph)
		}
		if seen[st.ID] {
			return fmt.Errorf("%w: duplicate subtask id %q", ErrInvalidGraph, st.ID)
		}
		seen[st.ID] = true
	}
	for _, st := range d.Subtasks {
		for _, dep := range st.Dependencies {
			if !seen[dep] {
				return fmt.Errorf("%w: subtask %q depends on unknown subtask %q", ErrInvalidGraph, st.ID, dep)
			}
		}
	}

	order := d.topoOrder()
	if len(order) == len(d.Subtasks) {
		return nil
	}

	// Whatever Kahn's algorithm could not drain sits on or behind a cycle.
	drained := make(map[SubtaskID]bool, len(order))
	for _, id := range order {
		drained[id] = true
	}
	var stuck []string
	for _, st := range d.Subtasks {
		if !drained[st.ID] {
			stuck = append(stuck, string(st.ID))
		}
	}
	sort.Strings(stuck)
	return fmt.Errorf("%w: involving %s", ErrCycleDetected, strings.Join(stuck, ", "))
}

// Upstream returns every subtask id transitively depends on. These are the
// only subtasks whose results are guaranteed to exist when id is admitted.
func (d *DAG) Upstream(id SubtaskID) map[SubtaskID]bool {
	out := make(map[SubtaskID]bool)
	st, ok := d.Get(id)
	if !ok {
		return out
	}
	stack := append([]SubtaskID(nil), st.Dependencies...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if out[n] {
			continue
		}
		out[n] = true
		if dep, ok := d.Get(n); ok {
			stack = append(stack, dep.Dependencies...)
		}
	}
	return out
}

// topoOrder returns a deterministic topological order (ties broken by ID).
// Subtasks on or behind a cycle are left out.
func (d *DAG) topoOrder() []SubtaskID {
	indeg := make(map[SubtaskID]int, len(d.Subtasks))
	for _, st := range d.Subtasks {
		indeg[st.ID] = len(st.Dependencies)
	}
	dependents := d.Dependents()

	var ready []SubtaskID
	for _, st := range d.Subtasks {
		if indeg[st.ID] == 0 {
			ready = append(ready, st.ID)
		}
	}

	out := make([]SubtaskID, 0, len(d.Subtasks))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
		n := ready[0]
		ready = ready[1:]
		out = append(out, n)
		for _, m := range dependents[n] {
			indeg[m]--
			if indeg[m] == 0 {
				ready = append(ready, m)
			}
		}
	}
	return out
}
