package services

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/manthysbr/umbrella/internal/core/domain"
)

// ResolveInput returns a copy of input with every Reference replaced by the
// value it points at. References may only point at subtasks in upstream, the
// owner's transitive dependencies, so the outcome never hinges on admission
// timing. The input itself is never modified.
func ResolveInput(owner domain.SubtaskID, input map[string]any, upstream map[domain.SubtaskID]bool, results *ResultStore) (map[string]any, error) {
	r := resolver{owner: owner, upstream: upstream, results: results}
	out, err := r.value(input)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return map[string]any{}, nil
	}
	return out.(map[string]any), nil
}

type resolver struct {
	owner    domain.SubtaskID
	upstream map[domain.SubtaskID]bool
	results  *ResultStore
}

func (r resolver) value(v any) (any, error) {
	switch x := v.(type) {
	case domain.Reference:
		return r.reference(x)
	case *domain.Reference:
		if x == nil {
			return nil, nil
		}
		return r.reference(*x)
	case map[string]any:
		if x == nil {
			return nil, nil
		}
		m := make(map[string]any, len(x))
		for k, item := range x {
			v, err := r.value(item)
			if err != nil {
				return nil, err
			}
			m[k] = v
		}
		return m, nil
	case []any:
		l := make([]any, len(x))
		for i, item := range x {
			v, err := r.value(item)
			if err != nil {
				return nil, err
			}
			l[i] = v
		}
		return l, nil
	default:
		return v, nil
	}
}

func (r resolver) reference(ref domain.Reference) (any, error) {
	fail := func(reason string) error {
		return &domain.DependencyError{SubtaskID: r.owner, Ref: ref, Reason: reason}
	}

	if !r.upstream[ref.SubtaskID] {
		return nil, fail("subtask " + string(ref.SubtaskID) + " is not an upstream dependency")
	}
	result, ok := r.results.Get(ref.SubtaskID)
	if !ok {
		return nil, fail("no completed result for subtask " + string(ref.SubtaskID))
	}
	if ref.FieldPath == "" {
		return result, nil
	}

	var cur any = result
	for _, seg := range strings.Split(ref.FieldPath, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, fail(fmt.Sprintf("field %q not found", seg))
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil {
				return nil, fail(fmt.Sprintf("segment %q is not a list index", seg))
			}
			if idx < 0 || idx >= len(node) {
				return nil, fail(fmt.Sprintf("index %d out of range (len %d)", idx, len(node)))
			}
			cur = node[idx]
		default:
			return nil, fail(fmt.Sprintf("cannot descend into %T at %q", cur, seg))
		}
	}
	return cur, nil
}

// ReferencedSubtasks lists the subtasks input points at, sorted.
func ReferencedSubtasks(input map[string]any) []domain.SubtaskID {
	var out []domain.SubtaskID
	seen := map[domain.SubtaskID]bool{}
	var walk func(v any)
	walk = func(v any) {
		switch x := v.(type) {
		case domain.Reference:
			if !seen[x.SubtaskID] {
				seen[x.SubtaskID] = true
				out = append(out, x.SubtaskID)
			}
		case *domain.Reference:
			if x != nil {
				walk(*x)
			}
		case map[string]any:
			for _, item := range x {
				walk(item)
			}
		case []any:
			for _, item := range x {
				walk(item)
			}
		}
	}
	walk(input)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
