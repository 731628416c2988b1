package services

import (
	"fmt"

	"github.com/manthysbr/umbrella/internal/core/domain"
)

// ResultStore holds completed subtask outputs for one job execution.
// Entries are write-once. Only the executor's coordinator writes to it,
// so it needs no locking.
type ResultStore struct {
	results map[domain.SubtaskID]map[string]any
}

func NewResultStore() *ResultStore {
	return &ResultStore{results: make(map[domain.SubtaskID]map[string]any)}
}

// Put records the result of id. A second write for the same id is rejected.
func (s *ResultStore) Put(id domain.SubtaskID, result map[string]any) error {
	if _, exists := s.results[id]; exists {
		return fmt.Errorf("result for subtask %s already recorded", id)
	}
	if result == nil {
		result = map[string]any{}
	}
	s.results[id] = result
	return nil
}

func (s *ResultStore) Get(id domain.SubtaskID) (map[string]any, bool) {
	r, ok := s.results[id]
	return r, ok
}

func (s *ResultStore) Len() int { return len(s.results) }

// Snapshot returns a copy keyed by subtask ID, suitable for handing out.
func (s *ResultStore) Snapshot() map[string]any {
	out := make(map[string]any, len(s.results))
	for id, r := range s.results {
		out[string(id)] = r
	}
	return out
}
