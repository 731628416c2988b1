package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/umbrella/internal/core/domain"
)

func TestResolveInput(t *testing.T) {
	results := NewResultStore()
	require.NoError(t, results.Put("extract", map[string]any{
		"text": "hello",
		"pages": []any{
			map[string]any{"number": 1.0, "text": "first"},
			map[string]any{"number": 2.0, "text": "second"},
		},
		"meta": map[string]any{"author": "ann"},
	}))

	input := map[string]any{
		"text":   domain.Ref("extract", "text"),
		"second": domain.Ref("extract", "pages.1.text"),
		"nested": map[string]any{"author": domain.Ref("extract", "meta.author")},
		"list":   []any{domain.Ref("extract", "pages.0.number"), "literal"},
		"whole":  domain.Ref("extract", ""),
		"plain":  42,
	}

	out, err := ResolveInput("store", input, map[domain.SubtaskID]bool{"extract": true}, results)
	require.NoError(t, err)

	assert.Equal(t, "hello", out["text"])
	assert.Equal(t, "second", out["second"])
	assert.Equal(t, "ann", out["nested"].(map[string]any)["author"])
	assert.Equal(t, []any{1.0, "literal"}, out["list"])
	assert.Equal(t, 42, out["plain"])
	assert.IsType(t, map[string]any{}, out["whole"])

	// Original input untouched.
	assert.Equal(t, domain.Ref("extract", "text"), input["text"])
}

func TestResolveInput_Errors(t *testing.T) {
	results := NewResultStore()
	require.NoError(t, results.Put("extract", map[string]any{
		"text":  "hello",
		"pages": []any{"p0"},
	}))
	require.NoError(t, results.Put("sibling", map[string]any{"text": "hi"}))

	tests := []struct {
		name string
		ref  domain.Reference
	}{
		{"unknown subtask", domain.Ref("nonexistent", "text")},
		{"completed but not upstream", domain.Ref("sibling", "text")},
		{"missing field", domain.Ref("extract", "summary")},
		{"index out of range", domain.Ref("extract", "pages.3")},
		{"non numeric index", domain.Ref("extract", "pages.first")},
		{"descend into scalar", domain.Ref("extract", "text.length")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveInput("analyze", map[string]any{"x": tt.ref}, map[domain.SubtaskID]bool{"extract": true}, results)
			var depErr *domain.DependencyError
			require.ErrorAs(t, err, &depErr)
			assert.Equal(t, domain.SubtaskID("analyze"), depErr.SubtaskID)
			assert.Equal(t, tt.ref, depErr.Ref)
		})
	}
}

func TestResultStore_WriteOnce(t *testing.T) {
	s := NewResultStore()
	require.NoError(t, s.Put("a", map[string]any{"v": 1}))
	assert.Error(t, s.Put("a", map[string]any{"v": 2}))

	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, got["v"])
	assert.Equal(t, 1, s.Len())
	assert.Contains(t, s.Snapshot(), "a")
}
