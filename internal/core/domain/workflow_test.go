package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spec(id SubtaskID, deps ...SubtaskID) SubtaskSpec {
	return SubtaskSpec{ID: id, Service: ServiceChatbot, Action: "chat", Dependencies: deps}
}

func TestDAG_Validate(t *testing.T) {
	tests := []struct {
		name    string
		dag     DAG
		wantErr error
	}{
		{"empty id", DAG{Subtasks: []SubtaskSpec{spec("")}}, ErrInvalidGraph},
		{"duplicate id", DAG{Subtasks: []SubtaskSpec{spec("a"), spec("a")}}, ErrInvalidGraph},
		{"unknown dependency", DAG{Subtasks: []SubtaskSpec{spec("a", "ghost")}}, ErrInvalidGraph},
		{"self loop", DAG{Subtasks: []SubtaskSpec{spec("a", "a")}}, ErrCycleDetected},
		{"three cycle", DAG{Subtasks: []SubtaskSpec{spec("a", "c"), spec("b", "a"), spec("c", "b"), spec("d")}}, ErrCycleDetected},
		{"diamond", DAG{Subtasks: []SubtaskSpec{spec("a"), spec("b", "a"), spec("c", "a"), spec("d", "b", "c")}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.dag.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDAG_CycleNamesStuckSubtasks(t *testing.T) {
	dag := DAG{Subtasks: []SubtaskSpec{spec("ok"), spec("x", "y"), spec("y", "x")}}
	err := dag.Validate()
	require.ErrorIs(t, err, ErrCycleDetected)
	assert.Contains(t, err.Error(), "x")
	assert.Contains(t, err.Error(), "y")
	assert.NotContains(t, err.Error(), "ok")
}

func TestDAG_TopoOrderAndDependents(t *testing.T) {
	dag := DAG{Subtasks: []SubtaskSpec{spec("store", "extract", "analyze"), spec("analyze", "extract"), spec("extract")}}
	require.NoError(t, dag.Validate())

	order := dag.topoOrder()
	pos := make(map[SubtaskID]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos["extract"], pos["analyze"])
	assert.Less(t, pos["analyze"], pos["store"])

	deps := dag.Dependents()
	assert.ElementsMatch(t, []SubtaskID{"analyze", "store"}, deps["extract"])
	assert.Empty(t, deps["store"])
}

func TestDAG_Upstream(t *testing.T) {
	dag := DAG{Subtasks: []SubtaskSpec{
		spec("store", "analyze"),
		spec("analyze", "extract"),
		spec("extract"),
		spec("sibling"),
	}}
	require.NoError(t, dag.Validate())

	assert.Equal(t, map[SubtaskID]bool{"analyze": true, "extract": true}, dag.Upstream("store"))
	assert.Equal(t, map[SubtaskID]bool{"extract": true}, dag.Upstream("analyze"))
	assert.Empty(t, dag.Upstream("extract"))
	assert.Empty(t, dag.Upstream("missing"))
	assert.NotContains(t, dag.Upstream("store"), SubtaskID("sibling"))
}

func TestSubtaskSpec_Policy(t *testing.T) {
	p := SubtaskSpec{MaxRetries: 2, RetryBackoff: DefaultRetryBackoff}.Policy()
	assert.Equal(t, RetryPolicy{MaxRetries: 2, InitialBackoff: DefaultRetryBackoff}, p)
}

func TestReference_String(t *testing.T) {
	assert.Equal(t, "extract.text", Ref("extract", "text").String())
}
