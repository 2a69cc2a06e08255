package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedule_Linear(t *testing.T) {
	nodes := []Node{
		{ID: "a"},
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "c", Dependencies: []string{"b"}},
	}

	levels, err := Schedule(nodes)
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.Equal(t, Level{"a"}, levels[0])
	assert.Equal(t, Level{"b"}, levels[1])
	assert.Equal(t, Level{"c"}, levels[2])
}

func TestSchedule_Diamond(t *testing.T) {
	nodes := []Node{
		{ID: "a"},
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "c", Dependencies: []string{"a"}},
		{ID: "d", Dependencies: []string{"b", "c"}},
	}

	levels, err := Schedule(nodes)
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.Equal(t, Level{"a"}, levels[0])
	assert.ElementsMatch(t, []string{"b", "c"}, levels[1])
	assert.Equal(t, Level{"d"}, levels[2])
}

func TestSchedule_DeterministicOrderWithinLevel(t *testing.T) {
	nodes := []Node{
		{ID: "root"},
		{ID: "z", Dependencies: []string{"root"}},
		{ID: "a", Dependencies: []string{"root"}},
		{ID: "m", Dependencies: []string{"root"}},
	}

	levels, err := Schedule(nodes)
	require.NoError(t, err)
	require.Len(t, levels, 2)
	// Insertion order preserved, not alphabetical.
	assert.Equal(t, Level{"z", "a", "m"}, levels[1])
}

func TestSchedule_RejectsCycle(t *testing.T) {
	nodes := []Node{
		{ID: "a", Dependencies: []string{"b"}},
		{ID: "b", Dependencies: []string{"a"}},
	}

	_, err := Schedule(nodes)
	require.Error(t, err)
	var schedErr *Error
	require.ErrorAs(t, err, &schedErr)
	assert.Contains(t, schedErr.Error(), "cycle-or-unreachable")
}

func TestValidate_RejectsDuplicateID(t *testing.T) {
	nodes := []Node{{ID: "a"}, {ID: "a"}}
	err := Validate(nodes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate node id")
}

func TestValidate_RejectsSelfDependency(t *testing.T) {
	nodes := []Node{{ID: "a", Dependencies: []string{"a"}}}
	err := Validate(nodes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "depends on itself")
}

func TestValidate_RejectsUnknownDependency(t *testing.T) {
	nodes := []Node{{ID: "a", Dependencies: []string{"ghost"}}}
	err := Validate(nodes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown node")
}

func TestValidate_RejectsNoRoot(t *testing.T) {
	nodes := []Node{
		{ID: "a", Dependencies: []string{"b"}},
		{ID: "b", Dependencies: []string{"a"}},
	}
	err := Validate(nodes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no entry point")
}

func TestValidate_RejectsEmptyGraph(t *testing.T) {
	err := Validate(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestSchedule_UnreachableNodeIsRejected(t *testing.T) {
	// a -> b is reachable from the root a; x and y depend on each other,
	// forming a disconnected cycle whose nodes are never emitted.
	nodes := []Node{
		{ID: "a"},
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "x", Dependencies: []string{"y"}},
		{ID: "y", Dependencies: []string{"x"}},
	}
	_, err := Schedule(nodes)
	require.Error(t, err)
}
