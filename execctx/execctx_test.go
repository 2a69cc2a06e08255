package execctx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContext_NodeLifecycle(t *testing.T) {
	c := New([]string{"a"})

	assert.Equal(t, NodeStatusPending, c.NodeState("a").Status)

	c.StartNode("a")
	assert.Equal(t, NodeStatusRunning, c.NodeState("a").Status)
	assert.False(t, c.NodeState("a").StartedAt.IsZero())

	c.CompleteNode("a", "result")
	state := c.NodeState("a")
	assert.Equal(t, NodeStatusCompleted, state.Status)
	assert.Equal(t, "result", state.Output)
	assert.False(t, state.EndedAt.IsZero())

	out, ok := c.Output("a")
	require.True(t, ok)
	assert.Equal(t, "result", out)
}

func TestContext_FailNode(t *testing.T) {
	c := New([]string{"a"})
	c.StartNode("a")
	c.FailNode("a", errors.New("boom"))

	state := c.NodeState("a")
	assert.Equal(t, NodeStatusFailed, state.Status)
	require.Error(t, state.Err)
	assert.Equal(t, "boom", state.Err.Error())
}

func TestContext_OutputIsWriteOnce(t *testing.T) {
	c := New([]string{"a"})
	c.CompleteNode("a", 1)
	assert.Panics(t, func() { c.CompleteNode("a", 2) })
}

func TestContext_OutputsSnapshot(t *testing.T) {
	c := New([]string{"a", "b"})
	c.CompleteNode("a", 1)
	c.CompleteNode("b", 2)

	outs := c.Outputs()
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, outs)
}

func TestContext_ValsAreMultiWriter(t *testing.T) {
	c := New(nil)
	c.SetVal("k", "first")
	c.SetVal("k", "second")

	v, ok := c.GetVal("k")
	require.True(t, ok)
	assert.Equal(t, "second", v)
	assert.Equal(t, []string{"k"}, c.ListVals())
}

func TestContext_CancelIsIdempotentAndLatches(t *testing.T) {
	c := New(nil)
	assert.False(t, c.Cancelled())

	c.Cancel()
	assert.True(t, c.Cancelled())

	select {
	case <-c.Done():
	default:
		t.Fatal("Done channel should be closed after Cancel")
	}

	assert.NotPanics(t, func() { c.Cancel() })
}

func TestContext_MarkCompletedAndMarkFailedAreTerminalOnce(t *testing.T) {
	c := New(nil)
	assert.Equal(t, StatusRunning, c.Status())

	c.MarkCompleted()
	assert.Equal(t, StatusCompleted, c.Status())

	// Already terminal: MarkFailed must not override.
	c.MarkFailed(errors.New("late failure"))
	assert.Equal(t, StatusCompleted, c.Status())
}

func TestContext_MarkFailedAfterCancelReportsCancelled(t *testing.T) {
	c := New(nil)
	c.Cancel()
	c.MarkFailed(errors.New("run aborted"))
	assert.Equal(t, StatusCancelled, c.Status())
}

func TestContext_SnapshotYAMLRoundTrips(t *testing.T) {
	c := New([]string{"a", "b"})
	c.CompleteNode("a", map[string]any{"x": 1})
	c.FailNode("b", errors.New("bad input"))

	data, err := c.SnapshotYAML()
	require.NoError(t, err)
	assert.Contains(t, string(data), "status: completed")
	assert.Contains(t, string(data), "status: failed")
	assert.Contains(t, string(data), "bad input")
}

func TestContext_RecordRetryIncrementsCount(t *testing.T) {
	c := New([]string{"a"})
	assert.Equal(t, 0, c.NodeState("a").RetryCount)

	c.RecordRetry("a")
	assert.Equal(t, 1, c.NodeState("a").RetryCount)

	c.RecordRetry("a")
	assert.Equal(t, 2, c.NodeState("a").RetryCount)

	snapshot := c.Snapshot()
	assert.Equal(t, 2, snapshot["a"].RetryCount)
}

func TestContext_NodeStateLazilyCreatesUnknownID(t *testing.T) {
	c := New([]string{"a"})
	// "b" was never in the initial ID list; NodeState must still return a
	// sane pending zero-value rather than panicking.
	assert.Equal(t, NodeStatusPending, c.NodeState("b").Status)
}
