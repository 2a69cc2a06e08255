package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/orchestrator/events"
	"github.com/flowforge/orchestrator/execctx"
	"github.com/flowforge/orchestrator/history"
	"github.com/flowforge/orchestrator/llm"
	"github.com/flowforge/orchestrator/toolkit"
)

// fakeClient returns a scripted sequence of responses, one per Chat call.
type fakeClient struct {
	responses []llm.Response
	errs      []error
	calls     int
}

func (c *fakeClient) Chat(ctx context.Context, hist []llm.Message, opts llm.Options) (llm.Response, error) {
	i := c.calls
	c.calls++
	var err error
	if i < len(c.errs) {
		err = c.errs[i]
	}
	if i < len(c.responses) {
		return c.responses[i], err
	}
	return llm.Response{}, err
}

func (c *fakeClient) Stream(ctx context.Context, hist []llm.Message, opts llm.Options, emit func(llm.StreamEvent)) error {
	panic("not used in these tests")
}

func newTestAgent(client llm.Client, decl Declaration) *BaseAgent {
	hm := history.NewManager(history.ManagerOptions{}, nil)
	return New(decl, client, hm)
}

func TestBaseAgent_RunReturnsSummaryOnPlainTextResponse(t *testing.T) {
	client := &fakeClient{responses: []llm.Response{{Text: "task is done", FinishReason: "stop"}}}
	a := newTestAgent(client, Declaration{ID: "writer", Name: "Writer", Description: "writes things"})

	ec := execctx.New([]string{"n1"})
	result, err := a.Run(context.Background(), NodeMetadata{NodeID: "n1", Desc: "write a haiku"}, ec, events.Discard)

	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)
	assert.Equal(t, "task is done", result.Summary)
	assert.Equal(t, "n1", result.NodeID)
	assert.Equal(t, 1, result.Iterations)
	assert.GreaterOrEqual(t, result.Duration, time.Duration(0))
}

func TestBaseAgent_RunReturnsFailedExecutionResultOnLLMError(t *testing.T) {
	boom := errors.New("provider unavailable")
	client := &fakeClient{errs: []error{boom}}
	a := newTestAgent(client, Declaration{ID: "writer", Name: "Writer"})

	ec := execctx.New([]string{"n1"})
	result, err := a.Run(context.Background(), NodeMetadata{NodeID: "n1", Desc: "write"}, ec, events.Discard)

	require.Error(t, err)
	assert.Equal(t, "failed", result.Status)
	assert.Equal(t, boom.Error(), result.Error)
	assert.Equal(t, "n1", result.NodeID)
}

func TestBaseAgent_RunDispatchesContextToolsAndTerminatesOnFinalResult(t *testing.T) {
	client := &fakeClient{responses: []llm.Response{
		{
			ToolCalls: []llm.ToolCall{{ID: "tc1", Name: "valSet", Input: map[string]any{"key": "draft", "value": "hello"}}},
		},
		{
			ToolCalls: []llm.ToolCall{{ID: "tc2", Name: "finish", Input: map[string]any{
				toolkit.FinalResultKey: true,
				"answer":               "final answer",
			}}},
		},
	}}

	executor := toolkit.ExecutorFunc(func(ctx context.Context, name string, input map[string]any) (toolkit.Result, error) {
		if name == "finish" {
			return toolkit.Result{Value: input}, nil
		}
		return toolkit.Result{}, &toolkit.NotFoundError{Name: name}
	})

	a := newTestAgent(client, Declaration{
		ID: "worker", Name: "Worker",
		Tools:    toolkit.Set{"finish": {Name: "finish"}},
		Executor: executor,
	})

	ec := execctx.New([]string{"n1"})
	result, err := a.Run(context.Background(), NodeMetadata{NodeID: "n1", Desc: "do work"}, ec, events.Discard)
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)

	data, ok := result.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "final answer", data["answer"])

	v, ok := ec.GetVal("draft")
	require.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestSummarize_UsesExecutionResultSummaryNotRawData(t *testing.T) {
	res := ExecutionResult{Summary: "the short version", Data: map[string]any{"huge": "payload"}}
	assert.Equal(t, "the short version", summarize(res))
}

func TestSummarize_FallsBackToFmtSprintForNonExecutionResult(t *testing.T) {
	assert.Equal(t, "42", summarize(42))
}

func TestBuildUserMessage_ListsDependencySummariesNotRawOutput(t *testing.T) {
	a := newTestAgent(&fakeClient{}, Declaration{ID: "a", Name: "A"})
	ec := execctx.New([]string{"upstream"})
	ec.CompleteNode("upstream", ExecutionResult{Summary: "built the thing", Data: "raw-secret-payload"})

	msg := a.buildUserMessage(NodeMetadata{Desc: "use upstream's work", Dependencies: []string{"upstream"}}, ec)
	assert.Contains(t, msg, "built the thing")
	assert.NotContains(t, msg, "raw-secret-payload")
}
