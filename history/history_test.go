package history

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/orchestrator/llm"
)

func TestManageContext_NoCompressionWhenWithinCeilings(t *testing.T) {
	m := NewManager(ManagerOptions{MaxMessages: 10, MaxTokens: 1000}, nil)
	hist := []llm.Message{
		{Role: llm.RoleUser, Text: "hello"},
		{Role: llm.RoleAssistant, Text: "hi there"},
	}

	out, err := m.ManageContext(context.Background(), hist, 1)
	require.NoError(t, err)
	assert.Equal(t, hist, out)
}

func TestManageContext_CompressesWhenMessageCountExceedsCeiling(t *testing.T) {
	m := NewManager(ManagerOptions{MaxMessages: 2, MaxTokens: 100000}, nil)
	hist := []llm.Message{
		{Role: llm.RoleUser, Text: "task: build a thing"},
		{Role: llm.RoleAssistant, Text: "ok working on it"},
		{Role: llm.RoleUser, Text: "any update?"},
		{Role: llm.RoleAssistant, Text: "almost done"},
	}

	out, err := m.ManageContext(context.Background(), hist, 5)
	require.NoError(t, err)
	require.Len(t, out, 3) // 1 summary + 2 kept
	assert.Equal(t, llm.RoleAssistant, out[0].Role)
	assert.Contains(t, out[0].Text, "Earlier in this task")
	assert.Equal(t, hist[2], out[1])
	assert.Equal(t, hist[3], out[2])
}

func TestManageContext_UsesCustomSummarizer(t *testing.T) {
	called := false
	summarizer := func(ctx context.Context, msgs []llm.Message) (string, error) {
		called = true
		return "custom summary", nil
	}
	m := NewManager(ManagerOptions{MaxMessages: 1, MaxTokens: 100000}, summarizer)
	hist := []llm.Message{
		{Role: llm.RoleUser, Text: "a"},
		{Role: llm.RoleAssistant, Text: "b"},
		{Role: llm.RoleUser, Text: "c"},
	}

	out, err := m.ManageContext(context.Background(), hist, 1)
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "custom summary", out[0].Text)
}

func TestCompress_NeverSplitsToolCallResultPair(t *testing.T) {
	m := NewManager(ManagerOptions{MaxMessages: 1, MaxTokens: 100000}, nil)
	hist := []llm.Message{
		{Role: llm.RoleUser, Text: "task"},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "tc1", Name: "search"}}},
		{Role: llm.RoleToolResult, ToolCallID: "tc1", Content: "result"},
	}

	out, err := m.ManageContext(context.Background(), hist, 1)
	require.NoError(t, err)

	// Keep=1 would normally cut right before the tool-result message,
	// separating it from its tool-call; extendToKeepPairsIntact must pull
	// the tool-call message into the kept suffix too.
	joined := out[len(out)-1]
	assert.Equal(t, llm.RoleToolResult, joined.Role)
	foundCall := false
	for _, msg := range out {
		for _, tc := range msg.ToolCalls {
			if tc.ID == "tc1" {
				foundCall = true
			}
		}
	}
	assert.True(t, foundCall, "tool-call message must be preserved alongside its result")
}

func TestHandleContextLengthError_IsMoreAggressiveThanSteadyState(t *testing.T) {
	m := NewManager(ManagerOptions{MaxMessages: 10, MaxTokens: 100000}, nil)
	hist := make([]llm.Message, 10)
	for i := range hist {
		hist[i] = llm.Message{Role: llm.RoleUser, Text: "msg"}
	}

	out, err := m.HandleContextLengthError(context.Background(), hist)
	require.NoError(t, err)
	// aggressive keep = MaxMessages/2 = 5, plus 1 summary message.
	assert.Len(t, out, 6)
}

func TestIsContextLengthError(t *testing.T) {
	assert.True(t, IsContextLengthError("Error: maximum context length exceeded"))
	assert.True(t, IsContextLengthError("TOKEN LIMIT reached"))
	assert.False(t, IsContextLengthError("connection refused"))
}

func TestFallbackSummary_PreservesTaskCallsAndOutcomes(t *testing.T) {
	older := []llm.Message{
		{Role: llm.RoleUser, Text: "summarize the repo"},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "1", Name: "readFile"}}},
		{Role: llm.RoleToolResult, ToolCallID: "1", Content: strings.Repeat("x", 300)},
	}
	summary := fallbackSummary(older)
	assert.Contains(t, summary, "summarize the repo")
	assert.Contains(t, summary, "readFile")
	assert.Contains(t, summary, "...")
}

func TestCountTokens_FallsBackToHeuristicWithoutEncoding(t *testing.T) {
	m := &Manager{opts: ManagerOptions{MaxMessages: 10, MaxTokens: 10}}
	n := m.countTokens("12345678")
	assert.Equal(t, 2, n) // 8 chars / 4
}
