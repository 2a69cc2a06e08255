package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStreamClient struct {
	events []StreamEvent
	err    error
}

func (c *fakeStreamClient) Chat(ctx context.Context, history []Message, opts Options) (Response, error) {
	return Response{}, nil
}

func (c *fakeStreamClient) Stream(ctx context.Context, history []Message, opts Options, emit func(StreamEvent)) error {
	for _, e := range c.events {
		emit(e)
	}
	return c.err
}

func TestStreamToResponse_AggregatesTextAndToolCalls(t *testing.T) {
	client := &fakeStreamClient{events: []StreamEvent{
		{Kind: StreamTextDelta, TextDelta: "Hel"},
		{Kind: StreamTextDelta, TextDelta: "lo"},
		{Kind: StreamToolCall, ToolCall: ToolCall{ID: "1", Name: "search"}},
		{Kind: StreamFinish, FinishReason: "stop", Usage: Usage{TotalTokens: 42}},
	}}

	var deltas []string
	resp, err := StreamToResponse(context.Background(), client, nil, Options{}, func(s string) {
		deltas = append(deltas, s)
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello", resp.Text)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 42, resp.Usage.TotalTokens)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "search", resp.ToolCalls[0].Name)
	assert.Equal(t, []string{"Hel", "lo"}, deltas)
}

func TestStreamToResponse_PropagatesStreamError(t *testing.T) {
	client := &fakeStreamClient{err: assert.AnError}
	_, err := StreamToResponse(context.Background(), client, nil, Options{}, nil)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestAsEventUsage(t *testing.T) {
	u := AsEventUsage(Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3})
	assert.Equal(t, 1, u.PromptTokens)
	assert.Equal(t, 2, u.CompletionTokens)
	assert.Equal(t, 3, u.TotalTokens)
}
