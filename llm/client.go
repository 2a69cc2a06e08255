// Package llm pins the language-model transport interface the
// orchestrator consumes. Concrete providers (OpenAI, Anthropic, Gemini,
// Ollama, ...) are someone else's problem; the chat/stream contract here
// is narrowed from the shape of llms.LLMProvider (llms/registry.go).
package llm

import (
	"context"

	"github.com/flowforge/orchestrator/events"
)

// Role identifies who authored a Message.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool-result"
)

// ToolCall is a tool invocation the model requested as part of an
// assistant Message.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

// Message is one entry in the conversation history passed to the model.
// An assistant message carries Text, ToolCalls, or both; a tool-result
// message carries ToolCallID and Content (and IsError).
type Message struct {
	Role       Role
	Text       string
	ToolCalls  []ToolCall
	ToolCallID string
	Content    string
	IsError    bool
}

// Options carries the per-call generation configuration: the system
// prompt and the tool definitions available to the model.
type Options struct {
	SystemPrompt string
	Tools        []ToolDefinition
}

// ToolDefinition mirrors toolkit.Definition without importing that
// package, keeping llm free of a dependency on the tool package.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Usage reports token accounting for a single call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the result of a non-streaming Chat call.
type Response struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// StreamEventKind tags a StreamEvent's payload.
type StreamEventKind int

const (
	StreamTextDelta StreamEventKind = iota
	StreamToolCall
	StreamFinish
)

// StreamEvent is one item from a Stream call's event stream.
type StreamEvent struct {
	Kind         StreamEventKind
	TextDelta    string
	ToolCall     ToolCall
	FinishReason string
	Usage        Usage
}

// Client is the language-model transport the ReactLoop drives. Errors
// returned by either method may be context-length failures; callers
// detect these via history.IsContextLengthError against the
// error's message.
type Client interface {
	// Chat performs a single non-streaming call.
	Chat(ctx context.Context, history []Message, opts Options) (Response, error)

	// Stream performs a single streaming call, invoking emit for every
	// StreamEvent as it arrives. Stream must emit exactly one
	// StreamFinish event before returning (success or error).
	Stream(ctx context.Context, history []Message, opts Options, emit func(StreamEvent)) error
}

// StreamToResponse drains a Stream call into an aggregate Response, used
// by callers (e.g. tests, or a Client wrapper) that want the streaming
// transport but a single return value. Forwarded text deltas become the
// combined Text; tool-call events accumulate into ToolCalls.
func StreamToResponse(ctx context.Context, c Client, history []Message, opts Options, onDelta func(string)) (Response, error) {
	var resp Response
	var text []byte

	err := c.Stream(ctx, history, opts, func(ev StreamEvent) {
		switch ev.Kind {
		case StreamTextDelta:
			text = append(text, ev.TextDelta...)
			if onDelta != nil {
				onDelta(ev.TextDelta)
			}
		case StreamToolCall:
			resp.ToolCalls = append(resp.ToolCalls, ev.ToolCall)
		case StreamFinish:
			resp.FinishReason = ev.FinishReason
			resp.Usage = ev.Usage
		}
	})
	resp.Text = string(text)
	return resp, err
}

// AsEventUsage converts an llm.Usage into the events.Usage payload shape.
func AsEventUsage(u Usage) events.Usage {
	return events.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}
