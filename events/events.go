// Package events defines the lifecycle event taxonomy emitted by the
// reasoning loop, agents, and the workflow executor, and the sink
// abstraction used to re-tag and forward them up the call chain.
package events

import "time"

// Type is a namespaced event type string, e.g. "react:thinking" or
// "agent:complete". Namespaces are "react", "agent", "workflow", and
// "level".
type Type string

const (
	// Loop-scoped events, emitted by the ReactLoop.
	TypeThinking           Type = "react:thinking"
	TypeCompressed         Type = "react:compressed"
	TypeAction             Type = "react:action"
	TypeObservation        Type = "react:observation"
	TypeObservationError   Type = "react:observation-error"
	TypeStreamText         Type = "react:stream-text"
	TypeStreamFinish       Type = "react:stream-finish"
	TypeContextLengthError Type = "react:context-length-error"
	TypeWarning            Type = "react:warning"
	TypeMaxIterations      Type = "react:max-iterations"

	// Agent-scoped events. Most are the loop events re-tagged with the
	// "agent:" prefix; Start/Complete/Error are agent-only.
	TypeAgentStart    Type = "agent:start"
	TypeAgentComplete Type = "agent:complete"
	TypeAgentError    Type = "agent:error"
	TypeAgentRetry    Type = "agent:retry"

	// Workflow-scoped events, emitted by the Executor/Orchestrator.
	TypeWorkflowStart    Type = "workflow:start"
	TypeWorkflowComplete Type = "workflow:complete"
	TypeWorkflowError    Type = "workflow:error"
	TypeLevelStart       Type = "level:start"
	TypeLevelComplete    Type = "level:complete"
)

// loopToAgentPrefix maps the "react:" namespace to "agent:" for the
// re-tagging BaseAgent performs on every event coming out of its ReactLoop.
const (
	loopPrefix  = "react:"
	agentPrefix = "agent:"
)

// ToAgentType rewrites a loop event type into its agent-namespaced form.
// Non-loop types pass through unchanged.
func (t Type) ToAgentType() Type {
	s := string(t)
	if len(s) >= len(loopPrefix) && s[:len(loopPrefix)] == loopPrefix {
		return Type(agentPrefix + s[len(loopPrefix):])
	}
	return t
}

// Event is a single point-in-time occurrence carried through the
// Executor -> Agent -> ReactLoop stack. Payload fields are optional and
// only populated for the event types that use them.
type Event struct {
	Type      Type      `json:"type" yaml:"type"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`

	// Loop identifiers.
	Iteration    int `json:"iteration,omitempty" yaml:"iteration,omitempty"`
	HistoryLen   int `json:"historyLength,omitempty" yaml:"historyLength,omitempty"`
	AfterCount   int `json:"afterCount,omitempty" yaml:"afterCount,omitempty"`
	MaxIter      int `json:"maxIterations,omitempty" yaml:"maxIterations,omitempty"`
	TotalCalls   int `json:"totalCalls,omitempty" yaml:"totalCalls,omitempty"`
	RetryAttempt int `json:"attempt,omitempty" yaml:"attempt,omitempty"`

	// Tool call identifiers and payloads.
	ToolCallID string `json:"toolCallId,omitempty" yaml:"toolCallId,omitempty"`
	ToolName   string `json:"toolName,omitempty" yaml:"toolName,omitempty"`
	Input      any    `json:"input,omitempty" yaml:"input,omitempty"`
	Result     any    `json:"result,omitempty" yaml:"result,omitempty"`
	IsFinal    bool   `json:"isFinal,omitempty" yaml:"isFinal,omitempty"`

	// Streaming / warnings / errors.
	TextDelta    string `json:"textDelta,omitempty" yaml:"textDelta,omitempty"`
	FinishReason string `json:"finishReason,omitempty" yaml:"finishReason,omitempty"`
	Usage        Usage  `json:"usage,omitempty" yaml:"usage,omitempty"`
	Message      string `json:"message,omitempty" yaml:"message,omitempty"`
	Error        string `json:"error,omitempty" yaml:"error,omitempty"`

	// Agent-scoped identifiers, attached as events pass through the Agent
	// and Executor decorators.
	AgentID  string        `json:"agentId,omitempty" yaml:"agentId,omitempty"`
	NodeID   string        `json:"nodeId,omitempty" yaml:"nodeId,omitempty"`
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Workflow-scoped identifiers.
	WorkflowID string `json:"workflowId,omitempty" yaml:"workflowId,omitempty"`
	Level      int    `json:"level,omitempty" yaml:"level,omitempty"`
	AgentCount int    `json:"agentCount,omitempty" yaml:"agentCount,omitempty"`
}

// Usage reports token accounting as returned by the LLM client.
type Usage struct {
	PromptTokens     int `json:"promptTokens,omitempty" yaml:"promptTokens,omitempty"`
	CompletionTokens int `json:"completionTokens,omitempty" yaml:"completionTokens,omitempty"`
	TotalTokens      int `json:"totalTokens,omitempty" yaml:"totalTokens,omitempty"`
}

// Sink receives events. Implementations must be safe for concurrent use:
// nodes in the same scheduler level emit to the same sink chain from
// different goroutines.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Emit implements Sink.
func (f SinkFunc) Emit(e Event) { f(e) }

// Discard is a Sink that drops every event. Useful as a default when the
// caller doesn't want to observe lifecycle events.
var Discard Sink = SinkFunc(func(Event) {})

// WithAgentID returns a decorator sink that stamps AgentID on every event
// and rewrites loop-namespaced types to their agent-namespaced form before
// forwarding to next. This is the decorator BaseAgent installs between
// itself and its ReactLoop.
func WithAgentID(next Sink, agentID string) Sink {
	return SinkFunc(func(e Event) {
		e.AgentID = agentID
		e.Type = e.Type.ToAgentType()
		next.Emit(e)
	})
}

// WithNodeID returns a decorator sink that stamps NodeID on every event
// without altering its Type. This is the decorator the Executor installs
// between itself and the Agent it invokes for a given workflow node.
func WithNodeID(next Sink, nodeID string) Sink {
	return SinkFunc(func(e Event) {
		e.NodeID = nodeID
		next.Emit(e)
	})
}

// WithTimestamp returns a decorator sink that stamps the current time on
// every event that doesn't already carry one. BaseAgent installs it on
// the sink it hands to the ReactLoop (and uses for its own start/complete/
// error events), so every agent-level event has a timestamp.
func WithTimestamp(next Sink, now func() time.Time) Sink {
	return SinkFunc(func(e Event) {
		if e.Timestamp.IsZero() {
			e.Timestamp = now()
		}
		next.Emit(e)
	})
}

// Fanout returns a Sink that forwards every event to all of sinks, used by
// the Orchestrator to forward events both to external subscribers and to
// the ProgressTracker.
func Fanout(sinks ...Sink) Sink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return SinkFunc(func(e Event) {
		for _, s := range filtered {
			s.Emit(e)
		}
	})
}
