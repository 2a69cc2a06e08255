// Package agent implements BaseAgent: the component that turns a
// workflow node's declared task into a bounded ReactLoop invocation,
// merging context tools into the agent's own tool set and re-tagging
// loop events into the agent namespace. Grounded on Agent.execute's
// orchestration shape (agent/agent.go), replacing its single
// hard-coded reasoning strategy with the fixed ReactLoop protocol.
package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/flowforge/orchestrator/events"
	"github.com/flowforge/orchestrator/execctx"
	"github.com/flowforge/orchestrator/history"
	"github.com/flowforge/orchestrator/llm"
	"github.com/flowforge/orchestrator/logging"
	"github.com/flowforge/orchestrator/react"
	"github.com/flowforge/orchestrator/toolkit"
)

// NodeMetadata is the subset of a workflow node's declaration BaseAgent
// needs to build a prompt: its description, optional steps, the
// workflow's top-level task, and its upstream dependency IDs.
type NodeMetadata struct {
	NodeID       string
	Desc         string
	Steps        []string
	WorkflowTask string
	Dependencies []string
}

// ExecutionResult is a workflow node's published result: the structured
// payload plus the human-readable Summary that is the sole channel
// downstream nodes' prompts read from (never Data directly). Stored into
// ExecutionContext.outputs by the workflow Executor on node completion.
type ExecutionResult struct {
	NodeID     string        `json:"nodeId" yaml:"nodeId"`
	Data       any           `json:"data,omitempty" yaml:"data,omitempty"`
	Summary    string        `json:"summary" yaml:"summary"`
	Status     string        `json:"status" yaml:"status"`
	Error      string        `json:"error,omitempty" yaml:"error,omitempty"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
	Iterations int           `json:"iterations" yaml:"iterations"`
}

// Declaration is what a concrete agent contributes: an identifier used
// for node-type resolution, a human name/description, its own declared
// tool set, and the executor that serves that set.
type Declaration struct {
	ID          string
	Name        string
	Description string
	Tools       toolkit.Set
	Executor    toolkit.Executor
}

// BaseAgent composes a ReactLoop invocation around one Declaration. It
// is reusable across workflow nodes; each Run call is independent.
type BaseAgent struct {
	decl         Declaration
	llmClient    llm.Client
	historyMgr   *history.Manager
	maxIterations int
	streaming    bool
	now          func() time.Time
}

// Option configures a BaseAgent at construction time.
type Option func(*BaseAgent)

// WithMaxIterations overrides the ReactLoop's iteration cap.
func WithMaxIterations(n int) Option {
	return func(a *BaseAgent) { a.maxIterations = n }
}

// WithStreaming enables streaming LLM calls.
func WithStreaming(enabled bool) Option {
	return func(a *BaseAgent) { a.streaming = enabled }
}

// New builds a BaseAgent from a Declaration, an LLM client, and a
// history manager.
func New(decl Declaration, llmClient llm.Client, historyMgr *history.Manager, opts ...Option) *BaseAgent {
	a := &BaseAgent{
		decl:          decl,
		llmClient:     llmClient,
		historyMgr:    historyMgr,
		maxIterations: react.DefaultMaxIterations,
		now:           time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// ID returns the agent's declared identifier, used by the orchestrator
// for node-type resolution.
func (a *BaseAgent) ID() string { return a.decl.ID }

// Name returns the agent's human-readable name.
func (a *BaseAgent) Name() string { return a.decl.Name }

// Run executes the agent's ReactLoop for one workflow node, reading
// upstream outputs and writing/reading the shared value store through
// ec, and re-tagging every loop event into the agent namespace before
// forwarding to sink.
func (a *BaseAgent) Run(ctx context.Context, meta NodeMetadata, ec *execctx.Context, sink events.Sink) (ExecutionResult, error) {
	start := a.now()
	tagged := events.WithAgentID(sink, a.decl.ID)
	stamped := events.WithTimestamp(tagged, a.now)
	stamped.Emit(events.Event{Type: events.TypeAgentStart, AgentID: a.decl.ID, NodeID: meta.NodeID})

	systemPrompt := a.buildSystemPrompt(meta)
	userMessage := a.buildUserMessage(meta, ec)
	toolSet := a.decl.Tools.Merge(contextToolDefs())
	dispatcher := toolkit.NewDispatcher(contextToolExecutors(ec), a.decl.Executor)

	result, err := react.Run(ctx, react.Options{
		SystemPrompt:     systemPrompt,
		UserMessage:      userMessage,
		Tools:            toolSet,
		ToolExecutor:     dispatcher,
		LLMClient:        a.llmClient,
		History:          a.historyMgr,
		MaxIterations:    a.maxIterations,
		StreamingEnabled: a.streaming,
		Sink:             stamped,
	})

	duration := a.now().Sub(start)
	if err != nil {
		logging.Default().Error("agent: run failed", "agentId", a.decl.ID, "node", meta.NodeID, "err", err)
		stamped.Emit(events.Event{Type: events.TypeAgentError, AgentID: a.decl.ID, NodeID: meta.NodeID, Error: err.Error(), Duration: duration})
		return ExecutionResult{NodeID: meta.NodeID, Status: "failed", Error: err.Error(), Duration: duration}, err
	}
	logging.Default().Debug("agent: run complete", "agentId", a.decl.ID, "node", meta.NodeID, "iterations", result.Iterations, "duration", duration)
	stamped.Emit(events.Event{
		Type: events.TypeAgentComplete, AgentID: a.decl.ID, NodeID: meta.NodeID,
		Duration: duration, Iteration: result.Iterations,
	})
	return ExecutionResult{
		NodeID:     meta.NodeID,
		Data:       result.Data,
		Summary:    result.Summary,
		Status:     "success",
		Duration:   duration,
		Iterations: result.Iterations,
	}, nil
}

// buildSystemPrompt assembles the agent's identity, the node's task
// description (and steps, when they diverge from the description),
// the workflow's top-level task, the current time, the available tool
// names, and the data-sharing-tools instruction block.
func (a *BaseAgent) buildSystemPrompt(meta NodeMetadata) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s: %s\n\n", a.decl.Name, a.decl.Description)
	fmt.Fprintf(&b, "Task: %s\n", meta.Desc)
	if len(meta.Steps) > 1 || (len(meta.Steps) == 1 && meta.Steps[0] != meta.Desc) {
		b.WriteString("Steps:\n")
		for i, step := range meta.Steps {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, step)
		}
	}
	if meta.WorkflowTask != "" {
		fmt.Fprintf(&b, "\nOverall workflow task: %s\n", meta.WorkflowTask)
	}
	fmt.Fprintf(&b, "\nCurrent time: %s\n", a.now().Format(time.RFC3339))

	names := make([]string, 0, len(a.decl.Tools)+3)
	for name := range a.decl.Tools {
		names = append(names, name)
	}
	names = append(names, "valSet", "valGet", "valList")
	sort.Strings(names)
	fmt.Fprintf(&b, "\nAvailable tools: %s\n", strings.Join(names, ", "))

	b.WriteString("\nUse valSet to publish data other nodes may need, valGet to read data " +
		"another node published, and valList to discover what has been published so far. " +
		"These are independent of each node's own declared outputs.\n")
	return b.String()
}

// buildUserMessage restates the node's task, listing each dependency's
// published summary (never its raw output) when the node has
// dependencies.
func (a *BaseAgent) buildUserMessage(meta NodeMetadata, ec *execctx.Context) string {
	if len(meta.Dependencies) == 0 {
		return fmt.Sprintf("Please complete the task: %s", meta.Desc)
	}

	var b strings.Builder
	b.WriteString("Prior results:\n")
	for _, dep := range meta.Dependencies {
		summary := "(no result)"
		if out, ok := ec.Output(dep); ok {
			summary = summarize(out)
		}
		fmt.Fprintf(&b, "- %s: %s\n", dep, summary)
	}
	fmt.Fprintf(&b, "\nNow complete this task: %s", meta.Desc)
	return b.String()
}

// summarize extracts an ExecutionResult's Summary field, which is the
// only channel a downstream node's prompt reads a dependency's result
// through; it never sees the dependency's raw Data.
func summarize(out any) string {
	if res, ok := out.(ExecutionResult); ok {
		return res.Summary
	}
	return fmt.Sprint(out)
}

// valSetArgs, valGetArgs, and valListArgs back the jsonschema-generated
// input schemas for the three reserved context tools; struct tags
// describe the shape the way functiontool/schema.go generates a Go
// function tool's parameters.
type valSetArgs struct {
	Key   string `json:"key" jsonschema:"required,description=Key to store the value under"`
	Value any    `json:"value" jsonschema:"required,description=Value to store"`
}

type valGetArgs struct {
	Key string `json:"key" jsonschema:"required,description=Key to read a previously stored value from"`
}

type valListArgs struct{}

// contextToolDefs is the fixed schema for the three reserved
// data-sharing tools, generated from Go structs via
// github.com/invopop/jsonschema rather than hand-built maps.
func contextToolDefs() toolkit.Set {
	return toolkit.Set{
		"valSet": {
			Name: "valSet", Description: "Store a value under a key for other nodes to read.",
			InputSchema: generateToolSchema[valSetArgs](),
		},
		"valGet": {
			Name: "valGet", Description: "Read a previously stored value by key.",
			InputSchema: generateToolSchema[valGetArgs](),
		},
		"valList": {
			Name: "valList", Description: "List the keys currently stored.",
			InputSchema: generateToolSchema[valListArgs](),
		},
	}
}

// contextToolExecutors closes the three reserved tool names over ec, so
// the Dispatcher can route to them ahead of the agent's own executor.
func contextToolExecutors(ec *execctx.Context) map[string]toolkit.ExecutorFunc {
	return map[string]toolkit.ExecutorFunc{
		"valSet": func(ctx context.Context, name string, input map[string]any) (toolkit.Result, error) {
			key, _ := input["key"].(string)
			ec.SetVal(key, input["value"])
			return toolkit.Result{Value: map[string]any{"ok": true}}, nil
		},
		"valGet": func(ctx context.Context, name string, input map[string]any) (toolkit.Result, error) {
			key, _ := input["key"].(string)
			v, _ := ec.GetVal(key)
			return toolkit.Result{Value: map[string]any{"value": v}}, nil
		},
		"valList": func(ctx context.Context, name string, input map[string]any) (toolkit.Result, error) {
			return toolkit.Result{Value: map[string]any{"keys": ec.ListVals()}}, nil
		},
	}
}
