// Package toolkit pins the tool interfaces the orchestrator consumes.
// Concrete tool implementations (browser, shell, code sandbox, file I/O)
// are someone else's problem; this package only defines the shapes an
// Agent declares and the executor it dispatches through.
package toolkit

import (
	"context"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Definition describes a single tool's name, description, and input
// schema, following the shape of tools.ToolInfo (tools/interfaces.go)
// minus the execution method — execution is provided separately by an
// Executor.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// Set is a map from tool name to its Definition. A Set carries no
// executor; it only declares what the LLM may call.
type Set map[string]Definition

// Merge returns a new Set containing the receiver's entries overlaid with
// other's, with entries in other winning on name collision. BaseAgent
// uses this asymmetry to let context tools (valSet/valGet/valList) always
// take precedence over an agent's own declared tools of the same name.
func (s Set) Merge(other Set) Set {
	merged := make(Set, len(s)+len(other))
	for name, def := range s {
		merged[name] = def
	}
	for name, def := range other {
		merged[name] = def
	}
	return merged
}

// Names returns the tool names in the set, used to list available tools
// in a system prompt.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	return names
}

// Call is a single tool invocation as requested by the LLM.
type Call struct {
	ID    string         `json:"toolCallId"`
	Name  string         `json:"toolName"`
	Input map[string]any `json:"input"`
}

// NormalizeCall accommodates LLM SDKs that place tool-call arguments
// under "input" in one version and "args" in another. It accepts a raw
// decoded tool-call payload and returns a Call with a single canonical
// Input field, preferring "input" when both are present. legacyArgsUsed
// reports whether the normalization had to fall back to "args", so
// callers can log it.
func NormalizeCall(id, name string, raw map[string]any) (call Call, legacyArgsUsed bool) {
	call = Call{ID: id, Name: name, Input: map[string]any{}}

	if in, ok := raw["input"]; ok {
		_ = mapstructure.Decode(in, &call.Input)
		return call, false
	}
	if args, ok := raw["args"]; ok {
		_ = mapstructure.Decode(args, &call.Input)
		return call, true
	}

	// No nested envelope: treat the whole map (minus bookkeeping keys) as
	// the input, which is how most LLM SDKs shape a plain function call.
	for k, v := range raw {
		if k == "toolCallId" || k == "toolName" || k == "name" || k == "id" {
			continue
		}
		call.Input[k] = v
	}
	return call, false
}

// Result is the outcome of executing a Call.
type Result struct {
	Value   any
	IsError bool
	Error   string
}

// FinalResultKey is the sentinel field a tool's returned value may carry
// to terminate the ReactLoop immediately with that value as the node's
// result. Preferred over a structurally distinct return type so Executor
// implementations stay compatible with tools that were written against
// the magic-key convention.
const FinalResultKey = "__final_result__"

// ExtractFinalResult inspects a tool's returned value for the
// __final_result__ sentinel. If present and truthy, it returns the value
// with that key stripped and ok=true.
func ExtractFinalResult(value any) (stripped any, ok bool) {
	m, isMap := value.(map[string]any)
	if !isMap {
		return value, false
	}
	final, present := m[FinalResultKey]
	if !present || !truthy(final) {
		return value, false
	}
	out := make(map[string]any, len(m)-1)
	for k, v := range m {
		if k == FinalResultKey {
			continue
		}
		out[k] = v
	}
	return out, true
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != "" && !strings.EqualFold(t, "false")
	case nil:
		return false
	default:
		return true
	}
}

// Executor dispatches a named tool call to its implementation. Concrete
// executors are supplied by the caller; the core never inspects the
// input shape beyond the final-result sentinel.
type Executor interface {
	Execute(ctx context.Context, name string, input map[string]any) (Result, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, name string, input map[string]any) (Result, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, name string, input map[string]any) (Result, error) {
	return f(ctx, name, input)
}

// Dispatcher routes a tool call to either a closed-over context-tool
// implementation or a fallback Executor (the agent's own). BaseAgent
// builds one of these to route a name to either its context-tool
// implementations or its own declared executor.
type Dispatcher struct {
	reserved map[string]ExecutorFunc
	fallback Executor
}

// NewDispatcher builds a Dispatcher that tries reserved names first.
func NewDispatcher(reserved map[string]ExecutorFunc, fallback Executor) *Dispatcher {
	return &Dispatcher{reserved: reserved, fallback: fallback}
}

// Execute implements Executor.
func (d *Dispatcher) Execute(ctx context.Context, name string, input map[string]any) (Result, error) {
	if fn, ok := d.reserved[name]; ok {
		return fn(ctx, name, input)
	}
	if d.fallback == nil {
		return Result{}, &NotFoundError{Name: name}
	}
	return d.fallback.Execute(ctx, name, input)
}

// NotFoundError reports a tool call for a name no dispatcher route can
// serve.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return "toolkit: no executor for tool \"" + e.Name + "\""
}
