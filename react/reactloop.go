// Package react drives the iterative reason-act loop: repeated LLM
// calls interleaved with tool dispatch against a bounded conversation
// history, terminating on a text-only response, a tool-reported final
// result, or an iteration cap. Grounded on the iteration loop in
// agent.Agent.execute (agent/agent.go), generalized from a single
// hard-coded reasoning strategy to the fixed reason-act protocol.
package react

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowforge/orchestrator/events"
	"github.com/flowforge/orchestrator/history"
	"github.com/flowforge/orchestrator/llm"
	"github.com/flowforge/orchestrator/telemetry"
	"github.com/flowforge/orchestrator/toolkit"
)

// DefaultMaxIterations is the loop's iteration cap when none is
// configured.
const DefaultMaxIterations = 30

// Result is what a loop invocation terminates with.
type Result struct {
	Data         any
	Summary      string
	FinishReason string
	Iterations   int
}

// Options configures one loop invocation.
type Options struct {
	SystemPrompt  string
	UserMessage   string
	Tools         toolkit.Set
	ToolExecutor  toolkit.Executor
	LLMClient     llm.Client
	History       *history.Manager
	MaxIterations int

	// StreamingEnabled, when true and LLMClient supports it, drives the
	// loop via llm.Client.Stream instead of Chat. OnTextDelta receives
	// each streamed text chunk as it arrives.
	StreamingEnabled bool
	OnTextDelta      func(string)

	Sink events.Sink
}

func (o *Options) sink() events.Sink {
	if o.Sink == nil {
		return events.Discard
	}
	return o.Sink
}

// Run drives the loop to completion per the fixed reason-act protocol:
// increment iteration, manage context, call the LLM, dispatch any
// returned tool calls in order, and either loop again or return.
func Run(ctx context.Context, opts Options) (Result, error) {
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	hist := []llm.Message{{Role: llm.RoleUser, Text: opts.UserMessage}}
	sink := opts.sink()
	toolDefs := toolDefinitions(opts.Tools)

	iteration := 0
	for iteration < maxIter {
		iteration++

		iterCtx, span := telemetry.Tracer().Start(ctx, "react.iteration",
			trace.WithAttributes(attribute.Int("iteration", iteration)))
		result, done, newHist, err := runIteration(iterCtx, opts, hist, toolDefs, iteration, sink)
		if err != nil {
			span.RecordError(err)
		}
		span.End()

		hist = newHist
		if err != nil {
			return Result{}, err
		}
		if done {
			return result, nil
		}
	}

	sink.Emit(events.Event{Type: events.TypeMaxIterations, MaxIter: maxIter})
	return Result{
		Data:         map[string]any{"response": "Max iterations reached"},
		Summary:      "Task completed with max iterations",
		FinishReason: "max-iterations",
		Iterations:   maxIter,
	}, nil
}

// runIteration runs one iteration of the reason-act loop body. It
// returns the (possibly updated) history alongside done/result: done is
// true the moment the loop should terminate; otherwise the caller loops
// again with the returned history.
func runIteration(ctx context.Context, opts Options, hist []llm.Message, toolDefs []llm.ToolDefinition, iteration int, sink events.Sink) (result Result, done bool, newHist []llm.Message, err error) {
	sink.Emit(events.Event{Type: events.TypeThinking, Iteration: iteration, HistoryLen: len(hist)})

	if opts.History != nil {
		managed, merr := opts.History.ManageContext(ctx, hist, iteration)
		if merr != nil {
			return Result{}, false, hist, fmt.Errorf("react: manage context: %w", merr)
		}
		if len(managed) != len(hist) {
			sink.Emit(events.Event{Type: events.TypeCompressed, AfterCount: len(managed), Iteration: iteration})
		}
		hist = managed
	}

	resp, cerr := callLLM(ctx, opts, hist, toolDefs, iteration, sink)
	if cerr != nil {
		if opts.History != nil && history.IsContextLengthError(cerr.Error()) {
			sink.Emit(events.Event{Type: events.TypeContextLengthError, Error: cerr.Error(), HistoryLen: len(hist)})
			var herr error
			hist, herr = opts.History.HandleContextLengthError(ctx, hist)
			if herr != nil {
				return Result{}, false, hist, fmt.Errorf("react: handle context-length error: %w", herr)
			}
			resp, cerr = opts.LLMClient.Chat(ctx, hist, llm.Options{SystemPrompt: opts.SystemPrompt, Tools: toolDefs})
			if cerr != nil {
				return Result{}, false, hist, cerr
			}
		} else {
			return Result{}, false, hist, cerr
		}
	}

	if len(resp.ToolCalls) > 0 {
		hist = append(hist, llm.Message{Role: llm.RoleAssistant, Text: resp.Text, ToolCalls: resp.ToolCalls})

		final, finalResult, derr := dispatchToolCalls(ctx, opts, resp.ToolCalls, iteration, sink, &hist)
		if derr != nil {
			return Result{}, false, hist, derr
		}
		if final {
			return finalResult, true, hist, nil
		}
		return Result{}, false, hist, nil
	}

	hist = append(hist, llm.Message{Role: llm.RoleAssistant, Text: resp.Text})
	if resp.Text != "" {
		return Result{
			Data:         map[string]any{"response": resp.Text},
			Summary:      resp.Text,
			FinishReason: nonEmptyOr(resp.FinishReason, "stop"),
			Iterations:   iteration,
		}, true, hist, nil
	}

	sink.Emit(events.Event{Type: events.TypeWarning, Message: "no tool calls and no text response", FinishReason: resp.FinishReason, Iteration: iteration})
	return Result{
		Data:         map[string]any{"response": ""},
		Summary:      "",
		FinishReason: resp.FinishReason,
		Iterations:   iteration,
	}, true, hist, nil
}

// callLLM performs one LLM call, streaming when requested and supported.
func callLLM(ctx context.Context, opts Options, hist []llm.Message, toolDefs []llm.ToolDefinition, iteration int, sink events.Sink) (llm.Response, error) {
	llmOpts := llm.Options{SystemPrompt: opts.SystemPrompt, Tools: toolDefs}

	if !opts.StreamingEnabled {
		return opts.LLMClient.Chat(ctx, hist, llmOpts)
	}

	resp, err := llm.StreamToResponse(ctx, opts.LLMClient, hist, llmOpts, func(delta string) {
		sink.Emit(events.Event{Type: events.TypeStreamText, TextDelta: delta, Iteration: iteration})
		if opts.OnTextDelta != nil {
			opts.OnTextDelta(delta)
		}
	})
	if err != nil {
		return resp, err
	}
	sink.Emit(events.Event{Type: events.TypeStreamFinish, FinishReason: resp.FinishReason, Usage: llm.AsEventUsage(resp.Usage), Iteration: iteration})
	return resp, nil
}

// dispatchToolCalls executes every tool call in order, appending
// tool-result messages to *hist. It returns final=true the moment any
// call's result carries the __final_result__ sentinel, short-circuiting
// the remaining calls in the batch exactly as a loop-terminating return
// would.
func dispatchToolCalls(ctx context.Context, opts Options, calls []llm.ToolCall, iteration int, sink events.Sink, hist *[]llm.Message) (final bool, result Result, err error) {
	total := len(calls)
	for i, tc := range calls {
		sink.Emit(events.Event{
			Type: events.TypeAction, ToolCallID: tc.ID, ToolName: tc.Name,
			Input: tc.Input, Iteration: iteration, TotalCalls: total,
		})

		res, execErr := opts.ToolExecutor.Execute(ctx, tc.Name, tc.Input)
		if execErr == nil && res.IsError {
			execErr = fmt.Errorf("%s", res.Error)
		}
		if execErr != nil {
			sink.Emit(events.Event{
				Type: events.TypeObservationError, ToolCallID: tc.ID, ToolName: tc.Name,
				Error: execErr.Error(), Iteration: iteration,
			})
			*hist = append(*hist, llm.Message{
				Role: llm.RoleToolResult, ToolCallID: tc.ID, Content: execErr.Error(), IsError: true,
			})
			continue
		}

		if stripped, ok := toolkit.ExtractFinalResult(res.Value); ok {
			sink.Emit(events.Event{
				Type: events.TypeObservation, ToolCallID: tc.ID, ToolName: tc.Name,
				Result: stripped, Iteration: iteration, IsFinal: true,
			})
			if unexecuted := total - i - 1; unexecuted > 0 {
				slog.Warn("react: final-result sentinel with unexecuted tool calls in batch",
					"toolName", tc.Name, "unexecuted", unexecuted)
			}
			return true, Result{
				Data:         stripped,
				Summary:      fmt.Sprintf("Task completed: %s generated final result", tc.Name),
				FinishReason: "stop",
				Iterations:   iteration,
			}, nil
		}

		sink.Emit(events.Event{
			Type: events.TypeObservation, ToolCallID: tc.ID, ToolName: tc.Name,
			Result: res.Value, Iteration: iteration,
		})
		*hist = append(*hist, llm.Message{
			Role: llm.RoleToolResult, ToolCallID: tc.ID, Content: fmt.Sprint(res.Value),
		})
	}
	return false, Result{}, nil
}

func toolDefinitions(set toolkit.Set) []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(set))
	for _, d := range set {
		defs = append(defs, llm.ToolDefinition{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema})
	}
	return defs
}

func nonEmptyOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
