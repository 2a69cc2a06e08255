// Package orchestrator is the top-level facade: register agents, submit
// a workflow graph, get back a Result. Grounded on
// Team's registration/execution facade (team/team.go), replacing its
// config-file-driven agent construction with direct Agent registration
// since configuration loading is out of scope here.
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/flowforge/orchestrator/agent"
	"github.com/flowforge/orchestrator/events"
	"github.com/flowforge/orchestrator/execctx"
	"github.com/flowforge/orchestrator/logging"
	"github.com/flowforge/orchestrator/progress"
	"github.com/flowforge/orchestrator/scheduler"
	"github.com/flowforge/orchestrator/telemetry"
	"github.com/flowforge/orchestrator/workflow"
)

// Status is a workflow execution's terminal outcome.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// Result is the outcome of one Execute call.
type Result struct {
	WorkflowID string
	Status     Status
	Outputs    map[string]any
	Nodes      map[string]execctx.NodeState
	Duration   time.Duration
	Err        error
}

// yamlResult is Result's YAML-serializable projection: Err is flattened
// to a string and Nodes uses execctx.YAMLNodeState so the whole value
// round-trips through yaml.v3 without custom marshalers on error types.
type yamlResult struct {
	WorkflowID string                            `yaml:"workflowId"`
	Status     Status                            `yaml:"status"`
	Outputs    map[string]any                    `yaml:"outputs,omitempty"`
	Nodes      map[string]execctx.YAMLNodeState  `yaml:"nodes"`
	Duration   time.Duration                     `yaml:"duration"`
	Error      string                            `yaml:"error,omitempty"`
}

// ToYAML marshals the result for observers that want to persist a
// workflow's outcome outside the process.
func (r Result) ToYAML() ([]byte, error) {
	nodes := make(map[string]execctx.YAMLNodeState, len(r.Nodes))
	for id, n := range r.Nodes {
		y := execctx.YAMLNodeState{Status: n.Status, Output: n.Output, StartedAt: n.StartedAt, EndedAt: n.EndedAt, RetryCount: n.RetryCount}
		if n.Err != nil {
			y.Error = n.Err.Error()
		}
		nodes[id] = y
	}
	yr := yamlResult{WorkflowID: r.WorkflowID, Status: r.Status, Outputs: r.Outputs, Nodes: nodes, Duration: r.Duration}
	if r.Err != nil {
		yr.Error = r.Err.Error()
	}
	return yaml.Marshal(yr)
}

// Orchestrator registers agents by their declared identifier and
// executes workflows against them. One Orchestrator drives one
// workflow at a time; independent Orchestrator instances never
// coordinate.
type Orchestrator struct {
	mu     sync.RWMutex
	agents map[string]*agent.BaseAgent
}

// New creates an empty Orchestrator.
func New() *Orchestrator {
	return &Orchestrator{agents: make(map[string]*agent.BaseAgent)}
}

// RegisterAgent registers a, keyed by its declared ID. A duplicate
// registration overwrites the previous entry.
func (o *Orchestrator) RegisterAgent(a *agent.BaseAgent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.agents[a.ID()]; exists {
		logging.Default().Debug("orchestrator: overwriting agent registration", "agentId", a.ID())
	}
	o.agents[a.ID()] = a
}

// Resolve implements workflow.Resolver: exact match on "<type>-agent",
// then exact id match on type, then case-insensitive substring match on
// id or name.
func (o *Orchestrator) Resolve(nodeType string) (*agent.BaseAgent, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if a, ok := o.agents[nodeType+"-agent"]; ok {
		return a, true
	}
	if a, ok := o.agents[nodeType]; ok {
		return a, true
	}

	lower := strings.ToLower(nodeType)
	for id, a := range o.agents {
		if strings.Contains(strings.ToLower(id), lower) || strings.Contains(strings.ToLower(a.Name()), lower) {
			return a, true
		}
	}
	return nil, false
}

// Execute validates and levels the workflow's node graph, runs it
// through a fresh workflow.Executor, and reports a final Result with a
// status derived from the terminal node states.
func (o *Orchestrator) Execute(ctx context.Context, nodes []workflow.Node, opts workflow.Options) Result {
	workflowID := uuid.NewString()

	ctx, span := telemetry.Tracer().Start(ctx, "orchestrator.workflow",
		trace.WithAttributes(attribute.String("workflow.id", workflowID)))
	defer span.End()

	sink := opts.Sink
	if sink == nil {
		sink = events.Discard
	}

	tracker := progress.NewTracker(len(nodes))
	tracker.SetTotalSteps(totalSteps(nodes))
	if levels, lerr := scheduler.Schedule(schedNodesOf(nodes)); lerr == nil {
		tracker.SetParallelLevelCount(len(levels))
	}
	fanout := events.Fanout(sink, tracker.Sink())
	opts.Sink = fanout

	logging.Default().Info("orchestrator: workflow starting", "workflowId", workflowID, "nodes", len(nodes))

	start := time.Now()
	fanout.Emit(events.Event{Type: events.TypeWorkflowStart, WorkflowID: workflowID})

	exec := workflow.New(o)
	ec, err := exec.Run(ctx, nodes, opts)
	duration := time.Since(start)

	if ec == nil {
		logging.Default().Error("orchestrator: workflow aborted before a context was built", "workflowId", workflowID, "err", err)
		span.RecordError(err)
		fanout.Emit(events.Event{Type: events.TypeWorkflowError, WorkflowID: workflowID, Error: err.Error(), Duration: duration})
		return Result{WorkflowID: workflowID, Status: StatusFailed, Duration: duration, Err: err}
	}

	snapshot := ec.Snapshot()
	status := deriveStatus(snapshot, err, opts.ContinueOnError)

	if status == StatusFailed {
		msg := ""
		if err != nil {
			msg = err.Error()
			span.RecordError(err)
		}
		logging.Default().Error("orchestrator: workflow failed", "workflowId", workflowID, "duration", duration, "err", msg)
		fanout.Emit(events.Event{Type: events.TypeWorkflowError, WorkflowID: workflowID, Error: msg, Duration: duration})
	} else {
		logging.Default().Info("orchestrator: workflow finished", "workflowId", workflowID, "status", status, "duration", duration)
		fanout.Emit(events.Event{Type: events.TypeWorkflowComplete, WorkflowID: workflowID, Duration: duration})
	}

	return Result{
		WorkflowID: workflowID,
		Status:     status,
		Outputs:    ec.Outputs(),
		Nodes:      snapshot,
		Duration:   duration,
		Err:        err,
	}
}

// totalSteps sums every node's declared Steps count, counting a node
// with no declared steps as one step, for the progress tracker's
// TotalSteps metric.
func totalSteps(nodes []workflow.Node) int {
	n := 0
	for _, node := range nodes {
		if len(node.Steps) == 0 {
			n++
			continue
		}
		n += len(node.Steps)
	}
	return n
}

// schedNodesOf projects workflow.Node down to scheduler.Node for a
// metrics-only pre-leveling pass; the authoritative leveling (and its
// validation error, if any) happens inside workflow.Executor.Run.
func schedNodesOf(nodes []workflow.Node) []scheduler.Node {
	out := make([]scheduler.Node, len(nodes))
	for i, n := range nodes {
		out[i] = n.Node
	}
	return out
}

// deriveStatus computes the final workflow status: completed iff every
// node completed; partial iff at least one completed and at least one
// failed with continueOnError set; failed otherwise.
func deriveStatus(snapshot map[string]execctx.NodeState, runErr error, continueOnError bool) Status {
	completed, failed := 0, 0
	for _, n := range snapshot {
		switch n.Status {
		case execctx.NodeStatusCompleted:
			completed++
		case execctx.NodeStatusFailed:
			failed++
		}
	}

	switch {
	case failed == 0 && runErr == nil:
		return StatusCompleted
	case completed > 0 && failed > 0 && continueOnError:
		return StatusPartial
	default:
		return StatusFailed
	}
}
