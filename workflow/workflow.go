// Package workflow drives one workflow execution level by level,
// fanning nodes within a level out concurrently, honoring per-node
// timeouts and retries, and respecting a latched cancellation signal.
// Grounded on team.Team's lifecycle methods (team/team.go) and the
// BaseExecutor/ExecutionContext pairing in workflow/executor.go,
// generalized from the teacher's fixed sequential/parallel/DAG
// executor trio into one level-driven executor over scheduler.Schedule
// output.
package workflow

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/flowforge/orchestrator/agent"
	"github.com/flowforge/orchestrator/errkit"
	"github.com/flowforge/orchestrator/events"
	"github.com/flowforge/orchestrator/execctx"
	"github.com/flowforge/orchestrator/logging"
	"github.com/flowforge/orchestrator/scheduler"
	"github.com/flowforge/orchestrator/telemetry"
)

// DefaultPerNodeTimeout is the Executor-enforced ceiling on a single
// agent invocation when none is configured.
const DefaultPerNodeTimeout = 5 * time.Minute

// Node is one workflow graph node's full declaration, extending
// scheduler.Node with the fields the Executor and BaseAgent need to run
// it.
type Node struct {
	scheduler.Node
	Type  string
	Desc  string
	Steps []string
}

// Resolver resolves a node's declared type string to the Agent that
// should run it, per the three-tier matching rule: exact match on
// `<type>-agent`, exact id match on type, then case-insensitive
// substring match on id or name.
type Resolver interface {
	Resolve(nodeType string) (*agent.BaseAgent, bool)
}

// Options configures one Executor invocation.
type Options struct {
	PerNodeTimeout  time.Duration
	MaxRetries      int
	ContinueOnError bool
	MaxConcurrency  int
	WorkflowTask    string
	Sink            events.Sink
}

func (o Options) perNodeTimeout() time.Duration {
	if o.PerNodeTimeout <= 0 {
		return DefaultPerNodeTimeout
	}
	return o.PerNodeTimeout
}

func (o Options) sink() events.Sink {
	if o.Sink == nil {
		return events.Discard
	}
	return o.Sink
}

// Executor runs a leveled workflow graph against an ExecutionContext.
type Executor struct {
	resolver Resolver
}

// New builds an Executor resolving node types through resolver.
func New(resolver Resolver) *Executor {
	return &Executor{resolver: resolver}
}

// Run schedules nodes and drives every level to completion in order,
// honoring opts. It returns the terminal ExecutionContext and an error
// only when the workflow must be considered failed (an
// unretried/unswallowed node failure, or cancellation). When the graph
// fails validation, it returns a nil ExecutionContext and the scheduler's
// error without running any node.
func (e *Executor) Run(ctx context.Context, nodes []Node, opts Options) (*execctx.Context, error) {
	byID := make(map[string]Node, len(nodes))
	schedNodes := make([]scheduler.Node, 0, len(nodes))
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
		schedNodes = append(schedNodes, n.Node)
		ids = append(ids, n.ID)
	}

	levels, err := scheduler.Schedule(schedNodes)
	if err != nil {
		return nil, err
	}

	ec := execctx.New(ids)
	sink := opts.sink()

	logging.Default().Info("workflow: leveled graph", "levels", len(levels), "nodes", len(nodes))

	for levelIdx, level := range levels {
		if ec.Cancelled() {
			logging.Default().Warn("workflow: cancelled before level start", "level", levelIdx)
			ec.MarkFailed(errkit.Cancelled("workflow", "run"))
			return ec, errkit.Cancelled("workflow", "run")
		}

		logging.Default().Debug("workflow: level starting", "level", levelIdx, "nodes", len(level))
		sink.Emit(events.Event{Type: events.TypeLevelStart, Level: levelIdx, AgentCount: len(level)})

		if err := e.runLevel(ctx, level, byID, ec, opts); err != nil {
			logging.Default().Error("workflow: level failed", "level", levelIdx, "err", err)
			ec.MarkFailed(err)
			return ec, err
		}

		sink.Emit(events.Event{Type: events.TypeLevelComplete, Level: levelIdx, AgentCount: len(level)})
	}

	ec.MarkCompleted()
	return ec, nil
}

// runLevel fans a single level's nodes out concurrently, capped by
// opts.MaxConcurrency when set, and awaits them all before returning.
func (e *Executor) runLevel(ctx context.Context, level scheduler.Level, byID map[string]Node, ec *execctx.Context, opts Options) error {
	g, gctx := errgroup.WithContext(ctx)

	var sem *semaphore.Weighted
	if opts.MaxConcurrency > 0 {
		sem = semaphore.NewWeighted(int64(opts.MaxConcurrency))
	}

	for _, nodeID := range level {
		nodeID := nodeID
		node := byID[nodeID]

		g.Go(func() error {
			if sem != nil {
				if err := sem.Acquire(gctx, 1); err != nil {
					return err
				}
				defer sem.Release(1)
			}
			return e.runNode(gctx, node, ec, opts)
		})
	}

	return g.Wait()
}

// runNode invokes a single node's Agent with retry-on-retryable-failure
// and a per-node timeout, updating ec and emitting lifecycle events
// throughout.
func (e *Executor) runNode(ctx context.Context, node Node, ec *execctx.Context, opts Options) error {
	ctx, span := telemetry.Tracer().Start(ctx, "workflow.node",
		trace.WithAttributes(attribute.String("node.id", node.ID), attribute.String("node.type", node.Type)))
	defer span.End()

	sink := events.WithNodeID(opts.sink(), node.ID)

	a, ok := e.resolver.Resolve(node.Type)
	if !ok {
		err := errkit.New("workflow", "resolve", fmt.Sprintf("no agent registered for type %q", node.Type), nil)
		ec.FailNode(node.ID, err)
		return err
	}

	meta := agent.NodeMetadata{
		NodeID: node.ID, Desc: node.Desc, Steps: node.Steps,
		WorkflowTask: opts.WorkflowTask, Dependencies: node.Dependencies,
	}

	policy := errkit.DefaultRetryPolicy()
	policy.MaxRetries = opts.MaxRetries
	retrier := errkit.NewRetrier(policy)

	var result agent.ExecutionResult
	retryErr := retrier.Do(ctx, func(attempt int) error {
		if ec.Cancelled() {
			err := errkit.Cancelled("workflow", "run-node")
			ec.FailNode(node.ID, err)
			return err
		}

		if attempt > 1 {
			retryCount := attempt - 1
			ec.RecordRetry(node.ID)
			logging.Default().Warn("workflow: retrying node", "node", node.ID, "attempt", retryCount)
			sink.Emit(events.Event{Type: events.TypeAgentRetry, NodeID: node.ID, RetryAttempt: retryCount})
		}

		ec.StartNode(node.ID)

		nodeCtx, cancel := context.WithTimeout(ctx, opts.perNodeTimeout())
		defer cancel()

		var err error
		result, err = a.Run(nodeCtx, meta, ec, sink)
		if err == nil {
			ec.CompleteNode(node.ID, result)
			return nil
		}

		if nodeCtx.Err() == context.DeadlineExceeded {
			err = errkit.Timeout("workflow", "run-node")
		}
		ec.FailNode(node.ID, err)
		return err
	})

	if retryErr == nil {
		return nil
	}

	span.RecordError(retryErr)
	if opts.ContinueOnError {
		return nil
	}
	return retryErr
}
