// Package execctx holds the shared mutable state one workflow execution
// passes between its nodes: per-node status, the single-writer outputs
// map, the freely-shared value store, and a latched cancellation signal.
// Grounded on workflow.ExecutionContext in the teacher repo
// (workflow/executor.go), trimmed of the HTTP-request/config fields that
// don't belong in a domain-agnostic scheduler.
package execctx

import (
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flowforge/orchestrator/logging"
)

// Status is the workflow-level execution state, distinct from any one
// node's NodeStatus: running until the workflow Executor calls
// MarkCompleted or MarkFailed once the leveled run finishes.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// NodeStatus is a node's position in its lifecycle state machine:
// pending -> running -> {completed, failed}. Completed is terminal; a
// failed node goes back to running when the Executor retries it.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
)

// NodeState is the per-node execution record: its status, result (once
// terminal), timing, and how many times it has been retried.
type NodeState struct {
	Status     NodeStatus
	Output     any
	Err        error
	StartedAt  time.Time
	EndedAt    time.Time
	RetryCount int
}

// Context is the shared state one workflow execution's nodes read and
// write as they run. Safe for concurrent use: every node in a scheduler
// level accesses the same Context from its own goroutine.
type Context struct {
	mu sync.RWMutex

	nodes map[string]*NodeState

	// outputs holds the single published result per node, write-once:
	// CompleteNode on a node ID that already has an output panics, since
	// that would indicate two nodes racing to write the same key.
	outputs map[string]any

	// vals is the free-form key/value store any node may read or write,
	// used by context tools (valSet/valGet/valList) to pass ad hoc data
	// between agents that aren't wired through a direct dependency edge.
	vals map[string]any

	cancelled bool
	cancelCh  chan struct{}

	status Status

	startedAt time.Time
}

// New creates a Context for a workflow of the given node IDs, all
// starting in NodeStatusPending.
func New(nodeIDs []string) *Context {
	nodes := make(map[string]*NodeState, len(nodeIDs))
	for _, id := range nodeIDs {
		nodes[id] = &NodeState{Status: NodeStatusPending}
	}
	return &Context{
		nodes:     nodes,
		outputs:   make(map[string]any, len(nodeIDs)),
		vals:      make(map[string]any),
		cancelCh:  make(chan struct{}),
		status:    StatusRunning,
		startedAt: time.Now(),
	}
}

// Status returns the workflow's current overall status.
func (c *Context) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// MarkCompleted transitions the workflow to completed. A no-op once the
// workflow has already reached a terminal status.
func (c *Context) MarkCompleted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminalLocked() {
		return
	}
	c.status = StatusCompleted
}

// MarkFailed transitions the workflow to failed. A no-op once the
// workflow has already reached a terminal status. err is accepted for
// symmetry with FailNode's signature but not stored; the workflow's
// terminal error lives on the orchestrator Result, not the Context.
func (c *Context) MarkFailed(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminalLocked() {
		return
	}
	if c.cancelled {
		c.status = StatusCancelled
		return
	}
	c.status = StatusFailed
}

func (c *Context) terminalLocked() bool {
	return c.status == StatusCompleted || c.status == StatusFailed || c.status == StatusCancelled
}

// StartNode transitions a node from pending to running and records its
// start time.
func (c *Context) StartNode(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.nodeLocked(id)
	n.Status = NodeStatusRunning
	n.StartedAt = time.Now()
}

// CompleteNode transitions a node to completed, publishing its output.
func (c *Context) CompleteNode(id string, output any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.nodeLocked(id)
	n.Status = NodeStatusCompleted
	n.Output = output
	n.EndedAt = time.Now()
	c.setOutputLocked(id, output)
}

// FailNode transitions a node to failed, recording its error.
func (c *Context) FailNode(id string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.nodeLocked(id)
	n.Status = NodeStatusFailed
	n.Err = err
	n.EndedAt = time.Now()
}

// RecordRetry increments a node's retry count, called by the Executor
// once per retried invocation (never on the first attempt).
func (c *Context) RecordRetry(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.nodeLocked(id)
	n.RetryCount++
}

// NodeState returns a copy of the node's current state.
func (c *Context) NodeState(id string) NodeState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *c.nodeLocked(id)
}

// nodeLocked must be called with mu held. It lazily creates missing
// entries so callers never need a pre-registration step for ad hoc
// nodes created during a dynamic extension of a workflow (not part of
// standard execution but kept for test scaffolding).
func (c *Context) nodeLocked(id string) *NodeState {
	n, ok := c.nodes[id]
	if !ok {
		n = &NodeState{Status: NodeStatusPending}
		c.nodes[id] = n
	}
	return n
}

// setOutputLocked enforces the single-writer-per-key invariant: a node
// ID may publish its output exactly once.
func (c *Context) setOutputLocked(id string, output any) {
	if _, exists := c.outputs[id]; exists {
		panic("execctx: output for node " + id + " already set")
	}
	c.outputs[id] = output
}

// Output returns a node's published output, if any.
func (c *Context) Output(id string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.outputs[id]
	return v, ok
}

// Outputs returns a snapshot of every published node output, keyed by
// node ID. The orchestrator reports this map as its Result.Outputs.
func (c *Context) Outputs() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.outputs))
	for k, v := range c.outputs {
		out[k] = v
	}
	return out
}

// SetVal stores a value in the shared key/value store, overwriting any
// existing value at key. Unlike outputs, vals has no single-writer
// restriction.
func (c *Context) SetVal(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals[key] = value
}

// GetVal retrieves a value from the shared key/value store.
func (c *Context) GetVal(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vals[key]
	return v, ok
}

// ListVals returns the keys currently present in the shared value store.
func (c *Context) ListVals() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.vals))
	for k := range c.vals {
		keys = append(keys, k)
	}
	return keys
}

// Cancel latches the cancellation signal. Idempotent: calling it more
// than once has no further effect. Nodes already running are expected to
// observe Done() and stop at their next checkpoint; Cancel does not
// forcibly interrupt a running goroutine.
func (c *Context) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled {
		return
	}
	c.cancelled = true
	close(c.cancelCh)
	logging.Default().Warn("execctx: workflow cancelled")
}

// Cancelled reports whether Cancel has been called.
func (c *Context) Cancelled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cancelled
}

// Done returns a channel closed when Cancel is called, suitable for use
// in a select alongside a context.Context's Done channel.
func (c *Context) Done() <-chan struct{} {
	return c.cancelCh
}

// Duration returns elapsed wall-clock time since the Context was
// created.
func (c *Context) Duration() time.Duration {
	return time.Since(c.startedAt)
}

// Snapshot captures the terminal state of every node known to the
// Context at the time of the call, for building a final execution
// result or an in-flight progress report.
func (c *Context) Snapshot() map[string]NodeState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]NodeState, len(c.nodes))
	for id, n := range c.nodes {
		out[id] = *n
	}
	return out
}

// YAMLNodeState is the YAML-serializable view of a NodeState: Err is
// flattened to a string since error values don't round-trip through
// yaml.v3 on their own.
type YAMLNodeState struct {
	Status     NodeStatus `yaml:"status"`
	Output     any        `yaml:"output,omitempty"`
	Error      string     `yaml:"error,omitempty"`
	StartedAt  time.Time  `yaml:"startedAt"`
	EndedAt    time.Time  `yaml:"endedAt,omitempty"`
	RetryCount int        `yaml:"retryCount,omitempty"`
}

// SnapshotYAML marshals the current node-state snapshot to YAML, for
// observers that want to persist a workflow run's terminal state outside
// the process (e.g. to a log file or artifact store).
func (c *Context) SnapshotYAML() ([]byte, error) {
	snapshot := c.Snapshot()
	out := make(map[string]YAMLNodeState, len(snapshot))
	for id, n := range snapshot {
		y := YAMLNodeState{Status: n.Status, Output: n.Output, StartedAt: n.StartedAt, EndedAt: n.EndedAt, RetryCount: n.RetryCount}
		if n.Err != nil {
			y.Error = n.Err.Error()
		}
		out[id] = y
	}
	return yaml.Marshal(out)
}
