// Package progress implements an append-only event log and aggregate
// execution metrics for a workflow run, grounded on
// pkg/context/progress_tracker.go's atomic-counter design (total/
// processed/indexed/failed counts, best-effort memory sampling) adapted
// from file-indexing progress to workflow-node progress, and exposing
// the same aggregates as Prometheus gauges/histograms the way
// pkg/observability wires client_golang.
package progress

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowforge/orchestrator/events"
)

// DefaultRingBufferCap is the ring buffer's capacity, chosen well above
// a typical single workflow's event count.
const DefaultRingBufferCap = 2048

// Tracker maintains a bounded append-only event log and running
// aggregates (node-duration sum/count, peak memory) for one workflow
// execution.
type Tracker struct {
	mu  sync.Mutex
	cap int

	ring  []events.Event
	start int
	count int

	totalNodes         int
	totalSteps         int
	parallelLevelCount int
	completed          int
	failed             int
	durationSum        time.Duration
	durationCount      int
	peakMemory         uint64

	metrics *metricSet
}

// NewTracker creates a Tracker for a workflow with totalNodes known up
// front. The step and level counts are recorded separately through
// SetTotalSteps and SetParallelLevelCount.
func NewTracker(totalNodes int) *Tracker {
	return &Tracker{
		cap:        DefaultRingBufferCap,
		ring:       make([]events.Event, DefaultRingBufferCap),
		totalNodes: totalNodes,
		metrics:    newMetricSet(),
	}
}

// SetTotalSteps records the total step count across every node's Steps
// slice, for the progress aggregate's TotalSteps field.
func (t *Tracker) SetTotalSteps(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalSteps = n
}

// SetParallelLevelCount records the number of scheduler levels this
// workflow was leveled into, for the progress aggregate's
// ParallelLevelCount field.
func (t *Tracker) SetParallelLevelCount(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.parallelLevelCount = n
}

// Sink returns an events.Sink that appends every event to the ring
// buffer and updates aggregates for node lifecycle events. Orchestrator
// fans out to this sink alongside any external subscriber sink.
func (t *Tracker) Sink() events.Sink {
	return events.SinkFunc(func(e events.Event) {
		t.record(e)
	})
}

func (t *Tracker) record(e events.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.append(e)
	t.sampleMemory()

	switch e.Type {
	case events.TypeAgentComplete:
		t.completed++
		t.durationSum += e.Duration
		t.durationCount++
		t.metrics.nodeDuration.Observe(e.Duration.Seconds())
	case events.TypeAgentError:
		t.failed++
	}
	t.metrics.completed.Set(float64(t.completed))
	t.metrics.failed.Set(float64(t.failed))
}

func (t *Tracker) append(e events.Event) {
	idx := (t.start + t.count) % t.cap
	t.ring[idx] = e
	if t.count < t.cap {
		t.count++
	} else {
		t.start = (t.start + 1) % t.cap
	}
}

// sampleMemory takes a best-effort reading of process memory via
// runtime.MemStats. Callers that don't care can ignore PeakMemory in the
// Metrics snapshot.
func (t *Tracker) sampleMemory() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.Sys > t.peakMemory {
		t.peakMemory = ms.Sys
		t.metrics.peakMemory.Set(float64(ms.Sys))
	}
}

// Events returns a copy of the current event log in emission order.
func (t *Tracker) Events() []events.Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]events.Event, t.count)
	for i := 0; i < t.count; i++ {
		out[i] = t.ring[(t.start+i)%t.cap]
	}
	return out
}

// Metrics is the aggregate snapshot of a workflow's progress so far.
type Metrics struct {
	TotalNodes             int
	TotalSteps             int
	ParallelLevelCount     int
	Completed              int
	Failed                 int
	AverageNodeDuration    time.Duration
	PeakMemoryBytes        uint64
	ProgressFraction       float64
	EstimatedTimeRemaining time.Duration
}

// Snapshot computes the current Metrics, returning zero values for the
// derived fields when there is no data yet.
func (t *Tracker) Snapshot() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := Metrics{
		TotalNodes:         t.totalNodes,
		TotalSteps:         t.totalSteps,
		ParallelLevelCount: t.parallelLevelCount,
		Completed:          t.completed,
		Failed:             t.failed,
		PeakMemoryBytes:    t.peakMemory,
	}

	if t.durationCount > 0 {
		m.AverageNodeDuration = t.durationSum / time.Duration(t.durationCount)
	}
	if t.totalNodes > 0 {
		m.ProgressFraction = float64(t.completed+t.failed) / float64(t.totalNodes)
		remaining := t.totalNodes - t.completed
		if remaining < 0 {
			remaining = 0
		}
		m.EstimatedTimeRemaining = m.AverageNodeDuration * time.Duration(remaining)
	}
	return m
}

// metricSet bundles the Prometheus collectors a Tracker publishes.
// Each Tracker owns its own unregistered collectors so the trackers of
// separate workflow runs don't collide; the caller
// registers them with its own registry.
type metricSet struct {
	completed    prometheus.Gauge
	failed       prometheus.Gauge
	nodeDuration prometheus.Histogram
	peakMemory   prometheus.Gauge
}

func newMetricSet() *metricSet {
	return &metricSet{
		completed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orchestrator_nodes_completed",
			Help: "Number of workflow nodes that completed successfully.",
		}),
		failed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orchestrator_nodes_failed",
			Help: "Number of workflow nodes that failed.",
		}),
		nodeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "orchestrator_node_duration_seconds",
			Help:    "Duration of individual node executions.",
			Buckets: prometheus.DefBuckets,
		}),
		peakMemory: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orchestrator_peak_memory_bytes",
			Help: "Best-effort peak process memory observed during execution.",
		}),
	}
}

// Collectors returns the Prometheus collectors for registration with a
// caller-owned registry. The core never registers globally, leaving that
// to the embedding application.
func (t *Tracker) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		t.metrics.completed,
		t.metrics.failed,
		t.metrics.nodeDuration,
		t.metrics.peakMemory,
	}
}
