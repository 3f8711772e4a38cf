package workflow

import (
	"sync"
	"time"

	"github.com/moduly/engine/internal/model"
)

// LogTaskKind enumerates the log-queue task names from spec.md §6.
type LogTaskKind string

const (
	LogCreateRun        LogTaskKind = "log.create_run"
	LogUpdateRunFinish  LogTaskKind = "log.update_run_finish"
	LogUpdateRunError   LogTaskKind = "log.update_run_error"
	LogCreateNode       LogTaskKind = "log.create_node"
	LogUpdateNodeFinish LogTaskKind = "log.update_node_finish"
	LogUpdateNodeError  LogTaskKind = "log.update_node_error"
)

// LogTask is one task enqueued on the `log` broker queue. The engine never
// writes to the relational store directly on the hot path (spec.md §4.2);
// it only produces these tasks.
type LogTask struct {
	Kind    LogTaskKind
	Run     *model.Run
	NodeRun *model.NodeRun
}

// LogPublisher enqueues LogTasks. Implemented by internal/broker against
// NATS JetStream's `log` stream.
type LogPublisher interface {
	PublishLog(task LogTask) error
}

// RunContext carries everything a node needs to execute plus the run-wide
// coordination state the scheduler mutates. One RunContext exists per
// top-level run or nested sub-engine invocation (spec.md §4.1
// sub-workflows/loops).
type RunContext struct {
	RunID         string
	WorkflowID    string
	ParentRunID   string // non-empty for sub-workflows / loop iterations
	IsSubworkflow bool
	Registry      *Registry
	Emitter       Emitter
	Log           LogPublisher
	NewNodeRunID  func() string
	Clock         func() time.Time
	Usage         *UsageAccumulator // shared with sub-workflow/loop-iteration RunContexts, nil-safe
	Checkpoints   CheckpointStore   // nil-safe; set by the owning binary to enable resume-after-crash
}

// UsageAccumulator aggregates a run's LLM token/cost usage, including
// usage from its sub-workflow and loop-iteration children (they copy the
// parent's pointer rather than starting their own), mirroring the
// graph/cost.go's CostTracker mutex-protected running totals.
type UsageAccumulator struct {
	mu   sync.Mutex
	data model.Usage
}

// NewUsageAccumulator returns an empty accumulator ready to share across a
// run and its sub-engines.
func NewUsageAccumulator() *UsageAccumulator {
	return &UsageAccumulator{}
}

// Add records one LLM call's token usage and cost. Safe to call on a nil
// receiver (a RunContext with no Usage configured, e.g. in tests).
func (u *UsageAccumulator) Add(promptTokens, completionTokens int, costUSD float64) {
	if u == nil {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.data.PromptTokens += int64(promptTokens)
	u.data.CompletionTokens += int64(completionTokens)
	u.data.TotalTokens += int64(promptTokens + completionTokens)
	u.data.CostUSD += costUSD
}

// Snapshot returns the accumulated totals so far. Safe to call on a nil
// receiver, returning the zero Usage.
func (u *UsageAccumulator) Snapshot() model.Usage {
	if u == nil {
		return model.Usage{}
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.data
}

func (rc *RunContext) now() time.Time {
	if rc.Clock != nil {
		return rc.Clock()
	}
	return time.Now()
}

func (rc *RunContext) newID() string {
	if rc.NewNodeRunID != nil {
		return rc.NewNodeRunID()
	}
	return newUUID()
}

// emit publishes ev on rc.Emitter. Skipped entirely for sub-workflows and
// loop iterations, which share the parent run's id and Emitter but must
// never publish their own workflow_start/node_start/node_finish/
// workflow_finish onto that run's channel (spec.md §4.1: workflowNode runs
// "with a flag suppressing event publication and new run creation"; §8 "no
// ghost runs" requires exactly one workflow_finish per run id).
func (rc *RunContext) emit(ev Event) {
	if rc.Emitter == nil || rc.IsSubworkflow {
		return
	}
	ev.Data.RunID = rc.RunID
	_ = rc.Emitter.Emit(rc.RunID, ev)
}

// publishNodeLog enqueues a node-level log task. Sub-workflow node runs are
// still logged, attributed to ParentRunID, so they remain independent of
// IsSubworkflow.
func (rc *RunContext) publishNodeLog(task LogTask) {
	if rc.Log == nil {
		return
	}
	_ = rc.Log.PublishLog(task)
}

// publishRunLog enqueues a run-level log task (create/finish/error). Skipped
// entirely for sub-workflows and loop iterations, which never own a Run row
// (spec.md §4.1).
func (rc *RunContext) publishRunLog(task LogTask) {
	if rc.Log == nil || rc.IsSubworkflow {
		return
	}
	_ = rc.Log.PublishLog(task)
}
