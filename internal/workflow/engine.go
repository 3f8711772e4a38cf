// Package workflow implements the graph execution engine (spec.md §4.1):
// validation, a readiness-driven bounded-concurrency scheduler, value
// selectors for node input views, and the five emitted event types.
//
// The scheduling loop is a direct generalization of graph/engine.go's
// Engine concurrency gate from a static
// state type parameter to the dynamic model.Value tree, with branching
// resolved by handle label (spec.md §4.1.3) instead of edge predicates.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/moduly/engine/internal/engineerr"
	"github.com/moduly/engine/internal/model"
	"github.com/moduly/engine/internal/obs"
)

const (
	DefaultGateWidth        = 10
	DefaultNodeTimeout      = 300 * time.Second
	DefaultWorkflowTimeout  = 600 * time.Second
)

// Engine executes one validated Graph.
type Engine struct {
	Graph           model.Graph
	Index           Indexes
	GateWidth       int
	NodeTimeout     time.Duration
	WorkflowTimeout time.Duration
	EntryPointIDs   []string
	Metrics         *obs.Metrics // nil-safe; set by the owning binary to expose node_latency_ms/inflight_nodes
}

// ConfigValidator checks every node's configuration against its per-type
// schema (spec.md §9: "Node configuration is validated against a per-type
// schema at graph load"). Implemented by nodes.SchemaSet; kept as an
// interface here to avoid workflow depending on nodes.
type ConfigValidator interface {
	ValidateGraphConfig(g model.Graph) error
}

// New builds an Engine for g, running validation (cycle/trigger/
// reachability) up front, plus per-node config schema validation when cv is
// non-nil. entryPointIDs, when non-empty, bypasses the single-trigger
// requirement for the sub-graph (loop body, sub-workflow) case.
func New(g model.Graph, entryPointIDs []string, cv ...ConfigValidator) (*Engine, error) {
	if len(cv) > 0 && cv[0] != nil {
		if err := cv[0].ValidateGraphConfig(g); err != nil {
			return nil, err
		}
	}
	idx := BuildIndexes(g)
	if err := Validate(g, idx, entryPointIDs); err != nil {
		return nil, err
	}
	return &Engine{
		Graph:           g,
		Index:           idx,
		GateWidth:       DefaultGateWidth,
		NodeTimeout:     DefaultNodeTimeout,
		WorkflowTimeout: DefaultWorkflowTimeout,
		EntryPointIDs:   entryPointIDs,
	}, nil
}

// completion is what a node's goroutine reports back to the scheduler loop.
type completion struct {
	nodeID string
	result Result
	err    error
}

// Run executes the graph to completion, starting from the trigger (or
// EntryPointIDs) with the given raw input, and returns the run's final
// output (the first executed answerNode's output, or the union of all
// results if none — spec.md §4.1).
func (e *Engine) Run(ctx context.Context, rc *RunContext, input model.Value) (model.Value, error) {
	start := e.EntryPointIDs
	if len(start) == 0 {
		for _, n := range e.Graph.Nodes {
			if triggerTypes[n.Type] {
				start = []string{n.ID}
				break
			}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.WorkflowTimeout)
	defer cancel()

	rc.emit(Event{Type: EventWorkflowStart, Data: EventData{RunID: rc.RunID}})

	results := map[string]model.Value{}
	handles := map[string]string{}
	executed := map[string]bool{}
	running := map[string]bool{}
	queued := map[string]bool{}
	var executedOrder []string

	resumed := false
	if rc.Checkpoints != nil && !rc.IsSubworkflow {
		if cp, ok, err := rc.Checkpoints.LoadCheckpoint(ctx, rc.RunID); err == nil && ok && len(cp.Executed) > 0 {
			executedOrder = append(executedOrder, cp.Executed...)
			for _, id := range cp.Executed {
				executed[id] = true
			}
			for id, v := range cp.Results {
				results[id] = v
			}
			for id, h := range cp.Handles {
				handles[id] = h
			}
			resumed = true
		}
	}

	gate := make(chan struct{}, e.GateWidth)
	done := make(chan completion, 64)
	inflight := 0
	var gateWaiting int32 // nodes dispatched but still waiting for a concurrency-gate slot

	submit := func(nodeID string) {
		queued[nodeID] = true
		running[nodeID] = true
		inflight++
		e.Metrics.SetInflightNodes(inflight)
		inputs := e.buildInputs(nodeID, input, results)
		n := e.Index.Nodes[nodeID]
		rc.emit(Event{Type: EventNodeStart, Data: EventData{NodeID: nodeID, NodeType: n.Type}})
		nodeRunID := rc.newID()
		startedAt := rc.now()
		rc.publishNodeLog(LogTask{Kind: LogCreateNode, NodeRun: &model.NodeRun{
			ID: nodeRunID, RunID: rc.RunID, NodeID: nodeID, NodeType: n.Type,
			Status: model.NodeRunRunning, Inputs: inputs, ProcessData: n.Config, StartedAt: startedAt,
		}})

		go func() {
			e.Metrics.SetQueueDepth(int(atomic.AddInt32(&gateWaiting, 1)))
			gate <- struct{}{}
			e.Metrics.SetQueueDepth(int(atomic.AddInt32(&gateWaiting, -1)))
			defer func() { <-gate }()

			nodeCtx := ctx
			var nodeCancel context.CancelFunc
			timeout := e.NodeTimeout
			if n.Timeout != nil {
				timeout = time.Duration(*n.Timeout) * time.Second
			}
			nodeCtx, nodeCancel = context.WithTimeout(ctx, timeout)
			defer nodeCancel()

			impl, err := e.buildNode(rc, n)
			if err != nil {
				done <- completion{nodeID: nodeID, err: err}
				return
			}
			res, err := runWithRecover(nodeCtx, impl, rc, inputs)
			if err == nil && nodeCtx.Err() != nil {
				err = fmt.Errorf("%w: node %s", engineerr.ErrNodeTimeout, nodeID)
			}

			finishedAt := rc.now()
			if err != nil {
				status := "error"
				if errors.Is(err, engineerr.ErrNodeTimeout) {
					status = "timeout"
				}
				e.Metrics.RecordNodeLatency(n.Type, status, finishedAt.Sub(startedAt))
				rc.publishNodeLog(LogTask{Kind: LogUpdateNodeError, NodeRun: &model.NodeRun{
					ID: nodeRunID, RunID: rc.RunID, NodeID: nodeID, NodeType: n.Type,
					Status: model.NodeRunFailed, ErrorMessage: err.Error(),
					StartedAt: startedAt, FinishedAt: &finishedAt,
				}})
			} else {
				e.Metrics.RecordNodeLatency(n.Type, "success", finishedAt.Sub(startedAt))
				rc.publishNodeLog(LogTask{Kind: LogUpdateNodeFinish, NodeRun: &model.NodeRun{
					ID: nodeRunID, RunID: rc.RunID, NodeID: nodeID, NodeType: n.Type,
					Status: model.NodeRunSuccess, Outputs: res.Output,
					StartedAt: startedAt, FinishedAt: &finishedAt,
				}})
			}
			done <- completion{nodeID: nodeID, result: res, err: err}
		}()
	}

	if resumed {
		// Skip already-executed nodes; submit whatever is ready given the
		// restored executed set, which may include the original trigger(s)
		// as well as any entry points (spec.md §4.1's loop/sub-workflow case).
		for _, n := range e.Graph.Nodes {
			if !executed[n.ID] && !queued[n.ID] && e.isReady(n.ID, executed) {
				submit(n.ID)
			}
		}
	} else {
		for _, id := range start {
			submit(id)
		}
	}

	var finalErr error
loop:
	for inflight > 0 {
		select {
		case <-ctx.Done():
			finalErr = fmt.Errorf("%w: workflow timed out after %s", engineerr.ErrWorkflowTimeout, e.WorkflowTimeout)
			rc.emit(Event{Type: EventError, Data: EventData{Message: finalErr.Error()}})
			cancel()
			break loop
		case c := <-done:
			inflight--
			e.Metrics.SetInflightNodes(inflight)
			delete(running, c.nodeID)
			executed[c.nodeID] = true
			executedOrder = append(executedOrder, c.nodeID)

			if c.err != nil {
				finalErr = &engineerr.NodeFailure{NodeID: c.nodeID, Cause: c.err}
				rc.emit(Event{Type: EventError, Data: EventData{NodeID: c.nodeID, Message: c.err.Error()}})
				cancel() // fail-fast: cancel all other in-flight nodes cooperatively
				break loop
			}

			results[c.nodeID] = c.result.Output
			handles[c.nodeID] = c.result.SelectedHandle
			out := c.result.Output
			rc.emit(Event{Type: EventNodeFinish, Data: EventData{NodeID: c.nodeID, NodeType: e.Index.Nodes[c.nodeID].Type, Output: &out}})

			if rc.Checkpoints != nil && !rc.IsSubworkflow {
				snapshotExecuted := append([]string(nil), executedOrder...)
				snapshotResults := copyValueMap(results)
				cp := model.Checkpoint{
					RunID:     rc.RunID,
					Executed:  snapshotExecuted,
					Results:   snapshotResults,
					Handles:   copyStringMap(handles),
					UpdatedAt: rc.now(),
				}
				cp.IdempotencyKey = checkpointIdempotencyKey(snapshotExecuted, snapshotResults)
				_ = rc.Checkpoints.SaveCheckpoint(ctx, cp) // best-effort; resume just replays on failure
			}

			for _, target := range e.outgoingTargets(c.nodeID, c.result.SelectedHandle) {
				if executed[target] || queued[target] || running[target] {
					continue
				}
				if e.isReady(target, executed) {
					submit(target)
				}
			}
		}
	}

	finishedAt := rc.now()
	if finalErr != nil {
		rc.publishRunLog(LogTask{Kind: LogUpdateRunError, Run: &model.Run{
			ID: rc.RunID, WorkflowID: rc.WorkflowID, Status: model.RunFailed,
			ErrorMessage: finalErr.Error(), FinishedAt: &finishedAt, Usage: rc.Usage.Snapshot(),
		}})
		return model.Null(), finalErr
	}

	out := e.finalOutput(executedOrder, results)
	rc.publishRunLog(LogTask{Kind: LogUpdateRunFinish, Run: &model.Run{
		ID: rc.RunID, WorkflowID: rc.WorkflowID, Status: model.RunSuccess,
		Output: out, FinishedAt: &finishedAt, Usage: rc.Usage.Snapshot(),
	}})
	rc.emit(Event{Type: EventWorkflowFinish, Data: EventData{Outputs: &out}})
	return out, nil
}

// outgoingTargets resolves a node's outgoing edges into target node ids: if
// selectedHandle is non-empty only edges whose SourceHandle matches are
// followed (conditional branching, O(1) via the handle index); otherwise
// every outgoing edge is followed (fan-out).
func (e *Engine) outgoingTargets(nodeID, selectedHandle string) []string {
	if selectedHandle != "" {
		return e.Index.ByHandle[handleKey{nodeID, selectedHandle}]
	}
	var targets []string
	for _, edge := range e.Index.Forward[nodeID] {
		targets = append(targets, edge.Target)
	}
	return targets
}

// isReady reports whether all of target's predecessors in the reverse
// adjacency are in executed.
func (e *Engine) isReady(target string, executed map[string]bool) bool {
	for _, pred := range e.Index.Reverse[target] {
		if !executed[pred] {
			return false
		}
	}
	return true
}

// buildInputs constructs a node's input view (spec.md §4.1.4): the trigger
// node sees the raw payload; every other node sees a shallow snapshot of
// the full results map, addressed via value selectors.
func (e *Engine) buildInputs(nodeID string, input model.Value, results map[string]model.Value) model.Value {
	n := e.Index.Nodes[nodeID]
	if triggerTypes[n.Type] {
		return input
	}
	snapshot := map[string]model.Value{}
	for id, v := range results {
		snapshot[id] = v
	}
	return model.Object(snapshot)
}

// finalOutput is the output of the first executed node of type answerNode,
// or the union of all results if none (spec.md §4.1).
func (e *Engine) finalOutput(executedOrder []string, results map[string]model.Value) model.Value {
	for _, id := range executedOrder {
		if e.Index.Nodes[id].Type == "answerNode" {
			return results[id]
		}
	}
	union := map[string]model.Value{}
	for id, v := range results {
		union[id] = v
	}
	return model.Object(union)
}

// buildNode binds a node's stored configuration into a runnable Node via
// the run's registry.
func (e *Engine) buildNode(rc *RunContext, n model.Node) (Node, error) {
	return rc.Registry.Build(n.Type, n.Config)
}

// runWithRecover executes a node, converting any panic into a NodeFailure,
// mirroring graph/timeout.go's executeNodeWithTimeout recover-and-convert
// pattern (graph/timeout.go).
func runWithRecover(ctx context.Context, n Node, rc *RunContext, inputs model.Value) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("node panic: %v", r)
		}
	}()
	return n.Run(ctx, rc, inputs)
}
