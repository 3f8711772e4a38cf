package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/moduly/engine/internal/engineerr"
	"github.com/moduly/engine/internal/model"
)

// funcNode adapts a plain closure to Node without going through a Registry
// builder, for tests that need a handle on call counts/ordering.
type funcNode struct {
	run func(ctx context.Context, rc *RunContext, inputs model.Value) (Result, error)
}

func (f funcNode) Run(ctx context.Context, rc *RunContext, inputs model.Value) (Result, error) {
	return f.run(ctx, rc, inputs)
}

func registryWith(builders map[string]func(model.Value) (Node, error)) *Registry {
	r := NewRegistry()
	for t, b := range builders {
		r.Register(t, b)
	}
	return r
}

// TestEngine_Run_FanOutFanIn exercises two nodes fed by the same trigger
// and a downstream node that depends on both: the engine must not submit
// the fan-in node until every predecessor has completed, regardless of
// which branch finishes first.
func TestEngine_Run_FanOutFanIn(t *testing.T) {
	g := model.Graph{
		Nodes: []model.Node{
			{ID: "start", Type: "startNode"},
			{ID: "slow", Type: "slowNode"},
			{ID: "fast", Type: "fastNode"},
			{ID: "merge", Type: "mergeNode"},
		},
		Edges: []model.Edge{
			{ID: "e1", Source: "start", Target: "slow"},
			{ID: "e2", Source: "start", Target: "fast"},
			{ID: "e3", Source: "slow", Target: "merge"},
			{ID: "e4", Source: "fast", Target: "merge"},
		},
	}
	var mergeInputs model.Value
	reg := registryWith(map[string]func(model.Value) (Node, error){
		"startNode": func(model.Value) (Node, error) {
			return funcNode{func(ctx context.Context, rc *RunContext, inputs model.Value) (Result, error) {
				return Result{Output: inputs}, nil
			}}, nil
		},
		"slowNode": func(model.Value) (Node, error) {
			return funcNode{func(ctx context.Context, rc *RunContext, inputs model.Value) (Result, error) {
				time.Sleep(20 * time.Millisecond)
				return Result{Output: model.String("slow-done")}, nil
			}}, nil
		},
		"fastNode": func(model.Value) (Node, error) {
			return funcNode{func(ctx context.Context, rc *RunContext, inputs model.Value) (Result, error) {
				return Result{Output: model.String("fast-done")}, nil
			}}, nil
		},
		"mergeNode": func(model.Value) (Node, error) {
			return funcNode{func(ctx context.Context, rc *RunContext, inputs model.Value) (Result, error) {
				mergeInputs = inputs
				return Result{Output: model.String("merged")}, nil
			}}, nil
		},
	})

	e, err := New(g, nil)
	if err != nil {
		t.Fatal(err)
	}
	rc := &RunContext{RunID: "run-fanout", Registry: reg}

	if _, err := e.Run(context.Background(), rc, model.Null()); err != nil {
		t.Fatal(err)
	}

	slowOut, ok := mergeInputs.Get("slow")
	if !ok || slowOut.String() != "slow-done" {
		t.Errorf("merge node missing slow branch output: %+v", mergeInputs)
	}
	fastOut, ok := mergeInputs.Get("fast")
	if !ok || fastOut.String() != "fast-done" {
		t.Errorf("merge node missing fast branch output: %+v", mergeInputs)
	}
}

// TestEngine_Run_ConditionalBranching checks that only the edge matching
// the upstream node's SelectedHandle is followed.
func TestEngine_Run_ConditionalBranching(t *testing.T) {
	g := model.Graph{
		Nodes: []model.Node{
			{ID: "start", Type: "startNode"},
			{ID: "branch", Type: "branchNode"},
			{ID: "yes", Type: "sideNode"},
			{ID: "no", Type: "sideNode"},
		},
		Edges: []model.Edge{
			{ID: "e1", Source: "start", Target: "branch"},
			{ID: "e2", Source: "branch", Target: "yes", SourceHandle: "yes"},
			{ID: "e3", Source: "branch", Target: "no", SourceHandle: "no"},
		},
	}
	var mu sync.Mutex
	calls := map[string]int{}
	record := func(id string) {
		mu.Lock()
		calls[id]++
		mu.Unlock()
	}
	reg := NewRegistry()
	reg.Register("startNode", func(model.Value) (Node, error) {
		return funcNode{func(ctx context.Context, rc *RunContext, inputs model.Value) (Result, error) {
			return Result{Output: inputs}, nil
		}}, nil
	})
	reg.Register("branchNode", func(model.Value) (Node, error) {
		return funcNode{func(ctx context.Context, rc *RunContext, inputs model.Value) (Result, error) {
			return Result{Output: model.String("picked-yes"), SelectedHandle: "yes"}, nil
		}}, nil
	})
	makeSide := func(id string) func(model.Value) (Node, error) {
		return func(model.Value) (Node, error) {
			return funcNode{func(ctx context.Context, rc *RunContext, inputs model.Value) (Result, error) {
				record(id)
				return Result{Output: model.String("ran")}, nil
			}}, nil
		}
	}
	reg.Register("yesSide", makeSide("yes"))
	reg.Register("noSide", makeSide("no"))
	g.Nodes[2].Type = "yesSide"
	g.Nodes[3].Type = "noSide"

	e, err := New(g, nil)
	if err != nil {
		t.Fatal(err)
	}
	rc := &RunContext{RunID: "run-branch", Registry: reg}

	if _, err := e.Run(context.Background(), rc, model.Null()); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls["yes"] != 1 {
		t.Errorf("expected the yes branch to run exactly once, ran %d times", calls["yes"])
	}
	if calls["no"] != 0 {
		t.Errorf("expected the no branch to be skipped, ran %d times", calls["no"])
	}
}

// TestEngine_Run_NodeTimeout_FailsRunWithErrNodeTimeout covers a node that
// outlives its per-node deadline while the run-wide WorkflowTimeout (tested
// separately below) is left generous.
func TestEngine_Run_NodeTimeout_FailsRunWithErrNodeTimeout(t *testing.T) {
	g := model.Graph{
		Nodes: []model.Node{
			{ID: "start", Type: "startNode"},
			{ID: "stuck", Type: "stuckNode"},
		},
		Edges: []model.Edge{
			{ID: "e1", Source: "start", Target: "stuck"},
		},
	}
	reg := NewRegistry()
	reg.Register("startNode", func(model.Value) (Node, error) {
		return funcNode{func(ctx context.Context, rc *RunContext, inputs model.Value) (Result, error) {
			return Result{Output: inputs}, nil
		}}, nil
	})
	reg.Register("stuckNode", func(model.Value) (Node, error) {
		return funcNode{func(ctx context.Context, rc *RunContext, inputs model.Value) (Result, error) {
			<-ctx.Done()
			return Result{}, nil
		}}, nil
	})

	e, err := New(g, nil)
	if err != nil {
		t.Fatal(err)
	}
	e.NodeTimeout = 10 * time.Millisecond

	rc := &RunContext{RunID: "run-node-timeout", Registry: reg}
	_, err = e.Run(context.Background(), rc, model.Null())

	var nf *engineerr.NodeFailure
	if !errors.As(err, &nf) {
		t.Fatalf("Run() err = %v, want *engineerr.NodeFailure", err)
	}
	if !errors.Is(err, engineerr.ErrNodeTimeout) {
		t.Errorf("Run() err = %v, want wrapping ErrNodeTimeout", err)
	}
}

// TestEngine_Run_WorkflowTimeout_FailsRunWithErrWorkflowTimeout covers the
// run-wide deadline, independent of any single node's own Timeout.
func TestEngine_Run_WorkflowTimeout_FailsRunWithErrWorkflowTimeout(t *testing.T) {
	g := model.Graph{
		Nodes: []model.Node{
			{ID: "start", Type: "startNode"},
			{ID: "stuck", Type: "stuckNode"},
		},
		Edges: []model.Edge{
			{ID: "e1", Source: "start", Target: "stuck"},
		},
	}
	reg := NewRegistry()
	reg.Register("startNode", func(model.Value) (Node, error) {
		return funcNode{func(ctx context.Context, rc *RunContext, inputs model.Value) (Result, error) {
			return Result{Output: inputs}, nil
		}}, nil
	})
	reg.Register("stuckNode", func(model.Value) (Node, error) {
		return funcNode{func(ctx context.Context, rc *RunContext, inputs model.Value) (Result, error) {
			// Ignores ctx deliberately so the workflow-level deadline (not
			// this node's own cancellation) is what ends the run.
			time.Sleep(50 * time.Millisecond)
			return Result{Output: model.String("too-late")}, nil
		}}, nil
	})

	e, err := New(g, nil)
	if err != nil {
		t.Fatal(err)
	}
	e.NodeTimeout = time.Minute
	e.WorkflowTimeout = 10 * time.Millisecond

	rc := &RunContext{RunID: "run-workflow-timeout", Registry: reg}
	_, err = e.Run(context.Background(), rc, model.Null())

	if !errors.Is(err, engineerr.ErrWorkflowTimeout) {
		t.Fatalf("Run() err = %v, want ErrWorkflowTimeout", err)
	}
}
