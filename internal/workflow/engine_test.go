package workflow

import (
	"context"
	"testing"

	"github.com/moduly/engine/internal/model"
)

// fakeCheckpointStore is an in-memory CheckpointStore double, mirroring the
// style of internal/store's MemStore.
type fakeCheckpointStore struct {
	saved map[string]model.Checkpoint
}

func newFakeCheckpointStore() *fakeCheckpointStore {
	return &fakeCheckpointStore{saved: map[string]model.Checkpoint{}}
}

func (f *fakeCheckpointStore) SaveCheckpoint(_ context.Context, cp model.Checkpoint) error {
	f.saved[cp.RunID] = cp
	return nil
}

func (f *fakeCheckpointStore) LoadCheckpoint(_ context.Context, runID string) (model.Checkpoint, bool, error) {
	cp, ok := f.saved[runID]
	return cp, ok, nil
}

func twoNodeGraph() model.Graph {
	return model.Graph{
		Nodes: []model.Node{
			{ID: "start", Type: "startNode"},
			{ID: "second", Type: "countingNode"},
		},
		Edges: []model.Edge{
			{ID: "e1", Source: "start", Target: "second"},
		},
	}
}

// countingNode increments the counter it points to each time it runs, so a
// test can assert a checkpoint-resumed run does not re-execute it.
type countingNode struct {
	calls *int
}

func (n countingNode) Run(_ context.Context, _ *RunContext, inputs model.Value) (Result, error) {
	*n.calls++
	return Result{Output: model.String("second-output")}, nil
}

func newCountingRegistry(startCalls, secondCalls *int) *Registry {
	r := NewRegistry()
	r.Register("startNode", func(cfg model.Value) (Node, error) {
		return countingNode{calls: startCalls}, nil
	})
	r.Register("countingNode", func(cfg model.Value) (Node, error) {
		return countingNode{calls: secondCalls}, nil
	})
	return r
}

func TestEngine_Run_SavesCheckpointAfterEachNode(t *testing.T) {
	g := twoNodeGraph()
	startCalls, secondCalls := 0, 0
	cp := newFakeCheckpointStore()

	e, err := New(g, nil)
	if err != nil {
		t.Fatal(err)
	}
	rc := &RunContext{RunID: "run-1", Registry: newCountingRegistry(&startCalls, &secondCalls), Checkpoints: cp}

	if _, err := e.Run(context.Background(), rc, model.Null()); err != nil {
		t.Fatal(err)
	}

	saved, ok := cp.saved["run-1"]
	if !ok {
		t.Fatal("expected a checkpoint to have been saved")
	}
	if len(saved.Executed) != 2 {
		t.Errorf("expected both nodes recorded executed, got %+v", saved.Executed)
	}
	if saved.IdempotencyKey == "" {
		t.Error("expected a non-empty idempotency key")
	}
}

func TestEngine_Run_ResumesFromCheckpoint_SkipsExecutedNodes(t *testing.T) {
	g := twoNodeGraph()
	cp := newFakeCheckpointStore()
	cp.saved["run-1"] = model.Checkpoint{
		RunID:          "run-1",
		Executed:       []string{"start"},
		Results:        map[string]model.Value{"start": model.Null()},
		Handles:        map[string]string{"start": ""},
		IdempotencyKey: "sha256:seed",
	}

	startCalls, secondCalls := 0, 0
	e, err := New(g, nil)
	if err != nil {
		t.Fatal(err)
	}
	rc := &RunContext{RunID: "run-1", Registry: newCountingRegistry(&startCalls, &secondCalls), Checkpoints: cp}

	if _, err := e.Run(context.Background(), rc, model.Null()); err != nil {
		t.Fatal(err)
	}

	if startCalls != 0 {
		t.Errorf("expected the already-executed start node not to re-run, ran %d times", startCalls)
	}
	if secondCalls != 1 {
		t.Errorf("expected the not-yet-executed node to run exactly once, ran %d times", secondCalls)
	}
}
