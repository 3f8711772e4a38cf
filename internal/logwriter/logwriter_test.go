package logwriter

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/moduly/engine/internal/model"
	"github.com/moduly/engine/internal/store"
	"github.com/moduly/engine/internal/workflow"
)

func encode(t *testing.T, task workflow.LogTask) []byte {
	t.Helper()
	data, err := json.Marshal(task)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestWriter_CreateRun_Upserts(t *testing.T) {
	s := store.NewMemStore()
	w := New(s, nil)
	ctx := context.Background()

	task := workflow.LogTask{Kind: workflow.LogCreateRun, Run: &model.Run{
		ID: "run-1", WorkflowID: "wf-1", Status: model.RunRunning, StartedAt: time.Now(),
	}}
	if err := w.HandleMessage(ctx, encode(t, task)); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.RunRunning {
		t.Errorf("expected running, got %s", got.Status)
	}
}

func TestWriter_NodeRun_BeforeRunCreated_RetriesThenSucceeds(t *testing.T) {
	s := store.NewMemStore()
	w := New(s, nil)
	ctx := context.Background()

	nodeTask := workflow.LogTask{Kind: workflow.LogCreateNode, NodeRun: &model.NodeRun{
		ID: "nr-1", RunID: "run-missing", NodeID: "n1", Status: model.NodeRunRunning, StartedAt: time.Now(),
	}}

	// The run row doesn't exist yet: every retry attempt fails identically,
	// so HandleMessage exhausts LogWriteRetryPolicy and returns an error.
	if err := w.HandleMessage(ctx, encode(t, nodeTask)); err == nil {
		t.Fatal("expected error when parent run never appears")
	}

	// Once the run exists, the same task succeeds on the first attempt.
	_ = s.UpsertRun(ctx, model.Run{ID: "run-missing", Status: model.RunRunning, StartedAt: time.Now()})
	if err := w.HandleMessage(ctx, encode(t, nodeTask)); err != nil {
		t.Fatal(err)
	}

	runs, err := s.ListNodeRuns(ctx, "run-missing")
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 node run, got %d", len(runs))
	}
}

func TestWriter_UnknownTaskKind_IsNotAnError(t *testing.T) {
	s := store.NewMemStore()
	w := New(s, nil)
	data, _ := json.Marshal(map[string]string{"Kind": "log.something_new"})
	if err := w.HandleMessage(context.Background(), data); err != nil {
		t.Fatalf("unknown kind should be logged and ignored, got error: %v", err)
	}
}
