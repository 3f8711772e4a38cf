package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/moduly/engine/internal/model"
)

func TestMemStore_RunNotFound(t *testing.T) {
	s := NewMemStore()
	_, err := s.GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemStore_UpsertRun_IdempotentByID(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	started := time.Now()

	run := model.Run{ID: "run-1", WorkflowID: "wf-1", Status: model.RunRunning, StartedAt: started}
	if err := s.UpsertRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	finished := started.Add(2 * time.Second)
	run.Status = model.RunSuccess
	run.FinishedAt = &finished
	if err := s.UpsertRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.RunSuccess {
		t.Errorf("expected status success after upsert, got %s", got.Status)
	}
	if got.FinishedAt == nil {
		t.Error("expected finished_at to be set")
	}
}

func TestMemStore_NodeRuns_PreserveInsertionOrder(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	for _, id := range []string{"nr-a", "nr-b", "nr-c"} {
		nr := model.NodeRun{ID: id, RunID: "run-1", NodeID: id, Status: model.NodeRunSuccess, StartedAt: time.Now()}
		if err := s.UpsertNodeRun(ctx, nr); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.ListNodeRuns(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 node runs, got %d", len(list))
	}
	want := []string{"nr-a", "nr-b", "nr-c"}
	for i, nr := range list {
		if nr.ID != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], nr.ID)
		}
	}
}

func TestMemStore_NodeRun_UpsertByID_NotDuplicated(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	nr := model.NodeRun{ID: "nr-1", RunID: "run-1", Status: model.NodeRunRunning, StartedAt: time.Now()}
	_ = s.UpsertNodeRun(ctx, nr)
	nr.Status = model.NodeRunSuccess
	_ = s.UpsertNodeRun(ctx, nr)

	list, _ := s.ListNodeRuns(ctx, "run-1")
	if len(list) != 1 {
		t.Fatalf("expected 1 node run after repeated upsert of same id, got %d", len(list))
	}
	if list[0].Status != model.NodeRunSuccess {
		t.Errorf("expected final status to win, got %s", list[0].Status)
	}
}

func TestMemStore_DeploymentBySlug(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	d := model.Deployment{ID: "d-1", URLSlug: "my-bot", Type: model.DeploymentWebapp, Active: true}
	if err := s.SaveDeployment(ctx, d); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadDeploymentBySlug(ctx, "my-bot")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "d-1" {
		t.Errorf("expected d-1, got %s", got.ID)
	}

	if _, err := s.LoadDeploymentBySlug(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown slug, got %v", err)
	}
}

func TestMemStore_ActiveSchedules_FiltersInactiveAndUnscheduled(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	_ = s.SaveDeployment(ctx, model.Deployment{ID: "d-active", Active: true, Schedule: &model.Schedule{CronExpr: "0 * * * *"}})
	_ = s.SaveDeployment(ctx, model.Deployment{ID: "d-inactive", Active: false, Schedule: &model.Schedule{CronExpr: "0 * * * *"}})
	_ = s.SaveDeployment(ctx, model.Deployment{ID: "d-noschedule", Active: true})

	out, err := s.ActiveSchedules(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].ID != "d-active" {
		t.Fatalf("expected only d-active, got %+v", out)
	}
}

func TestMemStore_DocumentByHash_ReuseAcrossSync(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	doc := model.Document{ID: "doc-1", KnowledgeBaseID: "kb-1", ContentHash: "abc123", Status: "ready"}
	if err := s.UpsertDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}

	got, found, err := s.GetDocumentByHash(ctx, "kb-1", "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected document to be found by content hash")
	}
	if got.ID != "doc-1" {
		t.Errorf("expected doc-1, got %s", got.ID)
	}

	_, found, err = s.GetDocumentByHash(ctx, "kb-1", "different-hash")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("expected no match for a different content hash")
	}
}

func TestMemStore_VectorSearch_OrdersByCosineSimilarity(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	_ = s.UpsertDocument(ctx, model.Document{ID: "doc-1", KnowledgeBaseID: "kb-1"})
	_ = s.InsertChunks(ctx, []model.DocumentChunk{
		{ID: "c-close", DocumentID: "doc-1", Embedding: []float32{1, 0, 0}},
		{ID: "c-orthogonal", DocumentID: "doc-1", Embedding: []float32{0, 1, 0}},
		{ID: "c-opposite", DocumentID: "doc-1", Embedding: []float32{-1, 0, 0}},
	})

	results, err := s.VectorSearch(ctx, "kb-1", []float32{1, 0, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Chunk.ID != "c-close" {
		t.Errorf("expected closest match first, got %s", results[0].Chunk.ID)
	}
	if results[len(results)-1].Chunk.ID != "c-opposite" {
		t.Errorf("expected opposite vector last, got %s", results[len(results)-1].Chunk.ID)
	}
}

func TestMemStore_VectorSearch_RespectsKnowledgeBaseBoundary(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	_ = s.UpsertDocument(ctx, model.Document{ID: "doc-a", KnowledgeBaseID: "kb-a"})
	_ = s.UpsertDocument(ctx, model.Document{ID: "doc-b", KnowledgeBaseID: "kb-b"})
	_ = s.InsertChunks(ctx, []model.DocumentChunk{{ID: "c-a", DocumentID: "doc-a", Embedding: []float32{1, 0}}})
	_ = s.InsertChunks(ctx, []model.DocumentChunk{{ID: "c-b", DocumentID: "doc-b", Embedding: []float32{1, 0}}})

	results, err := s.VectorSearch(ctx, "kb-a", []float32{1, 0}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Chunk.ID != "c-a" {
		t.Fatalf("expected only kb-a's chunk, got %+v", results)
	}
}

func TestMemStore_CredentialLookup(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	s.PutCredential(model.Credential{ID: "cred-1", UserID: "user-1", Provider: "openai", IsVerified: true})

	c, err := s.GetCredential(ctx, "user-1", "openai")
	if err != nil {
		t.Fatal(err)
	}
	if !c.IsVerified {
		t.Error("expected credential to be verified")
	}

	if _, err := s.GetCredential(ctx, "user-1", "anthropic"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unregistered provider, got %v", err)
	}
}

func TestMemStore_Checkpoint_RoundTrip(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	_, found, err := s.LoadCheckpoint(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected no checkpoint before first save")
	}

	cp := model.Checkpoint{
		RunID:          "run-1",
		Executed:       []string{"trigger", "llm"},
		Results:        map[string]model.Value{"llm": model.String("hi")},
		Handles:        map[string]string{"llm": ""},
		IdempotencyKey: "sha256:first",
		UpdatedAt:      time.Now(),
	}
	if err := s.SaveCheckpoint(ctx, cp); err != nil {
		t.Fatal(err)
	}

	got, found, err := s.LoadCheckpoint(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected checkpoint to be found after save")
	}
	if len(got.Executed) != 2 || got.Executed[1] != "llm" {
		t.Errorf("unexpected executed list: %+v", got.Executed)
	}
}

func TestMemStore_Checkpoint_SkipsStaleIdempotencyKey(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	newer := model.Checkpoint{RunID: "run-1", Executed: []string{"a", "b"}, IdempotencyKey: "sha256:newer", UpdatedAt: time.Now()}
	if err := s.SaveCheckpoint(ctx, newer); err != nil {
		t.Fatal(err)
	}

	stale := model.Checkpoint{RunID: "run-1", Executed: []string{"a"}, IdempotencyKey: "sha256:newer", UpdatedAt: time.Now()}
	if err := s.SaveCheckpoint(ctx, stale); err != nil {
		t.Fatal(err)
	}

	got, _, err := s.LoadCheckpoint(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Executed) != 2 {
		t.Errorf("expected the write with the already-stored idempotency key to be skipped, got %+v", got.Executed)
	}
}
