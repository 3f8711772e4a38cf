// Package store provides persistence for runs, node runs, graphs,
// knowledge bases and their documents/chunks, deployments, schedules, and
// credentials. Store is a plain interface (unlike graph/store.go's
// Store[S any], which is generic over a state type parameter) because the
// model is fixed by SPEC_FULL.md rather than caller-supplied.
package store

import (
	"context"
	"errors"

	"github.com/moduly/engine/internal/model"
)

// ErrNotFound mirrors graph/store.go's sentinel for missing rows.
var ErrNotFound = errors.New("not found")

// RunStore persists Run and NodeRun rows, written exclusively by the log
// writer via PK-stable upserts (DESIGN.md Open Question (b)).
type RunStore interface {
	UpsertRun(ctx context.Context, run model.Run) error
	GetRun(ctx context.Context, id string) (model.Run, error)
	UpsertNodeRun(ctx context.Context, nr model.NodeRun) error
	ListNodeRuns(ctx context.Context, runID string) ([]model.NodeRun, error)
}

// GraphStore persists authored graphs and their frozen Deployment
// snapshots.
type GraphStore interface {
	SaveGraph(ctx context.Context, workflowID string, g model.Graph) error
	LoadGraph(ctx context.Context, workflowID string) (model.Graph, error)

	SaveDeployment(ctx context.Context, d model.Deployment) error
	LoadDeployment(ctx context.Context, id string) (model.Deployment, error)
	LoadDeploymentBySlug(ctx context.Context, slug string) (model.Deployment, error)
	ActiveSchedules(ctx context.Context) ([]model.Deployment, error)
}

// KnowledgeStore persists knowledge bases, documents, and chunks, and
// exposes the hybrid-search primitives the retrieval service composes.
type KnowledgeStore interface {
	GetKnowledgeBase(ctx context.Context, id string) (model.KnowledgeBase, error)

	UpsertDocument(ctx context.Context, doc model.Document) error
	GetDocumentByHash(ctx context.Context, kbID, contentHash string) (model.Document, bool, error)
	DeleteDocumentChunks(ctx context.Context, documentID string) error
	InsertChunks(ctx context.Context, chunks []model.DocumentChunk) error

	// VectorSearch returns the topK chunks by cosine distance to query within
	// kbID.
	VectorSearch(ctx context.Context, kbID string, query []float32, topK int) ([]ScoredChunk, error)
	// Keyword (BM25-style) search is not part of this interface: it is
	// served by internal/retrieval's bleve index, not the SQL store itself
	// (see GROUNDING in DESIGN.md).
}

// ScoredChunk pairs a chunk with its raw similarity/relevance score, before
// RRF fusion.
type ScoredChunk struct {
	Chunk model.DocumentChunk
	Score float64
}

// CredentialStore persists user-owned provider credentials.
type CredentialStore interface {
	GetCredential(ctx context.Context, userID, provider string) (model.Credential, error)
	ListVerified(ctx context.Context, userID string) ([]model.Credential, error)
}

// CheckpointStore persists and resumes single-shot run checkpoints
// (model.Checkpoint), keyed by RunID, PK-stable like RunStore's upserts.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error
	LoadCheckpoint(ctx context.Context, runID string) (model.Checkpoint, bool, error)
}

// Store is the union every cmd/ binary depends on; concrete implementations
// (pgx-backed or in-memory) satisfy all five facets.
type Store interface {
	RunStore
	GraphStore
	KnowledgeStore
	CredentialStore
	CheckpointStore
}
