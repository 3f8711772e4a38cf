package store

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/moduly/engine/internal/model"
)

// MemStore is an in-memory Store, used by engine/log-writer tests in place
// of a live Postgres (adapted from graph/store/memory.go's MemStore[S]).
type MemStore struct {
	mu          sync.RWMutex
	runs        map[string]model.Run
	nodeRuns    map[string]model.NodeRun   // by id
	nodeRunsRun map[string][]string        // runID -> node run ids, insertion order
	graphs      map[string]model.Graph     // workflowID -> graph
	deployments map[string]model.Deployment
	deploySlug  map[string]string // slug -> deployment id
	kbs         map[string]model.KnowledgeBase
	docs        map[string]model.Document
	docsByHash  map[string]string // kbID+"/"+hash -> document id
	chunks      map[string][]model.DocumentChunk // documentID -> chunks
	creds       map[string]model.Credential      // userID+"/"+provider -> credential
	checkpoints map[string]model.Checkpoint      // runID -> checkpoint
}

func NewMemStore() *MemStore {
	return &MemStore{
		runs:        make(map[string]model.Run),
		nodeRuns:    make(map[string]model.NodeRun),
		nodeRunsRun: make(map[string][]string),
		graphs:      make(map[string]model.Graph),
		deployments: make(map[string]model.Deployment),
		deploySlug:  make(map[string]string),
		kbs:         make(map[string]model.KnowledgeBase),
		docs:        make(map[string]model.Document),
		docsByHash:  make(map[string]string),
		chunks:      make(map[string][]model.DocumentChunk),
		creds:       make(map[string]model.Credential),
		checkpoints: make(map[string]model.Checkpoint),
	}
}

func (m *MemStore) UpsertRun(_ context.Context, r model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[r.ID] = r
	return nil
}

func (m *MemStore) GetRun(_ context.Context, id string) (model.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return model.Run{}, ErrNotFound
	}
	return r, nil
}

func (m *MemStore) UpsertNodeRun(_ context.Context, nr model.NodeRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.nodeRuns[nr.ID]; !exists {
		m.nodeRunsRun[nr.RunID] = append(m.nodeRunsRun[nr.RunID], nr.ID)
	}
	m.nodeRuns[nr.ID] = nr
	return nil
}

func (m *MemStore) ListNodeRuns(_ context.Context, runID string) ([]model.NodeRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.nodeRunsRun[runID]
	out := make([]model.NodeRun, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.nodeRuns[id])
	}
	return out, nil
}

func (m *MemStore) SaveGraph(_ context.Context, workflowID string, g model.Graph) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.graphs[workflowID] = g
	return nil
}

func (m *MemStore) LoadGraph(_ context.Context, workflowID string) (model.Graph, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.graphs[workflowID]
	if !ok {
		return model.Graph{}, ErrNotFound
	}
	return g, nil
}

func (m *MemStore) SaveDeployment(_ context.Context, d model.Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deployments[d.ID] = d
	if d.URLSlug != "" {
		m.deploySlug[d.URLSlug] = d.ID
	}
	return nil
}

func (m *MemStore) LoadDeployment(_ context.Context, id string) (model.Deployment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deployments[id]
	if !ok {
		return model.Deployment{}, ErrNotFound
	}
	return d, nil
}

func (m *MemStore) LoadDeploymentBySlug(_ context.Context, slug string) (model.Deployment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.deploySlug[slug]
	if !ok {
		return model.Deployment{}, ErrNotFound
	}
	return m.deployments[id], nil
}

func (m *MemStore) ActiveSchedules(_ context.Context) ([]model.Deployment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Deployment
	for _, d := range m.deployments {
		if d.Active && d.Schedule != nil {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) GetKnowledgeBase(_ context.Context, id string) (model.KnowledgeBase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	kb, ok := m.kbs[id]
	if !ok {
		return model.KnowledgeBase{}, ErrNotFound
	}
	return kb, nil
}

// PutKnowledgeBase is a test-only seam; the real store seeds kbs via
// migrations, not through the Store interface.
func (m *MemStore) PutKnowledgeBase(kb model.KnowledgeBase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kbs[kb.ID] = kb
}

func (m *MemStore) UpsertDocument(_ context.Context, doc model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
	m.docsByHash[doc.KnowledgeBaseID+"/"+doc.ContentHash] = doc.ID
	return nil
}

func (m *MemStore) GetDocumentByHash(_ context.Context, kbID, contentHash string) (model.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.docsByHash[kbID+"/"+contentHash]
	if !ok {
		return model.Document{}, false, nil
	}
	return m.docs[id], true, nil
}

func (m *MemStore) DeleteDocumentChunks(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chunks, documentID)
	return nil
}

func (m *MemStore) InsertChunks(_ context.Context, chunks []model.DocumentChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		m.chunks[c.DocumentID] = append(m.chunks[c.DocumentID], c)
	}
	return nil
}

// VectorSearch does a brute-force cosine-similarity scan, adequate for unit
// tests with a handful of chunks; no index is built.
func (m *MemStore) VectorSearch(_ context.Context, kbID string, query []float32, topK int) ([]ScoredChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var candidates []ScoredChunk
	for docID, chunks := range m.chunks {
		doc, ok := m.docs[docID]
		if !ok || doc.KnowledgeBaseID != kbID {
			continue
		}
		for _, c := range chunks {
			candidates = append(candidates, ScoredChunk{Chunk: c, Score: cosineSimilarity(query, c.Embedding)})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (m *MemStore) GetCredential(_ context.Context, userID, provider string) (model.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.creds[userID+"/"+provider]
	if !ok {
		return model.Credential{}, ErrNotFound
	}
	return c, nil
}

func (m *MemStore) ListVerified(_ context.Context, userID string) ([]model.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Credential
	for key, c := range m.creds {
		if c.UserID == userID && c.IsVerified {
			_ = key
			out = append(out, c)
		}
	}
	return out, nil
}

// PutCredential is a test-only seam mirroring PutKnowledgeBase.
func (m *MemStore) PutCredential(c model.Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[c.UserID+"/"+c.Provider] = c
}

func (m *MemStore) SaveCheckpoint(_ context.Context, cp model.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.checkpoints[cp.RunID]
	if ok && existing.IdempotencyKey == cp.IdempotencyKey {
		return nil
	}
	m.checkpoints[cp.RunID] = cp
	return nil
}

func (m *MemStore) LoadCheckpoint(_ context.Context, runID string) (model.Checkpoint, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.checkpoints[runID]
	if !ok {
		return model.Checkpoint{}, false, nil
	}
	return cp, true, nil
}
