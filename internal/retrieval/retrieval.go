// Package retrieval implements hybrid dense+sparse search over knowledge
// base chunks (spec.md §4.4): pgvector cosine search, bleve BM25 search,
// reciprocal rank fusion, multi-query expansion, cross-encoder rerank, and
// Fernet chunk decryption. It is grounded directly on the original's
// services/retrieval.py, reusing graph/model.ChatModel's interface
// for the LLM calls query rewriting/expansion need.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"

	"github.com/moduly/engine/graph/model"
	"github.com/moduly/engine/internal/config"
	"github.com/moduly/engine/internal/crypto"
	imodel "github.com/moduly/engine/internal/model"
	"github.com/moduly/engine/internal/providers"
	"github.com/moduly/engine/internal/store"
)

// Reranker cross-encodes (query, passage) pairs into relevance scores,
// grounded on the original's CrossEncoder("cross-encoder/ms-marco-MiniLM-
// L-12-v2") call — no equivalent ML runtime ships in the example corpus,
// so this is an external scoring client the deployment points at its own
// model server.
type Reranker interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// Service implements nodes.RetrievalClient and the KB sync path.
type Service struct {
	Store         store.KnowledgeStore
	Chat          providers.Resolver
	Embed         providers.EmbedResolver
	Rerank        Reranker
	Fernet        *crypto.Fernet
	Lock          Locker
	Cfg           config.Retrieval
	RewriteModel  string // efficient model id used for rewrite/multi-query, e.g. a "-mini" tier model

	mu       sync.RWMutex
	indexes  map[string]bleve.Index                  // kbID -> sparse index
	chunksBy map[string]map[string]imodel.DocumentChunk // kbID -> chunkID -> chunk
}

// Locker is the narrow surface Service needs from broker.Channel for
// per-document sync locks.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

type candidate struct {
	chunk       imodel.DocumentChunk
	score       float64
	rerankScore float64
}

// New builds a Service. rerank may be nil, in which case reranking is
// skipped and fused RRF order is kept (mirroring the original's
// use_rerank=False branch).
func New(s store.KnowledgeStore, chat providers.Resolver, embed providers.EmbedResolver, rerank Reranker, f *crypto.Fernet, cfg config.Retrieval, rewriteModel string) *Service {
	return &Service{
		Store:        s,
		Chat:         chat,
		Embed:        embed,
		Rerank:       rerank,
		Fernet:       f,
		Cfg:          cfg,
		RewriteModel: rewriteModel,
		indexes:      make(map[string]bleve.Index),
		chunksBy:     make(map[string]map[string]imodel.DocumentChunk),
	}
}

// Search implements nodes.RetrievalClient: hybrid search with multi-query
// expansion and rerank, returning results as model.Value for direct use as
// a node's output.
func (s *Service) Search(ctx context.Context, kbID, query string, topK int) ([]imodel.Value, error) {
	if kbID == "" || query == "" {
		return nil, fmt.Errorf("retrieval: kbID and query are required")
	}
	kb, err := s.Store.GetKnowledgeBase(ctx, kbID)
	if err != nil {
		return nil, fmt.Errorf("loading knowledge base %s: %w", kbID, err)
	}

	queries, err := s.expandQueries(ctx, query)
	if err != nil {
		queries = []string{query}
	}

	embedder, err := s.Embed.ResolveEmbedder(kb.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("resolving embedder %s: %w", kb.EmbeddingModel, err)
	}

	merged := make(map[string]*candidate)
	for _, q := range queries {
		vec, err := embedder.Embed(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("embedding query: %w", err)
		}
		dense, err := s.Store.VectorSearch(ctx, kbID, vec, topK*10)
		if err != nil {
			return nil, fmt.Errorf("vector search: %w", err)
		}
		sparse := s.sparseSearch(kbID, q, topK*10)
		fused := rrfFuse(dense, sparse, s.Cfg.RRFConstant)

		for _, c := range fused {
			existing, ok := merged[c.chunk.ID]
			if !ok || c.score > existing.score {
				merged[c.chunk.ID] = &c
			}
		}
	}

	ranked := make([]candidate, 0, len(merged))
	for _, c := range merged {
		ranked = append(ranked, *c)
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	rerankCap := s.Cfg.RerankCandidateCap
	if rerankCap <= 0 || rerankCap > len(ranked) {
		rerankCap = len(ranked)
	}
	candidates := ranked[:rerankCap]

	if s.Rerank != nil && len(candidates) > 0 {
		candidates = s.rerank(ctx, query, candidates)
	}

	if topK > 0 && topK < len(candidates) {
		candidates = candidates[:topK]
	}

	out := make([]imodel.Value, 0, len(candidates))
	for _, c := range candidates {
		content := c.chunk.Content
		if s.Fernet != nil {
			content = crypto.DecryptContent(s.Fernet, content)
		}
		out = append(out, imodel.Object(map[string]imodel.Value{
			"content":     imodel.String(content),
			"document_id": imodel.String(c.chunk.DocumentID),
			"chunk_id":    imodel.String(c.chunk.ID),
			"score":       imodel.Number(scoreFor(c)),
		}))
	}
	return out, nil
}

func scoreFor(c candidate) float64 {
	if c.rerankScore != 0 {
		return c.rerankScore
	}
	return c.score
}

func (s *Service) rerank(ctx context.Context, query string, candidates []candidate) []candidate {
	passages := make([]string, len(candidates))
	for i, c := range candidates {
		passages[i] = c.chunk.Content
	}
	scores, err := s.Rerank.Score(ctx, query, passages)
	if err != nil || len(scores) != len(candidates) {
		// original's _rerank falls back to RRF order on any failure.
		return candidates
	}
	for i := range candidates {
		candidates[i].rerankScore = scores[i]
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].rerankScore > candidates[j].rerankScore })
	return candidates
}

// expandQueries rewrites the single query into Cfg.MultiQueryCount variations (3 when unset) via
// the same model.ChatModel interface the LLM node uses, falling back to
// the original query on any failure (original's "Falling back to single
// query" behavior).
func (s *Service) expandQueries(ctx context.Context, query string) ([]string, error) {
	if s.Chat == nil || s.RewriteModel == "" {
		return []string{query}, nil
	}
	cm, err := s.Chat.Resolve(s.RewriteModel)
	if err != nil {
		return []string{query}, nil
	}
	n := s.Cfg.MultiQueryCount
	if n <= 0 {
		n = 3
	}
	sys := fmt.Sprintf(
		"You are an expert research assistant. Generate %d different search queries that would help find information to answer the user's question. Each query should approach the question from a different angle. Output ONLY the queries, one per line, numbered 1-%d.",
		n, n,
	)
	out, err := cm.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: sys},
		{Role: model.RoleUser, Content: "Original Question: " + query},
	}, nil)
	if err != nil {
		return []string{query}, nil
	}
	variants := parseNumberedLines(out.Text, n)
	if len(variants) == 0 {
		return []string{query}, nil
	}
	return variants, nil
}
