package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	imodel "github.com/moduly/engine/internal/model"
)

// approxWordsPerToken is a rough stand-in for a real tokenizer (no
// tokenizer package ships in the example corpus — see DESIGN.md). It only
// needs to be conservative enough that EmbedMaxTokens truncation keeps
// embed requests within a provider's real limit.
const approxWordsPerToken = 0.75

// SyncDocument re-chunks and re-embeds one document's content if it has
// changed since the last sync (content-hash reuse), replacing its chunks
// with a delete followed by an insert. Mirrors the original's SyncService.sync_knowledge_bases +
// VectorStoreService.save_chunks, generalized from "DB source type only"
// to any document, and distributed_lock.py's per-document advisory lock.
func (s *Service) SyncDocument(ctx context.Context, kbID, documentID, rawContent string, sourceConfig imodel.Value) error {
	hash := contentHash(rawContent)

	if existing, found, err := s.Store.GetDocumentByHash(ctx, kbID, hash); err == nil && found && existing.ID == documentID {
		return nil // unchanged since last sync
	}

	lockKey := "sync:doc:" + documentID
	ttl := time.Duration(s.Cfg.DocLockTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 120 * time.Second
	}
	if s.Lock != nil {
		acquired, err := s.Lock.AcquireLock(ctx, lockKey, ttl)
		if err != nil {
			return fmt.Errorf("acquiring sync lock for %s: %w", documentID, err)
		}
		if !acquired {
			return fmt.Errorf("document %s is already being synced", documentID)
		}
		defer s.Lock.ReleaseLock(context.Background(), lockKey)
	}

	kb, err := s.Store.GetKnowledgeBase(ctx, kbID)
	if err != nil {
		return fmt.Errorf("loading knowledge base %s: %w", kbID, err)
	}
	embedder, err := s.Embed.ResolveEmbedder(kb.EmbeddingModel)
	if err != nil {
		return fmt.Errorf("resolving embedder %s: %w", kb.EmbeddingModel, err)
	}

	texts := chunkText(rawContent, 500)
	chunks := make([]imodel.DocumentChunk, 0, len(texts))

	batchSize := s.Cfg.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	maxTokens := s.Cfg.EmbedMaxTokens
	if maxTokens <= 0 {
		maxTokens = 8000
	}

	for batchStart := 0; batchStart < len(texts); batchStart += batchSize {
		end := batchStart + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		for i := batchStart; i < end; i++ {
			text := truncateToTokens(texts[i], maxTokens)
			vec, err := embedder.Embed(ctx, text)
			if err != nil {
				return fmt.Errorf("embedding chunk %d of document %s: %w", i, documentID, err)
			}
			content := text
			if s.Fernet != nil {
				if enc, err := s.Fernet.Encrypt([]byte(text)); err == nil {
					content = enc
				}
			}
			chunks = append(chunks, imodel.DocumentChunk{
				ID:          fmt.Sprintf("%s-chunk-%d", documentID, i),
				DocumentID:  documentID,
				Content:     content,
				ContentHash: contentHash(text),
				Position:    i,
				TokenCount:  approxTokenCount(text),
				Embedding:   vec,
			})
		}
	}

	// Delete+insert swap: these are two separate store calls and no
	// transaction spans them, so if the insert fails the chunks already
	// deleted are not restored. The in-memory sparse index is updated to
	// match immediately after.
	if err := s.Store.DeleteDocumentChunks(ctx, documentID); err != nil {
		return fmt.Errorf("clearing stale chunks for %s: %w", documentID, err)
	}
	if err := s.Store.InsertChunks(ctx, chunks); err != nil {
		return fmt.Errorf("inserting chunks for %s: %w", documentID, err)
	}
	if err := s.deindexDocument(kbID, documentID); err != nil {
		return fmt.Errorf("clearing stale sparse index entries for %s: %w", documentID, err)
	}
	if err := s.indexChunks(kbID, chunks); err != nil {
		return fmt.Errorf("indexing chunks for %s: %w", documentID, err)
	}

	return s.Store.UpsertDocument(ctx, imodel.Document{
		ID:              documentID,
		KnowledgeBaseID: kbID,
		ContentHash:     hash,
		Status:          "synced",
		SourceConfig:    sourceConfig,
	})
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func approxTokenCount(text string) int {
	return int(float64(len(strings.Fields(text))) / approxWordsPerToken)
}

// truncateToTokens keeps text's leading ~maxTokens worth of words,
// matching the original's "truncate to the 8000-token prefix" behavior.
func truncateToTokens(text string, maxTokens int) string {
	words := strings.Fields(text)
	maxWords := int(float64(maxTokens) * approxWordsPerToken)
	if maxWords <= 0 || len(words) <= maxWords {
		return text
	}
	return strings.Join(words[:maxWords], " ")
}

// chunkText splits text into ~wordsPerChunk-word pieces on whitespace
// boundaries. No chunking strategy survived the distillation from the
// original's ingestion pipeline, so this is new code sized to keep each
// chunk well under typical embedding context limits.
func chunkText(text string, wordsPerChunk int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	var out []string
	for i := 0; i < len(words); i += wordsPerChunk {
		end := i + wordsPerChunk
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[i:end], " "))
	}
	return out
}
