package retrieval

import (
	"github.com/blevesearch/bleve/v2"

	imodel "github.com/moduly/engine/internal/model"
)

// indexedChunk is the shape handed to bleve for BM25-style scoring,
// mirroring the original's _keyword_search tsvector over content + the
// metadata "keywords" field.
type indexedChunk struct {
	Content  string `json:"content"`
	Keywords string `json:"keywords"`
}

func (s *Service) getOrCreateIndex(kbID string) (bleve.Index, error) {
	s.mu.RLock()
	idx, ok := s.indexes[kbID]
	s.mu.RUnlock()
	if ok {
		return idx, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.indexes[kbID]; ok {
		return idx, nil
	}
	mapping := bleve.NewIndexMapping()
	idx, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, err
	}
	s.indexes[kbID] = idx
	s.chunksBy[kbID] = make(map[string]imodel.DocumentChunk)
	return idx, nil
}

// indexChunks adds or replaces chunks in kbID's sparse index.
func (s *Service) indexChunks(kbID string, chunks []imodel.DocumentChunk) error {
	idx, err := s.getOrCreateIndex(kbID)
	if err != nil {
		return err
	}
	batch := idx.NewBatch()
	s.mu.Lock()
	for _, c := range chunks {
		keywords := ""
		if kw, ok := c.Metadata.Get("keywords"); ok {
			keywords = kw.String()
		}
		if err := batch.Index(c.ID, indexedChunk{Content: c.Content, Keywords: keywords}); err != nil {
			s.mu.Unlock()
			return err
		}
		s.chunksBy[kbID][c.ID] = c
	}
	s.mu.Unlock()
	return idx.Batch(batch)
}

// deindexDocument removes every chunk belonging to documentID from kbID's
// sparse index, used by the atomic delete+insert sync swap.
func (s *Service) deindexDocument(kbID, documentID string) error {
	idx, err := s.getOrCreateIndex(kbID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	var stale []string
	for id, c := range s.chunksBy[kbID] {
		if c.DocumentID == documentID {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(s.chunksBy[kbID], id)
	}
	s.mu.Unlock()

	batch := idx.NewBatch()
	for _, id := range stale {
		batch.Delete(id)
	}
	return idx.Batch(batch)
}

// sparseSearch runs a BM25-style query against kbID's index, returning up
// to topK chunks ordered by relevance.
func (s *Service) sparseSearch(kbID, query string, topK int) []imodel.DocumentChunk {
	idx, err := s.getOrCreateIndex(kbID)
	if err != nil {
		return nil
	}
	req := bleve.NewSearchRequest(bleve.NewQueryStringQuery(query))
	req.Size = topK
	res, err := idx.Search(req)
	if err != nil {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]imodel.DocumentChunk, 0, len(res.Hits))
	for _, hit := range res.Hits {
		if c, ok := s.chunksBy[kbID][hit.ID]; ok {
			out = append(out, c)
		}
	}
	return out
}
