package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	imodel "github.com/moduly/engine/internal/model"
)

func TestHTTPClient_Search_ReturnsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "kb-1", req.KnowledgeBaseID)
		assert.Equal(t, 5, req.TopK)

		_ = json.NewEncoder(w).Encode(searchResponse{
			Results: []imodel.Value{imodel.FromMap(map[string]interface{}{"content": "a chunk"})},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	results, err := c.Search(context.Background(), "kb-1", "query text", 5)

	require.NoError(t, err)
	require.Len(t, results, 1)
	content, _ := results[0].Get("content")
	assert.Equal(t, "a chunk", content.String())
}

func TestHTTPClient_Search_ServerError_PropagatesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(searchResponse{Error: "knowledge base not found"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	_, err := c.Search(context.Background(), "missing", "query", 5)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "knowledge base not found")
}

func TestHTTPReranker_Score_ReturnsScores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"p1", "p2"}, req.Passages)

		_ = json.NewEncoder(w).Encode(rerankResponse{Scores: []float64{0.2, 0.8}})
	}))
	defer srv.Close()

	r := NewHTTPReranker(srv.URL)
	scores, err := r.Score(context.Background(), "query", []string{"p1", "p2"})

	require.NoError(t, err)
	assert.Equal(t, []float64{0.2, 0.8}, scores)
}
