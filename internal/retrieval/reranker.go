package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// HTTPReranker scores (query, passage) pairs against an external
// cross-encoder model server, grounded on the original's
// CrossEncoder("cross-encoder/ms-marco-MiniLM-L-12-v2") call — the
// example corpus ships no Go ML runtime, so the cross-encoder itself runs
// out of process and this just speaks its scoring API.
type HTTPReranker struct {
	BaseURL string
	HTTP    *http.Client
}

func NewHTTPReranker(baseURL string) *HTTPReranker {
	return &HTTPReranker{BaseURL: baseURL, HTTP: http.DefaultClient}
}

type rerankRequest struct {
	Query    string   `json:"query"`
	Passages []string `json:"passages"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

func (r *HTTPReranker) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	body, err := json.Marshal(rerankRequest{Query: query, Passages: passages})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reranker: request failed: %w", err)
	}
	defer resp.Body.Close()

	var out rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("reranker: decoding response: %w", err)
	}
	return out.Scores, nil
}
