package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	imodel "github.com/moduly/engine/internal/model"
)

// HTTPClient implements nodes.RetrievalClient against a running
// `cmd/retrieval` service, the cross-process boundary
// knowledgeRetrievalNode uses instead of calling Service in-process.
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{BaseURL: baseURL, HTTP: http.DefaultClient}
}

type searchRequest struct {
	KnowledgeBaseID string `json:"knowledge_base_id"`
	Query           string `json:"query"`
	TopK            int    `json:"top_k"`
}

type searchResponse struct {
	Results []imodel.Value `json:"results"`
	Error   string         `json:"error,omitempty"`
}

func (c *HTTPClient) Search(ctx context.Context, kbID, query string, topK int) ([]imodel.Value, error) {
	body, err := json.Marshal(searchRequest{KnowledgeBaseID: kbID, Query: query, TopK: topK})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/retrieval/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retrieval client: request failed: %w", err)
	}
	defer resp.Body.Close()

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("retrieval client: decoding response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("retrieval: %s", out.Error)
	}
	return out.Results, nil
}
