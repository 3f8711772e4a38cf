package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/moduly/engine/internal/model"
)

// HTTPClient implements nodes.SandboxClient against a running `cmd/sandbox`
// service, the cross-process boundary codeNode uses instead of calling the
// Scheduler in-process.
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{BaseURL: baseURL, HTTP: http.DefaultClient}
}

// executeRequest/executeResponse mirror the `POST /v1/sandbox/execute` wire
// shape the handler in cmd/sandbox/main.go decodes/encodes (spec.md §6):
// `{code, inputs, timeout, priority?, enable_network?, tenant_id?} ->
// {success, result?, error?, error_type?, execution_time_ms, memory_used_mb}`.
type executeRequest struct {
	TenantID      string          `json:"tenant_id,omitempty"`
	Code          string          `json:"code"`
	Input         json.RawMessage `json:"inputs"`
	TimeoutS      int             `json:"timeout"`
	Priority      string          `json:"priority,omitempty"`
	EnableNetwork bool            `json:"enable_network,omitempty"`
}

type executeResponse struct {
	Success         bool            `json:"success"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	ErrorType       string          `json:"error_type,omitempty"`
	ExecutionTimeMs int64           `json:"execution_time_ms"`
	MemoryUsedMB    float64         `json:"memory_used_mb"`
}

func (c *HTTPClient) Execute(ctx context.Context, code string, inputs model.Value, timeoutSeconds int, tenantID, priority string, enableNetwork bool) (model.Value, error) {
	inputJSON, err := json.Marshal(inputs)
	if err != nil {
		return model.Null(), fmt.Errorf("sandbox client: encoding inputs: %w", err)
	}
	body, err := json.Marshal(executeRequest{
		TenantID: tenantID, Code: code, Input: inputJSON, TimeoutS: timeoutSeconds,
		Priority: priority, EnableNetwork: enableNetwork,
	})
	if err != nil {
		return model.Null(), err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/sandbox/execute", bytes.NewReader(body))
	if err != nil {
		return model.Null(), err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return model.Null(), fmt.Errorf("sandbox client: request failed: %w", err)
	}
	defer resp.Body.Close()

	var out executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return model.Null(), fmt.Errorf("sandbox client: decoding response: %w", err)
	}
	if !out.Success {
		if out.ErrorType != "" {
			return model.Null(), fmt.Errorf("sandbox: %s: %s", out.ErrorType, out.Error)
		}
		return model.Null(), fmt.Errorf("sandbox: %s", out.Error)
	}
	if len(out.Result) == 0 {
		return model.Null(), nil
	}
	var result model.Value
	if err := json.Unmarshal(out.Result, &result); err != nil {
		return model.Null(), fmt.Errorf("sandbox client: decoding output: %w", err)
	}
	return result, nil
}
