package nodes

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/moduly/engine/internal/model"
	"github.com/moduly/engine/internal/workflow"
)

// buildHTTP issues an HTTP request per the node's stored configuration
// (method, url, headers, body selector), grounded on the original's
// http/entities.py request shape.
func (d Deps) buildHTTP(cfg model.Value) (workflow.Node, error) {
	method := configString(cfg, "method")
	if method == "" {
		method = http.MethodGet
	}
	url := configString(cfg, "url")
	bodyPath := selectorPath(cfg, "body")
	headersVal, _ := cfg.Get("headers")

	doer := d.HTTPDoer
	if doer == nil {
		doer = http.DefaultClient
	}

	return workflow.NodeFunc(func(ctx context.Context, rc *workflow.RunContext, inputs model.Value) (workflow.Result, error) {
		var reqBody io.Reader
		if len(bodyPath) > 0 {
			b, err := inputs.Select(bodyPath).MarshalJSON()
			if err != nil {
				return workflow.Result{}, configErr("httpNode", err)
			}
			reqBody = bytes.NewReader(b)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return workflow.Result{}, err
		}
		for k, v := range headersVal.Object() {
			req.Header.Set(k, v.String())
		}

		started := time.Now()
		resp, err := doer.Do(req)
		if err != nil {
			return workflow.Result{}, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return workflow.Result{}, err
		}
		var parsed model.Value
		if jerr := parsed.UnmarshalJSON(data); jerr != nil {
			parsed = model.String(string(data))
		}

		out := model.Object(map[string]model.Value{
			"status":      model.Number(float64(resp.StatusCode)),
			"body":        parsed,
			"duration_ms": model.Number(float64(time.Since(started).Milliseconds())),
		})
		return workflow.Result{Output: out}, nil
	}), nil
}
