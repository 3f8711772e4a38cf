package nodes

import (
	"context"

	"github.com/moduly/engine/internal/model"
	"github.com/moduly/engine/internal/workflow"
)

// buildKnowledgeRetrieval delegates to the retrieval service's hybrid
// search (spec.md §4.4); the node is a thin client over RetrievalClient.
func (d Deps) buildKnowledgeRetrieval(cfg model.Value) (workflow.Node, error) {
	if d.Retrieval == nil {
		return nil, configErr("knowledgeRetrievalNode", errNoRetrieval)
	}
	kbID := configString(cfg, "knowledge_base_id")
	queryPath := selectorPath(cfg, "query_selector")
	topK := 5
	if tv, ok := cfg.Get("top_k"); ok && tv.Kind() == model.KindNumber {
		topK = int(tv.Number())
	}

	return workflow.NodeFunc(func(ctx context.Context, rc *workflow.RunContext, inputs model.Value) (workflow.Result, error) {
		query := inputs.Select(queryPath).String()
		results, err := d.Retrieval.Search(ctx, kbID, query, topK)
		if err != nil {
			return workflow.Result{}, err
		}
		return workflow.Result{Output: model.Array(results...)}, nil
	}), nil
}

type retrievalErr string

func (e retrievalErr) Error() string { return string(e) }

const errNoRetrieval = retrievalErr("no retrieval client configured")
