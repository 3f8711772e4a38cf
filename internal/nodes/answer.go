package nodes

import (
	"context"

	"github.com/moduly/engine/internal/model"
	"github.com/moduly/engine/internal/workflow"
)

// buildAnswer resolves its configured value selector against the results
// map and passes it through as output. The engine treats the first
// executed answerNode's output as the run's final output (spec.md §4.1).
func buildAnswer(cfg model.Value) (workflow.Node, error) {
	path := selectorPath(cfg, "selector")
	return workflow.NodeFunc(func(ctx context.Context, rc *workflow.RunContext, inputs model.Value) (workflow.Result, error) {
		if len(path) == 0 {
			return workflow.Result{Output: inputs}, nil
		}
		return workflow.Result{Output: inputs.Select(path)}, nil
	}), nil
}

// buildVariableExtraction copies a set of named value selectors out of the
// results map into a flat output object, per the original's
// variable_extraction_node.py.
func buildVariableExtraction(cfg model.Value) (workflow.Node, error) {
	fieldsVal, _ := cfg.Get("fields")
	fields := fieldsVal.Object()
	return workflow.NodeFunc(func(ctx context.Context, rc *workflow.RunContext, inputs model.Value) (workflow.Result, error) {
		out := map[string]model.Value{}
		for name, selectorVal := range fields {
			var path []string
			for _, seg := range selectorVal.Array() {
				path = append(path, seg.String())
			}
			out[name] = inputs.Select(path)
		}
		return workflow.Result{Output: model.Object(out)}, nil
	}), nil
}
