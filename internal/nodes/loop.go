package nodes

import (
	"context"
	"fmt"

	"github.com/moduly/engine/internal/model"
	"github.com/moduly/engine/internal/workflow"
)

// buildLoop iterates an embedded sub-graph over an array drawn from its
// inputs, instantiating a fresh sub-engine per iteration (mirroring
// "scoped executor per sub-engine, released on completion" design note,
// spec.md §9) and collecting outputs flattened or per-iteration. Loop
// children use ParentID (the loop node's id) to escape the reachability
// check (spec.md §4.1).
func (d Deps) buildLoop(cfg model.Value) (workflow.Node, error) {
	itemsPath := selectorPath(cfg, "items_selector")
	flatten := false
	if fv, ok := cfg.Get("flatten_output"); ok {
		flatten = fv.Bool()
	}
	graphVal, _ := cfg.Get("sub_graph")
	subGraph, err := model.ValueToGraph(graphVal)
	if err != nil {
		return nil, configErr("loopNode", err)
	}
	entryPoints := selectorPath(cfg, "entry_point_ids")

	return workflow.NodeFunc(func(ctx context.Context, rc *workflow.RunContext, inputs model.Value) (workflow.Result, error) {
		items := inputs.Select(itemsPath).Array()

		outputs := make([]model.Value, 0, len(items))
		for i, item := range items {
			engine, err := workflow.New(subGraph, entryPoints)
			if err != nil {
				return workflow.Result{}, fmt.Errorf("loopNode: building iteration %d sub-engine: %w", i, err)
			}
			iterRC := &workflow.RunContext{
				RunID:         rc.RunID,
				WorkflowID:    rc.WorkflowID,
				ParentRunID:   rc.RunID,
				IsSubworkflow: true,
				Registry:      rc.Registry,
				Emitter:       rc.Emitter,
				Log:           rc.Log,
				NewNodeRunID:  rc.NewNodeRunID,
				Clock:         rc.Clock,
				Usage:         rc.Usage,
			}
			out, err := engine.Run(ctx, iterRC, item)
			if err != nil {
				return workflow.Result{}, fmt.Errorf("loopNode: iteration %d: %w", i, err)
			}
			outputs = append(outputs, out)
		}

		if flatten {
			var flat []model.Value
			for _, out := range outputs {
				if out.Kind() == model.KindArray {
					flat = append(flat, out.Array()...)
				} else {
					flat = append(flat, out)
				}
			}
			return workflow.Result{Output: model.Array(flat...)}, nil
		}
		return workflow.Result{Output: model.Array(outputs...)}, nil
	}), nil
}
