package nodes

import (
	"context"
	"fmt"

	"github.com/moduly/engine/internal/model"
	"github.com/moduly/engine/internal/workflow"
)

// buildWorkflow loads a referenced deployment's frozen graph and executes
// it with a fresh engine, passing the parent's run_id so the sub-workflow's
// NodeRun rows are attributed to the parent run and suppressing its own
// run creation / event publication (spec.md §4.1 "Sub-workflows and
// loops").
func (d Deps) buildWorkflow(cfg model.Value) (workflow.Node, error) {
	if d.Deployments == nil {
		return nil, configErr("workflowNode", errNoDeployments)
	}
	deploymentID := configString(cfg, "deployment_id")

	return workflow.NodeFunc(func(ctx context.Context, rc *workflow.RunContext, inputs model.Value) (workflow.Result, error) {
		g, err := d.Deployments.LoadGraph(ctx, deploymentID)
		if err != nil {
			return workflow.Result{}, fmt.Errorf("workflowNode: loading deployment %s: %w", deploymentID, err)
		}
		engine, err := workflow.New(g, nil)
		if err != nil {
			return workflow.Result{}, fmt.Errorf("workflowNode: %w", err)
		}
		subRC := &workflow.RunContext{
			RunID:         rc.RunID,
			WorkflowID:    deploymentID,
			ParentRunID:   rc.RunID,
			IsSubworkflow: true,
			Registry:      rc.Registry,
			Emitter:       rc.Emitter,
			Log:           rc.Log,
			NewNodeRunID:  rc.NewNodeRunID,
			Clock:         rc.Clock,
			Usage:         rc.Usage,
		}
		out, err := engine.Run(ctx, subRC, inputs)
		if err != nil {
			return workflow.Result{}, err
		}
		return workflow.Result{Output: out}, nil
	}), nil
}

type deploymentErr string

func (e deploymentErr) Error() string { return string(e) }

const errNoDeployments = deploymentErr("no deployment loader configured")
