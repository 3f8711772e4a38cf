// Package nodes implements the per-type node kinds a Moduly graph can
// contain, binding each node's stored configuration into the uniform
// workflow.Node execution interface.
package nodes

import (
	"context"
	"fmt"

	"github.com/moduly/engine/internal/model"
	"github.com/moduly/engine/internal/workflow"
)

// Register installs every built-in node type into reg.
func Register(reg *workflow.Registry, deps Deps) {
	reg.Register("startNode", buildStart)
	reg.Register("webhookTrigger", buildStart)
	reg.Register("scheduleTrigger", buildStart)
	reg.Register("httpNode", deps.buildHTTP)
	reg.Register("conditionNode", buildCondition)
	reg.Register("answerNode", buildAnswer)
	reg.Register("variableExtractionNode", buildVariableExtraction)
	reg.Register("llmNode", deps.buildLLM)
	reg.Register("codeNode", deps.buildCode)
	reg.Register("knowledgeRetrievalNode", deps.buildKnowledgeRetrieval)
	reg.Register("loopNode", deps.buildLoop)
	reg.Register("workflowNode", deps.buildWorkflow)
	reg.Register("githubNode", deps.buildGithub)
	reg.Register("fileExtractionNode", deps.buildFileExtraction)
}

// buildStart is the identity node for trigger types: its output is the raw
// input view the engine already computed (spec.md §4.1.4).
func buildStart(cfg model.Value) (workflow.Node, error) {
	return workflow.NodeFunc(func(ctx context.Context, rc *workflow.RunContext, inputs model.Value) (workflow.Result, error) {
		return workflow.Result{Output: inputs}, nil
	}), nil
}

// selectorPath reads a node config field that is an array of strings
// (a value selector, spec.md glossary) into a []string.
func selectorPath(cfg model.Value, key string) []string {
	field, ok := cfg.Get(key)
	if !ok {
		return nil
	}
	var path []string
	for _, seg := range field.Array() {
		path = append(path, seg.String())
	}
	return path
}

func configString(cfg model.Value, key string) string {
	v, ok := cfg.Get(key)
	if !ok {
		return ""
	}
	return v.String()
}

func configErr(nodeType string, err error) error {
	return fmt.Errorf("%s: invalid configuration: %w", nodeType, err)
}
