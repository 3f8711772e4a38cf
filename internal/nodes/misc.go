package nodes

import (
	"context"

	"github.com/moduly/engine/internal/model"
	"github.com/moduly/engine/internal/workflow"
)

// buildGithub delegates a narrow action (e.g. "comment", "read_file") to
// the platform's GitHub collaborator.
func (d Deps) buildGithub(cfg model.Value) (workflow.Node, error) {
	if d.Github == nil {
		return nil, configErr("githubNode", errNoGithub)
	}
	action := configString(cfg, "action")
	paramsPath := selectorPath(cfg, "params_selector")

	return workflow.NodeFunc(func(ctx context.Context, rc *workflow.RunContext, inputs model.Value) (workflow.Result, error) {
		params := inputs.Select(paramsPath)
		out, err := d.Github.Do(ctx, action, params)
		if err != nil {
			return workflow.Result{}, err
		}
		return workflow.Result{Output: out}, nil
	}), nil
}

type githubErr string

func (e githubErr) Error() string { return string(e) }

const errNoGithub = githubErr("no github client configured")

// buildFileExtraction resolves a file reference (selector into inputs,
// produced upstream by a file-upload collaborator out of the engine's
// scope) and passes through its already-extracted text/metadata fields,
// grounded on the original's file_extraction_node.py contract.
func (d Deps) buildFileExtraction(cfg model.Value) (workflow.Node, error) {
	filePath := selectorPath(cfg, "file_selector")
	return workflow.NodeFunc(func(ctx context.Context, rc *workflow.RunContext, inputs model.Value) (workflow.Result, error) {
		file := inputs.Select(filePath)
		text, _ := file.Get("text")
		metadata, _ := file.Get("metadata")
		out := model.Object(map[string]model.Value{
			"text":     text,
			"metadata": metadata,
		})
		return workflow.Result{Output: out}, nil
	}), nil
}
