package nodes

import (
	"context"

	"github.com/moduly/engine/internal/model"
	"github.com/moduly/engine/internal/workflow"
)

// buildCode delegates to the sandbox service (spec.md §4.3): the node
// itself is a thin client, all isolation/scheduling lives in
// internal/sandbox.
func (d Deps) buildCode(cfg model.Value) (workflow.Node, error) {
	if d.Sandbox == nil {
		return nil, configErr("codeNode", errNoSandbox)
	}
	codePath := selectorPath(cfg, "code_selector")
	inlineCode := configString(cfg, "code")
	timeout := 10
	if tv, ok := cfg.Get("timeout"); ok && tv.Kind() == model.KindNumber {
		timeout = int(tv.Number())
	}
	tenantID := configString(cfg, "tenant_id")
	priority := configString(cfg, "priority")
	enableNetwork := false
	if nv, ok := cfg.Get("enable_network"); ok {
		enableNetwork = nv.Bool()
	}

	return workflow.NodeFunc(func(ctx context.Context, rc *workflow.RunContext, inputs model.Value) (workflow.Result, error) {
		code := inlineCode
		if len(codePath) > 0 {
			code = inputs.Select(codePath).String()
		}
		out, err := d.Sandbox.Execute(ctx, code, inputs, timeout, tenantID, priority, enableNetwork)
		if err != nil {
			return workflow.Result{}, err
		}
		return workflow.Result{Output: out}, nil
	}), nil
}

type sandboxErr string

func (e sandboxErr) Error() string { return string(e) }

const errNoSandbox = sandboxErr("no sandbox client configured")
