package workflow

import (
	"context"

	"github.com/moduly/engine/internal/model"
)

// Node is the uniform execution interface every node kind implements,
// generalizing graph.Node[S] from a static state parameter to the dynamic
// Value tree (spec.md §9's tagged-union design note). A node receives its
// input view (§4.1.4) and the live run context, and returns a result or an
// error.
type Node interface {
	Run(ctx context.Context, rc *RunContext, inputs model.Value) (Result, error)
}

// Result is what a node's Run returns. SelectedHandle, when non-empty,
// restricts outgoing edges to those whose SourceHandle matches it
// (conditional branching); an empty SelectedHandle means every outgoing
// edge is followed (fan-out).
type Result struct {
	Output         model.Value
	SelectedHandle string
}

// NodeFunc adapts a plain function to the Node interface, mirroring
// graph.NodeFunc[S].
type NodeFunc func(ctx context.Context, rc *RunContext, inputs model.Value) (Result, error)

func (f NodeFunc) Run(ctx context.Context, rc *RunContext, inputs model.Value) (Result, error) {
	return f(ctx, rc, inputs)
}

// Registry maps node type strings to constructors that bind a model.Node's
// configuration into a runnable Node.
type Registry struct {
	builders map[string]func(cfg model.Value) (Node, error)
}

func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]func(cfg model.Value) (Node, error))}
}

func (r *Registry) Register(nodeType string, build func(cfg model.Value) (Node, error)) {
	r.builders[nodeType] = build
}

func (r *Registry) Build(nodeType string, cfg model.Value) (Node, error) {
	build, ok := r.builders[nodeType]
	if !ok {
		return nil, unknownNodeType(nodeType)
	}
	return build(cfg)
}

type unknownNodeTypeErr string

func (e unknownNodeTypeErr) Error() string { return "unknown node type: " + string(e) }

func unknownNodeType(t string) error { return unknownNodeTypeErr(t) }
