package nodes

import (
	"context"

	"github.com/moduly/engine/internal/model"
	"github.com/moduly/engine/internal/workflow"
)

// buildCondition evaluates one of a small set of comparison operators
// against a value-selector input and returns selected_handle "true" or
// "false" so the engine follows only the matching branch (spec.md §4.1.3).
func buildCondition(cfg model.Value) (workflow.Node, error) {
	path := selectorPath(cfg, "selector")
	op := configString(cfg, "operator")
	rhsField, _ := cfg.Get("value")

	return workflow.NodeFunc(func(ctx context.Context, rc *workflow.RunContext, inputs model.Value) (workflow.Result, error) {
		lhs := inputs.Select(path)
		ok := evaluate(op, lhs, rhsField)
		handle := "false"
		if ok {
			handle = "true"
		}
		return workflow.Result{
			Output:         model.Object(map[string]model.Value{"selected_handle": model.String(handle), "result": model.Bool(ok)}),
			SelectedHandle: handle,
		}, nil
	}), nil
}

func evaluate(op string, lhs, rhs model.Value) bool {
	switch op {
	case "eq", "":
		return valuesEqual(lhs, rhs)
	case "neq":
		return !valuesEqual(lhs, rhs)
	case "gt":
		return lhs.Kind() == model.KindNumber && rhs.Kind() == model.KindNumber && lhs.Number() > rhs.Number()
	case "lt":
		return lhs.Kind() == model.KindNumber && rhs.Kind() == model.KindNumber && lhs.Number() < rhs.Number()
	case "truthy":
		return isTruthy(lhs)
	default:
		return false
	}
}

func valuesEqual(a, b model.Value) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	switch a.Kind() {
	case model.KindNull:
		return true
	case model.KindBool:
		return a.Bool() == b.Bool()
	case model.KindNumber:
		return a.Number() == b.Number()
	case model.KindString:
		return a.String() == b.String()
	default:
		return false
	}
}

func isTruthy(v model.Value) bool {
	switch v.Kind() {
	case model.KindNull:
		return false
	case model.KindBool:
		return v.Bool()
	case model.KindNumber:
		return v.Number() != 0
	case model.KindString:
		return v.String() != ""
	case model.KindArray:
		return len(v.Array()) > 0
	case model.KindObject:
		return len(v.Object()) > 0
	default:
		return false
	}
}
