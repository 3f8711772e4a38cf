// Package engineerr defines the error taxonomy shared across Moduly's
// services, in the sentinel-wrapped style of graph/errors.go and
// graph/node.go's NodeError: compare with errors.Is/errors.As, never raw
// string matching.
package engineerr

import "errors"

// Validation errors (fatal, never retried).
var (
	ErrGraphCycle      = errors.New("graph contains a cycle")
	ErrBadTriggerCount = errors.New("graph must have exactly one trigger node")
	ErrIsolatedNode    = errors.New("node is unreachable from the trigger")
)

// Resource-exhaustion errors.
var (
	ErrNodeTimeout     = errors.New("node execution timed out")
	ErrWorkflowTimeout = errors.New("workflow execution timed out")
)

// Overload / sandbox errors.
var (
	ErrOverloaded      = errors.New("sandbox queue overloaded")
	ErrSandboxRuntime  = errors.New("sandbox job runtime error")
	ErrSandboxTimeout  = errors.New("sandbox job timed out")
	ErrSandboxInternal = errors.New("sandbox internal error")
)

// Coordination-fabric errors.
var ErrLogWriteMissingParent = errors.New("log update arrived before its parent create")

// Provider errors.
var (
	ErrProviderAuth      = errors.New("provider authentication failed")
	ErrProviderQuota     = errors.New("provider quota exceeded")
	ErrProviderTransport = errors.New("provider transport error")
)

// NodeFailure wraps any unhandled error raised by a node's Run, attributing
// it to a node id for event emission and log upserts. Mirrors
// graph.NodeError's shape.
type NodeFailure struct {
	NodeID string
	Cause  error
}

func (e *NodeFailure) Error() string {
	return "node " + e.NodeID + ": " + e.Cause.Error()
}

func (e *NodeFailure) Unwrap() error { return e.Cause }

// HTTPStatus maps an error kind to the HTTP status closest in semantics,
// per spec.md §7: 400 validation, 429 quota, 503 overloaded, 504 timeout,
// 500 otherwise. The 403 (public access denied) and 404 (slug/deployment
// missing) statuses are not produced here; the gateway's writeError sets them.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrGraphCycle), errors.Is(err, ErrBadTriggerCount), errors.Is(err, ErrIsolatedNode):
		return 400
	case errors.Is(err, ErrProviderQuota):
		return 429
	case errors.Is(err, ErrOverloaded):
		return 503
	case errors.Is(err, ErrNodeTimeout), errors.Is(err, ErrWorkflowTimeout), errors.Is(err, ErrSandboxTimeout):
		return 504
	default:
		return 500
	}
}
