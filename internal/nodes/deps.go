package nodes

import (
	"context"
	"net/http"

	"github.com/moduly/engine/internal/model"
	"github.com/moduly/engine/internal/obs"
	"github.com/moduly/engine/internal/providers"
	wf "github.com/moduly/engine/internal/workflow"
)

// HTTPDoer is the minimal surface httpNode needs; satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// SandboxClient submits untrusted code to the sandbox service (spec.md
// §4.3/§6) for codeNode. priority is one of "high"/"normal"/"low", or ""
// to let the execution-history advisor decide.
type SandboxClient interface {
	Execute(ctx context.Context, code string, inputs model.Value, timeoutSeconds int, tenantID, priority string, enableNetwork bool) (model.Value, error)
}

// RetrievalClient runs hybrid search against a knowledge base (spec.md
// §4.4) for knowledgeRetrievalNode.
type RetrievalClient interface {
	Search(ctx context.Context, kbID, query string, topK int) ([]model.Value, error)
}

// DeploymentLoader loads a frozen graph snapshot by deployment id, for
// workflowNode's sub-workflow invocation.
type DeploymentLoader interface {
	LoadGraph(ctx context.Context, deploymentID string) (model.Graph, error)
}

// GithubClient performs the narrow set of GitHub operations githubNode
// exposes (issue/PR comment, file read) — kept intentionally small; the
// platform's collaborator surface owns auth (spec.md §1 Out-of-scope).
type GithubClient interface {
	Do(ctx context.Context, action string, params model.Value) (model.Value, error)
}

// Deps bundles the external collaborators node builders close over. Each
// is optional; a nil dependency makes its node type fail at build time with
// a clear configuration error instead of panicking at execution time.
type Deps struct {
	HTTPDoer    HTTPDoer
	LLM         providers.Resolver
	Sandbox     SandboxClient
	Retrieval   RetrievalClient
	Deployments DeploymentLoader
	Github      GithubClient
	Metrics     *obs.Metrics // nil-safe; llmNode reports cost to llm_cost_usd_total when set
}
