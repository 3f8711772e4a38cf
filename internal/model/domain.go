package model

import "time"

// TriggerMode is how a Run was started.
type TriggerMode string

const (
	TriggerManual   TriggerMode = "manual"
	TriggerAPI      TriggerMode = "api"
	TriggerSchedule TriggerMode = "schedule"
)

// RunStatus is the terminal-or-in-flight status of a Run.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
	RunStopped RunStatus = "stopped"
)

// Usage aggregates token/cost accounting across a run's LLM calls.
type Usage struct {
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// Run is one invocation of a graph. Created on task accept, mutated only by
// the log writer, never deleted except by user action. Exactly one
// terminal status; FinishedAt >= StartedAt once set.
type Run struct {
	ID              string      `json:"id"`
	WorkflowID      string      `json:"workflow_id"`
	UserID          string      `json:"user_id"`
	DeploymentID    string      `json:"deployment_id,omitempty"`
	DeploymentVersion int       `json:"deployment_version,omitempty"`
	Trigger         TriggerMode `json:"trigger"`
	Status          RunStatus   `json:"status"`
	Input           Value       `json:"input"`
	Output          Value       `json:"output"`
	ErrorMessage    string      `json:"error_message,omitempty"`
	StartedAt       time.Time   `json:"started_at"`
	FinishedAt      *time.Time  `json:"finished_at,omitempty"`
	DurationSeconds float64     `json:"duration_seconds,omitempty"`
	Usage           Usage       `json:"usage"`
}

// Checkpoint is a single-shot, resume-after-crash snapshot of one run's
// scheduler state: which nodes have finished and what they produced. It is
// overwritten in place (PK-stable on RunID) after every node completion, not
// versioned per step — deliberately short of graph/checkpoint.go's branching,
// deterministic-replay Checkpoint[S] (per-step, RNG-seeded, recorded I/O),
// since spec.md explicitly does not guarantee two runs observe the same
// external world. A crashed worker resumes a run by reloading the latest
// checkpoint and skipping already-executed nodes; it never replays them.
type Checkpoint struct {
	RunID          string           `json:"run_id"`
	Executed       []string         `json:"executed"`
	Results        map[string]Value `json:"results"`
	Handles        map[string]string `json:"handles"`
	IdempotencyKey string           `json:"idempotency_key"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Terminal reports whether Status is one of the terminal states.
func (r Run) Terminal() bool {
	switch r.Status {
	case RunSuccess, RunFailed, RunStopped:
		return true
	default:
		return false
	}
}

// NodeRunStatus is the status of a single node execution within a run.
type NodeRunStatus string

const (
	NodeRunRunning NodeRunStatus = "running"
	NodeRunSuccess NodeRunStatus = "success"
	NodeRunFailed  NodeRunStatus = "failed"
	NodeRunSkipped NodeRunStatus = "skipped"
)

// NodeRun carries one node's execution record within a Run. Its ID is
// generated by the engine before any event referencing it is emitted, so
// that concurrent create/finish/error messages upsert the same row
// regardless of arrival order (PK-stable upsert, see DESIGN.md Open
// Question (b)).
type NodeRun struct {
	ID           string        `json:"id"`
	RunID        string        `json:"run_id"`
	NodeID       string        `json:"node_id"`
	NodeType     string        `json:"node_type"`
	Status       NodeRunStatus `json:"status"`
	Inputs       Value         `json:"inputs"`
	Outputs      Value         `json:"outputs"`
	ProcessData  Value         `json:"process_data"`
	ErrorMessage string        `json:"error_message,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
}

// Duration derives the node's wall-clock duration from its own timestamps;
// unlike Run, NodeRun never stores a separate duration field (DESIGN.md
// Open Question (a)).
func (n NodeRun) Duration() time.Duration {
	if n.FinishedAt == nil {
		return 0
	}
	return n.FinishedAt.Sub(n.StartedAt)
}

// Node is one vertex of a Graph. Configuration is type-specific and
// validated against a per-type schema at graph load (see internal/nodes).
type Node struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Config   Value  `json:"config"`
	Timeout  *int   `json:"timeout,omitempty"` // seconds; fallback 300s
	ParentID string `json:"parent_id,omitempty"`
}

// Edge connects Source to Target, optionally gated by a handle label
// matched against a node result's selected_handle (branching).
type Edge struct {
	ID            string `json:"id"`
	Source        string `json:"source"`
	Target        string `json:"target"`
	SourceHandle  string `json:"source_handle,omitempty"`
	TargetHandle  string `json:"target_handle,omitempty"`
}

// Graph is a pair (nodes, edges) as authored by the user.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// DocumentSourceType is where a KB document's content originates.
type DocumentSourceType string

const (
	SourceFile DocumentSourceType = "FILE"
	SourceAPI  DocumentSourceType = "API"
	SourceDB   DocumentSourceType = "DB"
)

// KnowledgeBase groups Documents under a single embedding model.
type KnowledgeBase struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	EmbeddingModel  string `json:"embedding_model"`
	EmbeddingDims   int    `json:"embedding_dims"`
}

// Document is one source within a KnowledgeBase.
type Document struct {
	ID            string             `json:"id"`
	KnowledgeBaseID string           `json:"knowledge_base_id"`
	SourceType    DocumentSourceType `json:"source_type"`
	ContentHash   string             `json:"content_hash"`
	Status        string             `json:"status"`
	SourceConfig  Value              `json:"source_config"`
}

// DocumentChunk is one retrievable unit of a Document. Content is stored
// symmetrically encrypted at rest (see internal/crypto); ContentHash is a
// function of the pre-encryption plaintext.
type DocumentChunk struct {
	ID            string    `json:"id"`
	DocumentID    string    `json:"document_id"`
	Content       string    `json:"content"` // ciphertext at rest
	ContentHash   string    `json:"content_hash"`
	Position      int       `json:"position"`
	TokenCount    int       `json:"token_count"`
	Metadata      Value     `json:"metadata"`
	Embedding     []float32 `json:"embedding"`
}

// Schedule binds cron semantics to a Deployment.
type Schedule struct {
	CronExpr string     `json:"cron_expr"`
	Timezone string     `json:"timezone"`
	LastRun  *time.Time `json:"last_run,omitempty"`
	NextRun  *time.Time `json:"next_run,omitempty"`
}

// DeploymentType gates which public endpoints a deployment is reachable
// from (spec.md §6 /run-public requires webapp or widget).
type DeploymentType string

const (
	DeploymentAPI    DeploymentType = "api"
	DeploymentWebapp DeploymentType = "webapp"
	DeploymentWidget DeploymentType = "widget"
)

// Deployment is a frozen graph snapshot bound to a public slug.
type Deployment struct {
	ID           string         `json:"id"`
	AppID        string         `json:"app_id"`
	Version      int            `json:"version"`
	GraphSnapshot Graph         `json:"graph_snapshot"`
	InputSchema  Value          `json:"input_schema"`
	OutputSchema Value          `json:"output_schema"`
	URLSlug      string         `json:"url_slug"`
	Type         DeploymentType `json:"type"`
	Active       bool           `json:"active"`
	Schedule     *Schedule      `json:"schedule,omitempty"`
}

// Credential is a user-owned encrypted provider secret, many-to-many with
// models through a verification join gated by IsVerified.
type Credential struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	Provider     string `json:"provider"`
	EncryptedKey string `json:"encrypted_key"`
	IsVerified   bool   `json:"is_verified"`
}
