package workflow

import "github.com/moduly/engine/internal/model"

// EventType enumerates the five event kinds a run emits (spec.md §4.1).
type EventType string

const (
	EventWorkflowStart  EventType = "workflow_start"
	EventNodeStart      EventType = "node_start"
	EventNodeFinish     EventType = "node_finish"
	EventWorkflowFinish EventType = "workflow_finish"
	EventError          EventType = "error"
)

// Event is published on the run's pub/sub channel as {"type": ..., "data": ...}.
type Event struct {
	Type EventType `json:"type"`
	Data EventData `json:"data"`
}

// EventData is the union of fields used across the five event kinds; a
// given event populates only the fields relevant to its Type.
type EventData struct {
	RunID    string     `json:"run_id,omitempty"`
	NodeID   string     `json:"node_id,omitempty"`
	NodeType string     `json:"node_type,omitempty"`
	Output   *model.Value `json:"output,omitempty"`
	Outputs  *model.Value `json:"outputs,omitempty"` // workflow_finish final outputs
	Message  string     `json:"message,omitempty"`
}

// Emitter publishes Events for a run. The gateway's SSE handler and the log
// writer's task producer both sit behind this interface so the engine never
// depends on a concrete broker.
type Emitter interface {
	Emit(runID string, ev Event) error
}
