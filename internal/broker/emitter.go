package broker

import (
	"context"

	"github.com/moduly/engine/internal/workflow"
)

// RedisEmitter adapts Channel to workflow.Emitter, publishing on
// `run:{run_id}` as described in DESIGN.md's coordination-fabric entry.
type RedisEmitter struct {
	Channel *Channel
}

func (e RedisEmitter) Emit(runID string, ev workflow.Event) error {
	return e.Channel.Publish(context.Background(), runID, string(ev.Type), ev.Data)
}
