package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/moduly/engine/internal/model"
)

// CheckpointStore persists and resumes single-shot run checkpoints. It is
// declared locally (rather than imported from internal/store) so that
// workflow stays decoupled from the storage package, matching the
// ConfigValidator narrow-interface convention in engine.go; internal/store's
// CheckpointStore implementations satisfy it structurally.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error
	LoadCheckpoint(ctx context.Context, runID string) (model.Checkpoint, bool, error)
}

// checkpointIdempotencyKey hashes the executed set and its results, adapted
// from graph/checkpoint.go's computeIdempotencyKey but over a
// flat executed-node-id list and result map instead of a generic state plus
// ordered work-item frontier, since a single-shot checkpoint has no
// branching frontier to fold in.
func checkpointIdempotencyKey(executed []string, results map[string]model.Value) string {
	sorted := append([]string(nil), executed...)
	sort.Strings(sorted)

	h := sha256.New()
	for _, id := range sorted {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	if b, err := json.Marshal(results); err == nil {
		h.Write(b)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

func copyValueMap(m map[string]model.Value) map[string]model.Value {
	out := make(map[string]model.Value, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
