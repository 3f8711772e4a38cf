// Package logwriter consumes the `log` broker queue and performs the
// PK-stable idempotent upserts that are the only path by which Run/NodeRun
// rows reach the relational store (spec.md §4.2): the engine itself never
// touches the store on the hot path.
package logwriter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/moduly/engine/internal/obs"
	"github.com/moduly/engine/internal/retry"
	"github.com/moduly/engine/internal/store"
	"github.com/moduly/engine/internal/workflow"
)

// errMissingParent is returned when a node-level task references a run_id
// that has not yet landed (its log.create_run task is still in flight or
// was reordered by the broker); retried under LogWriteRetryPolicy before
// being surfaced to the caller.
var errMissingParent = errors.New("log write: missing parent run")

// Writer applies decoded LogTasks to a Store.
type Writer struct {
	Store   store.RunStore
	Log     *slog.Logger
	Metrics *obs.Metrics // nil-safe; counts missing-parent retries
}

func New(s store.RunStore, log *slog.Logger) *Writer {
	if log == nil {
		log = slog.Default()
	}
	return &Writer{Store: s, Log: log}
}

// HandleMessage decodes one `log.*` queue payload and applies it, retrying
// LogWriteMissingParent under retry.LogWriteRetryPolicy's backoff.
func (w *Writer) HandleMessage(ctx context.Context, data []byte) error {
	var task workflow.LogTask
	if err := json.Unmarshal(data, &task); err != nil {
		return fmt.Errorf("decoding log task: %w", err)
	}
	return retry.Do(retry.LogWriteRetryPolicy, func(attempt int) error {
		if attempt > 0 {
			w.Metrics.IncRetries("log_write", "missing_parent")
		}
		return w.apply(ctx, task)
	})
}

func (w *Writer) apply(ctx context.Context, task workflow.LogTask) error {
	switch task.Kind {
	case workflow.LogCreateRun, workflow.LogUpdateRunFinish, workflow.LogUpdateRunError:
		if task.Run == nil {
			return fmt.Errorf("log task %s: missing run payload", task.Kind)
		}
		if err := w.Store.UpsertRun(ctx, *task.Run); err != nil {
			return fmt.Errorf("upserting run %s: %w", task.Run.ID, err)
		}
		return nil

	case workflow.LogCreateNode, workflow.LogUpdateNodeFinish, workflow.LogUpdateNodeError:
		if task.NodeRun == nil {
			return fmt.Errorf("log task %s: missing node run payload", task.Kind)
		}
		if _, err := w.Store.GetRun(ctx, task.NodeRun.RunID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: run %s", errMissingParent, task.NodeRun.RunID)
			}
			return err
		}
		if err := w.Store.UpsertNodeRun(ctx, *task.NodeRun); err != nil {
			return fmt.Errorf("upserting node run %s: %w", task.NodeRun.ID, err)
		}
		return nil

	default:
		w.Log.Warn("log writer: unknown task kind", "kind", task.Kind)
		return nil
	}
}
