// Package gateway implements the public HTTP run API (spec.md §6): it
// enqueues workflow.execute tasks on the `workflow` queue and relays their
// events back to callers over SSE, grounded on the original's gateway
// FastAPI routes and broker pubsub.py's subscribe_workflow_events.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/moduly/engine/internal/broker"
	"github.com/moduly/engine/internal/engineerr"
	"github.com/moduly/engine/internal/model"
	"github.com/moduly/engine/internal/store"
)

// ErrPublicAccessDenied is raised when /run-public/{slug} is hit against a
// deployment whose type isn't webapp or widget.
var ErrPublicAccessDenied = errors.New("deployment is not publicly runnable")

// TaskPublisher is the narrow surface Server needs from *broker.TaskBroker.
type TaskPublisher interface {
	Publish(queue, subject string, payload interface{}) error
}

// EventSubscriber is the narrow surface Server needs from *broker.Channel.
type EventSubscriber interface {
	Subscribe(ctx context.Context, runID string, out chan<- broker.Envelope) error
}

// Server holds the gateway's dependencies: the graph/run store, the task
// broker (task enqueue), and the pub/sub channel (event relay).
type Server struct {
	Store       store.Store
	Broker      TaskPublisher
	Channel     EventSubscriber
	Logger      *slog.Logger
	IdleTimeout time.Duration
}

// New builds a Server and its chi router.
func New(s store.Store, tb TaskPublisher, ch EventSubscriber, logger *slog.Logger, idleTimeout time.Duration) (*Server, http.Handler) {
	srv := &Server{Store: s, Broker: tb, Channel: ch, Logger: logger, IdleTimeout: idleTimeout}

	r := chi.NewRouter()
	r.Post("/run/{slug}", srv.handleRun(false))
	r.Post("/run-public/{slug}", srv.handleRun(true))
	r.Post("/run-async/{slug}", srv.handleRunAsync)
	r.Get("/run-status/{run_id}", srv.handleRunStatus)
	r.Get("/deployments/public/{slug}/info", srv.handleDeploymentInfo)
	return srv, r
}

type runRequest struct {
	Inputs model.Value `json:"inputs"`
}

// runTask mirrors cmd/engine-worker's runTask payload shape; duplicated
// here rather than imported since the two binaries share no package.
type runTask struct {
	RunID      string      `json:"run_id"`
	WorkflowID string      `json:"workflow_id"`
	Input      model.Value `json:"input"`
}

func (s *Server) resolveDeployment(ctx context.Context, slug string, publicOnly bool) (model.Deployment, error) {
	d, err := s.Store.LoadDeploymentBySlug(ctx, slug)
	if err != nil {
		return model.Deployment{}, err
	}
	if !d.Active {
		return model.Deployment{}, store.ErrNotFound
	}
	if publicOnly && d.Type != model.DeploymentWebapp && d.Type != model.DeploymentWidget {
		return model.Deployment{}, ErrPublicAccessDenied
	}
	return d, nil
}

func (s *Server) enqueueRun(ctx context.Context, d model.Deployment, input model.Value) (string, error) {
	runID := uuid.NewString()
	task := runTask{RunID: runID, WorkflowID: d.AppID, Input: input}
	if err := s.Broker.Publish(broker.QueueWorkflow, "execute", task); err != nil {
		return "", err
	}
	return runID, nil
}

// handleRun serves both /run/{slug} (publicOnly=false) and
// /run-public/{slug} (publicOnly=true): enqueue, then stream the run's
// events back as SSE until a terminal event or client disconnect.
func (s *Server) handleRun(publicOnly bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slug := chi.URLParam(r, "slug")
		d, err := s.resolveDeployment(r.Context(), slug, publicOnly)
		if err != nil {
			writeError(w, err)
			return
		}
		var req runRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		runID, err := s.enqueueRun(r.Context(), d, req.Inputs)
		if err != nil {
			writeError(w, err)
			return
		}
		if publicOnly {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		s.streamSSE(w, r, runID)
	}
}

func (s *Server) handleRunAsync(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	d, err := s.resolveDeployment(r.Context(), slug, false)
	if err != nil {
		writeError(w, err)
		return
	}
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	runID, err := s.enqueueRun(r.Context(), d, req.Inputs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id":  runID,
		"task_id": uuid.NewString(),
		"status":  "pending",
	})
}

type runStatusResponse struct {
	RunID        string       `json:"run_id"`
	Status       string       `json:"status"`
	Outputs      *model.Value `json:"outputs,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
	Duration     *float64     `json:"duration,omitempty"`
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	run, err := s.Store.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := runStatusResponse{
		RunID:        run.ID,
		Status:       string(run.Status),
		ErrorMessage: run.ErrorMessage,
		StartedAt:    &run.StartedAt,
		FinishedAt:   run.FinishedAt,
	}
	if run.Status == model.RunSuccess {
		resp.Outputs = &run.Output
	}
	if run.FinishedAt != nil {
		resp.Duration = &run.DurationSeconds
	}
	writeJSON(w, http.StatusOK, resp)
}

type deploymentInfoResponse struct {
	URLSlug      string               `json:"url_slug"`
	Version      int                  `json:"version"`
	Description  string               `json:"description"`
	Type         model.DeploymentType `json:"type"`
	InputSchema  model.Value          `json:"input_schema"`
	OutputSchema model.Value          `json:"output_schema"`
}

func (s *Server) handleDeploymentInfo(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	d, err := s.resolveDeployment(r.Context(), slug, true)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deploymentInfoResponse{
		URLSlug:      d.URLSlug,
		Version:      d.Version,
		Type:         d.Type,
		InputSchema:  d.InputSchema,
		OutputSchema: d.OutputSchema,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a resolution/enqueue error to the HTTP status table
// spec.md §7 defines, layering the gateway's own 403/404 cases on top of
// engineerr.HTTPStatus's 400/429/503/504/500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrPublicAccessDenied):
		status = http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	default:
		status = engineerr.HTTPStatus(err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
