package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/moduly/engine/internal/broker"
)

// streamSSE subscribes to run:{runID} and relays each envelope as
// `data: <json>\n\n`, closing on a terminal event, client disconnect, or
// idle timeout — mirroring the original's subscribe_workflow_events
// generator and spec.md §6's SSE framing.
func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request, runID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events := make(chan broker.Envelope, 16)
	errs := make(chan error, 1)
	go func() {
		errs <- s.Channel.Subscribe(ctx, runID, events)
		close(events)
	}()

	idle := s.IdleTimeout
	if idle <= 0 {
		idle = 300 * time.Second
	}
	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-timer.C:
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", `{"message":"idle timeout"}`)
			flusher.Flush()
			return
		case env, ok := <-events:
			if !ok {
				return
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(idle)

			payload, err := json.Marshal(env)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			if env.Type == "workflow_finish" || env.Type == "error" {
				return
			}
		}
	}
}
