// Command retrieval runs the hybrid search service: an HTTP surface for
// knowledgeRetrievalNode's synchronous queries, and a `sandbox` queue
// consumer for the out-of-band document ingestion tasks spec.md §4.2
// assigns that queue.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/moduly/engine/internal/broker"
	"github.com/moduly/engine/internal/config"
	"github.com/moduly/engine/internal/crypto"
	imodel "github.com/moduly/engine/internal/model"
	"github.com/moduly/engine/internal/obs"
	"github.com/moduly/engine/internal/providers"
	"github.com/moduly/engine/internal/retrieval"
	"github.com/moduly/engine/internal/store"
)

func main() {
	logger := obs.InitLogging("retrieval")

	var brokerCfg config.Broker
	var storeCfg config.Store
	var retrievalCfg config.Retrieval
	for _, err := range []error{
		config.Load(&brokerCfg),
		config.Load(&storeCfg),
		config.Load(&retrievalCfg),
	} {
		if err != nil {
			logger.Error("loading config", "error", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := store.NewPostgresStore(ctx, storeCfg.PostgresDSN)
	if err != nil {
		logger.Error("connecting to store", "error", err)
		os.Exit(1)
	}
	defer pg.Close()

	tb, err := broker.NewTaskBroker(brokerCfg.NATSURL)
	if err != nil {
		logger.Error("connecting to broker", "error", err)
		os.Exit(1)
	}
	defer tb.Close()

	ch, err := broker.NewChannel(brokerCfg.RedisURL)
	if err != nil {
		logger.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer ch.Close()

	var fernet *crypto.Fernet
	if retrievalCfg.FernetKey != "" {
		fernet, err = crypto.NewFernet(retrievalCfg.FernetKey)
		if err != nil {
			logger.Error("loading content encryption key", "error", err)
			os.Exit(1)
		}
	}

	var reranker retrieval.Reranker
	if retrievalCfg.RerankerURL != "" {
		reranker = retrieval.NewHTTPReranker(retrievalCfg.RerankerURL)
	}

	chatResolver, embedResolver, err := providers.BuildResolvers(ctx, pg, fernet, providers.ServiceUserID)
	if err != nil {
		logger.Error("resolving LLM credentials", "error", err)
		os.Exit(1)
	}

	svc := retrieval.New(pg, chatResolver, embedResolver, reranker, fernet, retrievalCfg, retrievalCfg.RewriteModelID)
	svc.Lock = ch

	r := chi.NewRouter()
	r.Post("/v1/retrieval/search", searchHandler(svc))
	r.Post("/v1/retrieval/sync", syncHandler(svc))

	srv := &http.Server{Addr: ":8083", Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info("retrieval ingestion consumer starting", "queue", broker.QueueSandbox)
		if err := tb.Consume(ctx, broker.QueueSandbox, 4, ingestionHandler(svc)); err != nil && ctx.Err() == nil {
			logger.Error("ingestion consumer stopped", "error", err)
		}
	}()

	logger.Info("retrieval service starting", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("retrieval shutting down")
}

type searchRequestBody struct {
	KnowledgeBaseID string `json:"knowledge_base_id"`
	Query           string `json:"query"`
	TopK            int    `json:"top_k"`
}

type searchResponseBody struct {
	Results []imodel.Value `json:"results"`
	Error   string         `json:"error,omitempty"`
}

func searchHandler(svc *retrieval.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req searchRequestBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		topK := req.TopK
		if topK <= 0 {
			topK = 5
		}
		results, err := svc.Search(r.Context(), req.KnowledgeBaseID, req.Query, topK)
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, searchResponseBody{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, searchResponseBody{Results: results})
	}
}

// ingestionTask is the `sandbox.*` queue payload for one document's
// (re)sync (spec.md §4.2's "sandbox (out-of-band ingestion)").
type ingestionTask struct {
	KnowledgeBaseID string       `json:"knowledge_base_id"`
	DocumentID      string       `json:"document_id"`
	Content         string       `json:"content"`
	SourceConfig    imodel.Value `json:"source_config"`
}

type syncRequestBody = ingestionTask

func syncHandler(svc *retrieval.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req syncRequestBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := svc.SyncDocument(r.Context(), req.KnowledgeBaseID, req.DocumentID, req.Content, req.SourceConfig); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func ingestionHandler(svc *retrieval.Service) broker.Handler {
	return func(ctx context.Context, data []byte) error {
		var task ingestionTask
		if err := json.Unmarshal(data, &task); err != nil {
			return err
		}
		return svc.SyncDocument(ctx, task.KnowledgeBaseID, task.DocumentID, task.Content, task.SourceConfig)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
