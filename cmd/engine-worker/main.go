// Command engine-worker consumes the `workflow` broker queue, runs each
// graph to completion via internal/workflow.Engine, and produces log/event
// tasks rather than writing the store directly.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/moduly/engine/internal/broker"
	"github.com/moduly/engine/internal/config"
	"github.com/moduly/engine/internal/crypto"
	"github.com/moduly/engine/internal/model"
	"github.com/moduly/engine/internal/nodes"
	"github.com/moduly/engine/internal/obs"
	"github.com/moduly/engine/internal/providers"
	"github.com/moduly/engine/internal/retrieval"
	"github.com/moduly/engine/internal/sandbox"
	"github.com/moduly/engine/internal/store"
	"github.com/moduly/engine/internal/workflow"
)

// runTask is the `workflow.*` queue payload: which graph to run, for which
// run id, with what trigger input.
type runTask struct {
	RunID      string      `json:"run_id"`
	WorkflowID string      `json:"workflow_id"`
	Input      model.Value `json:"input"`
}

func main() {
	logger := obs.InitLogging("engine-worker")

	var brokerCfg config.Broker
	var storeCfg config.Store
	var engineCfg config.Engine
	var retrievalCfg config.Retrieval
	for _, err := range []error{
		config.Load(&brokerCfg),
		config.Load(&storeCfg),
		config.Load(&engineCfg),
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

	schemas, err := nodes.NewSchemaSet()
	if err != nil {
		logger.Error("compiling node schemas", "error", err)
		os.Exit(1)
	}

	var fernet *crypto.Fernet
	if retrievalCfg.FernetKey != "" {
		fernet, err = crypto.NewFernet(retrievalCfg.FernetKey)
		if err != nil {
			logger.Error("loading content encryption key", "error", err)
			os.Exit(1)
		}
	}
	chatResolver, _, err := providers.BuildResolvers(ctx, pg, fernet, providers.ServiceUserID)
	if err != nil {
		logger.Error("resolving LLM credentials", "error", err)
		os.Exit(1)
	}

	metrics := obs.NewMetrics(nil)
	registry := workflow.NewRegistry()
	deps := nodes.Deps{
		LLM:       chatResolver,
		Sandbox:   sandbox.NewHTTPClient(engineCfg.SandboxURL),
		Retrieval: retrieval.NewHTTPClient(engineCfg.RetrievalURL),
		Metrics:   metrics,
	}
	nodes.Register(registry, deps)

	logPub := broker.LogTaskPublisher{Broker: tb}
	emitter := broker.RedisEmitter{Channel: ch}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", obs.Handler())
		logger.Info("metrics server starting", "addr", engineCfg.MetricsAddr)
		if err := http.ListenAndServe(engineCfg.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	handle := func(ctx context.Context, data []byte) error {
		var task runTask
		if err := json.Unmarshal(data, &task); err != nil {
			return fmt.Errorf("decoding run task: %w", err)
		}
		g, err := pg.LoadGraph(ctx, task.WorkflowID)
		if err != nil {
			return fmt.Errorf("loading graph %s: %w", task.WorkflowID, err)
		}
		engine, err := workflow.New(g, nil, schemas)
		if err != nil {
			return fmt.Errorf("validating graph %s: %w", task.WorkflowID, err)
		}
		engine.Metrics = metrics
		rc := &workflow.RunContext{
			RunID:       task.RunID,
			WorkflowID:  task.WorkflowID,
			Registry:    registry,
			Emitter:     emitter,
			Log:         logPub,
			Usage:       workflow.NewUsageAccumulator(),
			Checkpoints: pg,
		}
		_, runErr := engine.Run(ctx, rc, task.Input)
		return runErr
	}

	logger.Info("engine-worker starting", "queue", broker.QueueWorkflow, "concurrency", engineCfg.MaxConcurrentNodes)
	if err := tb.Consume(ctx, broker.QueueWorkflow, engineCfg.MaxConcurrentNodes, handle); err != nil && ctx.Err() == nil {
		logger.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("engine-worker shutting down")
}
