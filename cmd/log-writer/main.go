// Command log-writer consumes the `log` broker queue and performs the
// PK-stable idempotent upserts that populate the relational store.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/moduly/engine/internal/broker"
	"github.com/moduly/engine/internal/config"
	"github.com/moduly/engine/internal/logwriter"
	"github.com/moduly/engine/internal/obs"
	"github.com/moduly/engine/internal/store"
)

func main() {
	logger := obs.InitLogging("log-writer")

	var brokerCfg config.Broker
	if err := config.Load(&brokerCfg); err != nil {
		logger.Error("loading broker config", "error", err)
		os.Exit(1)
	}
	var storeCfg config.Store
	if err := config.Load(&storeCfg); err != nil {
		logger.Error("loading store config", "error", err)
		os.Exit(1)
	}
	var logWriterCfg config.LogWriter
	if err := config.Load(&logWriterCfg); err != nil {
		logger.Error("loading log writer config", "error", err)
		os.Exit(1)
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

	metrics := obs.NewMetrics(nil)
	w := logwriter.New(pg, logger)
	w.Metrics = metrics

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", obs.Handler())
		logger.Info("metrics server starting", "addr", logWriterCfg.MetricsAddr)
		if err := http.ListenAndServe(logWriterCfg.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	logger.Info("log-writer starting", "queue", broker.QueueLog)
	if err := tb.Consume(ctx, broker.QueueLog, 8, w.HandleMessage); err != nil && ctx.Err() == nil {
		logger.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("log-writer shutting down")
}
