// Command gateway runs the public HTTP run API: it enqueues workflow.execute
// tasks and relays their events back to callers over SSE.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/moduly/engine/internal/broker"
	"github.com/moduly/engine/internal/config"
	"github.com/moduly/engine/internal/gateway"
	"github.com/moduly/engine/internal/obs"
	"github.com/moduly/engine/internal/store"
)

func main() {
	logger := obs.InitLogging("gateway")

	var brokerCfg config.Broker
	var storeCfg config.Store
	var gatewayCfg config.Gateway
	for _, err := range []error{
		config.Load(&brokerCfg),
		config.Load(&storeCfg),
		config.Load(&gatewayCfg),
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

	idleTimeout := time.Duration(gatewayCfg.SSEIdleTimeoutSec) * time.Second
	_, handler := gateway.New(pg, tb, ch, logger, idleTimeout)

	srv := &http.Server{Addr: gatewayCfg.Addr, Handler: handler}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway starting", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("gateway shutting down")
}
