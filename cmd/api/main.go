// Command api runs the admission surface: POST /bird, GET /bird, and
// GET /metrics over a shared persistence environment.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xraph/birdwatch/api"
	"github.com/xraph/birdwatch/internal/config"
	"github.com/xraph/birdwatch/observer"
	"github.com/xraph/birdwatch/persistence"
	"github.com/xraph/birdwatch/persistence/pebblestore"
	"github.com/xraph/birdwatch/queue"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	adapter := persistence.NewAdapter(pebblestore.Open)
	defer adapter.Close()

	queueEnv, err := adapter.Open(cfg.QueueDBPath)
	if err != nil {
		log.Fatalf("open queue store: %v", err)
	}
	observerEnv, err := adapter.Open(cfg.ObserverDBPath)
	if err != nil {
		log.Fatalf("open observer store: %v", err)
	}

	q := queue.New(queueEnv, cfg.TimestampPadLength)
	obs := observer.New(observerEnv, cfg.TimestampPadLength, cfg.DefaultMetricsWindowMs, cfg.FailureRateThreshold)

	server := api.New(q, obs, cfg.DefaultMetricsWindowMs)
	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Router(),
		ReadTimeout:  time.Duration(cfg.HTTPReadTimeoutMs) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.HTTPWriteTimeoutMs) * time.Millisecond,
	}

	slog.Info("admission surface listening", slog.String("addr", httpServer.Addr))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", slog.String("error", err.Error()))
	}
}
