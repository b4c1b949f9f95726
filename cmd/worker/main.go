// Command worker runs the polling claim-process-update cycle against
// the shared persistence environment the admission surface writes to.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xraph/birdwatch/internal/config"
	"github.com/xraph/birdwatch/internal/ratelimit"
	"github.com/xraph/birdwatch/observer"
	"github.com/xraph/birdwatch/persistence"
	"github.com/xraph/birdwatch/persistence/pebblestore"
	"github.com/xraph/birdwatch/processor"
	"github.com/xraph/birdwatch/queue"
	"github.com/xraph/birdwatch/worker"
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

	proc := processor.New(cfg.WikipediaBaseURL, 10*time.Second)
	limiter := ratelimit.New(cfg.ResearchRateLimitPerSec, cfg.ResearchRateBurst)

	pool := worker.New(
		q, obs, proc,
		cfg.WorkerConcurrency,
		time.Duration(cfg.PollIntervalMs)*time.Millisecond,
		time.Duration(cfg.BaseDelayMs)*time.Millisecond,
		cfg.MaxRetries,
		worker.WithLimiter(limiter),
	)

	slog.Info("worker pool starting", slog.Int("concurrency", cfg.WorkerConcurrency))
	pool.Start(ctx)

	<-ctx.Done()
	slog.Info("worker pool stopping")
	pool.Stop()
}
