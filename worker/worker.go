// Package worker implements the polling claim-process-update cycle: a
// pool of independent agents that claim one job per tick, invoke the
// external processor, and update the outcome through the queue.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xraph/birdwatch/backoff"
	"github.com/xraph/birdwatch/id"
	"github.com/xraph/birdwatch/internal/ratelimit"
	"github.com/xraph/birdwatch/internal/tracing"
	"github.com/xraph/birdwatch/job"
	"github.com/xraph/birdwatch/observer"
	"github.com/xraph/birdwatch/queue"
)

// Processor researches a claimed job and returns its result body, or an
// error if the research attempt failed.
type Processor interface {
	Process(ctx context.Context, j *job.Job) (map[string]any, error)
}

// Pool launches Concurrency independent polling agents, each with its
// own worker id, sharing one Queue, Observer, Processor, and rate
// limiter.
type Pool struct {
	queue        *queue.Queue
	obs          *observer.Observer
	processor    Processor
	limiter      ratelimit.Limiter
	backoff      backoff.Strategy
	concurrency  int
	pollInterval time.Duration
	maxRetries   int
	logger       *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	now func() time.Time
}

// Option configures a Pool.
type Option func(*Pool)

// WithLimiter injects a rate limiter fronting the processor call. Pass
// nil (the default) to disable throttling.
func WithLimiter(limiter ratelimit.Limiter) Option {
	return func(p *Pool) { p.limiter = limiter }
}

// WithLogger overrides the pool's structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// WithBackoffStrategy overrides the retry delay strategy. The default
// is backoff.NewDoublingJitter(baseDelay) supplied to New.
func WithBackoffStrategy(s backoff.Strategy) Option {
	return func(p *Pool) { p.backoff = s }
}

// WithClock overrides the pool's time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// New creates a Pool. baseDelay backs the default DoublingJitter retry
// strategy; override it with WithBackoffStrategy.
func New(q *queue.Queue, obs *observer.Observer, proc Processor, concurrency int, pollInterval, baseDelay time.Duration, maxRetries int, opts ...Option) *Pool {
	p := &Pool{
		queue:        q,
		obs:          obs,
		processor:    proc,
		backoff:      backoff.NewDoublingJitter(baseDelay),
		concurrency:  concurrency,
		pollInterval: pollInterval,
		maxRetries:   maxRetries,
		logger:       slog.Default(),
		stopCh:       make(chan struct{}),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the pool's worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < p.concurrency; i++ {
		w := newAgent(p)
		p.wg.Add(1)
		go w.run()
	}
}

// Stop signals every worker goroutine to stop and waits for them to
// finish their current tick.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

// Tick runs one claim-process-update cycle synchronously, using a
// freshly generated worker id. Exposed so tests can drive the pool's logic
// without launching goroutines or waiting on a poll interval.
func (p *Pool) Tick(ctx context.Context) {
	newAgent(p).tick(ctx)
}

// agent is one polling goroutine: a short random id plus the loop logic.
type agent struct {
	pool *Pool
	id   string
}

func newAgent(p *Pool) *agent {
	return &agent{pool: p, id: id.NewWorkerID()}
}

func (a *agent) run() {
	defer a.pool.wg.Done()

	ctx := context.Background()
	if _, err := a.pool.obs.Log(ctx, observer.ActionWorkerStart, observer.SeverityLog, map[string]any{"workerId": a.id}); err != nil {
		a.pool.logger.Error("worker start log failed", slog.String("worker_id", a.id), slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(a.pool.pollInterval)
	defer ticker.Stop()

	for {
		a.tick(ctx)

		select {
		case <-a.pool.stopCh:
			return
		case <-ticker.C:
		}
	}
}

func (a *agent) tick(ctx context.Context) {
	ctx, span := tracing.Start(ctx, "birdwatch.worker.tick", attribute.String("worker.id", a.id))
	var tickErr error
	defer func() { tracing.End(span, tickErr) }()

	j, err := a.pool.queue.Claim(ctx)
	if err != nil {
		tickErr = err
		a.pool.logger.Error("claim failed", slog.String("worker_id", a.id), slog.String("error", err.Error()))
		return
	}
	if j == nil {
		return
	}
	span.SetAttributes(attribute.String("job.id", j.ID), attribute.String("job.name", j.Name))

	if _, err := a.pool.obs.Log(ctx, observer.ActionJobClaimed, observer.SeverityLog, map[string]any{"jobId": j.ID}); err != nil {
		a.pool.logger.Error("job-claimed log failed", slog.String("job_id", j.ID), slog.String("error", err.Error()))
	}

	if a.pool.limiter != nil {
		if err := a.pool.limiter.Wait(ctx); err != nil {
			tickErr = err
			a.pool.logger.Error("rate limiter wait failed", slog.String("job_id", j.ID), slog.String("error", err.Error()))
			return
		}
	}

	result, procErr := a.pool.processor.Process(ctx, j)
	if procErr == nil {
		a.complete(ctx, j, result)
		return
	}
	tickErr = procErr
	a.fail(ctx, j, procErr)
}

func (a *agent) complete(ctx context.Context, j *job.Job, result map[string]any) {
	if _, err := a.pool.queue.Complete(ctx, j.ID, result); err != nil {
		a.pool.logger.Error("complete failed", slog.String("job_id", j.ID), slog.String("error", err.Error()))
		return
	}
	if _, err := a.pool.obs.Log(ctx, observer.ActionJobCompleted, observer.SeverityLog, map[string]any{"jobId": j.ID}); err != nil {
		a.pool.logger.Error("job-completed log failed", slog.String("job_id", j.ID), slog.String("error", err.Error()))
	}
}

func (a *agent) fail(ctx context.Context, j *job.Job, procErr error) {
	if j.RetryCount >= a.pool.maxRetries {
		if _, err := a.pool.queue.Fail(ctx, j.ID); err != nil {
			a.pool.logger.Error("fail failed", slog.String("job_id", j.ID), slog.String("error", err.Error()))
			return
		}
		if _, err := a.pool.obs.Log(ctx, observer.ActionJobFailed, observer.SeverityError, map[string]any{
			"jobId": j.ID, "error": procErr.Error(),
		}); err != nil {
			a.pool.logger.Error("job-failed log failed", slog.String("job_id", j.ID), slog.String("error", err.Error()))
		}
		return
	}

	nextAvailableAt := a.pool.now().Add(a.pool.backoff.Delay(j.RetryCount)).UnixMilli()
	if _, err := a.pool.queue.Retry(ctx, j.ID, nextAvailableAt); err != nil {
		a.pool.logger.Error("retry failed", slog.String("job_id", j.ID), slog.String("error", err.Error()))
		return
	}
	if _, err := a.pool.obs.Log(ctx, observer.ActionJobRetry, observer.SeverityWarning, map[string]any{
		"jobId": j.ID, "retryCount": j.RetryCount + 1, "error": procErr.Error(),
	}); err != nil {
		a.pool.logger.Error("job-retry log failed", slog.String("job_id", j.ID), slog.String("error", err.Error()))
	}
}
