package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"

	"mailbridge/core/domain"
)

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	MaxWorkers     int
	QueueSize      int
	JobTimeout     time.Duration
	SyncJobTimeout time.Duration
}

// DefaultPoolConfig returns the default sizing: small, with generous sync
// timeouts because a cold mailbox can take minutes.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		MaxWorkers:     4,
		QueueSize:      1000,
		JobTimeout:     time.Minute,
		SyncJobTimeout: 5 * time.Minute,
	}
}

// task pairs a job with the channel its result travels back on, so the
// queue consumer observes the outcome synchronously and keeps ownership of
// the retry policy.
type task struct {
	job  *domain.Job
	ctx  context.Context
	done chan error
}

// poolWorker implements pool.Worker for task processing.
type poolWorker struct {
	p *Pool
}

func (w *poolWorker) Do(ctx context.Context, t *task) error {
	err := w.p.runJob(t.ctx, t.job)
	t.done <- err
	return err
}

// Pool bounds job concurrency on top of go-pkgz/pool. It implements the
// stream consumer's Handler interface: Handle blocks until the job ran.
type Pool struct {
	handler *Handler
	config  *PoolConfig
	group   *pool.WorkerGroup[*task]
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	processed int64
	failed    int64

	mu      sync.Mutex
	started bool
}

func NewPool(handler *Handler, config *PoolConfig, log zerolog.Logger) *Pool {
	if config == nil {
		config = DefaultPoolConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		handler: handler,
		config:  config,
		log:     log.With().Str("component", "worker_pool").Logger(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start spins up the workers.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}

	p.group = pool.New[*task](p.config.MaxWorkers, &poolWorker{p: p}).
		WithWorkerChanSize(2).
		WithContinueOnError()
	if err := p.group.Go(p.ctx); err != nil {
		return err
	}
	p.started = true

	go p.metricsReporter()

	p.log.Info().
		Int("max_workers", p.config.MaxWorkers).
		Msg("worker pool started")
	return nil
}

// Stop drains the pool within a grace period.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	group := p.group
	p.mu.Unlock()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer closeCancel()
	if err := group.Close(closeCtx); err != nil {
		p.log.Warn().Err(err).Msg("error closing worker pool")
	}
	p.cancel()

	p.log.Info().
		Int64("processed", atomic.LoadInt64(&p.processed)).
		Int64("failed", atomic.LoadInt64(&p.failed)).
		Msg("worker pool stopped")
}

// Handle submits the job and waits for its outcome. Implements the queue
// consumer's Handler contract.
func (p *Pool) Handle(ctx context.Context, job *domain.Job) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return p.runJob(ctx, job)
	}
	group := p.group
	p.mu.Unlock()

	t := &task{job: job, ctx: ctx, done: make(chan error, 1)}
	group.Submit(t)

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runJob applies the per-type timeout and counts the outcome.
func (p *Pool) runJob(ctx context.Context, job *domain.Job) error {
	timeout := p.config.JobTimeout
	if job.Type == TypeInitialSync || job.Type == TypeIncrementalSync {
		timeout = p.config.SyncJobTimeout
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := p.handler.Process(jobCtx, job)
	elapsed := time.Since(start)

	if err != nil {
		atomic.AddInt64(&p.failed, 1)
		p.log.Error().Err(err).
			Str("job_id", job.ID).
			Str("job_type", job.Type).
			Dur("elapsed", elapsed).
			Msg("job failed")
		return err
	}

	atomic.AddInt64(&p.processed, 1)
	return nil
}

func (p *Pool) metricsReporter() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.log.Info().
				Int64("processed", atomic.LoadInt64(&p.processed)).
				Int64("failed", atomic.LoadInt64(&p.failed)).
				Msg("worker pool metrics")
		}
	}
}
