package bootstrap

import (
	"context"
	"time"

	"mailbridge/adapter/in/worker"
	"mailbridge/config"
	"mailbridge/internal/stream"
	"mailbridge/pkg/logger"
)

// Worker is the running worker process: queue consumer, worker pool and
// the incremental scheduler.
type Worker struct {
	pool    *worker.Pool
	cancel  context.CancelFunc
	cleanup func()
}

// NewWorker assembles and starts the worker process.
func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	initLogger(cfg, "mailbridge-worker")

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}

	poolCfg := worker.DefaultPoolConfig()
	poolCfg.MaxWorkers = cfg.WorkerMax
	poolCfg.QueueSize = cfg.WorkerQueueSize

	handler := worker.NewHandler(deps.Orchestrator, deps.AttachmentRepo, deps.BlobStore, newZerolog(cfg))
	pool := worker.NewPool(handler, poolCfg, newZerolog(cfg))
	if err := pool.Start(); err != nil {
		cleanup()
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	consumer := stream.NewConsumer(deps.Stream, deps.Producer, pool, cfg.WorkerID)
	consumer.Start(ctx)

	if cfg.SchedulerEnabled {
		go deps.Scheduler.Run(ctx)
	}

	logger.Info("worker %s started (max %d concurrent jobs)", cfg.WorkerID, poolCfg.MaxWorkers)
	return &Worker{pool: pool, cancel: cancel, cleanup: cleanup}, cleanup, nil
}

// Stop drains the pool and stops the consumer loops.
func (w *Worker) Stop() {
	w.cancel()
	w.pool.Stop()
	// Give in-flight acks a moment before connections close.
	time.Sleep(100 * time.Millisecond)
}
