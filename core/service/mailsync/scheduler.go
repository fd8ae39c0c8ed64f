package mailsync

import (
	"context"
	"time"

	"mailbridge/core/port/out"
	"mailbridge/pkg/logger"
)

// DefaultSchedulerInterval is the incremental sync cadence.
const DefaultSchedulerInterval = 5 * time.Minute

// Scheduler enqueues one incremental-sync job per active account on a
// fixed tick, stalest account first.
type Scheduler struct {
	accounts out.AccountRepository
	producer out.JobProducer
	interval time.Duration
}

func NewScheduler(accounts out.AccountRepository, producer out.JobProducer, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultSchedulerInterval
	}
	return &Scheduler{accounts: accounts, producer: producer, interval: interval}
}

// Run ticks until the context ends.
func (s *Scheduler) Run(ctx context.Context) {
	logger.Info("scheduler started, interval %s", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			if n, err := s.Tick(ctx); err != nil {
				logger.WithError(err).Error("scheduler tick failed")
			} else if n > 0 {
				logger.Debug("scheduler enqueued %d incremental syncs", n)
			}
		}
	}
}

// Tick enumerates active accounts and enqueues incremental syncs for those
// with at least one completed folder. Accounts still awaiting their
// initial sync are skipped.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	accounts, err := s.accounts.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, account := range accounts {
		if len(account.SyncedFolders) == 0 {
			continue
		}
		job := out.IncrementalSyncJob{
			AccountID: account.ID,
			Email:     account.Email,
			Folders:   account.SyncedFolders,
		}
		if err := s.producer.EnqueueIncrementalSync(ctx, job); err != nil {
			logger.WithError(err).Error("failed to enqueue incremental sync for account %d", account.ID)
			continue
		}
		enqueued++
	}
	return enqueued, nil
}
