// Package scheduler runs the auction lifecycle job on a fixed interval.
// Every replica ticks, but a cluster-wide lock reacquired each tick ensures
// only one replica executes the job body per interval. This is leadership by
// lock, not a long-held term: losing one tick only delays transitions by one
// interval.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/auctionlab/paddle/pkg/dlock"
)

// Locker is the cluster-wide mutual-exclusion lock.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Job is one scheduler pass, receiving the tick time.
type Job func(ctx context.Context, now time.Time)

// Scheduler coordinates a periodic job across replicas.
type Scheduler struct {
	locks    Locker
	lockKey  string
	lockTTL  time.Duration
	interval time.Duration
	job      Job
	logger   *slog.Logger
}

// New creates a scheduler. The lock TTL should stay just below the interval:
// it is how long the winning replica owns the interval, and it lets a crashed
// leader's lock expire before the next tick needs it.
func New(locks Locker, lockKey string, lockTTL, interval time.Duration, job Job, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		locks:    locks,
		lockKey:  lockKey,
		lockTTL:  lockTTL,
		interval: interval,
		job:      job,
		logger:   logger,
	}
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.locks.Acquire(ctx, s.lockKey, s.lockTTL); err != nil {
		if errors.Is(err, dlock.ErrNotAcquired) {
			s.logger.Debug("another replica runs this interval", "key", s.lockKey)
			return
		}
		s.logger.Error("failed to acquire scheduler lock", "key", s.lockKey, "error", err)
		return
	}

	// The lock is never released: it expires on its own. A fast job run must
	// not free the lock early, or a replica ticking later in the same
	// interval would acquire it and run the job a second time.
	s.job(ctx, time.Now())
}
