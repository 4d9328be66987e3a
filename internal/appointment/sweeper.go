package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

const sweepLockName = "orphan-sweep"

// Sweeper runs ReconcileOrphans on an interval. The run is skipped when
// another process holds the sweep lock.
type Sweeper struct {
	svc      *Service
	locker   redisclient.Locker
	interval time.Duration
	grace    time.Duration
	timeout  time.Duration
	logger   zerolog.Logger
}

func NewSweeper(svc *Service, locker redisclient.Locker, interval, grace time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		svc:      svc,
		locker:   locker,
		interval: interval,
		grace:    grace,
		timeout:  20 * time.Second,
		logger:   logger.With().Str("component", "orphan_sweeper").Logger(),
	}
}

// Run sweeps once immediately, then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("stopping orphan sweeper")
			return nil
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce returns the number of slots released, or -1 if the lock was held elsewhere.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	released := 0
	err := s.locker.WithLock(runCtx, sweepLockName, func(lockCtx context.Context) error {
		n, err := s.svc.ReconcileOrphans(lockCtx, s.grace)
		released = n
		return err
	})
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		s.logger.Debug().Msg("sweep lock held elsewhere, skipping run")
		return -1
	case err != nil:
		s.logger.Error().Err(err).Msg("orphan sweep failed")
		return released
	}

	s.logger.Info().
		Int("released", released).
		Dur("took", time.Since(start)).
		Msg("orphan sweep complete")
	return released
}
