package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ledger-core/internal/repository"
)

// LimitSweeper periodically zeroes used_amount on every transfer limit whose
// reset boundary has passed. The repository locks each due row, so a sweep
// never races an in-flight usage commit on the same limit.
type LimitSweeper struct {
	limitRepo repository.LimitRepository
	interval  time.Duration
	logger    *zap.Logger
}

func NewLimitSweeper(limitRepo repository.LimitRepository, interval time.Duration, logger *zap.Logger) *LimitSweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &LimitSweeper{
		limitRepo: limitRepo,
		interval:  interval,
		logger:    logger,
	}
}

// Run sweeps on a fixed cadence until ctx is cancelled. One sweep runs
// immediately on start so limits overdue across a restart reset promptly.
func (s *LimitSweeper) Run(ctx context.Context) {
	s.logger.Info("limit sweeper started", zap.Duration("interval", s.interval))

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("limit sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *LimitSweeper) sweep(ctx context.Context) {
	started := time.Now()
	n, err := s.limitRepo.ResetDue(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("limit reset sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("limit reset sweep completed",
			zap.Int64("limits_reset", n),
			zap.Duration("took", time.Since(started)),
		)
	}
}
