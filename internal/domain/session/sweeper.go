package session

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultSweepInterval is how often the background sweeper runs.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper periodically removes stale sessions and refreshes the active
// session gauges.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	log      *zap.Logger
}

// NewSweeper creates a sweeper for manager.
func NewSweeper(manager *Manager, interval time.Duration, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{manager: manager, interval: interval, log: log}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce(ctx context.Context) SweepReport {
	report, err := s.manager.Sweep(ctx)
	if err != nil {
		s.log.Error("session sweep failed", zap.Error(err))
	} else if report.Total() > 0 {
		s.log.Info("swept sessions",
			zap.Int("expired", report.Expired),
			zap.Int("terminal", report.Terminal),
			zap.Int("corrupt", report.Corrupt))
	}
	s.manager.Stats(ctx)
	return report
}
