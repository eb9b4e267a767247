package background

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper is any store that can delete its expired records.
// The in-memory security trackers and the token repositories implement it
// through small adapters (see cmd/api).
type Sweeper interface {
	Name() string
	Sweep(ctx context.Context) (int64, error)
}

// SweeperFunc adapts a plain sweep function to the Sweeper interface
type SweeperFunc struct {
	SweepName string
	Fn        func(ctx context.Context) (int64, error)
}

func (s SweeperFunc) Name() string                             { return s.SweepName }
func (s SweeperFunc) Sweep(ctx context.Context) (int64, error) { return s.Fn(ctx) }

// TrackerSweeper wraps an in-memory tracker's Sweep method, which cannot
// fail and takes no context.
func TrackerSweeper(name string, sweep func() int) Sweeper {
	return SweeperFunc{
		SweepName: name,
		Fn: func(ctx context.Context) (int64, error) {
			return int64(sweep()), nil
		},
	}
}

// CleanupManager periodically sweeps expired records from every registered
// store. Sweeps run off the request path and are fire-and-forget; a failed
// sweep is logged and retried on the next tick.
type CleanupManager struct {
	sweepers []Sweeper
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(logger *slog.Logger, interval time.Duration, sweepers ...Sweeper) *CleanupManager {
	return &CleanupManager{
		sweepers: sweepers,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup task. It blocks until Stop is called or
// the context is cancelled, so run it in its own goroutine.
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// runCleanup sweeps every registered store once
func (cm *CleanupManager) runCleanup(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for _, sweeper := range cm.sweepers {
		removed, err := sweeper.Sweep(sweepCtx)
		if err != nil {
			cm.logger.Error("sweep failed",
				slog.String("store", sweeper.Name()),
				slog.Any("error", err))
			continue
		}
		if removed > 0 {
			cm.logger.Info("expired records swept",
				slog.String("store", sweeper.Name()),
				slog.Int64("removed", removed))
		}
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
