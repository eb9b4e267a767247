package background

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCleanupManager_SweepsAllStoresOnStartup(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	var first, second atomic.Int64
	cm := NewCleanupManager(logger, 1*time.Hour,
		TrackerSweeper("first", func() int { first.Add(1); return 3 }),
		SweeperFunc{SweepName: "second", Fn: func(ctx context.Context) (int64, error) {
			second.Add(1)
			return 0, nil
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		cm.Start(ctx)
		close(done)
	}()

	// Startup sweep runs before the first tick
	assert.Eventually(t, func() bool {
		return first.Load() == 1 && second.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestCleanupManager_FailedSweepDoesNotStopOthers(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	var swept atomic.Bool
	cm := NewCleanupManager(logger, 1*time.Hour,
		SweeperFunc{SweepName: "broken", Fn: func(ctx context.Context) (int64, error) {
			return 0, errors.New("boom")
		}},
		TrackerSweeper("healthy", func() int { swept.Store(true); return 0 }),
	)

	done := make(chan struct{})
	go func() {
		cm.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, swept.Load, 2*time.Second, 10*time.Millisecond)

	cm.Stop()
	<-done
}
