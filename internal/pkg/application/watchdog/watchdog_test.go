package watchdog

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatchdogSweepsPeriodically(t *testing.T) {
	var nonces, commands, counters atomic.Int32

	sweeper := &SweeperMock{
		PurgeExpiredNoncesFunc: func(ctx context.Context, now time.Time) (int64, error) {
			nonces.Add(1)
			return 0, nil
		},
		ExpireCommandsFunc: func(ctx context.Context, now time.Time) ([]string, error) {
			commands.Add(1)
			return nil, nil
		},
		PurgeRateCountersFunc: func(ctx context.Context, cutoff time.Time) (int64, error) {
			counters.Add(1)
			return 0, nil
		},
	}

	w := New(sweeper, 10*time.Millisecond)
	w.Start(context.Background())
	defer w.Stop()

	deadline := time.After(2 * time.Second)
	for nonces.Load() == 0 || commands.Load() == 0 || counters.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("watchdog never swept")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestWatchdogStopsOnContextCancel(t *testing.T) {
	var sweeps atomic.Int32

	sweeper := &SweeperMock{
		PurgeExpiredNoncesFunc: func(ctx context.Context, now time.Time) (int64, error) {
			sweeps.Add(1)
			return 0, nil
		},
		ExpireCommandsFunc: func(ctx context.Context, now time.Time) ([]string, error) {
			return nil, nil
		},
		PurgeRateCountersFunc: func(ctx context.Context, cutoff time.Time) (int64, error) {
			return 0, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := New(sweeper, 5*time.Millisecond)
	w.Start(ctx)

	time.Sleep(20 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)

	before := sweeps.Load()
	time.Sleep(30 * time.Millisecond)

	if sweeps.Load() != before {
		t.Fatal("watchdog kept sweeping after cancel")
	}
}
