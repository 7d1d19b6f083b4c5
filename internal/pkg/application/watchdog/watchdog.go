package watchdog

import (
	"context"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
)

// Sweeper is the slice of the storage layer the watchdog needs for
// its periodic housekeeping.
//
//go:generate moq -rm -out sweeper_mock.go . Sweeper
type Sweeper interface {
	PurgeExpiredNonces(ctx context.Context, now time.Time) (int64, error)
	ExpireCommands(ctx context.Context, now time.Time) ([]string, error)
	PurgeRateCounters(ctx context.Context, cutoff time.Time) (int64, error)
}

type Watchdog interface {
	Start(ctx context.Context)
	Stop()
}

type watchdog struct {
	sweeper  Sweeper
	interval time.Duration
	done     chan struct{}
}

func New(sweeper Sweeper, interval time.Duration) Watchdog {
	if interval <= 0 {
		interval = time.Minute
	}

	return &watchdog{
		sweeper:  sweeper,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (w *watchdog) Start(ctx context.Context) {
	go w.run(ctx)
}

func (w *watchdog) Stop() {
	close(w.done)
}

func (w *watchdog) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep runs the three housekeeping passes. Failures are logged and
// retried on the next tick; correctness never depends on a sweep
// having run.
func (w *watchdog) sweep(ctx context.Context) {
	log := logging.GetFromContext(ctx)
	now := time.Now().UTC()

	if purged, err := w.sweeper.PurgeExpiredNonces(ctx, now); err != nil {
		log.Error("nonce purge failed", "err", err.Error())
	} else if purged > 0 {
		log.Debug("purged expired nonces", "count", purged)
	}

	if expired, err := w.sweeper.ExpireCommands(ctx, now); err != nil {
		log.Error("command expiry scan failed", "err", err.Error())
	} else if len(expired) > 0 {
		log.Info("expired overdue commands", "count", len(expired))
	}

	// rate windows older than a day carry no information anymore
	if dropped, err := w.sweeper.PurgeRateCounters(ctx, now.Add(-24*time.Hour)); err != nil {
		log.Error("rate counter purge failed", "err", err.Error())
	} else if dropped > 0 {
		log.Debug("purged stale rate counters", "count", dropped)
	}
}
