package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/alerting"
	"github.com/lalithlochan/beacon/internal/metrics"
)

// Sweeper runs one reminder sweep.
type Sweeper interface {
	Run(ctx context.Context, now time.Time) (*alerting.SweepResult, error)
}

// Lock is a cross-replica lease; see redis.SweepLock.
type Lock interface {
	Acquire(ctx context.Context, ttl time.Duration) (bool, error)
	Release(ctx context.Context) error
}

type Config struct {
	Interval time.Duration
}

// Worker schedules reminder sweeps. Sweeps started by this process never
// overlap; across replicas the optional Lock limits ticks to one replica per
// interval.
type Worker struct {
	sweeper Sweeper
	lock    Lock
	config  Config
	logger  *zap.Logger
	now     func() time.Time

	mu sync.Mutex
}

// New creates a worker. lock may be nil.
func New(sweeper Sweeper, lock Lock, cfg Config, logger *zap.Logger) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}

	return &Worker{
		sweeper: sweeper,
		lock:    lock,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Start runs a sweep every interval until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	w.logger.Info("sweep scheduler started", zap.Duration("interval", w.config.Interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("sweep scheduler stopping")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	if w.lock != nil {
		acquired, err := w.lock.Acquire(ctx, w.config.Interval)
		if err != nil {
			// Redis trouble should not stop reminders; the cooldown keeps a
			// racing sweep from double delivering within the window.
			w.logger.Warn("sweep lock unavailable, sweeping anyway", zap.Error(err))
		} else if !acquired {
			w.logger.Debug("another replica holds the sweep lease")
			metrics.RecordSweep(metrics.SweepSkipped, 0, 0)
			return
		}
	}

	if _, err := w.RunOnce(ctx); err != nil && w.lock != nil {
		if err := w.lock.Release(ctx); err != nil {
			w.logger.Warn("failed to release sweep lock", zap.Error(err))
		}
	}
}

// RunOnce runs one sweep now. Concurrent calls are serialised.
func (w *Worker) RunOnce(ctx context.Context) (*alerting.SweepResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.sweeper.Run(ctx, w.now())
}
