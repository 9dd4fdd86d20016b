package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/stacklok/inventory-mirror/internal/status"
	pkgsync "github.com/stacklok/inventory-mirror/internal/sync"
)

// jitterFraction is the maximum relative offset applied to the interval
const jitterFraction = 10

// RunExecutor performs one synchronization pass
//
//go:generate mockgen -destination=mocks/mock_run_executor.go -package=mocks -source=coordinator.go RunExecutor
type RunExecutor interface {
	Run(ctx context.Context) (*status.RunReport, error)
}

// Coordinator manages background synchronization scheduling
type Coordinator interface {
	// Start runs a pass immediately and then once per interval.
	// Blocks until the context is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop gracefully stops the coordinator, waiting for a run in flight to end
	Stop() error
}

type defaultCoordinator struct {
	executor RunExecutor
	interval time.Duration

	mu         sync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{}

	onRunComplete func(report *status.RunReport, err error)
}

// Option is a function that configures the coordinator
type Option func(*defaultCoordinator)

// WithOnRunComplete registers a callback invoked after every scheduled run
func WithOnRunComplete(fn func(report *status.RunReport, err error)) Option {
	return func(c *defaultCoordinator) {
		c.onRunComplete = fn
	}
}

// New creates a coordinator running executor every interval
func New(executor RunExecutor, interval time.Duration, opts ...Option) Coordinator {
	c := &defaultCoordinator{
		executor: executor,
		interval: interval,
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// calculateInterval returns base with a random jitter of up to ±10% applied
func calculateInterval(base time.Duration) time.Duration {
	jitter := base / jitterFraction
	if jitter <= 0 {
		return base
	}
	//nolint:gosec // G404: Non-cryptographic randomness is sufficient for scheduling jitter
	offset := time.Duration(rand.Int64N(int64(2*jitter))) - jitter
	return base + offset
}

// Start begins background synchronization
func (c *defaultCoordinator) Start(ctx context.Context) error {
	coordCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelFunc = cancel
	c.mu.Unlock()
	defer func() {
		cancel()
		close(c.done)
		slog.Info("Background sync coordinator shutting down")
	}()

	interval := calculateInterval(c.interval)
	slog.Info("Starting background sync coordinator",
		"base_interval", c.interval,
		"actual_interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.runOnce(coordCtx)

	for {
		select {
		case <-ticker.C:
			c.runOnce(coordCtx)

			// New jitter for every iteration
			ticker.Reset(calculateInterval(c.interval))
		case <-coordCtx.Done():
			slog.Info("Sync coordinator stopping")
			return nil
		}
	}
}

// Stop gracefully stops the coordinator
func (c *defaultCoordinator) Stop() error {
	c.mu.Lock()
	cancel := c.cancelFunc
	c.mu.Unlock()

	if cancel != nil {
		slog.Info("Stopping sync coordinator")
		cancel()
		<-c.done
	}
	return nil
}

// runOnce executes one pass and logs its outcome. Failures never stop the loop.
func (c *defaultCoordinator) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	report, err := c.executor.Run(ctx)
	if c.onRunComplete != nil {
		defer c.onRunComplete(report, err)
	}

	switch {
	case errors.Is(err, pkgsync.ErrRunInProgress):
		slog.Info("Skipping scheduled run, another process is synchronizing")
	case errors.Is(err, pkgsync.ErrScopesFailed) && report != nil:
		slog.Warn("Scheduled run finished with failed scopes",
			"run_id", report.RunID,
			"scopes_failed", report.ScopesFailed(),
			"scopes", len(report.Scopes))
	case err != nil:
		if report != nil {
			slog.Error("Scheduled run failed", "run_id", report.RunID, "error", err)
		} else {
			slog.Error("Scheduled run failed", "error", err)
		}
	case report == nil:
		slog.Warn("Scheduled run returned no report")
	default:
		observed, _, deleted := report.Totals()
		slog.Info("Scheduled run completed",
			"run_id", report.RunID,
			"observed", observed,
			"deleted", deleted,
			"duration", report.Duration())
	}
}
