package bucketguard

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// MaintenanceController prunes a keyed store periodically on a scheduler it
// does not own. Closing the controller cancels its task and leaves the
// scheduler running.
type MaintenanceController struct {
	prune   func()
	clock   TimeSource
	logger  *slog.Logger
	metrics *Metrics

	mu   sync.Mutex
	task Task
}

// NewMaintenanceController returns a stopped controller for prune. Passes are
// timed with clock, or the system clock when it is nil.
func NewMaintenanceController(prune func(), clock TimeSource, logger *slog.Logger, metrics *Metrics) *MaintenanceController {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = newOptions(nil).logger
	}
	return &MaintenanceController{
		prune:   prune,
		clock:   clock,
		logger:  logger.With("component", "bucketguard.maintenance"),
		metrics: metrics,
	}
}

// Start schedules pruning every period. It is a no-op while a previously
// started task is still active.
func (c *MaintenanceController) Start(sched PeriodicScheduler, period time.Duration) error {
	if sched == nil {
		return ErrNilExecutor
	}
	if period <= 0 {
		return fmt.Errorf("%w: maintenance period must be > 0, got %v", ErrInvalidSpec, period)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.task != nil && !c.task.Done() {
		return nil
	}
	task, err := sched.ScheduleWithFixedDelay(period, period, c.Prune)
	if err != nil {
		return fmt.Errorf("schedule maintenance: %w", err)
	}
	c.task = task

	c.logger.Info("maintenance started", "period", period)
	return nil
}

// Prune runs one pruning pass. Panics raised by the store or its removal
// callback are logged and swallowed so the periodic task keeps running.
func (c *MaintenanceController) Prune() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("prune panicked", "panic", r)
		}
	}()

	start := c.clock.NanoTime()
	c.prune()
	c.metrics.recordPrune()
	c.logger.Debug("prune completed", "duration", time.Duration(c.clock.NanoTime()-start))
}

// Running reports whether a maintenance task is active.
func (c *MaintenanceController) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.task != nil && !c.task.Done()
}

// Close cancels the maintenance task, if any. A prune already in progress
// completes.
func (c *MaintenanceController) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.task == nil {
		return
	}
	c.task.Cancel()
	c.task = nil
	c.logger.Info("maintenance stopped")
}
