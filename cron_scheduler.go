package bucketguard

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// CronScheduler runs periodic work on a robfig/cron scheduler. Periods are
// rounded down to whole seconds with a one second minimum, which suits
// maintenance but not admission retries: CronScheduler is an Executor without
// delayed execution, so asynchronous acquisition that has to wait fails with
// ErrDelayUnsupported.
//
// The scheduler is owned by the caller; Start and Stop control the cron loop.
type CronScheduler struct {
	cron *cron.Cron
}

// NewCronScheduler builds a stopped scheduler. Overlapping runs of one job are
// skipped and panics are recovered by the cron chain.
func NewCronScheduler(logger *slog.Logger) *CronScheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	l := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))
	return &CronScheduler{
		cron: cron.New(
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		),
	}
}

// Start runs the cron loop in its own goroutine.
func (s *CronScheduler) Start() { s.cron.Start() }

// Stop halts the loop. The returned context is done once running jobs finish.
func (s *CronScheduler) Stop() context.Context { return s.cron.Stop() }

// Execute implements Executor.
func (s *CronScheduler) Execute(fn func()) { go fn() }

// ScheduleWithFixedDelay implements PeriodicScheduler. The initial delay is
// not supported by cron; the first run happens one period after scheduling.
func (s *CronScheduler) ScheduleWithFixedDelay(_, period time.Duration, fn func()) (Task, error) {
	if period <= 0 {
		return nil, fmt.Errorf("%w: period must be > 0, got %v", ErrInvalidSpec, period)
	}
	id := s.cron.Schedule(cron.Every(period), cron.FuncJob(fn))
	return &cronTask{cron: s.cron, id: id}, nil
}

// Jobs returns the number of scheduled jobs.
func (s *CronScheduler) Jobs() int { return len(s.cron.Entries()) }

type cronTask struct {
	cron    *cron.Cron
	id      cron.EntryID
	removed atomic.Bool
}

func (t *cronTask) Cancel() {
	if t.removed.CompareAndSwap(false, true) {
		t.cron.Remove(t.id)
	}
}

func (t *cronTask) Done() bool { return t.removed.Load() }
