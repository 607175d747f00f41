package bucketguard

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Executor runs a callback, possibly on another goroutine.
type Executor interface {
	Execute(fn func())
}

// DelayedExecutor additionally runs callbacks after a delay. Asynchronous
// acquisition needs one whenever the bucket asks the caller to wait.
type DelayedExecutor interface {
	Executor
	Schedule(delay time.Duration, fn func()) Task
}

// PeriodicScheduler runs a callback repeatedly with a fixed delay between the
// end of one run and the start of the next.
type PeriodicScheduler interface {
	ScheduleWithFixedDelay(initial, period time.Duration, fn func()) (Task, error)
}

// Task is a handle to scheduled work.
type Task interface {
	// Cancel prevents future runs. A run already in progress completes.
	Cancel()
	// Done reports whether the task finished or was cancelled.
	Done() bool
}

// GoExecutor runs every callback on a new goroutine. It cannot delay.
type GoExecutor struct{}

// Execute implements Executor.
func (GoExecutor) Execute(fn func()) { go fn() }

// TimerScheduler implements DelayedExecutor and PeriodicScheduler with
// runtime timers. The zero value is ready to use and it needs no shutdown.
type TimerScheduler struct{}

// NewTimerScheduler returns a timer-backed scheduler.
func NewTimerScheduler() *TimerScheduler { return &TimerScheduler{} }

// Execute implements Executor.
func (*TimerScheduler) Execute(fn func()) { go fn() }

// Schedule implements DelayedExecutor.
func (*TimerScheduler) Schedule(delay time.Duration, fn func()) Task {
	t := &timerTask{}
	t.timer = time.AfterFunc(delay, func() {
		if t.state.CompareAndSwap(taskPending, taskRunning) {
			fn()
			t.state.Store(taskDone)
		}
	})
	return t
}

// ScheduleWithFixedDelay implements PeriodicScheduler.
func (*TimerScheduler) ScheduleWithFixedDelay(initial, period time.Duration, fn func()) (Task, error) {
	if period <= 0 {
		return nil, fmt.Errorf("%w: period must be > 0, got %v", ErrInvalidSpec, period)
	}
	p := &periodicTask{period: period, fn: fn}
	p.mu.Lock()
	p.timer = time.AfterFunc(max(initial, 0), p.run)
	p.mu.Unlock()
	return p, nil
}

const (
	taskPending int32 = iota
	taskRunning
	taskDone
)

type timerTask struct {
	timer *time.Timer
	state atomic.Int32
}

func (t *timerTask) Cancel() {
	if t.state.CompareAndSwap(taskPending, taskDone) {
		t.timer.Stop()
	}
}

func (t *timerTask) Done() bool { return t.state.Load() == taskDone }

type periodicTask struct {
	mu        sync.Mutex
	timer     *time.Timer
	cancelled bool
	period    time.Duration
	fn        func()
}

func (p *periodicTask) run() {
	p.mu.Lock()
	if p.cancelled {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.fn()

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.cancelled {
		p.timer = time.AfterFunc(p.period, p.run)
	}
}

func (p *periodicTask) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = true
	if p.timer != nil {
		p.timer.Stop()
	}
}

func (p *periodicTask) Done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled
}
