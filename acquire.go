package bucketguard

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// Waits at or below spinThreshold yield instead of arming a timer; timers
// oversleep badly at that scale.
const spinThreshold = time.Microsecond

// acquirer turns single admission checks into immediate, blocking and
// asynchronous acquisitions. The bucket is resolved through a callback so the
// keyed limiter can look it up (and recreate it after eviction) per attempt.
type acquirer struct {
	spec    RateSpec
	metrics *Metrics
	logger  *slog.Logger
}

func checkTokens(tokens int64) error {
	if tokens < 1 {
		return fmt.Errorf("%w: must be >= 1, got %d", ErrInvalidTokenCount, tokens)
	}
	return nil
}

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}

// splitsTokens reports whether a request has to be admitted one token at a
// time. A steady-rate bucket would otherwise admit the request as a burst.
func (a *acquirer) splitsTokens(tokens int64) bool {
	return a.spec.SteadyRate && tokens > 1
}

func (a *acquirer) tryAcquire(resolve func() Bucket, tokens int64) (Permit, error) {
	if err := checkTokens(tokens); err != nil {
		return Permit{}, err
	}
	if a.splitsTokens(tokens) {
		p := denied(tokens, a.spec.RefillPeriod)
		a.metrics.recordDecision(p)
		return p, nil
	}

	p, err := resolve().TryAcquire(tokens, a.spec.Clock.NanoTime())
	if err != nil {
		return Permit{}, err
	}
	a.metrics.recordDecision(p)
	return p, nil
}

// acquire blocks until the tokens are granted or ctx is done. Tokens granted
// to earlier single-token steps are kept when a split request is cancelled.
func (a *acquirer) acquire(ctx context.Context, resolve func() Bucket, tokens int64) (Permit, error) {
	if err := checkTokens(tokens); err != nil {
		return Permit{}, err
	}
	start := a.spec.Clock.NanoTime()

	var p Permit
	var err error
	if a.splitsTokens(tokens) {
		var last Permit
		for range tokens {
			if last, err = a.acquireOne(ctx, resolve(), 1); err != nil {
				return Permit{}, err
			}
		}
		p = granted(tokens, last.Remaining)
	} else if p, err = a.acquireOne(ctx, resolve(), tokens); err != nil {
		return Permit{}, err
	}

	a.metrics.recordDecision(p)
	a.metrics.recordWait("blocking", time.Duration(a.spec.Clock.NanoTime()-start))
	return p, nil
}

func (a *acquirer) acquireOne(ctx context.Context, b Bucket, tokens int64) (Permit, error) {
	for {
		p, err := b.TryAcquire(tokens, a.spec.Clock.NanoTime())
		if err != nil {
			return Permit{}, err
		}
		if p.Granted {
			return p, nil
		}
		if err := ctx.Err(); err != nil {
			return Permit{}, cancelled(err)
		}
		if err := pause(ctx, p.RetryAfter); err != nil {
			return Permit{}, err
		}
	}
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= spinThreshold {
		runtime.Gosched()
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return cancelled(ctx.Err())
	case <-t.C:
		return nil
	}
}

// acquireAsync starts an acquisition that never blocks the caller. The first
// attempt runs on the calling goroutine; retries are scheduled on exec after
// the delay reported by the bucket.
func (a *acquirer) acquireAsync(ctx context.Context, resolve func() Bucket, tokens int64, exec Executor) (*Future, error) {
	if err := checkTokens(tokens); err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, ErrNilExecutor
	}

	op := &asyncAcquisition{
		acquirer: a,
		ctx:      ctx,
		resolve:  resolve,
		exec:     exec,
		total:    tokens,
		step:     tokens,
		left:     1,
		future:   newFuture(exec),
		start:    a.spec.Clock.NanoTime(),
	}
	if a.splitsTokens(tokens) {
		// Single-token steps run strictly one after another to keep the
		// per-token delay accounting.
		op.step, op.left = 1, tokens
	}
	// A pending retry can be far off; cancellation must not wait for it.
	op.stop = context.AfterFunc(ctx, op.cancel)
	op.run()
	return op.future, nil
}

// asyncAcquisition is the retry state machine behind a Future. Only one
// goroutine runs it at a time: the caller first, then each scheduled retry.
type asyncAcquisition struct {
	*acquirer
	ctx     context.Context
	resolve func() Bucket
	exec    Executor

	total int64
	step  int64
	left  int64
	start int64

	future *Future
	stop   func() bool

	mu    sync.Mutex
	retry Task
}

func (op *asyncAcquisition) run() {
	for {
		if err := op.ctx.Err(); err != nil {
			op.fail(cancelled(err))
			return
		}

		p, err := op.resolve().TryAcquire(op.step, op.spec.Clock.NanoTime())
		if err != nil {
			op.fail(err)
			return
		}
		if p.Granted {
			if op.left--; op.left > 0 {
				continue
			}
			op.succeed(granted(op.total, p.Remaining))
			return
		}

		delayed, ok := op.exec.(DelayedExecutor)
		if !ok {
			op.fail(fmt.Errorf("%w: %T", ErrDelayUnsupported, op.exec))
			return
		}
		op.mu.Lock()
		op.future.state.Store(int32(StateRetrying))
		op.retry = delayed.Schedule(p.RetryAfter, op.run)
		op.mu.Unlock()
		if op.ctx.Err() != nil {
			op.cancel()
		}
		return
	}
}

// cancel drops the pending retry and fails the future with the context's
// error. It runs on the context's goroutine, so it leaves the step counters
// alone.
func (op *asyncAcquisition) cancel() {
	op.mu.Lock()
	if op.retry != nil {
		op.retry.Cancel()
		op.retry = nil
	}
	op.mu.Unlock()

	if op.future.IsComplete() {
		return
	}
	err := cancelled(op.ctx.Err())
	op.logger.Debug("async acquire cancelled",
		slog.Int64("tokens", op.total),
		slog.Any("error", err),
	)
	op.future.complete(Permit{}, err)
}

func (op *asyncAcquisition) succeed(p Permit) {
	op.stop()
	op.metrics.recordDecision(p)
	op.metrics.recordWait("async", time.Duration(op.spec.Clock.NanoTime()-op.start))
	op.future.complete(p, nil)
}

func (op *asyncAcquisition) fail(err error) {
	op.stop()
	op.logger.Debug("async acquire failed",
		slog.Int64("tokens", op.total),
		slog.Int64("steps_left", op.left),
		slog.Any("error", err),
	)
	op.future.complete(Permit{}, err)
}
