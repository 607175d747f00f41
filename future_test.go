package bucketguard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAsyncImmediateGrant(t *testing.T) {
	t.Parallel()
	l, clock := newTestLimiter(t, PerSecond(2, 2))
	sched := newTestScheduler(clock)

	f, err := l.AcquireAsync(context.Background(), 1, sched)
	require.NoError(t, err)
	require.True(t, f.IsComplete())
	assert.Equal(t, StateGranted, f.State())

	p, err := f.Result()
	require.NoError(t, err)
	assert.Equal(t, Permit{Granted: true, Tokens: 1, Remaining: 1}, p)
	assert.Zero(t, sched.pending())
}

func TestAcquireAsyncRetriesAfterDelay(t *testing.T) {
	t.Parallel()
	l, clock := newTestLimiter(t, PerSecond(1, 1))
	sched := newTestScheduler(clock)

	_, err := l.Allow()
	require.NoError(t, err)

	f, err := l.AcquireAsync(context.Background(), 1, sched)
	require.NoError(t, err)
	assert.False(t, f.IsComplete())
	assert.Equal(t, StateRetrying, f.State())
	assert.Equal(t, 1, sched.pending())

	_, err = f.Result()
	assert.ErrorIs(t, err, ErrNotComplete)

	sched.advance(999 * time.Millisecond)
	assert.False(t, f.IsComplete())

	sched.advance(time.Millisecond)
	require.True(t, f.IsComplete())
	p, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.True(t, p.Granted)
	assert.Equal(t, StateGranted, f.State())
}

func TestAcquireAsyncSteadyRateChainsSingleTokens(t *testing.T) {
	t.Parallel()
	spec := PerSecond(10, 1)
	spec.SteadyRate = true
	l, clock := newTestLimiter(t, spec)
	sched := newTestScheduler(clock)

	f, err := l.AcquireAsync(context.Background(), 3, sched)
	require.NoError(t, err)
	assert.Equal(t, StateRetrying, f.State())

	sched.advance(time.Second)
	assert.False(t, f.IsComplete())
	assert.Equal(t, 1, sched.pending())

	sched.advance(time.Second)
	require.True(t, f.IsComplete())
	p, err := f.Result()
	require.NoError(t, err)
	assert.Equal(t, Permit{Granted: true, Tokens: 3, Remaining: 0}, p)
}

func TestAcquireAsyncWithoutDelaySupport(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(t, PerHour(1, 1))

	f, err := l.AcquireAsync(context.Background(), 1, GoExecutor{})
	require.NoError(t, err)
	_, err = f.Result()
	require.NoError(t, err)

	f, err = l.AcquireAsync(context.Background(), 1, GoExecutor{})
	require.NoError(t, err, "the failure belongs to the future, not the call")
	require.True(t, f.IsComplete())
	assert.Equal(t, StateFailed, f.State())
	_, err = f.Result()
	assert.ErrorIs(t, err, ErrDelayUnsupported)
}

func TestAcquireAsyncNilExecutor(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(t, PerHour(1, 1))

	_, err := l.AcquireAsync(context.Background(), 1, nil)
	assert.ErrorIs(t, err, ErrNilExecutor)
}

func TestAcquireAsyncCancelledBetweenRetries(t *testing.T) {
	t.Parallel()
	l, clock := newTestLimiter(t, PerSecond(1, 1))
	sched := newTestScheduler(clock)

	_, err := l.Allow()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	f, err := l.AcquireAsync(ctx, 1, sched)
	require.NoError(t, err)
	cancel()

	sched.advance(time.Second)
	_, err = awaitFuture(t, f)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)

	// The token earned meanwhile is still there.
	p, err := l.Allow()
	require.NoError(t, err)
	assert.True(t, p.Granted)
}

func TestAcquireAsyncCancelDropsPendingRetry(t *testing.T) {
	t.Parallel()
	l, clock := newTestLimiter(t, PerHour(1, 1))
	sched := newTestScheduler(clock)

	_, err := l.Allow()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	f, err := l.AcquireAsync(ctx, 1, sched)
	require.NoError(t, err)
	require.Equal(t, StateRetrying, f.State())
	require.Equal(t, 1, sched.pending())

	// The retry is an hour away; the future fails without the clock moving.
	cancel()
	_, err = awaitFuture(t, f)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, f.State())
	assert.Zero(t, sched.pending())
	assert.Zero(t, clock.NanoTime())
}

func TestAcquireAsyncAlreadyCancelledContext(t *testing.T) {
	t.Parallel()
	l, clock := newTestLimiter(t, PerHour(1, 1))
	sched := newTestScheduler(clock)

	_, err := l.Allow()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f, err := l.AcquireAsync(ctx, 1, sched)
	require.NoError(t, err)

	_, err = awaitFuture(t, f)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Zero(t, sched.pending())
}

func awaitFuture(t *testing.T, f *Future) (Permit, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case <-f.Done():
		return f.Result()
	case <-ctx.Done():
		t.Fatal("future did not complete")
		return Permit{}, nil
	}
}

func TestFutureAwaitContextEndsFirst(t *testing.T) {
	t.Parallel()
	l, clock := newTestLimiter(t, PerSecond(1, 1))
	sched := newTestScheduler(clock)

	_, err := l.Allow()
	require.NoError(t, err)
	f, err := l.AcquireAsync(context.Background(), 1, sched)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Await(ctx)
	assert.ErrorIs(t, err, ErrCancelled)

	// Awaiting does not stop the acquisition.
	sched.advance(time.Second)
	p, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.True(t, p.Granted)
}

func TestFutureOnComplete(t *testing.T) {
	t.Parallel()
	l, clock := newTestLimiter(t, PerSecond(1, 1))
	sched := newTestScheduler(clock)

	_, err := l.Allow()
	require.NoError(t, err)
	f, err := l.AcquireAsync(context.Background(), 1, sched)
	require.NoError(t, err)

	var got []Permit
	f.OnComplete(func(p Permit, err error) {
		assert.NoError(t, err)
		got = append(got, p)
	})
	assert.Empty(t, got)

	sched.advance(time.Second)
	require.Len(t, got, 1)
	assert.True(t, got[0].Granted)

	// Late registrations run right away.
	f.OnComplete(func(p Permit, _ error) { got = append(got, p) })
	assert.Len(t, got, 2)
}

func TestAcquireStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "retrying", StateRetrying.String())
	assert.Equal(t, "granted", StateGranted.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", AcquireState(9).String())
}

func TestAcquireAsyncWithTimerScheduler(t *testing.T) {
	t.Parallel()
	l, err := NewLimiter(RateSpec{Capacity: 1, RefillTokens: 1, RefillPeriod: 20 * time.Millisecond})
	require.NoError(t, err)

	sched := NewTimerScheduler()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var futures []*Future
	for range 3 {
		f, err := l.AcquireAsync(ctx, 1, sched)
		require.NoError(t, err)
		futures = append(futures, f)
	}
	for _, f := range futures {
		p, err := f.Await(ctx)
		require.NoError(t, err)
		assert.True(t, p.Granted)
	}
}
