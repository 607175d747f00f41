package bucketguard

import (
	"context"
)

// Limiter controls how frequently events are allowed to happen against a
// single global rate.
type Limiter struct {
	bucket Bucket
	acq    *acquirer
}

// NewLimiter validates spec and returns a limiter with an empty debt.
func NewLimiter(spec RateSpec, opts ...Option) (*Limiter, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	spec = spec.withDefaults()

	b, err := newBucket(spec)
	if err != nil {
		return nil, err
	}
	o := newOptions(opts)
	return &Limiter{
		bucket: b,
		acq:    &acquirer{spec: spec, metrics: o.metrics, logger: o.logger},
	}, nil
}

func (l *Limiter) resolve() Bucket { return l.bucket }

// Spec returns the rate the limiter enforces.
func (l *Limiter) Spec() RateSpec { return l.acq.spec }

// Allow is a shortcut for TryAcquire with one token.
func (l *Limiter) Allow() (Permit, error) {
	return l.TryAcquire(1)
}

// TryAcquire reports whether tokens may be taken now, without waiting.
// A steady-rate limiter denies any multi-token request with a retry after one
// refill period.
func (l *Limiter) TryAcquire(tokens int64) (Permit, error) {
	return l.acq.tryAcquire(l.resolve, tokens)
}

// Acquire blocks until tokens are granted. It returns an error wrapping
// ErrCancelled if ctx is done first.
func (l *Limiter) Acquire(ctx context.Context, tokens int64) (Permit, error) {
	return l.acq.acquire(ctx, l.resolve, tokens)
}

// AcquireAsync acquires tokens without blocking the caller. Retries are
// scheduled on exec, which must implement DelayedExecutor whenever a wait is
// needed; otherwise the future fails with ErrDelayUnsupported.
func (l *Limiter) AcquireAsync(ctx context.Context, tokens int64, exec Executor) (*Future, error) {
	return l.acq.acquireAsync(ctx, l.resolve, tokens, exec)
}

// Snapshot returns approximate bucket statistics.
func (l *Limiter) Snapshot() Stats {
	return l.bucket.Snapshot()
}
