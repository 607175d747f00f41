package bucketguard

import (
	"context"
	"sync"
	"sync/atomic"
)

// AcquireState is the progress of an asynchronous acquisition.
type AcquireState int32

const (
	StatePending AcquireState = iota
	StateRetrying
	StateGranted
	StateFailed
)

func (s AcquireState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRetrying:
		return "retrying"
	case StateGranted:
		return "granted"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Future represents the result of an asynchronous acquisition. It completes
// exactly once, either with a granted Permit or with an error.
type Future struct {
	state atomic.Int32
	done  chan struct{}
	once  sync.Once
	exec  Executor

	permit Permit
	err    error

	mu        sync.Mutex
	callbacks []func(Permit, error)
}

func newFuture(exec Executor) *Future {
	return &Future{done: make(chan struct{}), exec: exec}
}

func (f *Future) complete(p Permit, err error) {
	f.once.Do(func() {
		f.permit, f.err = p, err
		if err != nil {
			f.state.Store(int32(StateFailed))
		} else {
			f.state.Store(int32(StateGranted))
		}

		f.mu.Lock()
		close(f.done)
		callbacks := f.callbacks
		f.callbacks = nil
		f.mu.Unlock()

		for _, fn := range callbacks {
			f.dispatch(fn)
		}
	})
}

func (f *Future) dispatch(fn func(Permit, error)) {
	p, err := f.permit, f.err
	f.exec.Execute(func() { fn(p, err) })
}

// Done is closed when the acquisition completes.
func (f *Future) Done() <-chan struct{} { return f.done }

// State returns the current progress.
func (f *Future) State() AcquireState { return AcquireState(f.state.Load()) }

// IsComplete checks if the acquisition completed without blocking.
func (f *Future) IsComplete() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns the outcome without blocking, or ErrNotComplete while the
// acquisition is still in progress.
func (f *Future) Result() (Permit, error) {
	if !f.IsComplete() {
		return Permit{}, ErrNotComplete
	}
	return f.permit, f.err
}

// Await waits for completion. If ctx ends first it returns ErrCancelled, but
// the acquisition itself keeps going; cancel the context passed to
// AcquireAsync to stop it.
func (f *Future) Await(ctx context.Context) (Permit, error) {
	select {
	case <-f.done:
		return f.permit, f.err
	case <-ctx.Done():
		return Permit{}, cancelled(ctx.Err())
	}
}

// OnComplete registers fn to run on the acquisition's executor once the
// future completes. Registering after completion dispatches immediately.
func (f *Future) OnComplete(fn func(Permit, error)) {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		f.dispatch(fn)
		return
	default:
	}
	f.callbacks = append(f.callbacks, fn)
	f.mu.Unlock()
}
