package bucketguard

import (
	"context"
	"fmt"
)

// KeyedStats is a sample of per-key statistics.
type KeyedStats[K comparable] struct {
	// Keys is the number of tracked keys when the sample was taken; it may
	// exceed len(Samples).
	Keys    int
	Samples map[K]Stats
}

// KeyedLimiter applies one RateSpec independently to every key. Buckets are
// created lazily on first use and held in a KeyedStore chosen by the
// StoreSpec.
type KeyedLimiter[K comparable] struct {
	store   KeyedStore[K]
	acq     *acquirer
	factory func() Bucket
	spec    StoreSpec[K]
	maint   *MaintenanceController
	metrics *Metrics
}

// NewKeyedLimiter validates both specs and builds a keyed limiter. If
// storeSpec enables maintenance and a scheduler is given with WithScheduler,
// pruning starts immediately.
func NewKeyedLimiter[K comparable](spec RateSpec, storeSpec StoreSpec[K], opts ...Option) (*KeyedLimiter[K], error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	spec = spec.withDefaults()

	// Every bucket shares the spec, so a failure here is the only one the
	// factory could ever hit.
	if _, err := newBucket(spec); err != nil {
		return nil, err
	}
	store, err := NewStore(storeSpec, spec.Clock)
	if err != nil {
		return nil, err
	}

	o := newOptions(opts)
	if bs, ok := store.(*BoundedStore[K]); ok {
		bs.instrument(o.metrics)
	}

	k := &KeyedLimiter[K]{
		store: store,
		acq:   &acquirer{spec: spec, metrics: o.metrics, logger: o.logger},
		factory: func() Bucket {
			b, _ := newBucket(spec)
			return b
		},
		spec:    storeSpec,
		metrics: o.metrics,
		maint:   NewMaintenanceController(store.Prune, spec.Clock, o.logger, o.metrics),
	}

	if storeSpec.MaintenanceEnabled && o.scheduler != nil {
		if err := k.StartMaintenance(o.scheduler); err != nil {
			return nil, err
		}
	}
	return k, nil
}

func checkKey[K comparable](key K) error {
	var zero K
	if key == zero {
		return fmt.Errorf("%w: zero value %v", ErrInvalidKey, key)
	}
	return nil
}

func (k *KeyedLimiter[K]) resolver(key K) (func() Bucket, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	return func() Bucket { return k.store.GetOrCreate(key, k.factory) }, nil
}

// Spec returns the rate applied to each key.
func (k *KeyedLimiter[K]) Spec() RateSpec { return k.acq.spec }

// Allow is a shortcut for TryAcquire with one token.
func (k *KeyedLimiter[K]) Allow(key K) (Permit, error) {
	return k.TryAcquire(key, 1)
}

// TryAcquire reports whether tokens may be taken for key now.
func (k *KeyedLimiter[K]) TryAcquire(key K, tokens int64) (Permit, error) {
	resolve, err := k.resolver(key)
	if err != nil {
		return Permit{}, err
	}
	return k.acq.tryAcquire(resolve, tokens)
}

// Acquire blocks until tokens are granted for key or ctx is done.
func (k *KeyedLimiter[K]) Acquire(ctx context.Context, key K, tokens int64) (Permit, error) {
	resolve, err := k.resolver(key)
	if err != nil {
		return Permit{}, err
	}
	return k.acq.acquire(ctx, resolve, tokens)
}

// AcquireAsync acquires tokens for key without blocking the caller. Each
// attempt looks the key up again, so a key evicted between retries continues
// on a fresh bucket.
func (k *KeyedLimiter[K]) AcquireAsync(ctx context.Context, key K, tokens int64, exec Executor) (*Future, error) {
	resolve, err := k.resolver(key)
	if err != nil {
		return nil, err
	}
	return k.acq.acquireAsync(ctx, resolve, tokens, exec)
}

// Snapshot returns statistics for key. A key that is not tracked reports a
// full bucket: Capacity available, or a single token under steady rate.
func (k *KeyedLimiter[K]) Snapshot(key K) (Stats, error) {
	if err := checkKey(key); err != nil {
		return Stats{}, err
	}
	if b, ok := k.store.Get(key); ok {
		return b.Snapshot(), nil
	}
	return k.fresh(), nil
}

func (k *KeyedLimiter[K]) fresh() Stats {
	spec := k.acq.spec
	st := Stats{
		Capacity:     spec.Capacity,
		Available:    spec.Capacity,
		RefillTokens: spec.RefillTokens,
		RefillPeriod: spec.RefillPeriod,
	}
	switch {
	case emissionInterval(spec.RefillTokens, spec.RefillPeriod) == 0:
		st.Available = Unlimited
	case spec.SteadyRate:
		st.Available = 1
	}
	return st
}

// SnapshotSample returns statistics for up to limit keys. For bounded stores
// the least recently used keys are sampled first.
func (k *KeyedLimiter[K]) SnapshotSample(limit int) KeyedStats[K] {
	buckets := k.store.Snapshot(limit)
	out := KeyedStats[K]{
		Keys:    k.store.Len(),
		Samples: make(map[K]Stats, len(buckets)),
	}
	for key, b := range buckets {
		out.Samples[key] = b.Snapshot()
	}
	return out
}

// SnapshotAll returns statistics for every tracked key.
func (k *KeyedLimiter[K]) SnapshotAll() KeyedStats[K] {
	return k.SnapshotSample(k.store.Len())
}

// Reset forgets key; its next use starts with a full bucket. It reports
// whether the key was tracked.
func (k *KeyedLimiter[K]) Reset(key K) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	return k.store.Remove(key), nil
}

// Len returns the number of tracked keys.
func (k *KeyedLimiter[K]) Len() int { return k.store.Len() }

// Prune removes expired keys now. Unlike scheduled maintenance, a panic from
// the removal callback reaches the caller.
func (k *KeyedLimiter[K]) Prune() {
	k.store.Prune()
	k.metrics.recordPrune()
}

// StartMaintenance prunes the store periodically on sched, using the store
// spec's maintenance period. Calling it again while running is a no-op.
func (k *KeyedLimiter[K]) StartMaintenance(sched PeriodicScheduler) error {
	return k.maint.Start(sched, k.spec.period())
}

// MaintenanceRunning reports whether periodic pruning is active.
func (k *KeyedLimiter[K]) MaintenanceRunning() bool { return k.maint.Running() }

// Close stops periodic pruning. Tracked keys are kept and the limiter stays
// usable.
func (k *KeyedLimiter[K]) Close() error {
	k.maint.Close()
	return nil
}
