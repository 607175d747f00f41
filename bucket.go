package bucketguard

import (
	"runtime"
	"sync/atomic"
	"time"
)

// Bucket is the admission algorithm behind every limiter.
type Bucket interface {
	// TryAcquire attempts to take tokens at time now (nanoseconds of the
	// bucket's time source). It never blocks.
	TryAcquire(tokens int64, now int64) (Permit, error)

	// Snapshot returns an approximate view of the bucket at its current time.
	Snapshot() Stats
}

// AtomicBucket is a lock-free GCRA bucket. Its only mutable state is the
// theoretical arrival time (TAT), which only moves through a successful
// compare-and-swap from an observed value.
type AtomicBucket struct {
	tat atomic.Int64

	capacity     int64
	refillTokens int64
	refillPeriod time.Duration

	emissionInterval int64
	burstOffset      int64
	checked          bool
	clock            TimeSource
}

// NewAtomicBucket validates spec and returns a bucket with no debt.
func NewAtomicBucket(spec RateSpec) (*AtomicBucket, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return newAtomicBucket(spec.withDefaults())
}

func newAtomicBucket(spec RateSpec) (*AtomicBucket, error) {
	interval := emissionInterval(spec.RefillTokens, spec.RefillPeriod)
	offset, err := burstOffset(spec.AllowBurst(), spec.Capacity, interval, !spec.UncheckedMath)
	if err != nil {
		return nil, err
	}
	return &AtomicBucket{
		capacity:         spec.Capacity,
		refillTokens:     spec.RefillTokens,
		refillPeriod:     spec.RefillPeriod,
		emissionInterval: interval,
		burstOffset:      offset,
		checked:          !spec.UncheckedMath,
		clock:            spec.Clock,
	}, nil
}

// TryAcquire implements Bucket.
func (b *AtomicBucket) TryAcquire(tokens int64, now int64) (Permit, error) {
	if b.emissionInterval == 0 {
		return granted(tokens, Unlimited), nil
	}

	cost, err := tokenCost(tokens, b.emissionInterval, b.checked)
	if err != nil {
		return Permit{}, err
	}
	limit, err := advance(now, b.burstOffset, b.checked)
	if err != nil {
		return Permit{}, err
	}

	for {
		tat := b.tat.Load()
		next, err := advance(max(tat, now), cost, b.checked)
		if err != nil {
			return Permit{}, err
		}

		if next > limit {
			// The debt beyond the burst window has to decay first.
			return denied(tokens, time.Duration(next-b.burstOffset-now)), nil
		}
		if b.tat.CompareAndSwap(tat, next) {
			return granted(tokens, (limit-next)/b.emissionInterval), nil
		}
	}
}

// Snapshot implements Bucket. It reads the cursor once and does not
// coordinate with in-flight acquisitions.
func (b *AtomicBucket) Snapshot() Stats {
	st := Stats{
		Capacity:     b.capacity,
		RefillTokens: b.refillTokens,
		RefillPeriod: b.refillPeriod,
	}
	if b.emissionInterval == 0 {
		st.Available = Unlimited
		return st
	}
	now := b.clock.NanoTime()
	avail := now + b.burstOffset - max(b.tat.Load(), now)
	st.Available = max(0, avail/b.emissionInterval)
	return st
}

// StripedBucket spreads one rate across independent AtomicBuckets. Each
// stripe receives an even share of capacity and refill; a goroutine is routed
// to a stripe by its processor affinity, not by the request.
//
// A request denied by its stripe might have fit into another one. Striping
// trades that utilisation and global ordering for fewer CAS collisions.
type StripedBucket struct {
	stripes []*AtomicBucket
	mask    uint64

	capacity     int64
	refillTokens int64
	refillPeriod time.Duration
}

// NewStripedBucket builds a bucket with exactly n stripes. n must be a power
// of two and small enough that every stripe keeps at least one token of
// capacity and refill.
func NewStripedBucket(spec RateSpec, n int) (*StripedBucket, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return newStripedBucket(spec.withDefaults(), n)
}

func newStripedBucket(spec RateSpec, n int) (*StripedBucket, error) {
	if n < 1 || n&(n-1) != 0 {
		return nil, ErrInvalidStripes
	}

	count := int64(n)
	capShare, capRem := spec.Capacity/count, spec.Capacity%count
	refShare, refRem := spec.RefillTokens/count, spec.RefillTokens%count

	sb := &StripedBucket{
		stripes:      make([]*AtomicBucket, n),
		mask:         uint64(n - 1),
		capacity:     spec.Capacity,
		refillTokens: spec.RefillTokens,
		refillPeriod: spec.RefillPeriod,
	}
	for i := range sb.stripes {
		stripe := spec
		stripe.Capacity = capShare
		stripe.RefillTokens = refShare
		if int64(i) < capRem {
			stripe.Capacity++
		}
		if int64(i) < refRem {
			stripe.RefillTokens++
		}
		if stripe.Capacity < 1 || stripe.RefillTokens < 1 {
			return nil, ErrInvalidStripes
		}

		b, err := newAtomicBucket(stripe)
		if err != nil {
			return nil, err
		}
		sb.stripes[i] = b
	}
	return sb, nil
}

// Stripes returns the number of stripes.
func (sb *StripedBucket) Stripes() int { return len(sb.stripes) }

// TryAcquire implements Bucket.
func (sb *StripedBucket) TryAcquire(tokens int64, now int64) (Permit, error) {
	return sb.stripes[affinity()&sb.mask].TryAcquire(tokens, now)
}

// Snapshot sums the stripes. Each stripe is itself approximate and stripes are
// read one after another, so the total is doubly approximate.
func (sb *StripedBucket) Snapshot() Stats {
	var avail int64
	for _, s := range sb.stripes {
		a := s.Snapshot().Available
		if a == Unlimited {
			avail = Unlimited
			break
		}
		avail += a
	}
	return Stats{
		Capacity:     sb.capacity,
		Available:    avail,
		RefillTokens: sb.refillTokens,
		RefillPeriod: sb.refillPeriod,
	}
}

const maxStripes = 64

// NewBucket picks an implementation for spec. Striping is used only when
// requested and when each stripe keeps at least one token of capacity and
// refill; otherwise a single AtomicBucket is returned.
func NewBucket(spec RateSpec) (Bucket, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return newBucket(spec.withDefaults())
}

func newBucket(spec RateSpec) (Bucket, error) {
	if spec.Contention != ContentionStriped {
		return newAtomicBucket(spec)
	}
	n := stripeCount(runtime.GOMAXPROCS(0), spec.Capacity, spec.RefillTokens)
	if n < 2 {
		return newAtomicBucket(spec)
	}
	return newStripedBucket(spec, n)
}

// stripeCount returns a power of two in [2, 64] derived from the available
// parallelism, or 1 when the rate is too small to split.
func stripeCount(parallelism int, capacity, refill int64) int {
	n := min(parallelism*4, maxStripes)
	n = max(n, 2)

	if limit := min(capacity, refill); limit < int64(n) {
		most := int(highestOneBit(limit))
		if most < 2 {
			return 1
		}
		n = min(n, most)
	}
	return int(highestOneBit(int64(n)))
}

func highestOneBit(v int64) int64 {
	if v <= 0 {
		return 0
	}
	h := int64(1)
	for v > 1 {
		v >>= 1
		h <<= 1
	}
	return h
}
