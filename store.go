package bucketguard

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// KeyedStore owns the key to Bucket mapping of a keyed limiter. Buckets
// returned from lookups are safe for concurrent admission checks.
type KeyedStore[K comparable] interface {
	// GetOrCreate returns the bucket for key, building one with factory if
	// the key is absent or expired.
	GetOrCreate(key K, factory func() Bucket) Bucket

	// Get returns the bucket for key without creating one.
	Get(key K) (Bucket, bool)

	// Len returns the number of tracked keys.
	Len() int

	// Snapshot returns up to limit entries.
	Snapshot(limit int) map[K]Bucket

	// Prune removes expired entries. It is a no-op for non-expiring stores.
	Prune()

	// Remove drops key and reports whether it was present.
	Remove(key K) bool

	// Clear drops every key.
	Clear()
}

// EvictionPolicy selects the keyed store implementation.
type EvictionPolicy int

const (
	// EvictionNone keeps every key forever. Memory grows with the key space,
	// so the key space has to be bounded by the caller.
	EvictionNone EvictionPolicy = iota
	// EvictionLRU caps the store at MaxKeys, evicting the least recently used key.
	EvictionLRU
	// EvictionExpireAfterAccess drops keys idle for ExpireAfterAccess; MaxKeys
	// additionally caps the store when positive.
	EvictionExpireAfterAccess
)

func (p EvictionPolicy) String() string {
	switch p {
	case EvictionNone:
		return "none"
	case EvictionLRU:
		return "lru"
	case EvictionExpireAfterAccess:
		return "expire_after_access"
	}
	return fmt.Sprintf("EvictionPolicy(%d)", int(p))
}

// UnmarshalText parses "none", "lru" or "expire_after_access".
func (p *EvictionPolicy) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "", "none":
		*p = EvictionNone
	case "lru":
		*p = EvictionLRU
	case "expire_after_access", "expire-after-access":
		*p = EvictionExpireAfterAccess
	default:
		return fmt.Errorf("%w: unknown eviction policy %q", ErrInvalidSpec, text)
	}
	return nil
}

// DefaultMaintenancePeriod is used when StoreSpec.MaintenancePeriod is zero.
const DefaultMaintenancePeriod = 5 * time.Second

// StoreSpec configures the key storage of a KeyedLimiter.
type StoreSpec[K comparable] struct {
	// MaxKeys caps the number of keys; zero or negative means no cap.
	MaxKeys           int
	ExpireAfterAccess time.Duration
	Eviction          EvictionPolicy

	// OnRemove is called once per removed key, inside the store's lock.
	// It must not call back into the store or the limiter.
	OnRemove func(K)

	// MaintenanceEnabled starts periodic pruning when the limiter is given
	// a scheduler with WithScheduler.
	MaintenanceEnabled bool
	MaintenancePeriod  time.Duration
}

// Validate checks the spec without modifying it.
func (s StoreSpec[K]) Validate() error {
	switch s.Eviction {
	case EvictionNone:
	case EvictionLRU:
		if s.MaxKeys <= 0 {
			return fmt.Errorf("%w: max keys must be > 0 for lru eviction, got %d", ErrInvalidSpec, s.MaxKeys)
		}
	case EvictionExpireAfterAccess:
		if s.ExpireAfterAccess <= 0 {
			return fmt.Errorf("%w: expire after access must be > 0, got %v", ErrInvalidSpec, s.ExpireAfterAccess)
		}
	default:
		return fmt.Errorf("%w: unknown eviction policy %d", ErrInvalidSpec, int(s.Eviction))
	}
	if s.MaintenancePeriod < 0 {
		return fmt.Errorf("%w: maintenance period must be > 0, got %v", ErrInvalidSpec, s.MaintenancePeriod)
	}
	return nil
}

func (s StoreSpec[K]) period() time.Duration {
	if s.MaintenancePeriod == 0 {
		return DefaultMaintenancePeriod
	}
	return s.MaintenancePeriod
}

// NewStore builds the store selected by spec.Eviction. Idle expiry is measured
// with clock.
func NewStore[K comparable](spec StoreSpec[K], clock TimeSource) (KeyedStore[K], error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if spec.Eviction == EvictionNone {
		return NewUnboundedStore[K](), nil
	}
	return newBoundedStore(spec, clock), nil
}

// UnboundedStore is a concurrent map without eviction.
type UnboundedStore[K comparable] struct {
	m sync.Map
	n atomic.Int64
}

// NewUnboundedStore returns an empty store.
func NewUnboundedStore[K comparable]() *UnboundedStore[K] {
	return &UnboundedStore[K]{}
}

// GetOrCreate implements KeyedStore. Under a race the factory may run more
// than once, so it should be cheap and free of side effects; only one bucket
// is ever published for a key.
func (s *UnboundedStore[K]) GetOrCreate(key K, factory func() Bucket) Bucket {
	if v, ok := s.m.Load(key); ok {
		return v.(Bucket)
	}
	v, loaded := s.m.LoadOrStore(key, factory())
	if !loaded {
		s.n.Add(1)
	}
	return v.(Bucket)
}

// Get implements KeyedStore.
func (s *UnboundedStore[K]) Get(key K) (Bucket, bool) {
	v, ok := s.m.Load(key)
	if !ok {
		return nil, false
	}
	return v.(Bucket), true
}

// Len implements KeyedStore. The count is adjusted after the map, so a Clear
// racing a GetOrCreate can leave it briefly below zero.
func (s *UnboundedStore[K]) Len() int { return max(int(s.n.Load()), 0) }

// Snapshot implements KeyedStore.
func (s *UnboundedStore[K]) Snapshot(limit int) map[K]Bucket {
	out := make(map[K]Bucket, min(max(limit, 0), s.Len()))
	if limit <= 0 {
		return out
	}
	s.m.Range(func(k, v any) bool {
		out[k.(K)] = v.(Bucket)
		return len(out) < limit
	})
	return out
}

// Prune implements KeyedStore; unbounded stores never expire keys.
func (s *UnboundedStore[K]) Prune() {}

// Remove implements KeyedStore.
func (s *UnboundedStore[K]) Remove(key K) bool {
	if _, ok := s.m.LoadAndDelete(key); ok {
		s.n.Add(-1)
		return true
	}
	return false
}

// Clear implements KeyedStore.
func (s *UnboundedStore[K]) Clear() {
	s.m.Range(func(k, _ any) bool {
		if _, ok := s.m.LoadAndDelete(k); ok {
			s.n.Add(-1)
		}
		return true
	})
}
