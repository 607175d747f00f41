package bucketguard

import (
	"sync"
)

const nilIndex = -1

// lruEntry lives in the store's arena; prev and next link it into the
// access-ordered list by arena index.
type lruEntry[K comparable] struct {
	key        K
	bucket     Bucket
	lastAccess int64
	prev, next int
}

// BoundedStore is an access-ordered keyed store with an optional size cap and
// idle expiry. Every operation runs under one mutex, which makes each removal
// (eviction, expiry, Remove or Clear) fire OnRemove exactly once: an entry is
// unlinked before its notification and can never be unlinked again.
//
// The list runs from the least recently touched entry (head) to the most
// recently touched one (tail). Entries are stored in a slice arena with a free
// list, so touching and evicting are O(1) without per-entry allocations.
type BoundedStore[K comparable] struct {
	mu      sync.Mutex
	index   map[K]int
	entries []lruEntry[K]
	free    []int
	head    int
	tail    int

	maxKeys     int
	expireAfter int64
	clock       TimeSource
	onRemove    func(K)
	metrics     *Metrics
}

// NewBoundedStore validates spec and builds a bounded store. Idle expiry only
// applies with EvictionExpireAfterAccess.
func NewBoundedStore[K comparable](spec StoreSpec[K], clock TimeSource) (*BoundedStore[K], error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return newBoundedStore(spec, clock), nil
}

func newBoundedStore[K comparable](spec StoreSpec[K], clock TimeSource) *BoundedStore[K] {
	if clock == nil {
		clock = SystemClock()
	}
	s := &BoundedStore[K]{
		index:    make(map[K]int),
		head:     nilIndex,
		tail:     nilIndex,
		maxKeys:  spec.MaxKeys,
		clock:    clock,
		onRemove: spec.OnRemove,
	}
	if spec.Eviction == EvictionExpireAfterAccess {
		s.expireAfter = int64(spec.ExpireAfterAccess)
	}
	return s
}

func (s *BoundedStore[K]) instrument(m *Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
	s.metrics.setKeys(len(s.index))
}

// GetOrCreate implements KeyedStore. An expired entry is removed (and
// reported) before a fresh bucket replaces it; inserting beyond MaxKeys
// evicts least recently touched keys before returning.
func (s *BoundedStore[K]) GetOrCreate(key K, factory func() Bucket) Bucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.NanoTime()
	if i, ok := s.index[key]; ok {
		if !s.expired(i, now) {
			s.touch(i, now)
			return s.entries[i].bucket
		}
		s.removeAt(i, causeExpired)
	}

	b := factory()
	i := s.alloc(key, b, now)
	s.index[key] = i
	s.pushBack(i)

	for s.maxKeys > 0 && len(s.index) > s.maxKeys && s.head != nilIndex {
		s.removeAt(s.head, causeCapacity)
	}
	s.metrics.setKeys(len(s.index))
	return b
}

// Get implements KeyedStore. A hit refreshes the key's access time.
func (s *BoundedStore[K]) Get(key K) (Bucket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[key]
	if !ok {
		return nil, false
	}
	now := s.clock.NanoTime()
	if s.expired(i, now) {
		s.removeAt(i, causeExpired)
		s.metrics.setKeys(len(s.index))
		return nil, false
	}
	s.touch(i, now)
	return s.entries[i].bucket, true
}

// Len implements KeyedStore.
func (s *BoundedStore[K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// Snapshot implements KeyedStore. Entries are taken from the least recently
// touched end; access times are not refreshed.
func (s *BoundedStore[K]) Snapshot(limit int) map[K]Bucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[K]Bucket, min(max(limit, 0), len(s.index)))
	for i := s.head; i != nilIndex && len(out) < limit; i = s.entries[i].next {
		out[s.entries[i].key] = s.entries[i].bucket
	}
	return out
}

// Prune implements KeyedStore. It walks the whole list once.
func (s *BoundedStore[K]) Prune() {
	if s.expireAfter <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.NanoTime()
	for i := s.head; i != nilIndex; {
		next := s.entries[i].next
		if s.expired(i, now) {
			s.removeAt(i, causeExpired)
		}
		i = next
	}
	s.metrics.setKeys(len(s.index))
}

// Remove implements KeyedStore.
func (s *BoundedStore[K]) Remove(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[key]
	if !ok {
		return false
	}
	s.removeAt(i, causeRemoved)
	s.metrics.setKeys(len(s.index))
	return true
}

// Clear implements KeyedStore.
func (s *BoundedStore[K]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.head != nilIndex {
		s.removeAt(s.head, causeCleared)
	}
	s.entries = s.entries[:0]
	s.free = s.free[:0]
	s.metrics.setKeys(0)
}

func (s *BoundedStore[K]) expired(i int, now int64) bool {
	return s.expireAfter > 0 && now-s.entries[i].lastAccess >= s.expireAfter
}

func (s *BoundedStore[K]) touch(i int, now int64) {
	s.entries[i].lastAccess = now
	if s.tail != i {
		s.unlink(i)
		s.pushBack(i)
	}
}

// removeAt unlinks entry i, recycles its slot and then notifies. The
// notification comes last so a panicking callback leaves the store consistent.
func (s *BoundedStore[K]) removeAt(i int, cause string) {
	key := s.entries[i].key
	delete(s.index, key)
	s.unlink(i)
	s.entries[i] = lruEntry[K]{prev: nilIndex, next: nilIndex}
	s.free = append(s.free, i)

	s.metrics.recordRemoval(cause)
	if s.onRemove != nil {
		s.onRemove(key)
	}
}

func (s *BoundedStore[K]) alloc(key K, b Bucket, now int64) int {
	e := lruEntry[K]{key: key, bucket: b, lastAccess: now, prev: nilIndex, next: nilIndex}
	if n := len(s.free); n > 0 {
		i := s.free[n-1]
		s.free = s.free[:n-1]
		s.entries[i] = e
		return i
	}
	s.entries = append(s.entries, e)
	return len(s.entries) - 1
}

func (s *BoundedStore[K]) unlink(i int) {
	e := &s.entries[i]
	if e.prev != nilIndex {
		s.entries[e.prev].next = e.next
	} else {
		s.head = e.next
	}
	if e.next != nilIndex {
		s.entries[e.next].prev = e.prev
	} else {
		s.tail = e.prev
	}
	e.prev, e.next = nilIndex, nilIndex
}

func (s *BoundedStore[K]) pushBack(i int) {
	e := &s.entries[i]
	e.prev, e.next = s.tail, nilIndex
	if s.tail != nilIndex {
		s.entries[s.tail].next = i
	} else {
		s.head = i
	}
	s.tail = i
}
