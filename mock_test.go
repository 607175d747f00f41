package bucketguard

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mediocregopher/radix/v3"
)

// testClock is a fake TimeSource that only moves when advanced.
type testClock struct {
	nanos atomic.Int64
}

func newTestClock() *testClock { return &testClock{} }

// NanoTime implements TimeSource.
func (c *testClock) NanoTime() int64 { return c.nanos.Load() }

// advance moves the fake time forward.
func (c *testClock) advance(d time.Duration) { c.nanos.Add(int64(d)) }

// testScheduler is a fake DelayedExecutor and PeriodicScheduler driven by a
// testClock. Nothing runs until advance is called, and every
// callback runs on the calling goroutine.
type testScheduler struct {
	clock *testClock

	mu     sync.Mutex
	seq    int
	timers []*testTimer
}

// testTimer is a fake scheduled task.
type testTimer struct {
	seq       int
	when      int64
	period    time.Duration
	fn        func()
	cancelled atomic.Bool
	fired     atomic.Bool
}

func (t *testTimer) Cancel() { t.cancelled.Store(true) }

func (t *testTimer) Done() bool {
	return t.cancelled.Load() || (t.period == 0 && t.fired.Load())
}

func newTestScheduler(clock *testClock) *testScheduler {
	return &testScheduler{clock: clock}
}

// Execute implements Executor; it runs fn immediately.
func (s *testScheduler) Execute(fn func()) { fn() }

// Schedule implements DelayedExecutor.
func (s *testScheduler) Schedule(delay time.Duration, fn func()) Task {
	return s.add(delay, 0, fn)
}

// ScheduleWithFixedDelay implements PeriodicScheduler.
func (s *testScheduler) ScheduleWithFixedDelay(initial, period time.Duration, fn func()) (Task, error) {
	if period <= 0 {
		return nil, fmt.Errorf("%w: period must be > 0, got %v", ErrInvalidSpec, period)
	}
	return s.add(initial, period, fn), nil
}

func (s *testScheduler) add(delay, period time.Duration, fn func()) *testTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &testTimer{seq: s.seq, when: s.clock.NanoTime() + int64(delay), period: period, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

// pending returns the number of live timers.
func (s *testScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.Done() {
			n++
		}
	}
	return n
}

// next pops the earliest live timer due at or before deadline.
func (s *testScheduler) next(deadline int64) *testTimer {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := s.timers[:0]
	for _, t := range s.timers {
		if !t.Done() {
			live = append(live, t)
		}
	}
	s.timers = live
	sort.Slice(s.timers, func(i, j int) bool {
		if s.timers[i].when != s.timers[j].when {
			return s.timers[i].when < s.timers[j].when
		}
		return s.timers[i].seq < s.timers[j].seq
	})
	if len(s.timers) == 0 || s.timers[0].when > deadline {
		return nil
	}
	t := s.timers[0]
	s.timers = s.timers[1:]
	return t
}

// advance moves the clock forward by d, firing every timer that falls due on
// the way at its own deadline.
func (s *testScheduler) advance(d time.Duration) {
	deadline := s.clock.NanoTime() + int64(d)
	for {
		t := s.next(deadline)
		if t == nil {
			break
		}
		if now := s.clock.NanoTime(); t.when > now {
			s.clock.advance(time.Duration(t.when - now))
		}
		t.fired.Store(true)
		t.fn()
		if t.period > 0 && !t.cancelled.Load() {
			s.mu.Lock()
			s.seq++
			t.seq = s.seq
			t.when = s.clock.NanoTime() + int64(t.period)
			s.timers = append(s.timers, t)
			s.mu.Unlock()
		}
	}
	if now := s.clock.NanoTime(); deadline > now {
		s.clock.advance(time.Duration(deadline - now))
	}
}

// newMockClient implements the Client interface in memory.
func newMockClient() *mockClient {
	return &mockClient{
		hashes:  make(map[string]map[string]string),
		strings: make(map[string]string),
		ttls:    make(map[string]int64),
	}
}

// mockClient applies HSET, SET, PEXPIRE and DEL to in-memory maps.
type mockClient struct {
	mu      sync.Mutex
	hashes  map[string]map[string]string
	strings map[string]string
	ttls    map[string]int64
	queued  []mockCmd
	pipes   int
	err     error
	conns   int
}

type mockCmd struct {
	cmd  string
	key  string
	args []interface{}
}

func (m *mockClient) DoCmd(_ interface{}, cmd, key string, args ...interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.apply(mockCmd{cmd: cmd, key: key, args: args})
	return nil
}

func (m *mockClient) PipeAppend(pipeline Pipeline, rcv interface{}, cmd, key string, args ...interface{}) Pipeline {
	m.mu.Lock()
	m.queued = append(m.queued, mockCmd{cmd: cmd, key: key, args: args})
	m.mu.Unlock()
	return append(pipeline, radix.FlatCmd(rcv, cmd, key, args...))
}

func (m *mockClient) PipeDo(pipeline Pipeline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	queued := m.queued
	m.queued = nil
	if m.err != nil {
		return m.err
	}
	m.pipes++
	for _, c := range queued {
		m.apply(c)
	}
	return nil
}

func (m *mockClient) Close() error { return nil }

func (m *mockClient) NumActiveConns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conns
}

func (m *mockClient) apply(c mockCmd) {
	switch strings.ToUpper(c.cmd) {
	case "HSET":
		h, ok := m.hashes[c.key]
		if !ok {
			h = make(map[string]string)
			m.hashes[c.key] = h
		}
		for i := 0; i+1 < len(c.args); i += 2 {
			h[fmt.Sprint(c.args[i])] = fmt.Sprint(c.args[i+1])
		}
	case "SET":
		m.strings[c.key] = fmt.Sprint(c.args[0])
	case "PEXPIRE":
		ms, _ := c.args[0].(int64)
		m.ttls[c.key] = ms
	case "DEL":
		delete(m.hashes, c.key)
		delete(m.strings, c.key)
		delete(m.ttls, c.key)
	}
}

func (m *mockClient) hash(key string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hashes[key]
}

func (m *mockClient) get(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.strings[key]
}
