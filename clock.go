package bucketguard

import "time"

// TimeSource returns a monotonically non-decreasing nanosecond count.
// The limiter never reads wall-clock time on its own.
type TimeSource interface {
	NanoTime() int64
}

// TimeSourceFunc adapts a plain function to TimeSource.
type TimeSourceFunc func() int64

// NanoTime calls f.
func (f TimeSourceFunc) NanoTime() int64 { return f() }

// epoch anchors the system clock; time.Since uses the monotonic reading.
var epoch = time.Now()

type systemClock struct{}

func (systemClock) NanoTime() int64 { return int64(time.Since(epoch)) }

// SystemClock returns the monotonic process clock.
func SystemClock() TimeSource { return systemClock{} }
