package bucketguard

import (
	"fmt"
	"strings"
	"time"
)

// ContentionStrategy selects how bucket state is shared between goroutines.
type ContentionStrategy int

const (
	// ContentionAuto lets the factory decide; it currently resolves to ContentionAtomic.
	ContentionAuto ContentionStrategy = iota
	// ContentionAtomic uses one CAS-updated cursor. Suitable for low to moderate contention.
	ContentionAtomic
	// ContentionStriped splits the rate across independent stripes to reduce CAS failures.
	ContentionStriped
)

func (c ContentionStrategy) String() string {
	switch c {
	case ContentionAuto:
		return "auto"
	case ContentionAtomic:
		return "atomic"
	case ContentionStriped:
		return "striped"
	}
	return fmt.Sprintf("ContentionStrategy(%d)", int(c))
}

// UnmarshalText parses "auto", "atomic" or "striped".
func (c *ContentionStrategy) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "", "auto":
		*c = ContentionAuto
	case "atomic":
		*c = ContentionAtomic
	case "striped":
		*c = ContentionStriped
	default:
		return fmt.Errorf("%w: unknown contention strategy %q", ErrInvalidSpec, text)
	}
	return nil
}

// RateSpec describes the rate of one bucket: Capacity tokens at most, refilled
// by RefillTokens every RefillPeriod.
//
// The zero values of SteadyRate and UncheckedMath give the defaults: bursts up
// to Capacity are allowed and token arithmetic is overflow-checked.
type RateSpec struct {
	Capacity     int64
	RefillTokens int64
	RefillPeriod time.Duration

	Contention ContentionStrategy

	// SteadyRate disallows bursting: only one emission interval of slack is
	// admitted and multi-token requests are split into single tokens.
	SteadyRate bool

	// UncheckedMath skips overflow checks on the admission path.
	UncheckedMath bool

	// Clock defaults to SystemClock when nil.
	Clock TimeSource
}

// PerSecond returns a RateSpec refilling refill tokens every second.
func PerSecond(capacity, refill int64) RateSpec {
	return RateSpec{Capacity: capacity, RefillTokens: refill, RefillPeriod: time.Second}
}

// PerMinute returns a RateSpec refilling refill tokens every minute.
func PerMinute(capacity, refill int64) RateSpec {
	return RateSpec{Capacity: capacity, RefillTokens: refill, RefillPeriod: time.Minute}
}

// PerHour returns a RateSpec refilling refill tokens every hour.
func PerHour(capacity, refill int64) RateSpec {
	return RateSpec{Capacity: capacity, RefillTokens: refill, RefillPeriod: time.Hour}
}

func (s RateSpec) String() string {
	b := "burst"
	if s.SteadyRate {
		b = "steady"
	}
	return fmt.Sprintf("%d tok/%s (capacity %d, %s, %s)", s.RefillTokens, fmtDur(s.RefillPeriod), s.Capacity, b, s.Contention)
}

func fmtDur(d time.Duration) string {
	switch d {
	case time.Second:
		return "s"
	case time.Minute:
		return "m"
	case time.Hour:
		return "h"
	}
	return d.String()
}

// AllowBurst reports whether bursts up to Capacity are admitted.
func (s RateSpec) AllowBurst() bool { return !s.SteadyRate }

// Validate checks the spec without modifying it.
func (s RateSpec) Validate() error {
	if s.Capacity < 1 {
		return fmt.Errorf("%w: capacity must be >= 1, got %d", ErrInvalidSpec, s.Capacity)
	}
	if s.RefillTokens < 1 {
		return fmt.Errorf("%w: refill tokens must be >= 1, got %d", ErrInvalidSpec, s.RefillTokens)
	}
	if s.RefillPeriod <= 0 {
		return fmt.Errorf("%w: refill period must be > 0, got %v", ErrInvalidSpec, s.RefillPeriod)
	}
	if s.Contention < ContentionAuto || s.Contention > ContentionStriped {
		return fmt.Errorf("%w: unknown contention strategy %d", ErrInvalidSpec, int(s.Contention))
	}
	return nil
}

// withDefaults fills the clock.
func (s RateSpec) withDefaults() RateSpec {
	if s.Clock == nil {
		s.Clock = SystemClock()
	}
	return s
}
