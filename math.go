package bucketguard

import (
	"fmt"
	"math"
	"time"
)

// emissionInterval is the time needed to earn one token. Zero means the rate
// is finer than one token per nanosecond and the bucket never limits.
func emissionInterval(refillTokens int64, period time.Duration) int64 {
	p := int64(period)
	if refillTokens > p {
		return 0
	}
	return p / refillTokens
}

// burstOffset is the time window equivalent to the admissible slack: the
// whole capacity when bursting, a single emission interval otherwise.
func burstOffset(allowBurst bool, capacity, interval int64, checked bool) (int64, error) {
	if !allowBurst {
		return interval, nil
	}
	if checked {
		v, ok := mulExact(capacity, interval)
		if !ok {
			return 0, fmt.Errorf("%w: burst offset (capacity %d * interval %d)", ErrOverflow, capacity, interval)
		}
		return v, nil
	}
	return capacity * interval, nil
}

// tokenCost converts a token count into nanoseconds of TAT advancement.
func tokenCost(tokens, interval int64, checked bool) (int64, error) {
	if checked {
		v, ok := mulExact(tokens, interval)
		if !ok {
			return 0, fmt.Errorf("%w: token request of %d", ErrOverflow, tokens)
		}
		return v, nil
	}
	return tokens * interval, nil
}

// advance adds a non-negative delta to a time cursor.
func advance(base, delta int64, checked bool) (int64, error) {
	if checked {
		v, ok := addExact(base, delta)
		if !ok {
			return 0, fmt.Errorf("%w: time cursor %d + %d", ErrOverflow, base, delta)
		}
		return v, nil
	}
	return base + delta, nil
}

func mulExact(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	c := a * b
	if (c < 0) != ((a < 0) != (b < 0)) || c/b != a {
		return c, false
	}
	return c, true
}

func addExact(a, b int64) (int64, bool) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return a + b, false
	}
	return a + b, true
}
