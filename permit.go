package bucketguard

import (
	"math"
	"time"
)

// Unlimited is reported as Remaining/Available by buckets whose rate is finer
// than one token per nanosecond.
const Unlimited int64 = math.MaxInt64

// Permit describes one admission attempt. It is a plain value and safe to share.
type Permit struct {
	// Granted reports whether the tokens were admitted.
	Granted bool

	// Tokens is the number of tokens requested.
	Tokens int64

	// Remaining approximates the tokens still available after a grant.
	// It is 0 on denial.
	Remaining int64

	// RetryAfter is how long until a retry might succeed. It is 0 iff Granted.
	RetryAfter time.Duration
}

func granted(tokens, remaining int64) Permit {
	return Permit{Granted: true, Tokens: tokens, Remaining: remaining}
}

func denied(tokens int64, retryAfter time.Duration) Permit {
	return Permit{Tokens: tokens, RetryAfter: retryAfter}
}

// Stats is a point-in-time view of a bucket. Under concurrent use Available is
// approximate.
type Stats struct {
	Capacity     int64
	Available    int64
	RefillTokens int64
	RefillPeriod time.Duration
}
