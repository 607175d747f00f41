package bucketguard

import "errors"

// Package-level error definitions for limiter operations.
var (
	// ErrInvalidSpec indicates that a rate or store specification is invalid.
	ErrInvalidSpec = errors.New("invalid spec")

	// ErrInvalidTokenCount indicates that the requested token count is below one.
	ErrInvalidTokenCount = errors.New("invalid token count")

	// ErrInvalidKey indicates that the zero value of the key type was used as a key.
	ErrInvalidKey = errors.New("invalid key")

	// ErrOverflow indicates that token or time arithmetic overflowed int64
	// while overflow checking was enabled.
	ErrOverflow = errors.New("arithmetic overflow")

	// ErrCancelled indicates that an acquisition was abandoned because its
	// context was done. It is always wrapped together with the context error.
	ErrCancelled = errors.New("acquire cancelled")

	// ErrDelayUnsupported indicates that an asynchronous acquisition needed to
	// wait but the supplied executor cannot run delayed tasks.
	ErrDelayUnsupported = errors.New("delayed execution unsupported by executor")

	// ErrNilExecutor indicates that no executor or scheduler was supplied.
	ErrNilExecutor = errors.New("nil executor")

	// ErrNotComplete indicates that an asynchronous acquisition has no result yet.
	ErrNotComplete = errors.New("acquisition not complete")

	// ErrInvalidStripes indicates an unusable stripe count for a striped bucket.
	ErrInvalidStripes = errors.New("invalid stripe count")
)
