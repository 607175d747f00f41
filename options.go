package bucketguard

import (
	"io"
	"log/slog"
)

type options struct {
	logger    *slog.Logger
	metrics   *Metrics
	scheduler PeriodicScheduler
}

// Option configures a Limiter or KeyedLimiter.
type Option func(*options)

// WithLogger sets the logger for maintenance and asynchronous acquisition.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records decisions, waits and store activity.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithScheduler starts keyed store maintenance on s when the store spec
// enables it. Ignored by Limiter.
func WithScheduler(s PeriodicScheduler) Option {
	return func(o *options) {
		o.scheduler = s
	}
}

func newOptions(opts []Option) options {
	o := options{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
