package bucketguard

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// DefaultPublishLimit caps the number of keys a StatsPublisher writes per run
// when PublisherConfig.Limit is zero.
const DefaultPublishLimit = 1000

// PublisherConfig configures a StatsPublisher.
type PublisherConfig struct {
	// Prefix is prepended to every Redis key, e.g. "bucketguard:api:".
	Prefix string
	// Limit is the maximum number of keys published per run.
	Limit int
	// TTL expires published hashes so stale keys disappear from Redis.
	// Zero keeps them forever.
	TTL time.Duration
}

// StatsPublisher exports keyed limiter statistics to Redis for dashboards.
// Each sampled key becomes a hash at Prefix+key with the fields capacity,
// available, refill_tokens and refill_period_ms; the number of tracked keys is
// written to Prefix+"keys". Nothing is read back, admission stays local.
type StatsPublisher[K comparable] struct {
	limiter *KeyedLimiter[K]
	client  Client
	cfg     PublisherConfig
	logger  *slog.Logger

	mu   sync.Mutex
	task Task
}

// NewStatsPublisher returns a publisher for limiter writing through client.
func NewStatsPublisher[K comparable](limiter *KeyedLimiter[K], client Client, cfg PublisherConfig, logger *slog.Logger) *StatsPublisher[K] {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultPublishLimit
	}
	if logger == nil {
		logger = newOptions(nil).logger
	}
	return &StatsPublisher[K]{
		limiter: limiter,
		client:  client,
		cfg:     cfg,
		logger:  logger.With("component", "bucketguard.publisher"),
	}
}

// Publish writes one sample in a single pipeline and returns the number of
// keys written.
func (p *StatsPublisher[K]) Publish() (int, error) {
	sample := p.limiter.SnapshotSample(p.cfg.Limit)

	var pipe Pipeline
	for key, st := range sample.Samples {
		redisKey := p.cfg.Prefix + fmt.Sprint(key)
		pipe = p.client.PipeAppend(pipe, nil, "HSET", redisKey,
			"capacity", st.Capacity,
			"available", st.Available,
			"refill_tokens", st.RefillTokens,
			"refill_period_ms", st.RefillPeriod.Milliseconds(),
		)
		if p.cfg.TTL > 0 {
			pipe = p.client.PipeAppend(pipe, nil, "PEXPIRE", redisKey, p.cfg.TTL.Milliseconds())
		}
	}
	pipe = p.client.PipeAppend(pipe, nil, "SET", p.cfg.Prefix+"keys", strconv.Itoa(sample.Keys))

	if err := p.client.PipeDo(pipe); err != nil {
		return 0, fmt.Errorf("publish stats: %w", err)
	}
	return len(sample.Samples), nil
}

// Start publishes every period on sched until Stop is called. Starting a
// running publisher is a no-op.
func (p *StatsPublisher[K]) Start(sched PeriodicScheduler, period time.Duration) error {
	if sched == nil {
		return ErrNilExecutor
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.task != nil && !p.task.Done() {
		return nil
	}
	task, err := sched.ScheduleWithFixedDelay(0, period, p.run)
	if err != nil {
		return fmt.Errorf("schedule publisher: %w", err)
	}
	p.task = task
	return nil
}

// connCounter is implemented by clients that can report pool usage, such as
// RadixClient.
type connCounter interface {
	NumActiveConns() int
}

func (p *StatsPublisher[K]) run() {
	n, err := p.Publish()
	if err != nil {
		p.logger.Error("stats publish failed", "error", err)
		return
	}
	attrs := []any{"keys", n}
	if cc, ok := p.client.(connCounter); ok {
		attrs = append(attrs, "active_conns", cc.NumActiveConns())
	}
	p.logger.Debug("stats published", attrs...)
}

// Stop cancels periodic publishing.
func (p *StatsPublisher[K]) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.task != nil {
		p.task.Cancel()
		p.task = nil
	}
}
