package bucketguard

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsRecordNothing(t *testing.T) {
	t.Parallel()
	var m *Metrics

	assert.NotPanics(t, func() {
		m.recordDecision(Permit{Granted: true})
		m.recordWait("blocking", time.Second)
		m.recordRemoval(causeExpired)
		m.setKeys(3)
		m.recordPrune()
	})
}

func TestLimiterMetrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	l, clock := newTestLimiter(t, PerSecond(1, 1), WithMetrics(metrics))
	sched := newTestScheduler(clock)

	_, err := l.Allow()
	require.NoError(t, err)
	_, err = l.Allow()
	require.NoError(t, err)

	f, err := l.AcquireAsync(context.Background(), 1, sched)
	require.NoError(t, err)
	sched.advance(time.Second)
	_, err = f.Result()
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.decisions.WithLabelValues("granted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.decisions.WithLabelValues("denied")))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.acquireWait, "bucketguard_acquire_wait_seconds"))

	n, err := testutil.GatherAndCount(reg, "bucketguard_decisions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestNewMetricsRegistersOnce(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	NewMetrics(reg)

	assert.Panics(t, func() { NewMetrics(reg) })
}
