package probe_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/picatz/dohping/pkg/probe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeNAllFail(t *testing.T) {
	calls := 0

	p := probe.New(
		probe.WithCount(10),
		probe.WithInterval(0),
		probe.WithFunc(func(ctx context.Context, addr string, timeout time.Duration) (time.Duration, error) {
			calls++
			return 0, probe.ErrTimeout
		}),
	)

	samples := p.ProbeN(context.Background(), "192.0.2.1")

	// Failures count as samples, never as an aborted run.
	require.Len(t, samples, 10)
	assert.Equal(t, 10, calls)

	for _, s := range samples {
		assert.False(t, s.OK)
	}
}

func TestProbeNAllSucceed(t *testing.T) {
	p := probe.New(
		probe.WithCount(5),
		probe.WithInterval(0),
		probe.WithFunc(func(ctx context.Context, addr string, timeout time.Duration) (time.Duration, error) {
			return 180 * time.Millisecond, nil
		}),
	)

	samples := p.ProbeN(context.Background(), "192.30.255.113")

	require.Len(t, samples, 5)

	for _, s := range samples {
		assert.True(t, s.OK)
		assert.Equal(t, 180*time.Millisecond, s.Elapsed)
	}
}

func TestProbeNMixed(t *testing.T) {
	calls := 0

	p := probe.New(
		probe.WithCount(4),
		probe.WithInterval(0),
		probe.WithFunc(func(ctx context.Context, addr string, timeout time.Duration) (time.Duration, error) {
			calls++
			if calls%2 == 0 {
				return 0, errors.New("host unreachable")
			}
			return 100 * time.Millisecond, nil
		}),
	)

	samples := p.ProbeN(context.Background(), "192.0.2.1")

	require.Len(t, samples, 4)
	assert.True(t, samples[0].OK)
	assert.False(t, samples[1].OK)
	assert.True(t, samples[2].OK)
	assert.False(t, samples[3].OK)
}

func TestProbeNSequential(t *testing.T) {
	inFlight := 0

	p := probe.New(
		probe.WithCount(8),
		probe.WithInterval(0),
		probe.WithFunc(func(ctx context.Context, addr string, timeout time.Duration) (time.Duration, error) {
			inFlight++
			defer func() { inFlight-- }()

			// No overlap against the same address.
			if inFlight > 1 {
				t.Error("concurrent probes detected")
			}

			return time.Millisecond, nil
		}),
	)

	samples := p.ProbeN(context.Background(), "192.0.2.1")
	require.Len(t, samples, 8)
}

func TestProbeNCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0

	p := probe.New(
		probe.WithCount(10),
		probe.WithInterval(0),
		probe.WithFunc(func(ctx context.Context, addr string, timeout time.Duration) (time.Duration, error) {
			calls++
			return time.Millisecond, nil
		}),
	)

	samples := p.ProbeN(ctx, "192.0.2.1")

	// Still exactly ten samples, all failed, without touching the network.
	require.Len(t, samples, 10)
	assert.Zero(t, calls)

	for _, s := range samples {
		assert.False(t, s.OK)
	}
}

func TestProbeNIntervalPacing(t *testing.T) {
	p := probe.New(
		probe.WithCount(3),
		probe.WithInterval(20*time.Millisecond),
		probe.WithFunc(func(ctx context.Context, addr string, timeout time.Duration) (time.Duration, error) {
			return time.Millisecond, nil
		}),
	)

	start := time.Now()
	samples := p.ProbeN(context.Background(), "192.0.2.1")
	elapsed := time.Since(start)

	require.Len(t, samples, 3)

	// Two pauses between three probes.
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
}

func TestProbeNIntervalCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := probe.New(
		probe.WithCount(5),
		probe.WithInterval(time.Hour),
		probe.WithFunc(func(ctx context.Context, addr string, timeout time.Duration) (time.Duration, error) {
			return time.Millisecond, nil
		}),
	)

	start := time.Now()
	samples := p.ProbeN(ctx, "192.0.2.1")

	// Cancellation skips the pacing waits but still yields a full series.
	assert.Less(t, time.Since(start), time.Second)
	require.Len(t, samples, 5)

	for _, s := range samples {
		assert.False(t, s.OK)
	}
}

func TestProberDefaults(t *testing.T) {
	p := probe.New()
	assert.Equal(t, probe.DefaultCount, p.Count())
}
