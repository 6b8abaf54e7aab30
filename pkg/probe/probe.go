// Package probe measures reachability of a resolved address with a
// fixed-size series of sequential ICMP probes. Probes never overlap
// against the same address so that self-induced congestion does not skew
// the latency samples.
package probe

import (
	"context"
	"errors"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// ErrTimeout is returned by a probe Func when no reply arrived within the
// per-probe timeout.
var ErrTimeout = errors.New("probe: timed out")

// Default probing parameters, matching common reachability-sampling tools.
const (
	DefaultCount    = 10
	DefaultTimeout  = time.Second
	DefaultInterval = time.Second
)

// Sample is the outcome of one reachability probe. Elapsed is only
// meaningful when OK is true.
type Sample struct {
	Elapsed time.Duration
	OK      bool
}

// Func sends a single probe to addr and reports the round-trip time, or
// an error when the probe failed or timed out.
type Func func(ctx context.Context, addr string, timeout time.Duration) (time.Duration, error)

// ICMP returns a probe Func sending one ICMP echo request per call.
// privileged selects raw sockets instead of unprivileged UDP pings;
// required on platforms without the net.ipv4.ping_group_range escape
// hatch, and requires elevated rights.
func ICMP(privileged bool) Func {
	return func(ctx context.Context, addr string, timeout time.Duration) (time.Duration, error) {
		pinger, err := probing.NewPinger(addr)
		if err != nil {
			return 0, err
		}

		pinger.Count = 1
		pinger.Timeout = timeout
		pinger.SetPrivileged(privileged)

		if err := pinger.RunWithContext(ctx); err != nil {
			return 0, err
		}

		stats := pinger.Statistics()
		if stats.PacketsRecv == 0 {
			return 0, ErrTimeout
		}

		return stats.AvgRtt, nil
	}
}

// Prober runs fixed-size probing series. Construct with New.
type Prober struct {
	count    int
	timeout  time.Duration
	interval time.Duration
	probe    Func
}

// Opt is a function option for configuring the Prober.
type Opt func(*Prober)

// WithCount sets the number of probes per series.
func WithCount(count int) Opt {
	return func(p *Prober) {
		p.count = count
	}
}

// WithTimeout sets the per-probe timeout.
func WithTimeout(timeout time.Duration) Opt {
	return func(p *Prober) {
		p.timeout = timeout
	}
}

// WithInterval sets the pause between consecutive probes.
func WithInterval(interval time.Duration) Opt {
	return func(p *Prober) {
		p.interval = interval
	}
}

// WithFunc replaces the probe implementation. Tests use this to avoid
// raw sockets.
func WithFunc(fn Func) Opt {
	return func(p *Prober) {
		p.probe = fn
	}
}

// New creates a Prober sending unprivileged ICMP probes with the default
// count, timeout, and interval unless overridden by options.
func New(opts ...Opt) *Prober {
	p := &Prober{
		count:    DefaultCount,
		timeout:  DefaultTimeout,
		interval: DefaultInterval,
		probe:    ICMP(false),
	}

	for _, o := range opts {
		o(p)
	}

	return p
}

// Count reports the configured series size.
func (p *Prober) Count() int {
	return p.count
}

// ProbeN sends the configured number of probes to addr, one after
// another, and always returns exactly that many samples. A probe that
// errors or times out yields a failed sample; the series never aborts
// early, even on context cancellation, so aggregation over the full
// series stays well-defined.
func (p *Prober) ProbeN(ctx context.Context, addr string) []Sample {
	samples := make([]Sample, 0, p.count)

	for i := 0; i < p.count; i++ {
		if i > 0 && p.interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(p.interval):
			}
		}

		if ctx.Err() != nil {
			samples = append(samples, Sample{})
			continue
		}

		elapsed, err := p.probe(ctx, addr, p.timeout)
		if err != nil {
			samples = append(samples, Sample{})
			continue
		}

		samples = append(samples, Sample{Elapsed: elapsed, OK: true})
	}

	return samples
}
