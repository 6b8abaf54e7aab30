package query_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/suite"

	"github.com/picatz/dohping/pkg/doh"
	"github.com/picatz/dohping/pkg/probe"
	"github.com/picatz/dohping/pkg/query"
)

type resolverFunc func(ctx context.Context, hostname string, profile doh.Profile, qtype uint16) ([]doh.Record, error)

func (f resolverFunc) Resolve(ctx context.Context, hostname string, profile doh.Profile, qtype uint16) ([]doh.Record, error) {
	return f(ctx, hostname, profile, qtype)
}

type proberFunc func(ctx context.Context, addr string) []probe.Sample

func (f proberFunc) ProbeN(ctx context.Context, addr string) []probe.Sample {
	return f(ctx, addr)
}

func samples(elapsed time.Duration, ok, failed int) []probe.Sample {
	s := make([]probe.Sample, 0, ok+failed)
	for i := 0; i < ok; i++ {
		s = append(s, probe.Sample{Elapsed: elapsed, OK: true})
	}
	for i := 0; i < failed; i++ {
		s = append(s, probe.Sample{})
	}
	return s
}

func staticRecord(name, addr string) doh.Record {
	return doh.Record{Name: name, Type: dns.TypeA, TTL: 60, Data: addr}
}

type QueryTestSuite struct {
	suite.Suite
}

func TestQueryTestSuite(t *testing.T) {
	suite.Run(t, new(QueryTestSuite))
}

func (s *QueryTestSuite) TestRunnerSuccess() {
	record := staticRecord("github.com.", "192.30.255.113")

	var probedAddr string

	runner := &query.Runner{
		Resolver: resolverFunc(func(ctx context.Context, hostname string, profile doh.Profile, qtype uint16) ([]doh.Record, error) {
			s.Equal("github.com", hostname)
			s.Equal(dns.TypeA, qtype)
			return []doh.Record{record}, nil
		}),
		Prober: proberFunc(func(ctx context.Context, addr string) []probe.Sample {
			probedAddr = addr
			return samples(180*time.Millisecond, 10, 0)
		}),
		Type: dns.TypeA,
	}

	result := runner.Run(context.Background(), "github.com", doh.Profile{ID: "1.1.1.1"})

	s.Equal("192.30.255.113", probedAddr)
	s.Require().NotNil(result.Record)
	s.Equal("192.30.255.113", result.Record.Data)
	s.Require().NotNil(result.Avg)
	s.Equal(180*time.Millisecond, *result.Avg)
	s.Equal(0, result.Loss)
	s.NoError(result.Err)
}

func (s *QueryTestSuite) TestRunnerPicksPrimaryAnswer() {
	var probedAddr string

	runner := &query.Runner{
		Resolver: resolverFunc(func(ctx context.Context, hostname string, profile doh.Profile, qtype uint16) ([]doh.Record, error) {
			return []doh.Record{
				staticRecord("multi.test.", "192.0.2.1"),
				staticRecord("multi.test.", "192.0.2.2"),
			}, nil
		}),
		Prober: proberFunc(func(ctx context.Context, addr string) []probe.Sample {
			probedAddr = addr
			return samples(time.Millisecond, 10, 0)
		}),
		Type: dns.TypeA,
	}

	result := runner.Run(context.Background(), "multi.test", doh.Profile{ID: "p"})

	s.Equal("192.0.2.1", probedAddr)
	s.Equal("192.0.2.1", result.Record.Data)
}

func (s *QueryTestSuite) TestRunnerResolveFailureSkipsProbing() {
	probeCalls := 0

	runner := &query.Runner{
		Resolver: resolverFunc(func(ctx context.Context, hostname string, profile doh.Profile, qtype uint16) ([]doh.Record, error) {
			return nil, fmt.Errorf("status 500: %w", doh.ErrResolutionFailed)
		}),
		Prober: proberFunc(func(ctx context.Context, addr string) []probe.Sample {
			probeCalls++
			return nil
		}),
		Type: dns.TypeA,
	}

	result := runner.Run(context.Background(), "github.com", doh.Profile{ID: "broken"})

	s.Zero(probeCalls)
	s.Nil(result.Record)
	s.Nil(result.Avg)
	s.Equal(100, result.Loss)
	s.ErrorIs(result.Err, doh.ErrResolutionFailed)
}

func (s *QueryTestSuite) TestRunnerAllProbesLost() {
	runner := &query.Runner{
		Resolver: resolverFunc(func(ctx context.Context, hostname string, profile doh.Profile, qtype uint16) ([]doh.Record, error) {
			return []doh.Record{staticRecord("github.com.", "192.0.2.1")}, nil
		}),
		Prober: proberFunc(func(ctx context.Context, addr string) []probe.Sample {
			return samples(0, 0, 10)
		}),
		Type: dns.TypeA,
	}

	result := runner.Run(context.Background(), "github.com", doh.Profile{ID: "aliyun"})

	// Address present, latency absent (not zero), total loss.
	s.Require().NotNil(result.Record)
	s.Nil(result.Avg)
	s.Equal(100, result.Loss)
	s.NoError(result.Err)
}

func (s *QueryTestSuite) TestLossRounding() {
	testCases := []struct {
		ok, failed int
		wantLoss   int
	}{
		{ok: 10, failed: 0, wantLoss: 0},
		{ok: 0, failed: 10, wantLoss: 100},
		{ok: 9, failed: 1, wantLoss: 10},
		{ok: 2, failed: 1, wantLoss: 33},
		{ok: 1, failed: 2, wantLoss: 67},
		{ok: 5, failed: 3, wantLoss: 38},
	}

	for _, tc := range testCases {
		tc := tc
		s.Run(fmt.Sprintf("%d of %d failed", tc.failed, tc.ok+tc.failed), func() {
			runner := &query.Runner{
				Resolver: resolverFunc(func(ctx context.Context, hostname string, profile doh.Profile, qtype uint16) ([]doh.Record, error) {
					return []doh.Record{staticRecord("x.test.", "192.0.2.1")}, nil
				}),
				Prober: proberFunc(func(ctx context.Context, addr string) []probe.Sample {
					return samples(50*time.Millisecond, tc.ok, tc.failed)
				}),
				Type: dns.TypeA,
			}

			result := runner.Run(context.Background(), "x.test", doh.Profile{ID: "p"})

			s.Equal(tc.wantLoss, result.Loss)

			if tc.ok > 0 {
				s.Require().NotNil(result.Avg)
				s.Equal(50*time.Millisecond, *result.Avg)
			} else {
				s.Nil(result.Avg)
			}
		})
	}
}

func (s *QueryTestSuite) TestRunnerAveragesSuccessfulSamplesOnly() {
	runner := &query.Runner{
		Resolver: resolverFunc(func(ctx context.Context, hostname string, profile doh.Profile, qtype uint16) ([]doh.Record, error) {
			return []doh.Record{staticRecord("x.test.", "192.0.2.1")}, nil
		}),
		Prober: proberFunc(func(ctx context.Context, addr string) []probe.Sample {
			return []probe.Sample{
				{Elapsed: 100 * time.Millisecond, OK: true},
				{}, // lost, must not drag the mean down
				{Elapsed: 300 * time.Millisecond, OK: true},
				{},
			}
		}),
		Type: dns.TypeA,
	}

	result := runner.Run(context.Background(), "x.test", doh.Profile{ID: "p"})

	s.Require().NotNil(result.Avg)
	s.Equal(200*time.Millisecond, *result.Avg)
	s.Equal(50, result.Loss)
}

func (s *QueryTestSuite) TestCoordinatorReportShape() {
	profiles := []doh.Profile{
		{ID: "1.1.1.1"},
		{ID: "9.9.9.9"},
		{ID: "aliyun"},
	}

	// The middle provider fails to resolve; the report still carries one
	// result per configured provider.
	coordinator := &query.Coordinator{
		Runner: &query.Runner{
			Resolver: resolverFunc(func(ctx context.Context, hostname string, profile doh.Profile, qtype uint16) ([]doh.Record, error) {
				if profile.ID == "9.9.9.9" {
					return nil, doh.ErrNoRecords
				}
				return []doh.Record{staticRecord("github.com.", "192.0.2.1")}, nil
			}),
			Prober: proberFunc(func(ctx context.Context, addr string) []probe.Sample {
				return samples(time.Millisecond, 10, 0)
			}),
			Type: dns.TypeA,
		},
	}

	report := coordinator.Run(context.Background(), "github.com", profiles)

	s.Require().Len(report.Results, len(profiles))
	s.Equal("github.com", report.Host)

	s.NotNil(report.Results[0].Record)
	s.Nil(report.Results[1].Record)
	s.ErrorIs(report.Results[1].Err, doh.ErrNoRecords)
	s.NotNil(report.Results[2].Record)

	s.ErrorIs(report.Err(), doh.ErrNoRecords)
}

func (s *QueryTestSuite) TestCoordinatorOrderIndependentOfCompletion() {
	profiles := []doh.Profile{
		{ID: "slowest"},
		{ID: "slow"},
		{ID: "fast"},
	}

	// Completion order is the reverse of configuration order; the report
	// must follow configuration order regardless.
	delays := map[string]time.Duration{
		"slowest": 150 * time.Millisecond,
		"slow":    75 * time.Millisecond,
		"fast":    0,
	}

	coordinator := &query.Coordinator{
		Runner: &query.Runner{
			Resolver: resolverFunc(func(ctx context.Context, hostname string, profile doh.Profile, qtype uint16) ([]doh.Record, error) {
				time.Sleep(delays[profile.ID])
				return []doh.Record{staticRecord("x.test.", "192.0.2.1")}, nil
			}),
			Prober: proberFunc(func(ctx context.Context, addr string) []probe.Sample {
				return samples(time.Millisecond, 1, 0)
			}),
			Type: dns.TypeA,
		},
	}

	report := coordinator.Run(context.Background(), "x.test", profiles)

	s.Require().Len(report.Results, 3)

	for i, profile := range profiles {
		s.Equal(profile.ID, report.Results[i].Profile.ID)
	}
}

func (s *QueryTestSuite) TestCoordinatorFailureDoesNotBlockOthers() {
	profiles := []doh.Profile{
		{ID: "dead"},
		{ID: "alive"},
	}

	coordinator := &query.Coordinator{
		Runner: &query.Runner{
			Resolver: resolverFunc(func(ctx context.Context, hostname string, profile doh.Profile, qtype uint16) ([]doh.Record, error) {
				if profile.ID == "dead" {
					return nil, doh.ErrResolutionFailed
				}
				return []doh.Record{staticRecord("x.test.", "192.0.2.1")}, nil
			}),
			Prober: proberFunc(func(ctx context.Context, addr string) []probe.Sample {
				return samples(time.Millisecond, 10, 0)
			}),
			Type: dns.TypeA,
		},
	}

	report := coordinator.Run(context.Background(), "x.test", profiles)

	s.Require().Len(report.Results, 2)
	s.ErrorIs(report.Results[0].Err, doh.ErrResolutionFailed)
	s.Equal(100, report.Results[0].Loss)
	s.NoError(report.Results[1].Err)
	s.Equal(0, report.Results[1].Loss)
}

func (s *QueryTestSuite) TestCoordinatorEmptyProfiles() {
	coordinator := &query.Coordinator{
		Runner: &query.Runner{
			Resolver: resolverFunc(func(ctx context.Context, hostname string, profile doh.Profile, qtype uint16) ([]doh.Record, error) {
				return nil, doh.ErrResolutionFailed
			}),
			Prober: proberFunc(func(ctx context.Context, addr string) []probe.Sample { return nil }),
			Type:   dns.TypeA,
		},
	}

	report := coordinator.Run(context.Background(), "x.test", nil)

	s.Empty(report.Results)
	s.NoError(report.Err())
}
