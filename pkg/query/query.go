// Package query coordinates the per-provider resolve-then-probe pipeline
// and aggregates the outcome into an ordered report.
//
// Every configured provider produces exactly one [Result], whether its
// resolution or probing succeeded or not: failures are encoded in the
// result's fields, never propagated as errors across the fan-in, so one
// slow or failing provider can never suppress the others.
package query

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/picatz/dohping/internal/log"
	"github.com/picatz/dohping/pkg/doh"
	"github.com/picatz/dohping/pkg/probe"
)

// Resolver is the DoH lookup capability consumed by a Runner.
// *doh.Client implements it.
type Resolver interface {
	Resolve(ctx context.Context, hostname string, profile doh.Profile, qtype uint16) ([]doh.Record, error)
}

// Prober is the reachability-sampling capability consumed by a Runner.
// *probe.Prober implements it.
type Prober interface {
	ProbeN(ctx context.Context, addr string) []probe.Sample
}

// Result is the aggregated outcome for one provider. A provider that
// could not resolve carries a nil Record, the causing error, and 100%
// loss; a provider whose probes all failed carries a nil Avg, since a
// mean over zero successful samples is undefined, not zero.
type Result struct {
	Profile doh.Profile
	Record  *doh.Record
	Avg     *time.Duration // nil when no probe succeeded
	Loss    int            // percent of failed probes, 0 to 100
	Err     error
}

// Report is the ordered result set for one invocation: one Result per
// configured provider, in configuration order.
type Report struct {
	Host    string
	Results []Result
}

// Err aggregates the per-provider errors, or returns nil when every
// provider resolved. The report itself is complete either way.
func (r Report) Err() error {
	var errs error

	for _, result := range r.Results {
		if result.Err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", result.Profile.ID, result.Err))
		}
	}

	return errs
}

// Runner executes the pipeline for a single provider.
type Runner struct {
	Resolver Resolver
	Prober   Prober
	Type     uint16 // dns.TypeA or dns.TypeAAAA
}

// Run resolves hostname through profile and probes the primary answer.
// It never fails as an operation: every failure is folded into the
// returned Result.
func (r *Runner) Run(ctx context.Context, hostname string, profile doh.Profile) Result {
	records, err := r.Resolver.Resolve(ctx, hostname, profile, r.Type)
	if err != nil {
		log.Debug("resolution failed", "provider", profile.ID, "error", err)

		return Result{
			Profile: profile,
			Loss:    100,
			Err:     err,
		}
	}

	// Providers may return several records; the first decoded one is the
	// primary answer, and the only one probed and reported.
	record := records[0]

	log.Debug("resolved", "provider", profile.ID, "name", record.Name, "address", record.Data, "ttl", record.TTL)

	samples := r.Prober.ProbeN(ctx, record.Data)

	return aggregate(profile, record, samples)
}

// aggregate summarizes a probing series: loss as the rounded percentage
// of failed samples, average latency over the successful samples only.
func aggregate(profile doh.Profile, record doh.Record, samples []probe.Sample) Result {
	var (
		sum       time.Duration
		succeeded int
	)

	for _, s := range samples {
		if s.OK {
			sum += s.Elapsed
			succeeded++
		}
	}

	result := Result{
		Profile: profile,
		Record:  &record,
	}

	if n := len(samples); n > 0 {
		failed := n - succeeded
		result.Loss = int(math.Round(100 * float64(failed) / float64(n)))
	}

	if succeeded > 0 {
		avg := sum / time.Duration(succeeded)
		result.Avg = &avg
	}

	return result
}

// Coordinator fans a query out to every configured provider concurrently
// and joins the results into a Report.
type Coordinator struct {
	Runner *Runner
}

// Run launches one Runner invocation per profile, waits for all of them,
// and returns the report. Each goroutine owns a disjoint result slot
// indexed by provider position, so no locking is needed and the report
// order always matches the profiles order, regardless of completion
// order. There is no early exit: Run returns only once every provider
// has produced its Result, each bounded by its own internal timeouts.
func (c *Coordinator) Run(ctx context.Context, hostname string, profiles []doh.Profile) Report {
	results := make([]Result, len(profiles))

	grp := &errgroup.Group{}

	for i, profile := range profiles {
		i, profile := i, profile

		grp.Go(func() error {
			results[i] = c.Runner.Run(ctx, hostname, profile)
			return nil
		})
	}

	// Runners encode failures as data and never return an error.
	_ = grp.Wait()

	return Report{
		Host:    hostname,
		Results: results,
	}
}
