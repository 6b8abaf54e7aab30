package cli

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/miekg/dns"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/picatz/dohping/internal/config"
	"github.com/picatz/dohping/internal/log"
	"github.com/picatz/dohping/pkg/doh"
	"github.com/picatz/dohping/pkg/probe"
	"github.com/picatz/dohping/pkg/query"
)

var CommandQuery = &cobra.Command{
	Use:   "query hostname [flags]",
	Short: "Resolve a hostname via every configured DoH provider and compare the answers",
	Long: `Resolve a hostname against every configured DoH provider concurrently,
probe each provider's primary answer for reachability, and print a table
comparing the resolved addresses, average round-trip times, and loss
percentages.

Providers are read from the config file (default: ~/.dohping/config.yaml),
falling back to a built-in set (1.1.1.1, 9.9.9.9, aliyun) when no file
exists. A provider that fails to resolve still appears in the table, with
absent-address and 100% loss, so one dead provider never hides the rest.`,
	Example: `dohping query github.com
dohping query --servers google=https://dns.google/dns-query github.com
dohping query --servers legacy=https://dns.google/resolve,json github.com`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hostname := args[0]

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		qtype, err := queryType(cfg.Query.Type)
		if err != nil {
			return err
		}

		retries, err := cmd.Flags().GetInt("retries")
		if err != nil {
			return fmt.Errorf("invalid retries: %w", err)
		}

		privileged, err := cmd.Flags().GetBool("privileged")
		if err != nil {
			return fmt.Errorf("invalid privileged: %w", err)
		}

		client := doh.New(
			newHTTPClient(retries),
			doh.WithTimeout(time.Duration(cfg.Query.Timeout)),
		)

		prober := probe.New(
			probe.WithCount(cfg.Probe.Count),
			probe.WithTimeout(time.Duration(cfg.Probe.Timeout)),
			probe.WithInterval(time.Duration(*cfg.Probe.Interval)),
			probe.WithFunc(probe.ICMP(privileged)),
		)

		coordinator := &query.Coordinator{
			Runner: &query.Runner{
				Resolver: client,
				Prober:   prober,
				Type:     qtype,
			},
		}

		log.Debug("querying", "hostname", hostname, "providers", len(cfg.Providers), "type", cfg.Query.Type)

		report := coordinator.Run(cmd.Context(), hostname, cfg.Profiles())

		// Partial failure is data, not a fatal: warn and render anyway.
		if err := report.Err(); err != nil {
			for _, perProvider := range multierr.Errors(err) {
				color.New(color.FgYellow).Fprintf(cmd.ErrOrStderr(), "warning: %v\n", perProvider)
			}
		}

		jsonOut, err := cmd.Flags().GetBool("json")
		if err != nil {
			return fmt.Errorf("invalid json: %w", err)
		}

		if jsonOut {
			return renderJSON(cmd.OutOrStdout(), report)
		}

		renderTable(cmd.OutOrStdout(), report)

		return nil
	},
}

// loadConfig reads the config file and layers any changed flags on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	loader := config.New()
	if configPath != "" {
		loader = config.NewWithPath(configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	if cmd.Flags().Changed("servers") {
		entries, err := cmd.Flags().GetStringArray("servers")
		if err != nil {
			return nil, fmt.Errorf("invalid servers: %w", err)
		}

		providers, err := parseServers(entries)
		if err != nil {
			return nil, err
		}

		cfg.Providers = providers
	}

	if cmd.Flags().Changed("count") {
		count, err := cmd.Flags().GetInt("count")
		if err != nil {
			return nil, fmt.Errorf("invalid count: %w", err)
		}
		cfg.Probe.Count = count
	}
	if cmd.Flags().Changed("probe-timeout") {
		d, err := cmd.Flags().GetDuration("probe-timeout")
		if err != nil {
			return nil, fmt.Errorf("invalid probe-timeout: %w", err)
		}
		cfg.Probe.Timeout = config.Duration(d)
	}
	if cmd.Flags().Changed("probe-interval") {
		d, err := cmd.Flags().GetDuration("probe-interval")
		if err != nil {
			return nil, fmt.Errorf("invalid probe-interval: %w", err)
		}
		interval := config.Duration(d)
		cfg.Probe.Interval = &interval
	}
	if cmd.Flags().Changed("timeout") {
		d, err := cmd.Flags().GetDuration("timeout")
		if err != nil {
			return nil, fmt.Errorf("invalid timeout: %w", err)
		}
		cfg.Query.Timeout = config.Duration(d)
	}
	if cmd.Flags().Changed("type") {
		queryType, err := cmd.Flags().GetString("type")
		if err != nil {
			return nil, fmt.Errorf("invalid type: %w", err)
		}
		cfg.Query.Type = queryType
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// parseServers converts --servers entries of the form "id=url[,kind]"
// into provider configurations, replacing the configured set wholesale.
func parseServers(entries []string) ([]config.ProviderConfig, error) {
	providers := make([]config.ProviderConfig, 0, len(entries))

	for _, entry := range entries {
		id, rest, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid server %q (use id=url[,kind])", entry)
		}

		url, kind, _ := strings.Cut(rest, ",")

		providers = append(providers, config.ProviderConfig{
			ID:   strings.TrimSpace(id),
			URL:  strings.TrimSpace(url),
			Kind: strings.TrimSpace(kind),
		})
	}

	return providers, nil
}

func queryType(name string) (uint16, error) {
	switch name {
	case "A":
		return dns.TypeA, nil
	case "AAAA":
		return dns.TypeAAAA, nil
	default:
		return 0, fmt.Errorf("unsupported query type %q (use A or AAAA)", name)
	}
}

// newHTTPClient builds the HTTPS capability handed to the DoH client.
// The core performs no retries itself; an opt-in retry layer sits outside
// it, in the transport.
func newHTTPClient(retries int) *http.Client {
	if retries <= 0 {
		return cleanhttp.DefaultClient()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = cleanhttp.DefaultClient()
	retryClient.RetryMax = retries
	retryClient.Logger = nil

	return retryClient.StandardClient()
}

func init() {
	CommandQuery.Flags().String("config", "", "path to the config file (default ~/.dohping/config.yaml)")
	CommandQuery.Flags().StringArray("servers", nil, "override configured providers, as repeatable id=url[,kind] entries")
	CommandQuery.Flags().String("type", config.DefaultQueryType, "dns record type to resolve, A or AAAA")
	CommandQuery.Flags().Int("count", config.DefaultProbeCount, "number of reachability probes per resolved address")
	CommandQuery.Flags().Duration("probe-timeout", config.DefaultProbeTimeout, "timeout for each individual probe")
	CommandQuery.Flags().Duration("probe-interval", config.DefaultProbeInterval, "pause between consecutive probes")
	CommandQuery.Flags().Duration("timeout", config.DefaultQueryTimeout, "timeout for each DoH resolution")
	CommandQuery.Flags().Int("retries", 0, "HTTP retries per DoH resolution, 0 to disable")
	CommandQuery.Flags().Bool("privileged", false, "use raw-socket ICMP probes (requires elevated rights)")
	CommandQuery.Flags().Bool("json", false, "emit results as JSON newline delimited objects instead of a table")

	CommandRoot.AddCommand(CommandQuery)
}
