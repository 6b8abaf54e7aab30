// Package config provides configuration loading and validation for
// dohping: the set of DoH providers to query and the probing and query
// parameters. Configuration is read from a YAML file, with defaults
// matching the built-in provider set when the file does not exist.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/picatz/dohping/pkg/doh"
)

var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrNoConfig is returned when the configuration file is not found.
	ErrNoConfig = errors.New("configuration file not found")
)

const (
	// DefaultConfigPath is the default configuration file path, relative
	// to the user's home directory.
	DefaultConfigPath = ".dohping/config.yaml"
	// DefaultProbeCount is the number of reachability probes per resolved address.
	DefaultProbeCount = 10
	// DefaultProbeTimeout bounds each individual probe.
	DefaultProbeTimeout = time.Second
	// DefaultProbeInterval is the pause between consecutive probes.
	DefaultProbeInterval = time.Second
	// DefaultQueryTimeout bounds each DoH resolution call.
	DefaultQueryTimeout = 30 * time.Second
	// DefaultQueryType is the record type to resolve.
	DefaultQueryType = "A"
)

// Duration wraps time.Duration so YAML configs can use Go duration
// strings ("1s", "500ms").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config holds the application configuration.
type Config struct {
	Providers []ProviderConfig `yaml:"providers"`
	Probe     ProbeConfig      `yaml:"probe"`
	Query     QueryConfig      `yaml:"query"`
}

// ProviderConfig describes one DoH provider entry.
type ProviderConfig struct {
	ID   string `yaml:"id"`
	URL  string `yaml:"url"`
	Kind string `yaml:"kind"` // "standard" (RFC 8484) or "json"
}

// ProbeConfig holds reachability-probing parameters. Interval is a
// pointer so an explicit "0s" in the file survives defaulting: zero
// disables pacing, absence means the default.
type ProbeConfig struct {
	Count    int       `yaml:"count"`
	Timeout  Duration  `yaml:"timeout"`
	Interval *Duration `yaml:"interval"`
}

// QueryConfig holds DoH query parameters.
type QueryConfig struct {
	Timeout Duration `yaml:"timeout"`
	Type    string   `yaml:"type"` // "A" or "AAAA"
}

// Loader defines the interface for loading configuration.
type Loader interface {
	Load() (*Config, error)
}

// FSLoader implements Loader using the local filesystem.
type FSLoader struct {
	path string
}

var _ Loader = (*FSLoader)(nil)

// New creates a configuration loader using the default path under the
// user's home directory. If the home directory cannot be determined the
// path resolves relative to the current directory.
func New() Loader {
	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not determine home directory: %v\n", err)
		home = ""
	}
	return NewWithPath(filepath.Join(home, DefaultConfigPath))
}

// NewWithPath creates a loader reading from a specific config path.
func NewWithPath(path string) Loader {
	return &FSLoader{path: path}
}

// DefaultProviders returns the built-in provider set.
func DefaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{ID: "1.1.1.1", URL: "https://1.1.1.1/dns-query", Kind: string(doh.KindStandard)},
		{ID: "9.9.9.9", URL: "https://dns.quad9.net:5053/dns-query", Kind: string(doh.KindStandard)},
		{ID: "aliyun", URL: "https://dns.alidns.com/resolve", Kind: string(doh.KindJSON)},
	}
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	interval := Duration(DefaultProbeInterval)

	return &Config{
		Providers: DefaultProviders(),
		Probe: ProbeConfig{
			Count:    DefaultProbeCount,
			Timeout:  Duration(DefaultProbeTimeout),
			Interval: &interval,
		},
		Query: QueryConfig{
			Timeout: Duration(DefaultQueryTimeout),
			Type:    DefaultQueryType,
		},
	}
}

// Load loads the configuration from the configured path, filling omitted
// fields with defaults. A missing file yields the default configuration.
func (l *FSLoader) Load() (*Config, error) {
	cfg, err := l.loadAndParse()
	if err != nil {
		if errors.Is(err, ErrNoConfig) {
			return Default(), nil
		}
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return cfg, nil
}

func (l *FSLoader) loadAndParse() (*Config, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoConfig
		}
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config file: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if len(c.Providers) == 0 {
		c.Providers = DefaultProviders()
	}
	if c.Probe.Count == 0 {
		c.Probe.Count = DefaultProbeCount
	}
	if c.Probe.Timeout == 0 {
		c.Probe.Timeout = Duration(DefaultProbeTimeout)
	}
	if c.Probe.Interval == nil {
		interval := Duration(DefaultProbeInterval)
		c.Probe.Interval = &interval
	}
	if c.Query.Timeout == 0 {
		c.Query.Timeout = Duration(DefaultQueryTimeout)
	}
	if c.Query.Type == "" {
		c.Query.Type = DefaultQueryType
	}
}

// Validate checks the configuration, collecting every problem it finds.
func (c *Config) Validate() error {
	var errs error

	seen := map[string]bool{}

	for i, p := range c.Providers {
		if strings.TrimSpace(p.ID) == "" {
			errs = multierr.Append(errs, fmt.Errorf("provider %d: id cannot be empty", i))
		}
		if strings.TrimSpace(p.URL) == "" {
			errs = multierr.Append(errs, fmt.Errorf("provider %q: url cannot be empty", p.ID))
		}
		switch doh.Kind(p.Kind) {
		case doh.KindStandard, doh.KindJSON, "":
		default:
			errs = multierr.Append(errs, fmt.Errorf("provider %q: unknown kind %q", p.ID, p.Kind))
		}
		if seen[p.ID] {
			errs = multierr.Append(errs, fmt.Errorf("provider %q: duplicate id", p.ID))
		}
		seen[p.ID] = true
	}

	if c.Probe.Count < 1 {
		errs = multierr.Append(errs, errors.New("probe count must be at least 1"))
	}
	if c.Probe.Timeout <= 0 {
		errs = multierr.Append(errs, errors.New("probe timeout must be positive"))
	}
	if c.Probe.Interval != nil && *c.Probe.Interval < 0 {
		errs = multierr.Append(errs, errors.New("probe interval cannot be negative"))
	}
	if c.Query.Timeout <= 0 {
		errs = multierr.Append(errs, errors.New("query timeout must be positive"))
	}
	if c.Query.Type != "A" && c.Query.Type != "AAAA" {
		errs = multierr.Append(errs, fmt.Errorf("query type must be A or AAAA, got %q", c.Query.Type))
	}

	return errs
}

// Profiles converts the configured providers into resolver profiles, in
// configuration order. Entries without an explicit kind default to the
// RFC 8484 wire format.
func (c *Config) Profiles() []doh.Profile {
	profiles := make([]doh.Profile, 0, len(c.Providers))

	for _, p := range c.Providers {
		kind := doh.Kind(p.Kind)
		if kind == "" {
			kind = doh.KindStandard
		}

		profiles = append(profiles, doh.Profile{
			ID:       p.ID,
			Endpoint: p.URL,
			Kind:     kind,
		})
	}

	return profiles
}
