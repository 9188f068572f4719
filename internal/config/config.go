// Package config provides configuration loading and management for the aggregator.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultTimeout is the per-attempt fetch timeout applied when a source does not set one
	DefaultTimeout = 5 * time.Second

	// MinTimeout is the lowest per-attempt timeout a source may configure
	MinTimeout = 1 * time.Second

	// DefaultRetries is the number of fetch attempts applied when a source does not set one
	DefaultRetries = 3

	// MinRetries is the lowest attempt count a source may configure
	MinRetries = 1

	// DefaultInterval is the scheduled refresh interval applied when a source does not set one
	DefaultInterval = 5 * time.Minute

	// DefaultFastCapacity is the default entry capacity of the fast cache tier
	DefaultFastCapacity = 50

	// DefaultListenAddress is the default HTTP listen address
	DefaultListenAddress = ":8080"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// ListenAddress is the HTTP listen address, defaults to ":8080"
	ListenAddress string `yaml:"listenAddress,omitempty"`

	// Cache configures the tiered cache
	Cache CacheConfig `yaml:"cache,omitempty"`

	// StatusDir is the directory where per-source fetch status is persisted.
	// Defaults to the directory containing the config file.
	StatusDir string `yaml:"statusDir,omitempty"`

	// Sources lists the remote XML endpoints to aggregate
	Sources []SourceDescriptor `yaml:"sources"`
}

// CacheConfig configures the tiered cache
type CacheConfig struct {
	// Path is the SQLite database file backing the durable tier
	Path string `yaml:"path,omitempty"`

	// FastCapacity bounds the in-memory tier entry count
	FastCapacity int `yaml:"fastCapacity,omitempty"`
}

// SourceDescriptor identifies one remote XML endpoint and its retrieval policy.
// Descriptors are treated as immutable for the duration of one pipeline run.
type SourceDescriptor struct {
	// ID is the unique, stable identifier for this source
	ID string `yaml:"id"`

	// Name is the human-readable display name
	Name string `yaml:"name"`

	// URL is the endpoint serving the XML document
	URL string `yaml:"url"`

	// Timeout is the per-attempt timeout as a duration string (e.g. "5s")
	Timeout string `yaml:"timeout,omitempty"`

	// Retries is the maximum number of fetch attempts
	Retries int `yaml:"retries,omitempty"`

	// Interval is the scheduled refresh interval as a duration string (e.g. "5m")
	Interval string `yaml:"interval,omitempty"`

	// Headers are custom headers sent with every request to this source
	Headers map[string]string `yaml:"headers,omitempty"`

	// Enabled controls whether this source participates in aggregation
	Enabled bool `yaml:"enabled"`

	// Order is the sort key controlling aggregation output order
	Order int `yaml:"order,omitempty"`
}

// EffectiveTimeout returns the per-attempt timeout, applying the default and floor
func (s *SourceDescriptor) EffectiveTimeout() time.Duration {
	d, err := time.ParseDuration(s.Timeout)
	if err != nil || d <= 0 {
		return DefaultTimeout
	}
	if d < MinTimeout {
		return MinTimeout
	}
	return d
}

// EffectiveRetries returns the attempt count, applying the default and floor
func (s *SourceDescriptor) EffectiveRetries() int {
	if s.Retries <= 0 {
		return DefaultRetries
	}
	if s.Retries < MinRetries {
		return MinRetries
	}
	return s.Retries
}

// EffectiveInterval returns the scheduled refresh interval, applying the default
func (s *SourceDescriptor) EffectiveInterval() time.Duration {
	d, err := time.ParseDuration(s.Interval)
	if err != nil || d <= 0 {
		return DefaultInterval
	}
	return d
}

// Loader loads configuration from a file
type Loader struct {
	path string
}

// NewLoader creates a configuration loader from the given options
func NewLoader(opts ...Option) (*Loader, error) {
	cfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.path == "" {
		return nil, fmt.Errorf("no configuration path provided")
	}
	return &Loader{path: cfg.path}, nil
}

// Load reads, parses, defaults and validates the configuration file
func (l *Loader) Load() (*Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(l.path))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults(configDir string) {
	if c.ListenAddress == "" {
		c.ListenAddress = DefaultListenAddress
	}
	if c.Cache.FastCapacity <= 0 {
		c.Cache.FastCapacity = DefaultFastCapacity
	}
	if c.Cache.Path == "" {
		c.Cache.Path = filepath.Join(configDir, "cache.db")
	}
	if c.StatusDir == "" {
		c.StatusDir = configDir
	}
}

// Validate checks the configuration for structural errors
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Sources))
	for i := range c.Sources {
		src := &c.Sources[i]
		if src.ID == "" {
			return fmt.Errorf("source at index %d has no id", i)
		}
		if _, dup := seen[src.ID]; dup {
			return fmt.Errorf("duplicate source id %q", src.ID)
		}
		seen[src.ID] = struct{}{}

		if src.URL == "" {
			return fmt.Errorf("source %q has no url", src.ID)
		}
		u, err := url.Parse(src.URL)
		if err != nil {
			return fmt.Errorf("source %q has an invalid url: %w", src.ID, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("source %q url scheme must be http or https, got %q", src.ID, u.Scheme)
		}

		if src.Timeout != "" {
			if _, err := time.ParseDuration(src.Timeout); err != nil {
				return fmt.Errorf("source %q has an invalid timeout: %w", src.ID, err)
			}
		}
		if src.Interval != "" {
			if _, err := time.ParseDuration(src.Interval); err != nil {
				return fmt.Errorf("source %q has an invalid interval: %w", src.ID, err)
			}
		}
		if src.Retries < 0 {
			return fmt.Errorf("source %q has a negative retry count", src.ID)
		}
	}
	return nil
}

// EnabledSources returns the enabled descriptors sorted by their ordering key.
// The returned slice is a copy; callers may not mutate shared state through it.
func (c *Config) EnabledSources() []SourceDescriptor {
	out := make([]SourceDescriptor, 0, len(c.Sources))
	for _, src := range c.Sources {
		if src.Enabled {
			out = append(out, src)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}
