package exporter

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"
	"unicode"

	"github.com/dynatrace-oss/dynatrace-metric-utils-go/metric/apiconstants"
	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/dtmetrics/internal/batch"
	"github.com/ethpandaops/dtmetrics/internal/delivery"
	"github.com/ethpandaops/dtmetrics/internal/enrich"
	"github.com/ethpandaops/dtmetrics/internal/export"
)

// DimensionConfig is one default dimension. A list keeps the configured
// order, which is the order dimensions appear on the wire.
type DimensionConfig struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// Config is the top-level exporter configuration.
type Config struct {
	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// EndpointURL is the metrics ingest URL. Empty selects the local agent.
	EndpointURL string `yaml:"endpoint_url"`

	// APIToken authenticates against EndpointURL. It is never sent to the
	// local agent.
	APIToken string `yaml:"api_token"`

	// Prefix is prepended to every metric name.
	Prefix string `yaml:"prefix"`

	// DefaultDimensions are added to every line at the lowest precedence.
	DefaultDimensions []DimensionConfig `yaml:"default_dimensions"`

	// ExportDynatraceMetadata enables host metadata enrichment.
	ExportDynatraceMetadata bool `yaml:"export_dynatrace_metadata"`

	// Metadata configures the metadata providers.
	Metadata enrich.Config `yaml:"metadata"`

	// MetricsSource is the value of the dt.metrics.source dimension added to
	// every line. Empty, the default, omits it.
	MetricsSource string `yaml:"metrics_source"`

	// TruncateLongNames truncates over-long metric keys instead of
	// rejecting the sample.
	TruncateLongNames bool `yaml:"truncate_long_names"`

	// Timeout bounds each ingest request. Defaults to 10s.
	Timeout time.Duration `yaml:"timeout"`

	// Batch bounds the size of one ingest request.
	Batch batch.Limits `yaml:"batch"`

	// Delivery configures the HTTP client.
	Delivery delivery.Config `yaml:"delivery"`

	// ShutdownGrace is how long Shutdown waits for in-flight cycles when the
	// caller's context has no deadline. Defaults to 5s.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`

	// Health configures the Prometheus health metrics server.
	Health export.HealthConfig `yaml:"health"`

	// Interval is the export period used by the periodic reader.
	// Defaults to 60s.
	Interval time.Duration `yaml:"interval"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Timeout:  10 * time.Second,
		Batch: batch.Limits{
			MaxLines:     apiconstants.GetPayloadLinesLimit(),
			MaxBytes:     1 << 20, // 1MB
			HardCapBytes: 2 << 20, // 2MB
		},
		Delivery:      delivery.DefaultConfig(),
		ShutdownGrace: 5 * time.Second,
		Health: export.HealthConfig{
			Addr: ":9090",
		},
		Interval: 60 * time.Second,
	}
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// ApplyDefaults fills zero values left by a partial configuration.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.Timeout <= 0 {
		c.Timeout = defaults.Timeout
	}

	if c.Batch.MaxLines <= 0 {
		c.Batch.MaxLines = defaults.Batch.MaxLines
	}

	if c.Batch.MaxBytes <= 0 {
		c.Batch.MaxBytes = defaults.Batch.MaxBytes
	}

	if c.Batch.HardCapBytes <= 0 {
		c.Batch.HardCapBytes = max(defaults.Batch.HardCapBytes, c.Batch.MaxBytes)
	}

	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = defaults.ShutdownGrace
	}

	if c.Interval <= 0 {
		c.Interval = defaults.Interval
	}

	c.Delivery.Timeout = c.Timeout
	c.Delivery.ApplyDefaults()
	c.Metadata.ApplyDefaults()
}

// Validate checks the configuration. Every failure is a *ConfigError.
func (c *Config) Validate() error {
	if c.EndpointURL != "" {
		if err := validateURL(c.EndpointURL); err != nil {
			return &ConfigError{Field: "endpoint_url", Err: err}
		}
	}

	if err := validateToken(c.APIToken); err != nil {
		return &ConfigError{Field: "api_token", Err: err}
	}

	if err := c.Batch.Validate(); err != nil {
		return &ConfigError{Field: "batch", Err: err}
	}

	if err := c.Delivery.Validate(); err != nil {
		return &ConfigError{Field: "delivery", Err: err}
	}

	if c.ExportDynatraceMetadata {
		if err := validateURL(c.Metadata.Endpoint); err != nil {
			return &ConfigError{Field: "metadata.endpoint", Err: err}
		}
	}

	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("host is required")
	}

	return nil
}

// validateToken accepts an empty token. A non-empty one must be a single
// printable word; anything else would corrupt the Authorization header.
func validateToken(token string) error {
	for _, r := range token {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r > unicode.MaxASCII {
			return errors.New("token must not contain whitespace, control or non-ASCII characters")
		}
	}

	return nil
}
