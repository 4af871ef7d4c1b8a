package delivery

import (
	"errors"
	"fmt"
	"time"
)

// Config configures the delivery client.
type Config struct {
	// Compression specifies the request body compression.
	// Valid values: none, gzip, zstd, zlib, snappy.
	// Defaults to none.
	Compression string `yaml:"compression"`

	// Concurrency is the maximum number of batches sent in parallel
	// within one export cycle. Defaults to 4.
	Concurrency int `yaml:"concurrency"`

	// Timeout is the maximum duration of a single request.
	// Defaults to 10s.
	Timeout time.Duration `yaml:"timeout"`

	// KeepAlive enables HTTP keep-alive connections.
	// Defaults to true.
	KeepAlive *bool `yaml:"keep_alive"`

	// Headers are additional HTTP headers to include in requests.
	Headers map[string]string `yaml:"headers"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	keepAlive := true

	return Config{
		Compression: CompressionNone,
		Concurrency: 4,
		Timeout:     10 * time.Second,
		KeepAlive:   &keepAlive,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Concurrency <= 0 {
		return errors.New("concurrency must be greater than 0")
	}

	if c.Timeout <= 0 {
		return errors.New("timeout must be greater than 0")
	}

	if !validCompression(c.Compression) {
		return fmt.Errorf("invalid compression type: %q", c.Compression)
	}

	return nil
}

// ApplyDefaults applies default values to unset fields.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.Compression == "" {
		c.Compression = defaults.Compression
	}

	if c.Concurrency <= 0 {
		c.Concurrency = defaults.Concurrency
	}

	if c.Timeout <= 0 {
		c.Timeout = defaults.Timeout
	}

	if c.KeepAlive == nil {
		c.KeepAlive = defaults.KeepAlive
	}
}

// IsKeepAlive returns whether HTTP keep-alive is enabled.
func (c *Config) IsKeepAlive() bool {
	if c.KeepAlive == nil {
		return true
	}

	return *c.KeepAlive
}
