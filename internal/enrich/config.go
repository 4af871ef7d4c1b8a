package enrich

import "time"

// DefaultEndpoint is the local agent metadata endpoint.
const DefaultEndpoint = "http://localhost:14499/metadata"

// IndirectionFile is the well-known file whose content is the path of the
// host metadata properties file written by the local agent.
const IndirectionFile = "dt_metadata_e617c525669e072eebe3d0f08212e8f2.properties"

// Config holds configuration for the metadata providers.
type Config struct {
	// Endpoint is the HTTP URL of the local metadata endpoint.
	// Defaults to DefaultEndpoint.
	Endpoint string `yaml:"endpoint"`

	// Timeout bounds each metadata request. Defaults to 2s.
	Timeout time.Duration `yaml:"timeout"`

	// File is the indirection file to read metadata from. Empty uses the
	// OneAgent's well-known file in the working directory. The file is
	// consulted before the HTTP endpoint.
	File string `yaml:"file"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}

	if c.Timeout == 0 {
		c.Timeout = 2 * time.Second
	}
}
