package exporter

import (
	"errors"
	"fmt"
)

// ErrShutdown is returned by cycles started after Shutdown.
var ErrShutdown = errors.New("exporter is shut down")

// ConfigError reports an unusable configuration. It is only returned while
// constructing an Exporter, never from a cycle.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
