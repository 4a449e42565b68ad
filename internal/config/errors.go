package config

import (
	"errors"
	"fmt"
)

// ErrConfiguration is matched by every ConfigurationError.
var ErrConfiguration = errors.New("configuration error")

// ConfigurationError reports static setup that the engine cannot work with:
// an unset datetime, a missing facility, an inconsistent schedule table.
// It is never retried.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}
