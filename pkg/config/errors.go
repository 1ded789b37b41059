package config

import "fmt"

// ConfigError reports an invalid configuration. Target is empty for global
// settings.
type ConfigError struct {
	Target string
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	switch {
	case e.Target != "" && e.Field != "":
		return fmt.Sprintf("invalid config for target %q: %s: %s", e.Target, e.Field, e.Reason)
	case e.Target != "":
		return fmt.Sprintf("invalid config for target %q: %s", e.Target, e.Reason)
	case e.Field != "":
		return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
	default:
		return "invalid config: " + e.Reason
	}
}
