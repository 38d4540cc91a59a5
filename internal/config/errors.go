package config

import "fmt"

// ConfigError reports an unusable setting. It is always fatal: the
// entrypoint exits before touching the filesystem or starting anything.
type ConfigError struct {
	Field string
	Value string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
