package cli

import (
	"github.com/compose-farm/compose-farm/internal/executor"
	"github.com/compose-farm/compose-farm/pkg/notifier"
)

// Config holds all CLI configuration, so commands never read globals
type Config struct {
	ConfigFile string
	LogLevel   string
	NoColor    bool
	Version    string

	// Executor replaces the local/SSH runner; tests inject a fake here
	Executor executor.Executor
	// Notifier replaces the desktop notifier used by watch
	Notifier notifier.Notifier
}

// NewConfig creates a new CLI configuration with defaults
func NewConfig() *Config {
	return &Config{
		LogLevel: "info",
		Version:  "dev",
	}
}
