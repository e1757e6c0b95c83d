package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ferrors "github.com/compose-farm/compose-farm/pkg/errors"
	"github.com/spf13/viper"
)

const (
	EnvPrefix      = "CF"
	ConfigFileName = "compose-farm.yaml"
)

// SearchPaths lists where a config file is looked for when none is given
func SearchPaths() []string {
	paths := []string{ConfigFileName}

	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		if home, err := os.UserHomeDir(); err == nil {
			configHome = filepath.Join(home, ".config")
		}
	}
	if configHome != "" {
		paths = append(paths, filepath.Join(configHome, "compose-farm", ConfigFileName))
	}
	return paths
}

// ResolvePath picks the config file: explicit path, then $CF_CONFIG, then SearchPaths
func ResolvePath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if env := os.Getenv(EnvPrefix + "_CONFIG"); env != "" {
		return env, nil
	}

	searched := SearchPaths()
	for _, p := range searched {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", ferrors.NewNotFoundError(
		fmt.Sprintf("config file not found, searched: %s", strings.Join(searched, ", ")), nil)
}

// EnvOverrides reads CF_* environment variables through viper
type EnvOverrides struct {
	v *viper.Viper
}

// NewEnvOverrides binds the supported CF_* variables
func NewEnvOverrides() *EnvOverrides {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, key := range []string{"compose_dir", "state_file", "probe_timeout", "ssh_key", "log_level"} {
		_ = v.BindEnv(key)
	}
	return &EnvOverrides{v: v}
}

// Viper exposes the underlying instance so CLI flags can be bound to it
func (e *EnvOverrides) Viper() *viper.Viper {
	return e.v
}

// Apply overwrites config values that are set in the environment or bound flags
func (e *EnvOverrides) Apply(cfg *Config) error {
	if e.v.IsSet("compose_dir") {
		cfg.ComposeDir = e.v.GetString("compose_dir")
		for name, unit := range cfg.units {
			unit.ComposePath = cfg.resolveComposePath(name)
			cfg.units[name] = unit
		}
	}
	if e.v.IsSet("state_file") {
		cfg.StateFile = e.v.GetString("state_file")
	}
	if e.v.IsSet("probe_timeout") {
		d := e.v.GetDuration("probe_timeout")
		if d <= 0 {
			return ferrors.NewValidationError(
				fmt.Sprintf("invalid %s_PROBE_TIMEOUT %q", EnvPrefix, e.v.GetString("probe_timeout")), nil)
		}
		cfg.ProbeTimeout = d
	}
	if e.v.IsSet("ssh_key") {
		cfg.SSHKey = e.v.GetString("ssh_key")
	}
	if e.v.IsSet("log_level") {
		cfg.LogLevel = e.v.GetString("log_level")
	}
	return nil
}
