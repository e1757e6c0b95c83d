// Package config handles configuration loading and validation
package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strings"
	"time"

	ferrors "github.com/compose-farm/compose-farm/pkg/errors"
	"github.com/compose-farm/compose-farm/pkg/types"
	"gopkg.in/yaml.v3"
)

const (
	DefaultComposeDir    = "/opt/compose"
	DefaultStateFileName = "compose-farm-state.yaml"
	DefaultProbeTimeout  = 30 * time.Second
	AllHosts             = "all"
)

// ComposeFileNames are tried in order inside each unit directory
var ComposeFileNames = []string{
	"compose.yaml",
	"compose.yml",
	"docker-compose.yml",
	"docker-compose.yaml",
}

// Config is an immutable snapshot of the declared fleet
type Config struct {
	Path         string
	ComposeDir   string
	StateFile    string
	ProbeTimeout time.Duration
	SSHKey       string
	LogLevel     string

	hosts map[string]types.Host
	units map[string]types.Unit
}

type rawConfig struct {
	ComposeDir   string                 `yaml:"compose_dir"`
	StateFile    string                 `yaml:"state_file"`
	ProbeTimeout string                 `yaml:"probe_timeout"`
	SSHKey       string                 `yaml:"ssh_key"`
	LogLevel     string                 `yaml:"log_level"`
	Hosts        map[string]hostEntry   `yaml:"hosts"`
	Units        map[string]unitTargets `yaml:"units"`
	Services     map[string]unitTargets `yaml:"services"`
}

// hostEntry accepts "name: address" or the full {address, user, port} form
type hostEntry struct {
	Address string `yaml:"address"`
	User    string `yaml:"user"`
	Port    int    `yaml:"port"`
}

func (h *hostEntry) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&h.Address)
	}
	type plain hostEntry
	return value.Decode((*plain)(h))
}

// unitTargets accepts "name: host", "name: [h1, h2]" or "name: all"
type unitTargets struct {
	Hosts []string
	All   bool
}

func (u *unitTargets) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var host string
		if err := value.Decode(&host); err != nil {
			return err
		}
		if host == AllHosts {
			u.All = true
			return nil
		}
		u.Hosts = []string{host}
		return nil
	case yaml.SequenceNode:
		return value.Decode(&u.Hosts)
	default:
		return fmt.Errorf("line %d: unit must map to a host name or a list of host names", value.Line)
	}
}

// Manager handles configuration operations
type Manager struct {
	env *EnvOverrides
}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{}
}

// WithEnv applies environment overrides to every loaded config
func (m *Manager) WithEnv(env *EnvOverrides) *Manager {
	m.env = env
	return m
}

// LoadConfig loads and validates a configuration file
func (m *Manager) LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ferrors.NewNotFoundError("config file not found", err).WithContext("path", path)
		}
		return nil, ferrors.NewIOError("failed to read config file", err).WithContext("path", path)
	}

	abs, err := filepath.Abs(path)
	if err == nil {
		path = abs
	}

	cfg, err := Parse(data, path)
	if err != nil {
		return nil, err
	}
	if m.env != nil {
		if err := m.env.Apply(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Parse builds a Config from YAML. path anchors the default state file location.
func Parse(data []byte, path string) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, ferrors.NewValidationError("failed to parse config", err).WithContext("path", path)
	}

	cfg := &Config{
		Path:       path,
		ComposeDir: raw.ComposeDir,
		StateFile:  raw.StateFile,
		SSHKey:     raw.SSHKey,
		LogLevel:   raw.LogLevel,
		hosts:      make(map[string]types.Host),
		units:      make(map[string]types.Unit),
	}
	if cfg.ComposeDir == "" {
		cfg.ComposeDir = DefaultComposeDir
	}
	if cfg.StateFile == "" {
		cfg.StateFile = filepath.Join(filepath.Dir(path), DefaultStateFileName)
	} else if !filepath.IsAbs(cfg.StateFile) {
		cfg.StateFile = filepath.Join(filepath.Dir(path), cfg.StateFile)
	}

	// collect every problem so one edit fixes the whole file
	var errs ferrors.ErrorCollection

	cfg.ProbeTimeout = DefaultProbeTimeout
	if raw.ProbeTimeout != "" {
		d, err := time.ParseDuration(raw.ProbeTimeout)
		if err != nil || d <= 0 {
			errs.Add(ferrors.NewValidationError(fmt.Sprintf("invalid probe_timeout %q", raw.ProbeTimeout), err))
		} else {
			cfg.ProbeTimeout = d
		}
	}

	if len(raw.Hosts) == 0 {
		return nil, ferrors.NewValidationError("no hosts defined", nil)
	}
	defaultUser := currentUser()
	for _, name := range sortedKeys(raw.Hosts) {
		h := raw.Hosts[name]
		if h.Address == "" {
			errs.Add(ferrors.NewValidationError(fmt.Sprintf("host '%s' has no address", name), nil))
			continue
		}
		if h.User == "" {
			h.User = defaultUser
		}
		if h.Port == 0 {
			h.Port = types.DefaultSSHPort
		}
		if h.Port < 0 || h.Port > 65535 {
			errs.Add(ferrors.NewValidationError(fmt.Sprintf("host '%s' has invalid port %d", name, h.Port), nil))
			continue
		}
		cfg.hosts[name] = types.Host{Name: name, Address: h.Address, User: h.User, Port: h.Port}
	}

	declared := raw.Units
	if len(declared) == 0 {
		declared = raw.Services
	} else {
		for _, name := range sortedKeys(raw.Services) {
			if _, dup := declared[name]; dup {
				errs.Add(ferrors.NewValidationError(fmt.Sprintf("unit '%s' declared in both units and services", name), nil))
				continue
			}
			declared[name] = raw.Services[name]
		}
	}

	for _, name := range sortedKeys(declared) {
		unit, err := cfg.buildUnit(name, declared[name])
		if err != nil {
			errs.Add(err)
			continue
		}
		cfg.units[name] = unit
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) buildUnit(name string, targets unitTargets) (types.Unit, error) {
	if strings.ContainsAny(name, "/\\") || name == "" || name == "." || name == ".." {
		return types.Unit{}, ferrors.NewValidationError(fmt.Sprintf("invalid unit name '%s'", name), nil)
	}

	hosts := targets.Hosts
	if targets.All {
		hosts = c.HostNames()
	}
	if len(hosts) == 0 {
		return types.Unit{}, ferrors.NewValidationError(fmt.Sprintf("unit '%s' has no hosts", name), nil)
	}

	seen := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		if _, ok := c.hosts[h]; !ok {
			return types.Unit{}, ferrors.NewValidationError(
				fmt.Sprintf("unit '%s' references unknown host '%s'", name, h), nil).
				WithContext("unit", name).
				WithContext("host", h)
		}
		if seen[h] {
			return types.Unit{}, ferrors.NewValidationError(
				fmt.Sprintf("unit '%s' lists host '%s' twice", name, h), nil)
		}
		seen[h] = true
	}

	return types.NewUnit(name, hosts, c.resolveComposePath(name), targets.All), nil
}

func (c *Config) resolveComposePath(unit string) string {
	dir := filepath.Join(c.ComposeDir, unit)
	for _, name := range ComposeFileNames {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return filepath.Join(dir, "docker-compose.yml")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

// Host returns the named host
func (c *Config) Host(name string) (types.Host, bool) {
	h, ok := c.hosts[name]
	return h, ok
}

// HasHost reports whether a host is configured
func (c *Config) HasHost(name string) bool {
	_, ok := c.hosts[name]
	return ok
}

// HostNames returns every configured host, sorted
func (c *Config) HostNames() []string {
	names := make([]string, 0, len(c.hosts))
	for name := range c.hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unit returns the named unit
func (c *Config) Unit(name string) (types.Unit, bool) {
	u, ok := c.units[name]
	return u, ok
}

// HasUnit reports whether a unit is declared
func (c *Config) HasUnit(name string) bool {
	_, ok := c.units[name]
	return ok
}

// UnitNames returns every declared unit, sorted
func (c *Config) UnitNames() []string {
	names := make([]string, 0, len(c.units))
	for name := range c.units {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnitsOnHost returns the units declared on a host, sorted
func (c *Config) UnitsOnHost(host string) []string {
	var names []string
	for _, name := range c.UnitNames() {
		for _, h := range c.units[name].Hosts {
			if h == host {
				names = append(names, name)
				break
			}
		}
	}
	return names
}

// ComposePath returns the compose file for a unit name, declared or not.
// Orphaned units are no longer declared but still need a compose path to stop them.
func (c *Config) ComposePath(unit string) string {
	if u, ok := c.units[unit]; ok {
		return u.ComposePath
	}
	return c.resolveComposePath(unit)
}
