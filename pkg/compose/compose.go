// Package compose reads the host requirements declared in a compose file.
// Only volumes, external networks and devices are interpreted; everything else
// is passed through to docker compose untouched.
package compose

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Requirements are the host resources a compose file depends on
type Requirements struct {
	HostVolumes      []string
	ExternalNetworks []string
	Devices          []string
}

// Total returns the number of requirement items
func (r Requirements) Total() int {
	return len(r.HostVolumes) + len(r.ExternalNetworks) + len(r.Devices)
}

type file struct {
	Services map[string]service     `yaml:"services"`
	Networks map[string]*networkDef `yaml:"networks"`
}

type service struct {
	Volumes     []volume        `yaml:"volumes"`
	Networks    serviceNetworks `yaml:"networks"`
	NetworkMode string          `yaml:"network_mode"`
	Devices     []string        `yaml:"devices"`
}

// volume accepts the short "src:dst[:mode]" syntax and the long mapping syntax
type volume struct {
	Short  string
	Type   string `yaml:"type"`
	Source string `yaml:"source"`
}

func (v *volume) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&v.Short)
	}
	type plain volume
	return value.Decode((*plain)(v))
}

// serviceNetworks accepts a list of names or a mapping keyed by name
type serviceNetworks []string

func (n *serviceNetworks) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := value.Decode(&names); err != nil {
			return err
		}
		*n = names
	case yaml.MappingNode:
		for i := 0; i < len(value.Content); i += 2 {
			*n = append(*n, value.Content[i].Value)
		}
	}
	return nil
}

type networkDef struct {
	Name     string   `yaml:"name"`
	External external `yaml:"external"`
}

// external accepts "external: true" and the legacy "external: {name: x}"
type external struct {
	Enabled bool
	Name    string
}

func (e *external) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&e.Enabled)
	}
	var legacy struct {
		Name string `yaml:"name"`
	}
	if err := value.Decode(&legacy); err != nil {
		return err
	}
	e.Enabled = true
	e.Name = legacy.Name
	return nil
}

// ReadRequirements parses the compose file at path. A missing file has no requirements.
func ReadRequirements(path string) (Requirements, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Requirements{}, nil
		}
		return Requirements{}, fmt.Errorf("failed to read compose file: %w", err)
	}

	dir := filepath.Dir(path)
	env, err := LoadEnv(dir)
	if err != nil {
		return Requirements{}, fmt.Errorf("failed to read .env: %w", err)
	}
	return Parse(data, dir, env)
}

// Parse extracts requirements from compose YAML; dir resolves relative bind sources
func Parse(data []byte, dir string, env Env) (Requirements, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Requirements{}, fmt.Errorf("failed to parse compose file: %w", err)
	}

	names := make([]string, 0, len(f.Services))
	for name := range f.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	var req Requirements
	volumes := newOrderedSet()
	devices := newOrderedSet()
	referenced := make(map[string]bool)

	for _, name := range names {
		svc := f.Services[name]

		for _, v := range svc.Volumes {
			if src, ok := bindSource(v, env); ok {
				volumes.add(resolvePath(src, dir))
			}
		}

		for _, d := range svc.Devices {
			host, _, _ := strings.Cut(env.Interpolate(d), ":")
			if strings.HasPrefix(host, "/") {
				devices.add(host)
			}
		}

		switch {
		case len(svc.Networks) > 0:
			for _, n := range svc.Networks {
				referenced[n] = true
			}
		case svc.NetworkMode == "":
			referenced["default"] = true
		}
	}

	networks := newOrderedSet()
	keys := make([]string, 0, len(f.Networks))
	for key := range f.Networks {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		def := f.Networks[key]
		if def == nil || !def.External.Enabled || !referenced[key] {
			continue
		}
		actual := key
		if def.Name != "" {
			actual = def.Name
		} else if def.External.Name != "" {
			actual = def.External.Name
		}
		networks.add(env.Interpolate(actual))
	}

	req.HostVolumes = volumes.items
	req.ExternalNetworks = networks.items
	req.Devices = devices.items
	return req, nil
}

func bindSource(v volume, env Env) (string, bool) {
	if v.Short == "" {
		if v.Type != "bind" || v.Source == "" {
			return "", false
		}
		return env.Interpolate(v.Source), true
	}

	spec := env.Interpolate(v.Short)
	src, _, hasTarget := strings.Cut(spec, ":")
	if !hasTarget {
		// anonymous volume
		return "", false
	}
	if isHostPath(src) {
		return src, true
	}
	return "", false
}

func isHostPath(src string) bool {
	return strings.HasPrefix(src, "/") ||
		strings.HasPrefix(src, "./") ||
		strings.HasPrefix(src, "../") ||
		src == "." || src == ".."
}

func resolvePath(src, dir string) string {
	if filepath.IsAbs(src) {
		return filepath.Clean(src)
	}
	return filepath.Join(dir, src)
}

type orderedSet struct {
	seen  map[string]bool
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]bool)}
}

func (s *orderedSet) add(item string) {
	if item == "" || s.seen[item] {
		return
	}
	s.seen[item] = true
	s.items = append(s.items, item)
}
