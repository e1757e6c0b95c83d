package types

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// PlacementKind distinguishes single-host from multi-host placements
type PlacementKind int

const (
	PlacementNone PlacementKind = iota
	PlacementSingle
	PlacementMulti
)

// Placement records where a unit is believed to be running.
// Single holds exactly one host; Multi holds a sorted, deduplicated host set.
type Placement struct {
	kind  PlacementKind
	hosts []string
}

// Single returns a single-host placement
func Single(host string) Placement {
	if host == "" {
		return Placement{}
	}
	return Placement{kind: PlacementSingle, hosts: []string{host}}
}

// Multi returns a multi-host placement. An empty set yields the zero Placement.
func Multi(hosts ...string) Placement {
	set := normalizeHosts(hosts)
	if len(set) == 0 {
		return Placement{}
	}
	return Placement{kind: PlacementMulti, hosts: set}
}

func normalizeHosts(hosts []string) []string {
	seen := make(map[string]bool, len(hosts))
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// Kind returns the placement variant
func (p Placement) Kind() PlacementKind {
	return p.kind
}

// IsZero reports whether the placement is empty
func (p Placement) IsZero() bool {
	return p.kind == PlacementNone
}

// IsMulti reports whether this is a multi-host placement
func (p Placement) IsMulti() bool {
	return p.kind == PlacementMulti
}

// Host returns the host of a single-host placement, or "" otherwise
func (p Placement) Host() string {
	if p.kind != PlacementSingle {
		return ""
	}
	return p.hosts[0]
}

// Hosts returns a copy of every host in the placement
func (p Placement) Hosts() []string {
	return append([]string(nil), p.hosts...)
}

// Contains reports whether host is part of the placement
func (p Placement) Contains(host string) bool {
	for _, h := range p.hosts {
		if h == host {
			return true
		}
	}
	return false
}

// Without returns the placement minus the given hosts, keeping its kind
func (p Placement) Without(hosts ...string) Placement {
	drop := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		drop[h] = true
	}
	var keep []string
	for _, h := range p.hosts {
		if !drop[h] {
			keep = append(keep, h)
		}
	}
	if p.kind == PlacementSingle {
		if len(keep) == 0 {
			return Placement{}
		}
		return Single(keep[0])
	}
	return Multi(keep...)
}

// Equal compares kind and host set
func (p Placement) Equal(other Placement) bool {
	if p.kind != other.kind || len(p.hosts) != len(other.hosts) {
		return false
	}
	for i := range p.hosts {
		if p.hosts[i] != other.hosts[i] {
			return false
		}
	}
	return true
}

// String renders the placement for humans
func (p Placement) String() string {
	switch p.kind {
	case PlacementSingle:
		return p.hosts[0]
	case PlacementMulti:
		return strings.Join(p.hosts, ", ")
	default:
		return "-"
	}
}

// MarshalYAML writes a single host as a scalar and a multi-host set as a list
func (p Placement) MarshalYAML() (interface{}, error) {
	switch p.kind {
	case PlacementSingle:
		return p.hosts[0], nil
	case PlacementMulti:
		return p.Hosts(), nil
	default:
		return nil, nil
	}
}

// UnmarshalYAML accepts a host scalar or a list of hosts
func (p *Placement) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var host string
		if err := value.Decode(&host); err != nil {
			return err
		}
		*p = Single(host)
		return nil
	case yaml.SequenceNode:
		var hosts []string
		if err := value.Decode(&hosts); err != nil {
			return err
		}
		*p = Multi(hosts...)
		return nil
	default:
		return fmt.Errorf("placement must be a host name or a list of host names (line %d)", value.Line)
	}
}
