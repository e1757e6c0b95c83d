// Package types defines the core types shared by compose-farm packages
package types

import (
	"fmt"
	"strings"
)

// DefaultSSHPort is used when a host does not declare a port
const DefaultSSHPort = 22

// Host is a machine that can run units
type Host struct {
	Name    string `yaml:"-"`
	Address string `yaml:"address"`
	User    string `yaml:"user,omitempty"`
	Port    int    `yaml:"port,omitempty"`
}

// Endpoint returns the address:port dial target
func (h Host) Endpoint() string {
	port := h.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	if strings.Contains(h.Address, ":") && !strings.HasPrefix(h.Address, "[") {
		return fmt.Sprintf("[%s]:%d", h.Address, port)
	}
	return fmt.Sprintf("%s:%d", h.Address, port)
}

// Unit is a named compose project deployed on one or more hosts
type Unit struct {
	Name        string
	Hosts       []string
	ComposePath string
	multi       bool
}

// NewUnit creates a unit. A unit declared on more than one host is multi-host.
func NewUnit(name string, hosts []string, composePath string, multi bool) Unit {
	return Unit{
		Name:        name,
		Hosts:       append([]string(nil), hosts...),
		ComposePath: composePath,
		multi:       multi || len(hosts) > 1,
	}
}

// IsMultiHost reports whether the unit runs on every declared host at once
func (u Unit) IsMultiHost() bool {
	return u.multi
}

// PrimaryHost returns the declared host of a single-host unit
func (u Unit) PrimaryHost() string {
	if len(u.Hosts) == 0 {
		return ""
	}
	return u.Hosts[0]
}

// Label builds the output label for a unit running on a host
func Label(unit, host string) string {
	if host == "" {
		return unit
	}
	return unit + "@" + host
}

// CommandResult is the normalized outcome of one executor invocation
type CommandResult struct {
	Label       string `json:"label"`
	Unit        string `json:"unit,omitempty"`
	Host        string `json:"host,omitempty"`
	ExitCode    int    `json:"exitCode"`
	Success     bool   `json:"success"`
	Stdout      string `json:"stdout,omitempty"`
	Stderr      string `json:"stderr,omitempty"`
	Interrupted bool   `json:"interrupted,omitempty"`
	Err         string `json:"error,omitempty"`
}

// Failed reports whether the result counts as a failure
func (r CommandResult) Failed() bool {
	return !r.Success
}

// Requirements lists the host resources a unit needs that a host lacks
type Requirements struct {
	MissingPaths    []string `json:"missingPaths,omitempty"`
	MissingNetworks []string `json:"missingNetworks,omitempty"`
	MissingDevices  []string `json:"missingDevices,omitempty"`
}

// OK reports whether nothing is missing
func (r Requirements) OK() bool {
	return len(r.MissingPaths) == 0 && len(r.MissingNetworks) == 0 && len(r.MissingDevices) == 0
}

// Diagnostics returns one line per missing item
func (r Requirements) Diagnostics() []string {
	var lines []string
	for _, p := range r.MissingPaths {
		lines = append(lines, "missing path: "+p)
	}
	for _, n := range r.MissingNetworks {
		lines = append(lines, "missing network: "+n)
	}
	for _, d := range r.MissingDevices {
		lines = append(lines, "missing device: "+d)
	}
	return lines
}

// Count returns the number of missing items
func (r Requirements) Count() int {
	return len(r.MissingPaths) + len(r.MissingNetworks) + len(r.MissingDevices)
}

// Summarize counts successful results as "X/Y succeeded"
func Summarize(results []CommandResult) string {
	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		}
	}
	return fmt.Sprintf("%d/%d succeeded", ok, len(results))
}

// AnyFailed reports whether any result failed
func AnyFailed(results []CommandResult) bool {
	for _, r := range results {
		if !r.Success {
			return true
		}
	}
	return false
}

// AnyInterrupted reports whether any result was interrupted
func AnyInterrupted(results []CommandResult) bool {
	for _, r := range results {
		if r.Interrupted {
			return true
		}
	}
	return false
}
