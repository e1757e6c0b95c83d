package engine_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/compose-farm/compose-farm/internal/engine"
	"github.com/compose-farm/compose-farm/internal/executor"
	"github.com/compose-farm/compose-farm/internal/state"
	"github.com/compose-farm/compose-farm/pkg/config"
	"github.com/compose-farm/compose-farm/pkg/types"
	"github.com/stretchr/testify/require"
)

// call is one recorded executor invocation
type call struct {
	Host  string
	Label string
	Unit  string
	Verb  string
	Cmd   executor.Command
}

// fakeFleet simulates docker hosts: containers started by up are visible to ps
// until down removes them.
type fakeFleet struct {
	mu              sync.Mutex
	calls           []call
	running         map[string]map[string]bool
	missingPaths    map[string]map[string]bool
	missingNetworks map[string]map[string]bool
	unreachable     map[string]bool
	fail            map[string]int
	onCall          func(call)
}

func newFakeFleet() *fakeFleet {
	return &fakeFleet{
		running:         map[string]map[string]bool{},
		missingPaths:    map[string]map[string]bool{},
		missingNetworks: map[string]map[string]bool{},
		unreachable:     map[string]bool{},
		fail:            map[string]int{},
	}
}

func (f *fakeFleet) setRunning(unit string, hosts ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range hosts {
		if f.running[h] == nil {
			f.running[h] = map[string]bool{}
		}
		f.running[h][unit] = true
	}
}

func (f *fakeFleet) missingPath(host, path string) {
	if f.missingPaths[host] == nil {
		f.missingPaths[host] = map[string]bool{}
	}
	f.missingPaths[host][path] = true
}

func (f *fakeFleet) missingNetwork(host, network string) {
	if f.missingNetworks[host] == nil {
		f.missingNetworks[host] = map[string]bool{}
	}
	f.missingNetworks[host][network] = true
}

// failOn makes "<verb>@<host>" for unit exit with code
func (f *fakeFleet) failOn(unit, verb, host string, code int) {
	f.fail[fmt.Sprintf("%s:%s@%s", unit, verb, host)] = code
}

func (f *fakeFleet) Run(ctx context.Context, host types.Host, cmd executor.Command, label string, _ executor.Mode) types.CommandResult {
	c := classify(host.Name, label, cmd)

	f.mu.Lock()
	f.calls = append(f.calls, c)
	hook := f.onCall
	f.mu.Unlock()
	if hook != nil {
		hook(c)
	}

	result := types.CommandResult{Label: label, Host: host.Name}
	if ctx.Err() != nil {
		result.Interrupted = true
		result.ExitCode = executor.ExitInterrupted
		result.Err = "interrupted"
		return result
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.unreachable[host.Name] {
		result.ExitCode = executor.ExitTransport
		result.Err = "ssh error: dial tcp: connection refused"
		return result
	}
	if code, ok := f.fail[fmt.Sprintf("%s:%s@%s", c.Unit, c.Verb, c.Host)]; ok {
		result.ExitCode = code
		result.Stderr = c.Verb + " failed\n"
		return result
	}

	result.Success = true
	switch c.Verb {
	case "path-check":
		result.Stdout = probeOutput(cmd.String(), 2, f.missingPaths[host.Name])
	case "network-check":
		result.Stdout = probeOutput(cmd.String(), 3, f.missingNetworks[host.Name])
	case "ps":
		if f.running[host.Name][c.Unit] {
			result.Stdout = "3f2a9c1d\n"
		}
	case "projects":
		var out strings.Builder
		for unit := range f.running[host.Name] {
			out.WriteString(unit + "\n")
		}
		result.Stdout = out.String()
	case "up":
		if f.running[host.Name] == nil {
			f.running[host.Name] = map[string]bool{}
		}
		f.running[host.Name][c.Unit] = true
	case "down":
		delete(f.running[host.Name], c.Unit)
	case "logs":
		result.Stdout = c.Unit + " | ready\n"
	case "network-create":
		delete(f.missingNetworks[host.Name], c.Unit)
		result.Stdout = "8c1e0f4b\n"
	}
	return result
}

func classify(host, label string, cmd executor.Command) call {
	c := call{Host: host, Label: label, Cmd: cmd}
	switch {
	case cmd.IsScript() && strings.HasPrefix(cmd.String(), "test -e"):
		c.Verb = "path-check"
	case cmd.IsScript():
		c.Verb = "network-check"
	case len(cmd.Args) >= 4 && cmd.Args[0] == "compose":
		c.Unit = filepath.Base(filepath.Dir(cmd.Args[2]))
		c.Verb = cmd.Args[3]
	case len(cmd.Args) > 0 && cmd.Args[0] == "ps":
		c.Verb = "projects"
	case len(cmd.Args) >= 3 && cmd.Args[0] == "network" && cmd.Args[1] == "create":
		c.Unit = cmd.Args[2]
		c.Verb = "network-create"
	}
	return c
}

// probeOutput answers a batched Y:/N: probe; field is the item position in each check
func probeOutput(script string, field int, missing map[string]bool) string {
	var out strings.Builder
	for _, part := range strings.Split(script, "; ") {
		fields := strings.Fields(part)
		if len(fields) <= field {
			continue
		}
		item := fields[field]
		if missing[item] {
			out.WriteString("N:" + item + "\n")
		} else {
			out.WriteString("Y:" + item + "\n")
		}
	}
	return out.String()
}

// actions returns the compose lifecycle commands issued for unit as "verb@host"
func (f *fakeFleet) actions(unit string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if c.Unit != unit {
			continue
		}
		switch c.Verb {
		case "up", "down", "pull", "build":
			out = append(out, c.Verb+"@"+c.Host)
		}
	}
	return out
}

// allActions returns every lifecycle command in call order as "unit:verb@host"
func (f *fakeFleet) allActions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		switch c.Verb {
		case "up", "down", "pull", "build":
			out = append(out, c.Unit+":"+c.Verb+"@"+c.Host)
		}
	}
	return out
}

func (f *fakeFleet) countCalls(verb, host string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Verb == verb && (host == "" || c.Host == host) {
			n++
		}
	}
	return n
}

// callsWith returns the recorded invocations classified as verb
func (f *fakeFleet) callsWith(verb string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.Verb == verb {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeFleet) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

const fleetConfig = `
compose_dir: %s
hosts:
  hostA: 10.0.0.1
  hostB: 10.0.0.2
  hostC:
    address: 10.0.0.3
    user: deploy
units:
  web: hostA
  cache: hostB
  monitor: [hostA, hostB, hostC]
`

const plainCompose = "services:\n  app:\n    image: nginx:alpine\n"

type fixture struct {
	engine     *engine.Engine
	fleet      *fakeFleet
	store      *state.Store
	composeDir string
}

// newFixture writes compose files for the fleet units, overriding some by name
func newFixture(t *testing.T, composeFiles map[string]string) *fixture {
	t.Helper()
	return newFixtureWithConfig(t, fleetConfig, composeFiles)
}

// newFixtureWithConfig is newFixture with a different config body; %s is the compose dir
func newFixtureWithConfig(t *testing.T, body string, composeFiles map[string]string) *fixture {
	t.Helper()
	// probe scripts are parsed by whitespace, so keep subtest names out of the path
	root, err := os.MkdirTemp("", "compose-farm-engine")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(root) })
	composeDir := filepath.Join(root, "compose")

	for _, unit := range []string{"web", "cache", "monitor"} {
		content := plainCompose
		if c, ok := composeFiles[unit]; ok {
			content = c
		}
		dir := filepath.Join(composeDir, unit)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "compose.yaml"), []byte(content), 0o644))
	}

	path := filepath.Join(root, "compose-farm.yaml")
	data := []byte(fmt.Sprintf(body, composeDir))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	cfg, err := config.Parse(data, path)
	require.NoError(t, err)

	fleet := newFakeFleet()
	store := state.NewStore(cfg.StateFile, nil)
	return &fixture{
		engine:     engine.New(engine.Options{Config: cfg, Store: store, Executor: fleet}),
		fleet:      fleet,
		store:      store,
		composeDir: composeDir,
	}
}

func (fx *fixture) seed(t *testing.T, placements state.Placements) {
	t.Helper()
	require.NoError(t, fx.store.Replace(placements))
}

func (fx *fixture) placements(t *testing.T) state.Placements {
	t.Helper()
	all, err := fx.store.Load()
	require.NoError(t, err)
	return all
}
