// Package engine orchestrates compose units across the fleet.
//
// The implementation is split across multiple files:
//   - engine.go: Engine construction, unit listing and shared result types
//   - compose.go: docker compose invocations
//   - preflight.go: host requirement checks
//   - migrate.go: moving a single-host unit with rollback
//   - lifecycle.go: start, stop, pull, restart and update
//   - discover.go: probing hosts for running units
//   - apply.go: reconciling declared config with recorded placement
//   - refresh.go: rebuilding placement from discovery
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/compose-farm/compose-farm/internal/executor"
	"github.com/compose-farm/compose-farm/internal/state"
	"github.com/compose-farm/compose-farm/pkg/config"
	ferrors "github.com/compose-farm/compose-farm/pkg/errors"
	"github.com/compose-farm/compose-farm/pkg/logger"
	"github.com/compose-farm/compose-farm/pkg/types"
)

// Options holds everything an Engine needs
type Options struct {
	Config   *config.Config
	Store    *state.Store
	Executor executor.Executor
	Logger   logger.Logger
}

// Engine runs orchestration operations against one config snapshot
type Engine struct {
	cfg    *config.Config
	store  *state.Store
	exec   executor.Executor
	prober executor.Prober
	logger logger.Logger
}

// New creates an Engine
func New(opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	store := opts.Store
	if store == nil {
		store = state.NewStore(opts.Config.StateFile, log)
	}
	return &Engine{
		cfg:    opts.Config,
		store:  store,
		exec:   opts.Executor,
		prober: executor.Prober{Executor: opts.Executor, Timeout: opts.Config.ProbeTimeout},
		logger: log,
	}
}

// Config returns the snapshot the engine runs against
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// UnitStatus describes one declared or recorded unit
type UnitStatus struct {
	Name      string
	Declared  []string
	MultiHost bool
	Placement types.Placement
	Orphaned  bool
}

// InSync reports whether the recorded placement matches the declaration
func (s UnitStatus) InSync() bool {
	if s.Orphaned {
		return false
	}
	return s.Placement.Equal(declaredPlacement(s.Declared, s.MultiHost))
}

// ListUnits returns every declared unit plus every orphaned one, sorted by name
func (e *Engine) ListUnits() ([]UnitStatus, error) {
	current, err := e.store.Load()
	if err != nil {
		return nil, err
	}

	var out []UnitStatus
	for _, name := range e.cfg.UnitNames() {
		unit, _ := e.cfg.Unit(name)
		out = append(out, UnitStatus{
			Name:      name,
			Declared:  unit.Hosts,
			MultiHost: unit.IsMultiHost(),
			Placement: current[name],
		})
	}
	for _, name := range current.Units() {
		if !e.cfg.HasUnit(name) {
			out = append(out, UnitStatus{Name: name, Placement: current[name], Orphaned: true})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Placement returns where unit is recorded as running, zero when unplaced
func (e *Engine) Placement(unit string) (types.Placement, error) {
	return e.store.Get(unit)
}

// UnitsOnHost returns units declared on host or recorded there
func (e *Engine) UnitsOnHost(host string) ([]string, error) {
	if !e.cfg.HasHost(host) {
		return nil, ferrors.NewNotFoundError(fmt.Sprintf("unknown host '%s'", host), nil)
	}
	current, err := e.store.Load()
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	for _, name := range e.cfg.UnitsOnHost(host) {
		seen[name] = true
	}
	for unit, placement := range current {
		if placement.Contains(host) {
			seen[unit] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Action names what was done to a unit
type Action string

const (
	ActionStart   Action = "start"
	ActionMigrate Action = "migrate"
	ActionStop    Action = "stop"
	ActionPull    Action = "pull"
	ActionRestart Action = "restart"
	ActionUpdate  Action = "update"
	ActionLogs    Action = "logs"
	ActionPs      Action = "ps"
)

// UnitResult is the outcome of one action on one unit.
// Commands holds every executor invocation in the order it ran.
type UnitResult struct {
	Unit        string
	Action      Action
	Hosts       []string
	Commands    []types.CommandResult
	Missing     map[string]types.Requirements
	Migration   *MigrationResult
	Warnings    []string
	Success     bool
	Interrupted bool
	Err         error
}

// Failed reports whether the unit did not reach its goal
func (r UnitResult) Failed() bool {
	return !r.Success
}

// Diagnostics returns the human readable reasons a unit failed
func (r UnitResult) Diagnostics() []string {
	var lines []string
	hosts := make([]string, 0, len(r.Missing))
	for host := range r.Missing {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	for _, host := range hosts {
		for _, d := range r.Missing[host].Diagnostics() {
			lines = append(lines, fmt.Sprintf("%s on %s", d, host))
		}
		if len(r.Missing[host].MissingNetworks) > 0 {
			lines = append(lines, NetworkHint(host))
		}
	}
	for _, c := range r.Commands {
		switch {
		case c.Interrupted:
		case c.Err != "":
			lines = append(lines, fmt.Sprintf("%s: %s", c.Label, c.Err))
		case !c.Success:
			lines = append(lines, fmt.Sprintf("%s: exit code %d", c.Label, c.ExitCode))
		}
	}
	if r.Err != nil {
		lines = append(lines, r.Err.Error())
	}
	return lines
}

func (r *UnitResult) addMissing(host string, report types.Requirements) {
	if r.Missing == nil {
		r.Missing = make(map[string]types.Requirements)
	}
	r.Missing[host] = report
}

// Summarize counts successful units as "X/Y succeeded"
func Summarize(results []UnitResult) string {
	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		}
	}
	return fmt.Sprintf("%d/%d succeeded", ok, len(results))
}

// AnyFailed reports whether any unit failed
func AnyFailed(results []UnitResult) bool {
	for _, r := range results {
		if r.Failed() {
			return true
		}
	}
	return false
}

// AnyInterrupted reports whether any unit was interrupted
func AnyInterrupted(results []UnitResult) bool {
	for _, r := range results {
		if r.Interrupted {
			return true
		}
	}
	return false
}

func declaredPlacement(hosts []string, multi bool) types.Placement {
	if multi {
		return types.Multi(hosts...)
	}
	if len(hosts) == 0 {
		return types.Placement{}
	}
	return types.Single(hosts[0])
}

// eachUnit runs fn for every unit concurrently; a panicking unit becomes a failed result
func (e *Engine) eachUnit(units []string, action Action, fn func(string) UnitResult) []UnitResult {
	results := forEach(e.logger, units, fn)
	for i := range results {
		if results[i].Unit == "" {
			results[i] = UnitResult{
				Unit:   units[i],
				Action: action,
				Err:    fmt.Errorf("%s of %s aborted unexpectedly", action, units[i]),
			}
		}
	}
	return results
}

// declaredUnits deduplicates names and fails on the first unknown ones
func (e *Engine) declaredUnits(names []string) ([]string, error) {
	names = uniq(names)
	var unknown []string
	for _, name := range names {
		if !e.cfg.HasUnit(name) {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return nil, ferrors.NewNotFoundError(
			fmt.Sprintf("unknown unit(s): %s", strings.Join(unknown, ", ")), nil)
	}
	return names, nil
}

func (e *Engine) log(ctx context.Context, unit string) logger.Logger {
	return logger.WithContext(ctx, e.logger).WithTarget(unit)
}
