package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/compose-farm/compose-farm/internal/state"
	ferrors "github.com/compose-farm/compose-farm/pkg/errors"
	"github.com/compose-farm/compose-farm/pkg/types"
)

// Start brings every unit up on its declared host(s), migrating single-host
// units that are recorded on another configured host.
func (e *Engine) Start(ctx context.Context, names []string) ([]UnitResult, error) {
	names, err := e.declaredUnits(names)
	if err != nil {
		return nil, err
	}
	current, err := e.store.Load()
	if err != nil {
		return nil, err
	}
	return e.eachUnit(names, ActionStart, func(name string) UnitResult {
		unit, _ := e.cfg.Unit(name)
		return e.start(ctx, unit, current[name])
	}), nil
}

func (e *Engine) start(ctx context.Context, unit types.Unit, current types.Placement) UnitResult {
	if ctx.Err() != nil {
		return UnitResult{Unit: unit.Name, Action: ActionStart, Interrupted: true,
			Err: ferrors.NewInterruptedError("start interrupted", ctx.Err())}
	}
	if unit.IsMultiHost() {
		return e.startMulti(ctx, unit, current)
	}

	target := unit.PrimaryHost()
	if !current.IsZero() && !current.IsMulti() && current.Host() != target {
		return unitResultFromMigration(e.migrate(ctx, unit, current.Host(), target))
	}
	return e.startSingle(ctx, unit, target, current)
}

func (e *Engine) startSingle(ctx context.Context, unit types.Unit, target string, current types.Placement) UnitResult {
	log := e.log(ctx, unit.Name)
	result := UnitResult{Unit: unit.Name, Action: ActionStart, Hosts: []string{target}}

	report, err := e.Preflight(ctx, unit.Name, target)
	if preflightFailure(&result, target, report, err) {
		return result
	}

	leftover := e.retire(ctx, unit, current, &result)
	if result.Interrupted {
		return result
	}

	log.Info(fmt.Sprintf("Starting on %s...", target))
	up := e.compose(ctx, unit.Name, target, unit.Name, upArgs...)
	result.Commands = append(result.Commands, up)
	switch {
	case up.Interrupted:
		result.Interrupted = true
	case up.Success:
		result.Success = !types.AnyFailed(result.Commands) && result.Err == nil
		placement := types.Single(target)
		if len(leftover) > 0 {
			placement = types.Multi(append([]string{target}, leftover...)...)
		}
		if err := e.store.Set(unit.Name, placement); err != nil {
			result.Success, result.Err = false, err
		}
	}
	return result
}

// startMulti preflights every declared host before touching any of them,
// then records exactly the hosts where up succeeded.
func (e *Engine) startMulti(ctx context.Context, unit types.Unit, current types.Placement) UnitResult {
	log := e.log(ctx, unit.Name)
	result := UnitResult{Unit: unit.Name, Action: ActionStart, Hosts: unit.Hosts}

	type check struct {
		report types.Requirements
		err    error
	}
	checks := forEach(e.logger, unit.Hosts, func(host string) check {
		report, err := e.Preflight(ctx, unit.Name, host)
		return check{report, err}
	})
	failed := false
	for i, host := range unit.Hosts {
		if preflightFailure(&result, host, checks[i].report, checks[i].err) {
			failed = true
		}
	}
	if failed {
		if len(result.Missing) > 0 {
			result.Err = ferrors.NewPreconditionError(
				fmt.Sprintf("cannot start %s: preflight failed on %d host(s)", unit.Name, len(result.Missing)), nil)
		}
		return result
	}

	leftover := e.retire(ctx, unit, current, &result)
	if result.Interrupted {
		return result
	}

	log.Info(fmt.Sprintf("Starting on %s...", strings.Join(unit.Hosts, ", ")))
	ups := forEach(e.logger, unit.Hosts, func(host string) types.CommandResult {
		return e.compose(ctx, unit.Name, host, types.Label(unit.Name, host), upArgs...)
	})
	result.Commands = append(result.Commands, ups...)
	return e.recordMulti(unit, result, ups, leftover)
}

// recordMulti stores the hosts where up succeeded plus the undeclared hosts
// that could not be stopped
func (e *Engine) recordMulti(unit types.Unit, result UnitResult, ups []types.CommandResult, leftover []string) UnitResult {
	var succeeded []string
	for _, c := range ups {
		if c.Interrupted {
			result.Interrupted = true
		}
		if c.Success {
			succeeded = append(succeeded, c.Host)
		}
	}
	if len(succeeded) > 0 && result.Err == nil {
		if err := e.store.SetMulti(unit.Name, append(succeeded, leftover...)); err != nil {
			result.Err = err
		}
	}
	result.Success = !types.AnyFailed(result.Commands) && result.Err == nil
	if !result.Success && len(succeeded) > 0 && result.Err == nil {
		result.Err = ferrors.NewPartialError(
			fmt.Sprintf("%s running on %d of %d hosts", unit.Name, len(succeeded), len(unit.Hosts)), nil)
	}
	return result
}

// retire brings a unit down on recorded hosts it is no longer declared on and
// drops the stopped hosts from its record. It returns the hosts where the unit
// may still be running.
func (e *Engine) retire(ctx context.Context, unit types.Unit, current types.Placement, result *UnitResult) []string {
	declared := make(map[string]bool, len(unit.Hosts))
	for _, h := range unit.Hosts {
		declared[h] = true
	}
	var stale []string
	for _, h := range current.Hosts() {
		switch {
		case declared[h]:
		case !e.cfg.HasHost(h):
			result.Warnings = append(result.Warnings, fmt.Sprintf("was on %s (not in config), skipping down", h))
		default:
			stale = append(stale, h)
		}
	}
	if len(stale) == 0 {
		return nil
	}

	e.log(ctx, unit.Name).Info(fmt.Sprintf("Stopping on undeclared host(s) %s...", strings.Join(stale, ", ")))
	downs := forEach(e.logger, stale, func(host string) types.CommandResult {
		return e.compose(ctx, unit.Name, host, types.Label(unit.Name, host), downArgs...)
	})
	result.Commands = append(result.Commands, downs...)

	var stopped, leftover []string
	for _, c := range downs {
		if c.Interrupted {
			result.Interrupted = true
		}
		if c.Success {
			stopped = append(stopped, c.Host)
		} else {
			leftover = append(leftover, c.Host)
		}
	}
	if len(stopped) > 0 {
		rest := current.Without(stopped...)
		var err error
		if rest.IsZero() {
			err = e.store.Remove(unit.Name)
		} else {
			err = e.store.Set(unit.Name, rest)
		}
		if err != nil {
			result.Err = err
		}
	}
	return leftover
}

// Stop brings units down where they are recorded, or on their declared hosts when unrecorded
func (e *Engine) Stop(ctx context.Context, names []string) ([]UnitResult, error) {
	current, err := e.store.Load()
	if err != nil {
		return nil, err
	}
	names = uniq(names)
	var unknown []string
	for _, name := range names {
		if !e.cfg.HasUnit(name) && current[name].IsZero() {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return nil, ferrors.NewNotFoundError(
			fmt.Sprintf("unknown unit(s): %s", strings.Join(unknown, ", ")), nil)
	}
	return e.eachUnit(names, ActionStop, func(name string) UnitResult {
		return e.stop(ctx, name, current[name])
	}), nil
}

// StopOrphaned stops every unit that is recorded but no longer declared
func (e *Engine) StopOrphaned(ctx context.Context) ([]UnitResult, error) {
	current, err := e.store.Load()
	if err != nil {
		return nil, err
	}
	orphans := e.orphaned(current)
	return e.eachUnit(orphans, ActionStop, func(name string) UnitResult {
		return e.stop(ctx, name, current[name])
	}), nil
}

func (e *Engine) stop(ctx context.Context, name string, current types.Placement) UnitResult {
	log := e.log(ctx, name)
	result := UnitResult{Unit: name, Action: ActionStop}

	hosts := current.Hosts()
	multi := current.IsMulti()
	if current.IsZero() {
		unit, _ := e.cfg.Unit(name)
		hosts, multi = unit.Hosts, unit.IsMultiHost()
	}
	result.Hosts = hosts

	log.Info(fmt.Sprintf("Stopping on %s...", strings.Join(hosts, ", ")))
	result.Commands = forEach(e.logger, hosts, func(host string) types.CommandResult {
		return e.compose(ctx, name, host, unitLabel(name, host, multi), downArgs...)
	})

	var stopped []string
	for _, c := range result.Commands {
		if c.Interrupted {
			result.Interrupted = true
		}
		if c.Success {
			stopped = append(stopped, c.Host)
		}
	}

	switch {
	case current.IsZero():
	case len(stopped) == len(hosts):
		result.Err = e.store.Remove(name)
	case len(stopped) > 0:
		result.Err = e.store.Set(name, current.Without(stopped...))
	}
	result.Success = len(stopped) == len(hosts) && result.Err == nil
	return result
}

// Pull fetches images for units on their declared hosts
func (e *Engine) Pull(ctx context.Context, names []string) ([]UnitResult, error) {
	return e.sequence(ctx, names, ActionPull, false, pullArgs)
}

// Restart runs down then up on the declared hosts of each unit
func (e *Engine) Restart(ctx context.Context, names []string) ([]UnitResult, error) {
	return e.sequence(ctx, names, ActionRestart, true, downArgs, upArgs)
}

// Update pulls, builds and recreates each unit on its declared hosts
func (e *Engine) Update(ctx context.Context, names []string) ([]UnitResult, error) {
	return e.sequence(ctx, names, ActionUpdate, true, pullArgs, buildArgs, downArgs, upArgs)
}

// sequence runs steps in order on every declared host of each unit, stopping a host at its
// first failure. When record is set the hosts that finished are recorded as placement.
func (e *Engine) sequence(ctx context.Context, names []string, action Action, record bool, steps ...[]string) ([]UnitResult, error) {
	names, err := e.declaredUnits(names)
	if err != nil {
		return nil, err
	}

	return e.eachUnit(names, action, func(name string) UnitResult {
		unit, _ := e.cfg.Unit(name)
		result := UnitResult{Unit: name, Action: action, Hosts: unit.Hosts}
		e.log(ctx, name).Info(fmt.Sprintf("Running %s on %s...", action, strings.Join(unit.Hosts, ", ")))

		perHost := forEach(e.logger, unit.Hosts, func(host string) []types.CommandResult {
			var out []types.CommandResult
			for _, args := range steps {
				res := e.compose(ctx, name, host, unitLabel(name, host, unit.IsMultiHost()), args...)
				out = append(out, res)
				if !res.Success {
					break
				}
			}
			return out
		})

		var finished []string
		for i, cmds := range perHost {
			result.Commands = append(result.Commands, cmds...)
			if len(cmds) == len(steps) && !types.AnyFailed(cmds) {
				finished = append(finished, unit.Hosts[i])
			}
		}
		result.Interrupted = types.AnyInterrupted(result.Commands)
		result.Success = len(finished) == len(unit.Hosts)

		if record && len(finished) > 0 {
			var err error
			if unit.IsMultiHost() {
				err = e.store.SetMulti(name, finished)
			} else {
				err = e.store.SetSingle(name, finished[0])
			}
			if err != nil {
				result.Success, result.Err = false, err
			}
		}
		return result
	}), nil
}

// orphaned returns recorded units that are no longer declared, sorted
func (e *Engine) orphaned(current state.Placements) []string {
	var out []string
	for _, name := range current.Units() {
		if !e.cfg.HasUnit(name) {
			out = append(out, name)
		}
	}
	return out
}

// uniq drops repeated names, keeping the first occurrence
func uniq(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
