package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/compose-farm/compose-farm/internal/state"
	ferrors "github.com/compose-farm/compose-farm/pkg/errors"
	"github.com/compose-farm/compose-farm/pkg/logger"
	"github.com/compose-farm/compose-farm/pkg/types"
)

// Discover probes the fleet for where every declared unit is running
func (e *Engine) Discover(ctx context.Context) (state.Placements, error) {
	return e.discover(ctx, e.cfg.UnitNames())
}

func (e *Engine) discover(ctx context.Context, names []string) (state.Placements, error) {
	found := forEach(e.logger, names, func(name string) types.Placement {
		unit, _ := e.cfg.Unit(name)
		return e.discoverUnit(ctx, unit)
	})
	if ctx.Err() != nil {
		return nil, ferrors.NewInterruptedError("discovery interrupted", ctx.Err())
	}

	out := state.Placements{}
	for i, name := range names {
		if !found[i].IsZero() {
			out[name] = found[i]
		}
	}
	return out, nil
}

// discoverUnit checks the declared host first and then every other host in name order.
// Multi-host units are probed on every declared host.
func (e *Engine) discoverUnit(ctx context.Context, unit types.Unit) types.Placement {
	log := e.log(ctx, unit.Name)

	if unit.IsMultiHost() {
		running := forEach(e.logger, unit.Hosts, func(host string) bool {
			ok, probed := e.isRunning(ctx, unit.Name, host)
			if !probed {
				log.Debug("Probe failed", logger.WithField("host", host))
			}
			return ok
		})
		var hosts []string
		for i, host := range unit.Hosts {
			if running[i] {
				hosts = append(hosts, host)
			}
		}
		return types.Multi(hosts...)
	}

	declared := unit.PrimaryHost()
	candidates := []string{declared}
	for _, host := range e.cfg.HostNames() {
		if host != declared {
			candidates = append(candidates, host)
		}
	}
	for _, host := range candidates {
		if ctx.Err() != nil {
			return types.Placement{}
		}
		ok, probed := e.isRunning(ctx, unit.Name, host)
		if !probed {
			log.Debug("Probe failed", logger.WithField("host", host))
		}
		if ok {
			if host != declared {
				log.Info(fmt.Sprintf("Found on %s (declared on %s)", host, declared))
			}
			return types.Single(host)
		}
	}
	return types.Placement{}
}

// StrayReport is a unit running on hosts it is not declared on
type StrayReport struct {
	Unit     string
	Declared []string
	Running  []string
	Stray    []string
}

// HostError is a host that could not be probed
type HostError struct {
	Host string
	Err  string
}

// StraysResult lists strays and the hosts that could not be checked
type StraysResult struct {
	Strays      []StrayReport
	Unreachable []HostError
}

// FindStrays lists the running compose projects of every host, one call per host,
// and reports declared units running where they are not declared.
func (e *Engine) FindStrays(ctx context.Context) (StraysResult, error) {
	hosts := e.cfg.HostNames()
	type listing struct {
		projects map[string]bool
		err      string
	}
	listings := forEach(e.logger, hosts, func(name string) listing {
		host, _ := e.cfg.Host(name)
		result := e.prober.Run(ctx, host, ProjectsCommand(), types.Label("ps", name))
		if !result.Success {
			msg := result.Err
			if msg == "" {
				msg = strings.TrimSpace(result.Stderr)
			}
			if msg == "" {
				msg = fmt.Sprintf("exit code %d", result.ExitCode)
			}
			return listing{err: msg}
		}
		projects := map[string]bool{}
		for _, line := range strings.Split(result.Stdout, "\n") {
			if p := strings.TrimSpace(line); p != "" {
				projects[p] = true
			}
		}
		return listing{projects: projects}
	})
	if ctx.Err() != nil {
		return StraysResult{}, ferrors.NewInterruptedError("stray check interrupted", ctx.Err())
	}

	var out StraysResult
	for i, host := range hosts {
		if listings[i].err != "" {
			out.Unreachable = append(out.Unreachable, HostError{Host: host, Err: listings[i].err})
		}
	}

	for _, name := range e.cfg.UnitNames() {
		unit, _ := e.cfg.Unit(name)
		declared := map[string]bool{}
		for _, h := range unit.Hosts {
			declared[h] = true
		}
		report := StrayReport{Unit: name, Declared: unit.Hosts}
		for i, host := range hosts {
			if !listings[i].projects[projectName(name)] {
				continue
			}
			report.Running = append(report.Running, host)
			if !declared[host] {
				report.Stray = append(report.Stray, host)
			}
		}
		if len(report.Stray) > 0 {
			out.Strays = append(out.Strays, report)
		}
	}
	sort.Slice(out.Strays, func(i, j int) bool { return out.Strays[i].Unit < out.Strays[j].Unit })
	return out, nil
}

// projectName is the compose project docker derives from the unit directory
func projectName(unit string) string {
	return strings.ToLower(unit)
}
