package engine

import (
	"context"
	"fmt"

	"github.com/compose-farm/compose-farm/pkg/compose"
	ferrors "github.com/compose-farm/compose-farm/pkg/errors"
	"github.com/compose-farm/compose-farm/pkg/types"
)

// requirements returns the paths, networks and devices unit needs on any host.
// The compose root is always required.
func (e *Engine) requirements(unit string) (paths, networks, devices []string, err error) {
	path := e.cfg.ComposePath(unit)
	reqs, err := compose.ReadRequirements(path)
	if err != nil {
		return nil, nil, nil, ferrors.NewValidationError("failed to read compose file", err).
			WithContext("unit", unit).
			WithContext("path", path)
	}
	paths = append([]string{e.cfg.ComposeDir}, reqs.HostVolumes...)
	return paths, reqs.ExternalNetworks, reqs.Devices, nil
}

// Preflight checks that host has every mount, network and device unit needs.
// It returns an error only when the checks themselves could not run.
func (e *Engine) Preflight(ctx context.Context, unit, hostName string) (types.Requirements, error) {
	host, ok := e.cfg.Host(hostName)
	if !ok {
		return types.Requirements{}, ferrors.NewNotFoundError(fmt.Sprintf("unknown host '%s'", hostName), nil)
	}
	paths, networks, devices, err := e.requirements(unit)
	if err != nil {
		return types.Requirements{}, err
	}

	var report types.Requirements
	found, err := e.prober.CheckPaths(ctx, host, paths)
	if err != nil {
		return types.Requirements{}, err
	}
	report.MissingPaths = missing(paths, found)

	if len(networks) > 0 {
		found, err := e.prober.CheckNetworks(ctx, host, networks)
		if err != nil {
			return types.Requirements{}, err
		}
		report.MissingNetworks = missing(networks, found)
	}

	if len(devices) > 0 {
		found, err := e.prober.CheckPaths(ctx, host, devices)
		if err != nil {
			return types.Requirements{}, err
		}
		report.MissingDevices = missing(devices, found)
	}

	if !report.OK() {
		log := e.log(ctx, unit)
		for _, d := range report.Diagnostics() {
			log.Warn(fmt.Sprintf("Cannot start on %s: %s", hostName, d))
		}
	}
	return report, nil
}

func missing(items []string, found map[string]bool) []string {
	var out []string
	for _, item := range items {
		if !found[item] {
			out = append(out, item)
		}
	}
	return out
}

// preflightFailure records a failed preflight on result and reports whether it failed
func preflightFailure(result *UnitResult, host string, report types.Requirements, err error) bool {
	switch {
	case err != nil:
		result.Interrupted = ferrors.IsInterruptedError(err)
		result.Err = err
		return true
	case !report.OK():
		result.addMissing(host, report)
		result.Err = ferrors.NewPreconditionError(
			fmt.Sprintf("cannot start %s on %s: %d missing requirement(s)", result.Unit, host, report.Count()), nil)
		return true
	}
	return false
}

// HostCompatibility tells how much of a unit's requirements one host satisfies
type HostCompatibility struct {
	Host    string
	Found   int
	Total   int
	Missing []string
	Err     error
}

// Compatible reports whether every requirement was found
func (h HostCompatibility) Compatible() bool {
	return h.Err == nil && h.Found == h.Total
}

// CheckCompatibility runs preflight for unit against every configured host
func (e *Engine) CheckCompatibility(ctx context.Context, unit string) ([]HostCompatibility, error) {
	if !e.cfg.HasUnit(unit) {
		return nil, ferrors.NewNotFoundError(fmt.Sprintf("unknown unit '%s'", unit), nil)
	}
	paths, networks, devices, err := e.requirements(unit)
	if err != nil {
		return nil, err
	}
	total := len(paths) + len(networks) + len(devices)

	report := forEach(e.logger, e.cfg.HostNames(), func(host string) HostCompatibility {
		reqs, err := e.Preflight(ctx, unit, host)
		if err != nil {
			return HostCompatibility{Host: host, Total: total, Err: err}
		}
		return HostCompatibility{
			Host:    host,
			Found:   total - reqs.Count(),
			Total:   total,
			Missing: reqs.Diagnostics(),
		}
	})
	if ctx.Err() != nil {
		return report, ferrors.NewInterruptedError("compatibility check interrupted", ctx.Err())
	}
	return report, nil
}
