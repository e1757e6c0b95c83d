package engine

import (
	"context"
	"fmt"

	ferrors "github.com/compose-farm/compose-farm/pkg/errors"
	"github.com/compose-farm/compose-farm/pkg/types"
)

// MigrationPhase is where a migration ended
type MigrationPhase string

const (
	PhaseCompleted        MigrationPhase = "completed"
	PhaseAbortedPreflight MigrationPhase = "aborted-preflight"
	PhaseAbortedPrepare   MigrationPhase = "aborted-prepare"
	PhaseAbortedStop      MigrationPhase = "aborted-stop"
	PhaseStartFailed      MigrationPhase = "start-failed"
	PhaseRolledBack       MigrationPhase = "rolled-back"
	PhaseRollbackFailed   MigrationPhase = "rollback-failed"
	PhaseInterrupted      MigrationPhase = "interrupted"
)

// MigrationStep is one command issued during a migration
type MigrationStep struct {
	Name   string
	Host   string
	Result types.CommandResult
}

// MigrationResult records every step of moving a unit between hosts
type MigrationResult struct {
	Unit      string
	Source    string
	Target    string
	Steps     []MigrationStep
	Phase     MigrationPhase
	Preflight types.Requirements
	// SkippedSource is set when the source host was no longer configured
	SkippedSource bool
	Err           error
}

// Succeeded reports whether the unit now runs on the target
func (m MigrationResult) Succeeded() bool {
	return m.Phase == PhaseCompleted
}

// Commands returns the command results in execution order
func (m MigrationResult) Commands() []types.CommandResult {
	out := make([]types.CommandResult, len(m.Steps))
	for i, s := range m.Steps {
		out[i] = s.Result
	}
	return out
}

// Migrate moves a single-host unit from its recorded host to its declared host
func (e *Engine) Migrate(ctx context.Context, unitName string) (MigrationResult, error) {
	unit, ok := e.cfg.Unit(unitName)
	if !ok {
		return MigrationResult{}, ferrors.NewNotFoundError(fmt.Sprintf("unknown unit '%s'", unitName), nil)
	}
	if unit.IsMultiHost() {
		return MigrationResult{}, ferrors.NewValidationError(
			fmt.Sprintf("unit '%s' is multi-host and cannot be migrated", unitName), nil)
	}

	current, err := e.store.Get(unitName)
	if err != nil {
		return MigrationResult{}, err
	}
	target := unit.PrimaryHost()
	switch {
	case current.IsZero():
		return MigrationResult{}, ferrors.NewPreconditionError(
			fmt.Sprintf("unit '%s' is not deployed anywhere", unitName), nil)
	case current.IsMulti():
		return MigrationResult{}, ferrors.NewPreconditionError(
			fmt.Sprintf("unit '%s' is recorded on several hosts (%s)", unitName, current), nil)
	case current.Host() == target:
		return MigrationResult{}, ferrors.NewPreconditionError(
			fmt.Sprintf("unit '%s' already runs on %s", unitName, target), nil)
	}

	return e.migrate(ctx, unit, current.Host(), target), nil
}

// migrate runs preflight, prepare, stop source, start target, rolling back on a failed start.
// Placement is only written once an outcome is certain.
func (e *Engine) migrate(ctx context.Context, unit types.Unit, source, target string) MigrationResult {
	log := e.log(ctx, unit.Name)
	result := MigrationResult{Unit: unit.Name, Source: source, Target: target}

	report, err := e.Preflight(ctx, unit.Name, target)
	switch {
	case err != nil && ferrors.IsInterruptedError(err):
		result.Phase, result.Err = PhaseInterrupted, err
		return result
	case err != nil:
		result.Phase, result.Err = PhaseAbortedPreflight, err
		return result
	case !report.OK():
		result.Phase, result.Preflight = PhaseAbortedPreflight, report
		result.Err = ferrors.NewPreconditionError(
			fmt.Sprintf("cannot start on %s: %d missing requirement(s)", target, report.Count()), nil)
		return result
	}

	step := func(name, host string, args ...string) types.CommandResult {
		res := e.compose(ctx, unit.Name, host, unit.Name, args...)
		result.Steps = append(result.Steps, MigrationStep{Name: name, Host: host, Result: res})
		return res
	}

	if !e.cfg.HasHost(source) {
		log.Warn(fmt.Sprintf("was on %s (not in config), skipping down", source))
		result.SkippedSource = true
		log.Info(fmt.Sprintf("Starting on %s...", target))
		up := step("up", target, upArgs...)
		switch {
		case up.Interrupted:
			result.Phase = PhaseInterrupted
		case up.Success:
			result.Phase = PhaseCompleted
			result.Err = e.store.SetSingle(unit.Name, target)
		default:
			result.Phase = PhaseStartFailed
		}
		return result
	}

	log.Info(fmt.Sprintf("Migrating from %s to %s...", source, target))

	for _, prep := range []struct {
		name string
		args []string
	}{{"pull", pullArgs}, {"build", buildArgs}} {
		res := step(prep.name, target, prep.args...)
		if res.Interrupted {
			result.Phase = PhaseInterrupted
			return result
		}
		if !res.Success {
			log.Error(fmt.Sprintf("%s failed on %s, leaving unit on %s", prep.name, target, source))
			result.Phase = PhaseAbortedPrepare
			return result
		}
	}

	down := step("down", source, downArgs...)
	if down.Interrupted {
		result.Phase = PhaseInterrupted
		return result
	}
	if !down.Success {
		log.Error(fmt.Sprintf("Stopping on %s failed, migration aborted", source))
		result.Phase = PhaseAbortedStop
		return result
	}

	log.Info(fmt.Sprintf("Starting on %s...", target))
	up := step("up", target, upArgs...)
	if up.Interrupted {
		result.Phase = PhaseInterrupted
		return result
	}
	if up.Success {
		result.Phase = PhaseCompleted
		result.Err = e.store.SetSingle(unit.Name, target)
		log.Success(fmt.Sprintf("Migrated to %s", target))
		return result
	}

	log.Warn(fmt.Sprintf("Cleaning up failed start on %s", target))
	if cleanup := step("rollback-down", target, downArgs...); cleanup.Interrupted {
		result.Phase = PhaseInterrupted
		return result
	}

	log.Warn(fmt.Sprintf("Rolling back to %s...", source))
	rollback := step("rollback-up", source, upArgs...)
	switch {
	case rollback.Interrupted:
		result.Phase = PhaseInterrupted
	case rollback.Success:
		log.Info(fmt.Sprintf("Rollback succeeded on %s", source))
		result.Phase = PhaseRolledBack
		result.Err = e.store.SetSingle(unit.Name, source)
	default:
		log.Error("Rollback failed, unit is down")
		result.Phase = PhaseRollbackFailed
		result.Err = e.store.Remove(unit.Name)
	}
	return result
}

// unitResultFromMigration folds a migration into the common per-unit result
func unitResultFromMigration(m MigrationResult) UnitResult {
	result := UnitResult{
		Unit:        m.Unit,
		Action:      ActionMigrate,
		Hosts:       []string{m.Target},
		Commands:    m.Commands(),
		Migration:   &m,
		Success:     m.Phase == PhaseCompleted && m.Err == nil,
		Interrupted: m.Phase == PhaseInterrupted,
		Err:         m.Err,
	}
	if !m.Preflight.OK() {
		result.addMissing(m.Target, m.Preflight)
	}
	if m.SkippedSource {
		result.Action = ActionStart
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("was on %s (not in config), skipping down", m.Source))
	}
	return result
}
