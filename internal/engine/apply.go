package engine

import (
	"context"

	"github.com/compose-farm/compose-farm/internal/state"
	pctx "github.com/compose-farm/compose-farm/pkg/context"
	"github.com/compose-farm/compose-farm/pkg/logger"
	"github.com/compose-farm/compose-farm/pkg/types"
)

// Plan partitions units by the action that reconciles them.
// The sets are disjoint and sorted. InSync units need nothing unless a full apply refreshes them.
type Plan struct {
	Orphaned  []string
	Migrating []string
	Missing   []string
	InSync    []string
	Current   state.Placements
}

// Source returns where a migrating or orphaned unit is recorded
func (p Plan) Source(unit string) types.Placement {
	return p.Current[unit]
}

// Actions counts the units apply would touch
func (p Plan) Actions(opts ApplyOptions) int {
	n := len(p.Migrating) + len(p.Missing)
	if !opts.NoOrphans {
		n += len(p.Orphaned)
	}
	if opts.Full {
		n += len(p.InSync)
	}
	return n
}

// Plan compares declared units with recorded placement
func (e *Engine) Plan() (Plan, error) {
	current, err := e.store.Load()
	if err != nil {
		return Plan{}, err
	}
	return e.plan(current), nil
}

func (e *Engine) plan(current state.Placements) Plan {
	p := Plan{Orphaned: e.orphaned(current), Current: current}
	for _, name := range e.cfg.UnitNames() {
		unit, _ := e.cfg.Unit(name)
		placement := current[name]
		want := declaredPlacement(unit.Hosts, unit.IsMultiHost())

		switch {
		case placement.Equal(want):
			p.InSync = append(p.InSync, name)
		case !unit.IsMultiHost() && placement.Kind() == types.PlacementSingle:
			p.Migrating = append(p.Migrating, name)
		default:
			// unplaced, a degraded multi-host rollout, or a kind mismatch
			p.Missing = append(p.Missing, name)
		}
	}
	return p
}

// ApplyOptions controls Apply
type ApplyOptions struct {
	DryRun    bool
	Full      bool
	NoOrphans bool
}

// Phase names, in execution order
const (
	PhaseOrphaned = "orphaned"
	PhaseMigrate  = "migrate"
	PhaseMissing  = "missing"
	PhaseRefresh  = "refresh"
)

// PhaseReport holds the per-unit results of one apply phase
type PhaseReport struct {
	Name    string
	Results []UnitResult
}

// ApplyReport is everything apply planned and did
type ApplyReport struct {
	Plan        Plan
	DryRun      bool
	Phases      []PhaseReport
	Interrupted bool
}

// Results returns the results of every phase in order
func (r ApplyReport) Results() []UnitResult {
	var out []UnitResult
	for _, p := range r.Phases {
		out = append(out, p.Results...)
	}
	return out
}

// Failed reports whether any unit failed. A dry run never fails.
func (r ApplyReport) Failed() bool {
	if r.DryRun {
		return false
	}
	return r.Interrupted || AnyFailed(r.Results())
}

// Apply reconciles the fleet: stop orphaned, migrate, start missing, then refresh in full mode.
// Units in a phase run concurrently; a phase's failures never block the next phase,
// but an interruption stops the remaining phases.
func (e *Engine) Apply(ctx context.Context, opts ApplyOptions) (ApplyReport, error) {
	ctx = pctx.StartRun(ctx, "apply")
	log := logger.WithContext(ctx, e.logger)

	current, err := e.store.Load()
	if err != nil {
		return ApplyReport{}, err
	}
	plan := e.plan(current)
	report := ApplyReport{Plan: plan, DryRun: opts.DryRun}

	if opts.DryRun {
		log.Info("Dry run, nothing changed",
			logger.WithField("actions", plan.Actions(opts)))
		return report, nil
	}
	if plan.Actions(opts) == 0 {
		log.Success("Nothing to do")
		return report, nil
	}

	phases := []struct {
		name   string
		action Action
		units  []string
		run    func(string) UnitResult
	}{
		{PhaseOrphaned, ActionStop, plan.Orphaned, func(name string) UnitResult {
			return e.stop(ctx, name, current[name])
		}},
		{PhaseMigrate, ActionMigrate, plan.Migrating, func(name string) UnitResult {
			unit, _ := e.cfg.Unit(name)
			return e.start(ctx, unit, current[name])
		}},
		{PhaseMissing, ActionStart, plan.Missing, func(name string) UnitResult {
			unit, _ := e.cfg.Unit(name)
			return e.start(ctx, unit, current[name])
		}},
		{PhaseRefresh, ActionStart, plan.InSync, func(name string) UnitResult {
			unit, _ := e.cfg.Unit(name)
			return e.start(ctx, unit, current[name])
		}},
	}

	for _, phase := range phases {
		switch {
		case phase.name == PhaseOrphaned && opts.NoOrphans:
			continue
		case phase.name == PhaseRefresh && !opts.Full:
			continue
		case len(phase.units) == 0:
			continue
		}
		if ctx.Err() != nil {
			report.Interrupted = true
			break
		}

		log.Info("Running phase",
			logger.WithField("phase", phase.name),
			logger.WithField("units", len(phase.units)))
		results := e.eachUnit(phase.units, phase.action, phase.run)
		report.Phases = append(report.Phases, PhaseReport{Name: phase.name, Results: results})

		if AnyInterrupted(results) || ctx.Err() != nil {
			report.Interrupted = true
			break
		}
	}

	all := report.Results()
	if report.Failed() {
		log.Error("Apply finished with failures", logger.WithField("summary", Summarize(all)))
	} else {
		log.Success("Apply finished", logger.WithField("summary", Summarize(all)))
	}
	return report, nil
}
