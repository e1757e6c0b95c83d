package engine

import (
	"context"

	"github.com/compose-farm/compose-farm/internal/state"
	"github.com/compose-farm/compose-farm/pkg/logger"
)

// RefreshReport describes how discovery changed the recorded placement
type RefreshReport struct {
	Policy     state.MergePolicy
	Scope      []string
	Discovered state.Placements
	Diff       state.Diff
	DryRun     bool
	Saved      bool
}

// Refresh rebuilds placement from discovery. With no units every declared unit is probed.
// An empty policy picks Replace for a full refresh and Scoped when units are named.
func (e *Engine) Refresh(ctx context.Context, names []string, policy state.MergePolicy, dryRun bool) (RefreshReport, error) {
	scope := e.cfg.UnitNames()
	if len(names) > 0 {
		var err error
		if scope, err = e.declaredUnits(names); err != nil {
			return RefreshReport{}, err
		}
	}
	if policy == "" {
		policy = state.DefaultMergePolicy(len(names) > 0)
	}
	report := RefreshReport{Policy: policy, Scope: scope, DryRun: dryRun}

	discovered, err := e.discover(ctx, scope)
	if err != nil {
		return report, err
	}
	report.Discovered = discovered

	current, err := e.store.Load()
	if err != nil {
		return report, err
	}
	merged := state.MergePlacement(current, discovered, scope, policy)
	report.Diff = state.Compare(current, merged)

	log := logger.WithContext(ctx, e.logger)
	for _, c := range report.Diff.Added {
		log.WithTarget(c.Unit).Info("Discovered on " + c.After.String())
	}
	for _, c := range report.Diff.Changed {
		log.WithTarget(c.Unit).Info("Moved: " + c.Before.String() + " -> " + c.After.String())
	}
	for _, c := range report.Diff.Removed {
		log.WithTarget(c.Unit).Info("No longer running (was " + c.Before.String() + ")")
	}

	if dryRun || report.Diff.IsEmpty() {
		return report, nil
	}
	if err := e.store.Replace(merged); err != nil {
		return report, err
	}
	report.Saved = true
	return report, nil
}
