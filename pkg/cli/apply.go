package cli

import (
	"fmt"

	"github.com/compose-farm/compose-farm/internal/engine"
	"github.com/compose-farm/compose-farm/internal/state"
	"github.com/spf13/cobra"
)

func (c *CLI) newApplyCmd() *cobra.Command {
	var opts engine.ApplyOptions
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Make the fleet match the config",
		Long: `Reconcile the fleet with the config in a fixed order:

  1. stop units that are recorded but no longer declared
  2. migrate units recorded on a host other than the declared one
  3. start declared units that are not running
  4. with --full, re-run up for units already in place

A unit's failure never blocks the other units or later phases.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := c.loadEngine()
			if err != nil {
				return err
			}
			report, err := eng.Apply(cmd.Context(), opts)
			if err != nil {
				return err
			}

			if report.DryRun {
				c.printPlan(report.Plan, opts)
				return nil
			}
			for _, phase := range report.Phases {
				c.println("%s:", phase.Name)
				c.printResults(phase.Results)
			}
			all := report.Results()
			switch {
			case report.Interrupted:
				c.printWarning("Interrupted: " + engine.Summarize(all))
				return &ExitError{Code: ExitInterrupted}
			case report.Failed():
				c.printError(engine.Summarize(all))
				return &ExitError{Code: ExitFailure}
			case len(all) == 0:
				c.printSuccess("Nothing to do")
			default:
				c.printSuccess(engine.Summarize(all))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&opts.DryRun, "dry-run", "n", false, "show what would change without changing anything")
	cmd.Flags().BoolVar(&opts.NoOrphans, "no-orphans", false, "leave orphaned units running")
	cmd.Flags().BoolVar(&opts.Full, "full", false, "also re-run up for units already in place")
	return cmd
}

func (c *CLI) newRefreshCmd() *cobra.Command {
	var dryRun bool
	var merge string
	cmd := &cobra.Command{
		Use:   "refresh [unit...]",
		Short: "Rebuild recorded placement from what is actually running",
		Long: `Probe every host for running units and rewrite the state file to match.

Without unit names the whole state is replaced. With unit names only those
units are updated and every other record is kept (--merge scoped); pass
--merge replace to discard records outside the named units.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var policy state.MergePolicy
			if merge != "" {
				p, err := state.ParseMergePolicy(merge)
				if err != nil {
					return err
				}
				policy = p
			}

			eng, err := c.loadEngine()
			if err != nil {
				return err
			}
			report, err := eng.Refresh(cmd.Context(), args, policy, dryRun)
			if err != nil {
				return err
			}

			c.printDiff(report.Diff)
			switch {
			case report.DryRun && !report.Diff.IsEmpty():
				c.printInfo(fmt.Sprintf("Dry run: %d change(s) not saved", report.Diff.Count()))
			case report.Saved:
				c.printSuccess(fmt.Sprintf("State updated (%s merge, %d change(s))", report.Policy, report.Diff.Count()))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "show the changes without saving them")
	cmd.Flags().StringVar(&merge, "merge", "", "merge policy: replace or scoped (default: replace without units, scoped with units)")
	return cmd
}
