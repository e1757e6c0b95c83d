package cli

import (
	"fmt"
	"strings"

	"github.com/compose-farm/compose-farm/internal/engine"
	ferrors "github.com/compose-farm/compose-farm/pkg/errors"
	"github.com/compose-farm/compose-farm/pkg/types"
	"github.com/compose-farm/compose-farm/pkg/utils"
	"github.com/spf13/cobra"
)

// selection is the shared unit selector: names or globs, --all or --host
type selection struct {
	all  bool
	host string
	// defaultAll selects every declared unit when no form is given
	defaultAll bool
}

func (s *selection) register(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&s.all, "all", "a", false, "select every declared unit")
	cmd.Flags().StringVarP(&s.host, "host", "H", "", "select the units declared on or running on this host")
}

// resolve turns the selector into unit names; exactly one form must be used
func (s *selection) resolve(eng *engine.Engine, args []string) ([]string, error) {
	forms := 0
	if len(args) > 0 {
		forms++
	}
	if s.all {
		forms++
	}
	if s.host != "" {
		forms++
	}
	switch {
	case forms == 0 && s.defaultAll:
		return eng.Config().UnitNames(), nil
	case forms == 0:
		return nil, ferrors.NewValidationError("no units selected: pass unit names, --all or --host", nil)
	case forms > 1:
		return nil, ferrors.NewValidationError("unit names, --all and --host are mutually exclusive", nil)
	case s.all:
		return eng.Config().UnitNames(), nil
	case s.host != "":
		units, err := eng.UnitsOnHost(s.host)
		if err != nil {
			return nil, err
		}
		if len(units) == 0 {
			return nil, ferrors.NewNotFoundError(fmt.Sprintf("no units on host '%s'", s.host), nil)
		}
		return units, nil
	}
	return utils.ExpandUnitPatterns(args, eng.Config().UnitNames())
}

type unitOperation func(eng *engine.Engine, cmd *cobra.Command, units []string) ([]engine.UnitResult, error)

// newUnitCmd builds a command that runs op over the selected units
func (c *CLI) newUnitCmd(use, short, long string, op unitOperation) *cobra.Command {
	return c.newSelectionCmd(&selection{}, use, short, long, op)
}

func (c *CLI) newSelectionCmd(sel *selection, use, short, long string, op unitOperation) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " [unit...]",
		Short: short,
		Long:  long,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := c.loadEngine()
			if err != nil {
				return err
			}
			units, err := sel.resolve(eng, args)
			if err != nil {
				return err
			}
			if sel.host != "" {
				// orphans recorded on the host can only be stopped
				units = declaredOnly(eng, units)
				if len(units) == 0 {
					return ferrors.NewNotFoundError(fmt.Sprintf(
						"only orphaned units are recorded on host '%s'; use down --orphaned", sel.host), nil)
				}
			}
			results, err := op(eng, cmd, units)
			if err != nil {
				return err
			}
			return c.finish(results)
		},
	}
	sel.register(cmd)
	return cmd
}

func declaredOnly(eng *engine.Engine, units []string) []string {
	out := units[:0:0]
	for _, u := range units {
		if eng.Config().HasUnit(u) {
			out = append(out, u)
		}
	}
	return out
}

func (c *CLI) newUpCmd() *cobra.Command {
	return c.newUnitCmd("up", "Start units on their declared hosts",
		`Start units on their declared hosts. A unit recorded on another host is
migrated: its images are prepared on the new host, it is stopped on the old one
and started on the new one, rolling back if the start fails.

Nothing is started on a host that lacks a bind mount, external network or
device the unit needs.`,
		func(eng *engine.Engine, cmd *cobra.Command, units []string) ([]engine.UnitResult, error) {
			return eng.Start(cmd.Context(), units)
		})
}

func (c *CLI) newDownCmd() *cobra.Command {
	var sel selection
	var orphaned bool
	cmd := &cobra.Command{
		Use:   "down [unit...]",
		Short: "Stop units and forget their placement",
		Long: `Stop units where they are recorded as running, or on their declared hosts
when nothing is recorded. With --orphaned, stop every recorded unit that is no
longer declared in the config.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := c.loadEngine()
			if err != nil {
				return err
			}
			var results []engine.UnitResult
			if orphaned {
				if len(args) > 0 || sel.all || sel.host != "" {
					return ferrors.NewValidationError("--orphaned does not take a unit selection", nil)
				}
				results, err = eng.StopOrphaned(cmd.Context())
				if err == nil && len(results) == 0 {
					c.printInfo("No orphaned units")
				}
			} else {
				var units []string
				units, err = sel.resolve(eng, args)
				if err != nil {
					return err
				}
				results, err = eng.Stop(cmd.Context(), units)
			}
			if err != nil {
				return err
			}
			return c.finish(results)
		},
	}
	sel.register(cmd)
	cmd.Flags().BoolVar(&orphaned, "orphaned", false, "stop units that are recorded but no longer declared")
	return cmd
}

func (c *CLI) newPullCmd() *cobra.Command {
	return c.newUnitCmd("pull", "Pull images for units on their declared hosts", "",
		func(eng *engine.Engine, cmd *cobra.Command, units []string) ([]engine.UnitResult, error) {
			return eng.Pull(cmd.Context(), units)
		})
}

func (c *CLI) newRestartCmd() *cobra.Command {
	return c.newUnitCmd("restart", "Restart units (down, then up) on their declared hosts", "",
		func(eng *engine.Engine, cmd *cobra.Command, units []string) ([]engine.UnitResult, error) {
			return eng.Restart(cmd.Context(), units)
		})
}

func (c *CLI) newUpdateCmd() *cobra.Command {
	return c.newUnitCmd("update", "Pull, build and recreate units on their declared hosts", "",
		func(eng *engine.Engine, cmd *cobra.Command, units []string) ([]engine.UnitResult, error) {
			return eng.Update(cmd.Context(), units)
		})
}

func (c *CLI) newLogsCmd() *cobra.Command {
	var opts engine.LogsOptions
	cmd := c.newUnitCmd("logs", "Show compose logs of units from every declared host",
		`Show compose logs of units from every declared host. Without --tail, 100
lines are shown for a single unit and 20 per host when several are selected.`,
		func(eng *engine.Engine, cmd *cobra.Command, units []string) ([]engine.UnitResult, error) {
			return eng.Logs(cmd.Context(), units, opts)
		})
	cmd.Flags().IntVarP(&opts.Tail, "tail", "n", 0, "number of lines to show from the end of the logs")
	cmd.Flags().BoolVarP(&opts.Follow, "follow", "f", false, "follow log output")
	cmd.Flags().StringVar(&opts.Service, "service", "", "show only this compose service (needs exactly one unit)")
	return cmd
}

func (c *CLI) newPsCmd() *cobra.Command {
	var service string
	cmd := c.newSelectionCmd(&selection{defaultAll: true}, "ps", "Show compose containers of units on every declared host",
		"Show compose containers of units on every declared host. Without a selection every unit is shown.",
		func(eng *engine.Engine, cmd *cobra.Command, units []string) ([]engine.UnitResult, error) {
			return eng.Ps(cmd.Context(), units, service)
		})
	cmd.Flags().StringVar(&service, "service", "", "show only this compose service (needs exactly one unit)")
	return cmd
}

func (c *CLI) newInitNetworkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-network <host> [network...]",
		Short: "Create missing external networks on a host",
		Long: `Create external docker networks on a host. Without network names, every
external network used by the units declared on the host is created when missing.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := c.loadEngine()
			if err != nil {
				return err
			}
			host := args[0]
			results, err := eng.InitNetworks(cmd.Context(), host, args[1:])
			if err != nil {
				return err
			}
			if len(results) == 0 {
				c.printSuccess(fmt.Sprintf("All networks already exist on %s", host))
				return nil
			}

			failed := false
			for _, r := range results {
				c.println("%s %s", mark(r.Success), r.Label)
				if !r.Success {
					failed = true
					if msg := strings.TrimSpace(r.Err + " " + r.Stderr); msg != "" {
						c.println("    %s", msg)
					}
				}
			}
			if types.AnyInterrupted(results) {
				return &ExitError{Code: ExitInterrupted}
			}
			if failed {
				c.printError(fmt.Sprintf("Failed to create networks on %s", host))
				return &ExitError{Code: ExitFailure}
			}
			c.printSuccess(fmt.Sprintf("Created %d network(s) on %s", len(results), host))
			return nil
		},
	}
}

func (c *CLI) newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate <unit>",
		Short: "Move a single-host unit to its declared host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := c.loadEngine()
			if err != nil {
				return err
			}
			m, err := eng.Migrate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, step := range m.Steps {
				c.println("%s %-14s %s", mark(step.Result.Success), step.Name, step.Host)
			}
			if !m.Preflight.OK() {
				for _, d := range m.Preflight.Diagnostics() {
					c.println("    %s on %s", d, m.Target)
				}
				if len(m.Preflight.MissingNetworks) > 0 {
					c.println("    %s", engine.NetworkHint(m.Target))
				}
			}
			if m.Err != nil && !m.Succeeded() {
				c.println("    %s", m.Err)
			}
			message := fmt.Sprintf("%s: %s -> %s (%s)", m.Unit, m.Source, m.Target, m.Phase)
			switch {
			case m.Phase == engine.PhaseInterrupted:
				c.printWarning(message)
				return &ExitError{Code: ExitInterrupted}
			case !m.Succeeded():
				c.printError(message)
				return &ExitError{Code: ExitFailure}
			}
			c.printSuccess(message)
			return nil
		},
	}
}

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of compose-farm",
		Run: func(cmd *cobra.Command, args []string) {
			c.println("compose-farm %s", c.config.Version)
		},
	}
}
