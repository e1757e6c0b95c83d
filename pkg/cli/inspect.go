package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/compose-farm/compose-farm/internal/engine"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func (c *CLI) newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [unit...]",
		Short: "Validate the config and check hosts for each unit's mounts, networks and devices",
		Long: `Load and validate the config, then probe every host for the bind mounts,
external networks and devices each unit's compose file needs. Exits non-zero
when a unit cannot start on one of its declared hosts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := c.loadEngine()
			if err != nil {
				return err
			}
			units := args
			if len(units) == 0 {
				units = eng.Config().UnitNames()
			}

			w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "UNIT\tHOST\tDECLARED\tFOUND\tMISSING")
			failed := false
			for _, name := range units {
				hosts, err := eng.CheckCompatibility(cmd.Context(), name)
				if err != nil {
					w.Flush()
					return err
				}
				unit, _ := eng.Config().Unit(name)
				declared := map[string]bool{}
				for _, h := range unit.Hosts {
					declared[h] = true
				}
				for _, h := range hosts {
					missing := strings.Join(h.Missing, ", ")
					if h.Err != nil {
						missing = h.Err.Error()
					}
					decl := ""
					if declared[h.Host] {
						decl = "yes"
						if !h.Compatible() {
							failed = true
						}
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
						name, h.Host, decl, fmt.Sprintf("%d/%d", h.Found, h.Total), missing)
				}
			}
			w.Flush()

			if failed {
				c.printError("Some units cannot start on their declared hosts")
				return &ExitError{Code: ExitFailure}
			}
			c.printSuccess("Config is valid and every declared host is ready")
			return nil
		},
	}
}

func (c *CLI) newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List declared and recorded units with their placement",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := c.loadEngine()
			if err != nil {
				return err
			}
			units, err := eng.ListUnits()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "UNIT\tDECLARED\tRUNNING ON\tSTATUS")
			for _, u := range units {
				declared := strings.Join(u.Declared, ",")
				if declared == "" {
					declared = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.Name, declared, u.Placement, unitStatus(u))
			}
			return w.Flush()
		},
	}
}

func unitStatus(u engine.UnitStatus) string {
	switch {
	case u.Orphaned:
		return color.RedString("orphaned")
	case u.InSync():
		return color.GreenString("in sync")
	case u.Placement.IsZero():
		return color.YellowString("not running")
	default:
		return color.YellowString("drifted")
	}
}

func (c *CLI) newStraysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "strays",
		Short: "Find declared units running on hosts they are not declared on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := c.loadEngine()
			if err != nil {
				return err
			}
			result, err := eng.FindStrays(cmd.Context())
			if err != nil {
				return err
			}

			for _, h := range result.Unreachable {
				c.printWarning(fmt.Sprintf("Could not check %s: %s", h.Host, h.Err))
			}
			if len(result.Strays) == 0 {
				c.printSuccess("No stray units")
				return nil
			}

			w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "UNIT\tDECLARED\tALSO RUNNING ON")
			for _, s := range result.Strays {
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.Unit, strings.Join(s.Declared, ","), strings.Join(s.Stray, ","))
			}
			return w.Flush()
		},
	}
}
