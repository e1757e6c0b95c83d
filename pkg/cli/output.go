package cli

import (
	"fmt"
	"strings"

	"github.com/compose-farm/compose-farm/internal/engine"
	"github.com/compose-farm/compose-farm/internal/state"
	"github.com/fatih/color"
)

// Helper methods for structured output

func (c *CLI) printSuccess(message string) {
	c.logger.Success(message)
}

func (c *CLI) printError(message string) {
	c.logger.Error(message)
}

func (c *CLI) printInfo(message string) {
	c.logger.Info(message)
}

func (c *CLI) printWarning(message string) {
	c.logger.Warn(message)
}

func (c *CLI) println(format string, args ...interface{}) {
	fmt.Fprintf(c.output, format+"\n", args...)
}

func mark(ok bool) string {
	if ok {
		return color.GreenString("✓")
	}
	return color.RedString("✗")
}

// printResults writes one line per unit plus its diagnostics and warnings
func (c *CLI) printResults(results []engine.UnitResult) {
	for _, r := range results {
		hosts := strings.Join(r.Hosts, ",")
		status := mark(r.Success)
		if r.Interrupted {
			status = color.YellowString("-")
		}
		c.println("%s %-20s %-8s %s", status, r.Unit, r.Action, hosts)
		for _, w := range r.Warnings {
			c.println("    %s %s", color.YellowString("!"), w)
		}
		if r.Success {
			continue
		}
		for _, d := range r.Diagnostics() {
			c.println("    %s", d)
		}
	}
}

// resultsExit turns unit results into the command's exit status
func resultsExit(results []engine.UnitResult) error {
	switch {
	case engine.AnyInterrupted(results):
		return &ExitError{Code: ExitInterrupted}
	case engine.AnyFailed(results):
		return &ExitError{Code: ExitFailure}
	}
	return nil
}

// finish prints results and a summary line, then returns the exit status
func (c *CLI) finish(results []engine.UnitResult) error {
	c.printResults(results)
	summary := engine.Summarize(results)
	switch {
	case engine.AnyInterrupted(results):
		c.printWarning("Interrupted: " + summary)
	case engine.AnyFailed(results):
		c.printError(summary)
	case len(results) > 0:
		c.printSuccess(summary)
	}
	return resultsExit(results)
}

func (c *CLI) printPlan(plan engine.Plan, opts engine.ApplyOptions) {
	if plan.Actions(opts) == 0 {
		c.println("Nothing to do")
		return
	}
	if !opts.NoOrphans {
		for _, u := range plan.Orphaned {
			c.println("  stop     %-20s on %s", u, plan.Source(u))
		}
	}
	for _, u := range plan.Migrating {
		c.println("  migrate  %-20s from %s", u, plan.Source(u))
	}
	for _, u := range plan.Missing {
		c.println("  start    %-20s", u)
	}
	if opts.Full {
		for _, u := range plan.InSync {
			c.println("  refresh  %-20s", u)
		}
	}
}

func (c *CLI) printDiff(diff state.Diff) {
	if diff.IsEmpty() {
		c.println("State already matches what is running")
		return
	}
	for _, ch := range diff.Added {
		c.println("  %s %s: %s", color.GreenString("+"), ch.Unit, ch.After)
	}
	for _, ch := range diff.Changed {
		c.println("  %s %s", color.YellowString("~"), ch)
	}
	for _, ch := range diff.Removed {
		c.println("  %s %s: %s", color.RedString("-"), ch.Unit, ch.Before)
	}
}
