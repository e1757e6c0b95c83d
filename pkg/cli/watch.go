package cli

import (
	"time"

	"github.com/compose-farm/compose-farm/pkg/config"
	"github.com/compose-farm/compose-farm/pkg/daemon"
	"github.com/compose-farm/compose-farm/pkg/logger"
	"github.com/compose-farm/compose-farm/pkg/notifier"
	"github.com/spf13/cobra"
)

func (c *CLI) newWatchCmd() *cobra.Command {
	var cfg daemon.Config
	var notify notifier.Config

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Apply on start and again whenever the config file changes",
		Long: `Run apply, then watch the config file and apply again after every change.
An invalid config is reported and the previous one stays in effect.

SIGHUP reloads the config and applies it again without waiting for a change.

With --notify a desktop notification is raised when an apply fails and when
the fleet is reconciled again after a failure.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ResolvePath(c.config.ConfigFile)
			if err != nil {
				return err
			}
			cfg.ConfigPath = path

			n := c.config.Notifier
			if n == nil {
				n = notifier.New(notify, c.logger)
			}
			d := daemon.New(daemon.Options{
				Config:  cfg,
				Manager: config.NewManager().WithEnv(c.env),
				NewApplier: func(loaded *config.Config) (daemon.Applier, error) {
					return c.newEngine(loaded), nil
				},
				Notifier: n,
				Logger:   c.logger,
			})

			if c.process != nil {
				c.process.OnHangup(func() {
					if err := d.Trigger(); err != nil {
						c.logger.Warn("Cannot reload on SIGHUP", logger.WithField("error", err))
					}
				})
			}

			c.printInfo("Watching " + path)
			if err := d.Run(cmd.Context()); err != nil {
				return err
			}
			status := d.Status()
			c.logger.Info("Watch finished",
				logger.WithField("runs", status.Runs),
				logger.WithField("failures", status.Failures))
			return nil
		},
	}

	cmd.Flags().BoolVar(&cfg.Apply.NoOrphans, "no-orphans", false, "leave orphaned units running")
	cmd.Flags().BoolVar(&cfg.Apply.Full, "full", false, "also re-run up for units already in place")
	cmd.Flags().DurationVar(&cfg.Interval, "interval", 0, "also re-apply at this interval (0 disables)")
	cmd.Flags().DurationVar(&cfg.Debounce, "debounce", 500*time.Millisecond, "wait this long after a change before applying")
	cmd.Flags().BoolVar(&notify.Enabled, "notify", false, "raise desktop notifications")
	cmd.Flags().BoolVar(&notify.Sound, "sound", false, "beep when an apply fails")
	return cmd
}
