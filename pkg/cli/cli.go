// Package cli provides the compose-farm command-line interface
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/compose-farm/compose-farm/internal/engine"
	"github.com/compose-farm/compose-farm/internal/executor"
	"github.com/compose-farm/compose-farm/pkg/config"
	ferrors "github.com/compose-farm/compose-farm/pkg/errors"
	"github.com/compose-farm/compose-farm/pkg/logger"
	"github.com/compose-farm/compose-farm/pkg/process"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Exit codes
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitInterrupted = process.ExitInterrupted
)

// ExitError carries an exit code for a failure that was already reported
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// ExitCode maps an Execute error to a process exit status
func ExitCode(err error) int {
	var exitErr *ExitError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &exitErr):
		return exitErr.Code
	case ferrors.IsInterruptedError(err):
		return ExitInterrupted
	default:
		return ExitFailure
	}
}

// CLI encapsulates the command tree and its collaborators
type CLI struct {
	config   *Config
	rootCmd  *cobra.Command
	env      *config.EnvOverrides
	process  *process.Manager
	logger   logger.Logger
	output   io.Writer
	errorOut io.Writer
}

// NewCLI creates a new CLI instance with the given configuration
func NewCLI(cfg *Config) *CLI {
	return NewCLIWithOutput(cfg, os.Stdout, os.Stderr)
}

// NewCLIWithOutput creates a CLI with custom output writers
func NewCLIWithOutput(cfg *Config, output, errorOut io.Writer) *CLI {
	if cfg == nil {
		cfg = NewConfig()
	}
	c := &CLI{
		config:   cfg,
		env:      config.NewEnvOverrides(),
		output:   output,
		errorOut: errorOut,
	}
	c.logger = logger.CreateLoggerWithOutput("", cfg.LogLevel, errorOut)
	c.setupCommands()
	return c
}

// Execute runs the CLI with the given arguments
func (c *CLI) Execute(args []string) error {
	return c.ExecuteContext(context.Background(), args)
}

// ExecuteContext runs the CLI. SIGINT and SIGTERM cancel the command's context.
func (c *CLI) ExecuteContext(ctx context.Context, args []string) error {
	c.rootCmd.SetArgs(args)
	err := c.rootCmd.ExecuteContext(ctx)
	if c.process != nil {
		if c.process.Interrupted() && err == nil {
			err = &ExitError{Code: ExitInterrupted}
		}
		c.process.Stop()
		c.process = nil
	}
	return err
}

// Run executes args, reports any unreported error and returns the exit status
func (c *CLI) Run(ctx context.Context, args []string) int {
	err := c.ExecuteContext(ctx, args)
	var exitErr *ExitError
	if err != nil && !errors.As(err, &exitErr) {
		c.printError(err.Error())
	}
	return ExitCode(err)
}

func (c *CLI) setupCommands() {
	c.rootCmd = &cobra.Command{
		Use:   "compose-farm",
		Short: "Run docker compose units across a fleet of hosts",
		Long: `compose-farm places docker compose units on hosts, runs them over SSH and
keeps a record of where each one runs.

Declare hosts and units in compose-farm.yaml, then run "compose-farm apply" to
make the fleet match it.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.initialize,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	c.setupFlags()

	c.rootCmd.Version = c.config.Version
	c.rootCmd.SetVersionTemplate("compose-farm {{.Version}}\n")
	c.rootCmd.SetOut(c.output)
	c.rootCmd.SetErr(c.errorOut)

	c.rootCmd.AddCommand(
		c.newUpCmd(),
		c.newDownCmd(),
		c.newPullCmd(),
		c.newRestartCmd(),
		c.newUpdateCmd(),
		c.newLogsCmd(),
		c.newPsCmd(),
		c.newApplyCmd(),
		c.newMigrateCmd(),
		c.newRefreshCmd(),
		c.newInitNetworkCmd(),
		c.newCheckCmd(),
		c.newListCmd(),
		c.newStraysCmd(),
		c.newWatchCmd(),
		c.newVersionCmd(),
	)
}

func (c *CLI) setupFlags() {
	flags := c.rootCmd.PersistentFlags()

	flags.StringVarP(&c.config.ConfigFile, "config", "c", c.config.ConfigFile,
		"config file (default: ./compose-farm.yaml, then ~/.config/compose-farm/compose-farm.yaml)")
	flags.StringVar(&c.config.LogLevel, "log-level", c.config.LogLevel, "log level (debug, info, warn, error)")
	flags.BoolVar(&c.config.NoColor, "no-color", c.config.NoColor, "disable colored output")

	// the flag wins over CF_LOG_LEVEL and log_level in the config file
	_ = c.env.Viper().BindPFlag("log_level", flags.Lookup("log-level"))
}

func (c *CLI) initialize(cmd *cobra.Command, args []string) error {
	if c.config.NoColor {
		color.NoColor = true
	}
	level := c.config.LogLevel
	if c.env.Viper().IsSet("log_level") {
		level = c.env.Viper().GetString("log_level")
	}
	c.logger = logger.CreateLoggerWithOutput("", level, c.errorOut)

	c.process = process.NewManager(c.logger)
	cmd.SetContext(c.process.Start(cmd.Context()))
	return nil
}

// loadConfig resolves and loads the config with environment overrides applied
func (c *CLI) loadConfig() (*config.Config, error) {
	path, err := config.ResolvePath(c.config.ConfigFile)
	if err != nil {
		return nil, err
	}
	cfg, err := config.NewManager().WithEnv(c.env).LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if cfg.LogLevel != "" && !c.rootCmd.PersistentFlags().Changed("log-level") {
		c.logger = logger.CreateLoggerWithOutput("", cfg.LogLevel, c.errorOut)
	}
	c.logger.Debug("Loaded configuration",
		logger.WithField("path", cfg.Path),
		logger.WithField("state", cfg.StateFile))
	return cfg, nil
}

// newEngine builds an engine for cfg using the configured or default executor
func (c *CLI) newEngine(cfg *config.Config) *engine.Engine {
	return engine.New(engine.Options{
		Config:   cfg,
		Executor: c.executorFor(cfg),
		Logger:   c.logger,
	})
}

func (c *CLI) loadEngine() (*engine.Engine, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	return c.newEngine(cfg), nil
}

func (c *CLI) executorFor(cfg *config.Config) executor.Executor {
	if c.config.Executor != nil {
		return c.config.Executor
	}
	sink := logger.NewConsoleSink(c.output, c.errorOut)
	if c.config.NoColor {
		sink.DisableColors()
	}
	return executor.New(executor.Options{
		Sink:   sink,
		Logger: c.logger,
		SSH:    executor.SSHConfig{KeyPath: cfg.SSHKey},
	})
}
