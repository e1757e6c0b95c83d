// Package executor runs commands on fleet hosts, locally or over SSH.
//
// Remote hosts are reached with golang.org/x/crypto/ssh and host keys are NOT
// verified (ssh.InsecureIgnoreHostKey). compose-farm targets trusted home-lab and
// private fleets where hosts are re-imaged often and known_hosts churn is the
// common failure; operators who need verification should reach hosts through a
// bastion that enforces it.
//
// Executors never return errors. Transport failures, missing binaries and
// non-zero exits all become a failed types.CommandResult; cancellation of the
// context is reported with Interrupted set.
package executor

import (
	"context"

	"github.com/compose-farm/compose-farm/pkg/logger"
	"github.com/compose-farm/compose-farm/pkg/types"
)

// Mode selects how command output is handled
type Mode int

const (
	// Streaming forwards every output line to the sink as it arrives
	Streaming Mode = iota
	// Buffered captures stdout and stderr and returns them in the result
	Buffered
)

func (m Mode) String() string {
	if m == Buffered {
		return "buffered"
	}
	return "streaming"
}

// Exit codes used for failures that have no process exit status
const (
	ExitTransport   = 255
	ExitNotFound    = 127
	ExitInterrupted = 130
	ExitTimeout     = 124
)

// Command is a structured argv, or a compound shell script built by the probe helpers
type Command struct {
	Program string
	Args    []string
	script  string
}

// Cmd builds an argv command
func Cmd(program string, args ...string) Command {
	return Command{Program: program, Args: args}
}

// IsScript reports whether the command is a compound shell expression
func (c Command) IsScript() bool {
	return c.script != ""
}

// String renders the command as one shell-safe line
func (c Command) String() string {
	if c.script != "" {
		return c.script
	}
	return QuoteAll(append([]string{c.Program}, c.Args...)...)
}

// Executor runs one command on one host
type Executor interface {
	Run(ctx context.Context, host types.Host, cmd Command, label string, mode Mode) types.CommandResult
}

// Options configures a Runner
type Options struct {
	Sink    logger.OutputSink
	Logger  logger.Logger
	SSH     SSHConfig
	IsLocal func(types.Host) bool
}

// Runner dispatches to the local or SSH runner depending on the host address
type Runner struct {
	local   *LocalRunner
	remote  *SSHRunner
	isLocal func(types.Host) bool
	logger  logger.Logger
}

// New creates a Runner. It is safe for concurrent use.
func New(opts Options) *Runner {
	if opts.Sink == nil {
		opts.Sink = logger.DiscardSink{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.IsLocal == nil {
		opts.IsLocal = NewLocalDetector().IsLocal
	}
	return &Runner{
		local:   NewLocalRunner(opts.Sink),
		remote:  NewSSHRunner(opts.SSH, opts.Sink),
		isLocal: opts.IsLocal,
		logger:  opts.Logger,
	}
}

// Run implements Executor
func (r *Runner) Run(ctx context.Context, host types.Host, cmd Command, label string, mode Mode) types.CommandResult {
	var result types.CommandResult
	if r.isLocal(host) {
		r.logger.Debug("Running locally",
			logger.WithField("label", label),
			logger.WithField("command", cmd.String()))
		result = r.local.Run(ctx, cmd, label, mode)
	} else {
		r.logger.Debug("Running over ssh",
			logger.WithField("label", label),
			logger.WithField("host", host.Endpoint()),
			logger.WithField("command", cmd.String()))
		result = r.remote.Run(ctx, host, cmd, label, mode)
	}
	result.Host = host.Name
	if result.Err != "" && !result.Interrupted {
		r.logger.WithTarget(label).Error(result.Err)
	}
	return result
}

func interrupted(label string) types.CommandResult {
	return types.CommandResult{
		Label:       label,
		ExitCode:    ExitInterrupted,
		Interrupted: true,
		Err:         "interrupted",
	}
}
