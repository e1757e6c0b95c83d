package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/compose-farm/compose-farm/internal/executor"
	"github.com/compose-farm/compose-farm/pkg/types"
)

// Compose subcommands issued by the engine
var (
	upArgs      = []string{"up", "-d"}
	downArgs    = []string{"down"}
	pullArgs    = []string{"pull", "--ignore-buildable"}
	buildArgs   = []string{"build"}
	runningArgs = []string{"ps", "--status", "running", "-q"}
)

// ComposeCommand builds `docker compose -f <file> <args...>`
func ComposeCommand(composePath string, args ...string) executor.Command {
	return executor.Cmd("docker", append([]string{"compose", "-f", composePath}, args...)...)
}

// ProjectsCommand lists the compose project of every running container on a host
func ProjectsCommand() executor.Command {
	return executor.Cmd("docker", "ps", "--format", `{{.Label "com.docker.compose.project"}}`)
}

// unitLabel is the unit name for single-host units and unit@host otherwise
func unitLabel(unit string, host string, multi bool) string {
	if multi {
		return types.Label(unit, host)
	}
	return unit
}

// compose runs one compose command for unit on a configured host and streams its output
func (e *Engine) compose(ctx context.Context, unit, hostName, label string, args ...string) types.CommandResult {
	return e.composeMode(ctx, unit, hostName, label, executor.Streaming, args...)
}

func (e *Engine) composeMode(ctx context.Context, unit, hostName, label string, mode executor.Mode, args ...string) types.CommandResult {
	host, ok := e.cfg.Host(hostName)
	if !ok {
		return types.CommandResult{
			Label:    label,
			Unit:     unit,
			Host:     hostName,
			ExitCode: executor.ExitTransport,
			Err:      fmt.Sprintf("host '%s' is not in config", hostName),
		}
	}
	result := e.exec.Run(ctx, host, ComposeCommand(e.cfg.ComposePath(unit), args...), label, mode)
	result.Unit = unit
	result.Host = hostName
	return result
}

// isRunning probes whether unit has running containers on host.
// A failed probe counts as not running.
func (e *Engine) isRunning(ctx context.Context, unit, hostName string) (running bool, probed bool) {
	host, ok := e.cfg.Host(hostName)
	if !ok {
		return false, false
	}
	cmd := ComposeCommand(e.cfg.ComposePath(unit), runningArgs...)
	result := e.prober.Run(ctx, host, cmd, types.Label(unit, hostName))
	if !result.Success {
		return false, false
	}
	return strings.TrimSpace(result.Stdout) != "", true
}
