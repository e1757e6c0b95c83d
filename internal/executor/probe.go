package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	ferrors "github.com/compose-farm/compose-farm/pkg/errors"
	"github.com/compose-farm/compose-farm/pkg/types"
)

// PathProbe builds one compound command that reports Y:<path> or N:<path> per path
func PathProbe(paths []string) Command {
	checks := make([]string, len(paths))
	for i, p := range paths {
		checks[i] = fmt.Sprintf("test -e %s && echo %s || echo %s",
			Quote(p), Quote("Y:"+p), Quote("N:"+p))
	}
	return Command{script: strings.Join(checks, "; ")}
}

// NetworkProbe builds one compound command that reports Y:<net> or N:<net> per docker network
func NetworkProbe(networks []string) Command {
	checks := make([]string, len(networks))
	for i, n := range networks {
		checks[i] = fmt.Sprintf("docker network inspect %s >/dev/null 2>&1 && echo %s || echo %s",
			Quote(n), Quote("Y:"+n), Quote("N:"+n))
	}
	return Command{script: strings.Join(checks, "; ")}
}

// ParseProbe maps every item to whether the probe reported it present.
// Items that were not reported at all count as missing.
func ParseProbe(items []string, stdout string) map[string]bool {
	found := make(map[string]bool, len(items))
	for _, item := range items {
		found[item] = false
	}
	for _, raw := range strings.Split(stdout, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, "Y:"):
			if _, ok := found[line[2:]]; ok {
				found[line[2:]] = true
			}
		case strings.HasPrefix(line, "N:"):
			if _, ok := found[line[2:]]; ok {
				found[line[2:]] = false
			}
		}
	}
	return found
}

// Prober runs batched existence checks: one executor invocation per host per probe kind
type Prober struct {
	Executor Executor
	Timeout  time.Duration
}

// CheckPaths reports which filesystem paths exist on host
func (p Prober) CheckPaths(ctx context.Context, host types.Host, paths []string) (map[string]bool, error) {
	return p.probe(ctx, host, PathProbe(paths), "path-check", paths)
}

// CheckNetworks reports which docker networks exist on host
func (p Prober) CheckNetworks(ctx context.Context, host types.Host, networks []string) (map[string]bool, error) {
	return p.probe(ctx, host, NetworkProbe(networks), "network-check", networks)
}

// Run executes a short buffered command bounded by the probe timeout.
// A timeout is reported as a failed, non-interrupted result.
func (p Prober) Run(ctx context.Context, host types.Host, cmd Command, label string) types.CommandResult {
	probeCtx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	result := p.Executor.Run(probeCtx, host, cmd, label, Buffered)
	if result.Interrupted && ctx.Err() == nil {
		result.Interrupted = false
		result.ExitCode = ExitTimeout
		result.Err = fmt.Sprintf("probe timed out after %s", p.Timeout)
	}
	return result
}

func (p Prober) probe(ctx context.Context, host types.Host, cmd Command, kind string, items []string) (map[string]bool, error) {
	if len(items) == 0 {
		return map[string]bool{}, nil
	}

	result := p.Run(ctx, host, cmd, types.Label(kind, host.Name))
	switch {
	case result.Interrupted:
		return nil, ferrors.NewInterruptedError(kind+" interrupted", nil).WithContext("host", host.Name)
	case !result.Success:
		msg := result.Err
		if msg == "" {
			msg = strings.TrimSpace(result.Stderr)
		}
		return nil, ferrors.NewTransportError(
			fmt.Sprintf("%s on %s failed", kind, host.Name), errors.New(msg)).
			WithContext("host", host.Name).
			WithContext("exit_code", result.ExitCode)
	}
	return ParseProbe(items, result.Stdout), nil
}
