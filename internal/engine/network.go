package engine

import (
	"context"
	"fmt"

	"github.com/compose-farm/compose-farm/internal/executor"
	ferrors "github.com/compose-farm/compose-farm/pkg/errors"
	"github.com/compose-farm/compose-farm/pkg/types"
)

// NetworkHint tells the operator how to create the external networks a host lacks
func NetworkHint(host string) string {
	return fmt.Sprintf("hint: compose-farm init-network %s", host)
}

// NetworkCreateCommand builds `docker network create <name>`
func NetworkCreateCommand(name string) executor.Command {
	return executor.Cmd("docker", "network", "create", name)
}

// InitNetworks creates the named external networks on host when they are missing.
// Without names it covers every external network needed by the units declared on host.
// Only networks that had to be created appear in the results.
func (e *Engine) InitNetworks(ctx context.Context, hostName string, names []string) ([]types.CommandResult, error) {
	host, ok := e.cfg.Host(hostName)
	if !ok {
		return nil, ferrors.NewNotFoundError(fmt.Sprintf("unknown host '%s'", hostName), nil)
	}

	if len(names) == 0 {
		for _, unit := range e.cfg.UnitsOnHost(hostName) {
			_, networks, _, err := e.requirements(unit)
			if err != nil {
				return nil, err
			}
			names = append(names, networks...)
		}
	}
	names = uniq(names)
	if len(names) == 0 {
		return nil, nil
	}

	found, err := e.prober.CheckNetworks(ctx, host, names)
	if err != nil {
		return nil, err
	}

	var results []types.CommandResult
	for _, name := range missing(names, found) {
		if ctx.Err() != nil {
			return results, ferrors.NewInterruptedError("network creation interrupted", ctx.Err())
		}
		e.logger.Info(fmt.Sprintf("Creating network %s on %s...", name, hostName))
		result := e.exec.Run(ctx, host, NetworkCreateCommand(name), types.Label(name, hostName), executor.Buffered)
		result.Host = hostName
		results = append(results, result)
	}
	return results, nil
}
