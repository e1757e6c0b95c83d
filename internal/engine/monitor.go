package engine

import (
	"context"
	"strconv"

	ferrors "github.com/compose-farm/compose-farm/pkg/errors"
)

// LogsOptions controls Logs
type LogsOptions struct {
	// Tail is the number of lines per host; 0 picks 100 for one unit and 20 for several
	Tail    int
	Follow  bool
	Service string
}

// Logs prints compose logs of units from every declared host
func (e *Engine) Logs(ctx context.Context, names []string, opts LogsOptions) ([]UnitResult, error) {
	if err := serviceNeedsOneUnit(opts.Service, names); err != nil {
		return nil, err
	}
	tail := opts.Tail
	if tail <= 0 {
		tail = 100
		if len(uniq(names)) > 1 {
			tail = 20
		}
	}

	args := []string{"logs", "--tail", strconv.Itoa(tail)}
	if opts.Follow {
		args = append(args, "-f")
	}
	if opts.Service != "" {
		args = append(args, opts.Service)
	}
	return e.sequence(ctx, names, ActionLogs, false, args)
}

// Ps shows the compose containers of units on every declared host
func (e *Engine) Ps(ctx context.Context, names []string, service string) ([]UnitResult, error) {
	if err := serviceNeedsOneUnit(service, names); err != nil {
		return nil, err
	}
	args := []string{"ps"}
	if service != "" {
		args = append(args, service)
	}
	return e.sequence(ctx, names, ActionPs, false, args)
}

func serviceNeedsOneUnit(service string, names []string) error {
	if service != "" && len(uniq(names)) != 1 {
		return ferrors.NewValidationError("--service requires exactly one unit", nil)
	}
	return nil
}
