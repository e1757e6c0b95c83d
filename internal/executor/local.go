package executor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/compose-farm/compose-farm/pkg/logger"
	"github.com/compose-farm/compose-farm/pkg/types"
)

// interruptGrace is how long a local child gets to exit after SIGINT
const interruptGrace = 10 * time.Second

// LocalRunner spawns commands on this machine
type LocalRunner struct {
	sink logger.OutputSink
}

// NewLocalRunner creates a local runner that streams into sink
func NewLocalRunner(sink logger.OutputSink) *LocalRunner {
	return &LocalRunner{sink: sink}
}

// Run executes cmd. Argv commands are spawned directly; scripts go through sh -c.
func (r *LocalRunner) Run(ctx context.Context, cmd Command, label string, mode Mode) types.CommandResult {
	if ctx.Err() != nil {
		return interrupted(label)
	}

	var c *exec.Cmd
	if cmd.IsScript() {
		c = exec.CommandContext(ctx, "sh", "-c", cmd.String())
	} else {
		c = exec.CommandContext(ctx, cmd.Program, cmd.Args...)
	}
	// docker compose shuts containers down cleanly on SIGINT
	c.Cancel = func() error {
		return c.Process.Signal(os.Interrupt)
	}
	c.WaitDelay = interruptGrace

	var stdout, stderr bytes.Buffer
	var closers []io.Closer
	if mode == Streaming {
		outW := logger.NewLineWriter(r.sink, label, logger.Stdout)
		errW := logger.NewLineWriter(r.sink, label, logger.Stderr)
		c.Stdout, c.Stderr = outW, errW
		closers = append(closers, outW, errW)
	} else {
		c.Stdout, c.Stderr = &stdout, &stderr
	}

	err := c.Run()
	for _, cl := range closers {
		cl.Close()
	}

	if ctx.Err() != nil {
		res := interrupted(label)
		res.Stdout, res.Stderr = stdout.String(), stderr.String()
		return res
	}

	result := types.CommandResult{
		Label:  label,
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.Success = true
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		if result.ExitCode < 0 {
			result.ExitCode = 1
		}
	case errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist):
		result.ExitCode = ExitNotFound
		result.Err = "local error: " + err.Error()
	default:
		result.ExitCode = 1
		result.Err = "local error: " + err.Error()
	}
	return result
}

var localAddresses = map[string]bool{
	"local":     true,
	"localhost": true,
	"127.0.0.1": true,
	"::1":       true,
}

// LocalDetector decides whether a host address refers to this machine
type LocalDetector struct {
	once  sync.Once
	ips   map[string]bool
	addrs func() ([]net.Addr, error)
}

// NewLocalDetector creates a detector backed by this machine's interface addresses
func NewLocalDetector() *LocalDetector {
	return &LocalDetector{addrs: net.InterfaceAddrs}
}

// IsLocal reports whether host should run without SSH
func (d *LocalDetector) IsLocal(host types.Host) bool {
	addr := strings.ToLower(strings.Trim(host.Address, "[]"))
	if localAddresses[addr] {
		return true
	}
	d.once.Do(d.load)
	return d.ips[addr]
}

func (d *LocalDetector) load() {
	d.ips = make(map[string]bool)
	addrs, err := d.addrs()
	if err != nil {
		return
	}
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip != nil {
			d.ips[ip.String()] = true
		}
	}
	if hostname, err := os.Hostname(); err == nil {
		d.ips[strings.ToLower(hostname)] = true
	}
}
