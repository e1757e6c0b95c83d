package executor_test

import (
	"context"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/compose-farm/compose-farm/internal/executor"
	ferrors "github.com/compose-farm/compose-farm/pkg/errors"
	"github.com/compose-farm/compose-farm/pkg/logger"
	"github.com/compose-farm/compose-farm/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var localHost = types.Host{Name: "here", Address: "localhost"}

func TestQuote_RoundTripsThroughShell(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	words := []string{
		"plain",
		"with space",
		"it's",
		`"double"`,
		"$(touch /tmp/pwned)",
		"`uname`",
		"semi;colon && pipe|",
		"",
		"glob*?[x]",
		"new\nline",
	}
	for _, w := range words {
		out, err := exec.Command("sh", "-c", "printf %s "+executor.Quote(w)).Output()
		require.NoError(t, err, "word %q", w)
		assert.Equal(t, w, string(out))
	}
}

func TestQuote_LeavesSafeWordsBare(t *testing.T) {
	assert.Equal(t, "/opt/compose/web/compose.yaml", executor.Quote("/opt/compose/web/compose.yaml"))
	assert.Equal(t, "up", executor.Quote("up"))
	assert.Equal(t, "'a b'", executor.Quote("a b"))
	assert.Equal(t, "docker compose -f '/srv/my app/compose.yaml' up -d",
		executor.Cmd("docker", "compose", "-f", "/srv/my app/compose.yaml", "up", "-d").String())
}

func TestLocalRunner_Buffered(t *testing.T) {
	r := executor.NewLocalRunner(logger.DiscardSink{})

	res := r.Run(context.Background(), executor.Cmd("sh", "-c", "echo out; echo err >&2"), "web", executor.Buffered)

	assert.True(t, res.Success)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
}

func TestLocalRunner_NonZeroExit(t *testing.T) {
	r := executor.NewLocalRunner(logger.DiscardSink{})

	res := r.Run(context.Background(), executor.Cmd("sh", "-c", "exit 3"), "web", executor.Buffered)

	assert.False(t, res.Success)
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.Interrupted)
	assert.Empty(t, res.Err)
}

func TestLocalRunner_MissingBinary(t *testing.T) {
	r := executor.NewLocalRunner(logger.DiscardSink{})

	res := r.Run(context.Background(), executor.Cmd("definitely-not-a-binary-cf"), "web", executor.Buffered)

	assert.False(t, res.Success)
	assert.Equal(t, executor.ExitNotFound, res.ExitCode)
	assert.Contains(t, res.Err, "local error")
}

func TestLocalRunner_Streaming(t *testing.T) {
	sink := &logger.BufferSink{}
	r := executor.NewLocalRunner(sink)

	res := r.Run(context.Background(), executor.Cmd("sh", "-c", "echo one; echo two >&2; echo three"), "web@here", executor.Streaming)

	require.True(t, res.Success)
	assert.Empty(t, res.Stdout, "streaming mode does not capture output")

	var stdout, stderr []string
	for _, l := range sink.Lines() {
		assert.Equal(t, "web@here", l.Label)
		if l.Stream == logger.Stderr {
			stderr = append(stderr, l.Text)
		} else {
			stdout = append(stdout, l.Text)
		}
	}
	assert.Equal(t, []string{"one", "three"}, stdout)
	assert.Equal(t, []string{"two"}, stderr)
}

func TestLocalRunner_Interrupted(t *testing.T) {
	r := executor.NewLocalRunner(logger.DiscardSink{})
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	res := r.Run(ctx, executor.Cmd("sleep", "30"), "web", executor.Buffered)

	assert.True(t, res.Interrupted)
	assert.False(t, res.Success)
	assert.Equal(t, executor.ExitInterrupted, res.ExitCode)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestLocalRunner_AlreadyCancelled(t *testing.T) {
	r := executor.NewLocalRunner(logger.DiscardSink{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := r.Run(ctx, executor.Cmd("true"), "web", executor.Buffered)
	assert.True(t, res.Interrupted)
}

func TestLocalDetector(t *testing.T) {
	d := executor.NewLocalDetector()

	for _, addr := range []string{"local", "localhost", "LOCALHOST", "127.0.0.1", "::1", "[::1]"} {
		assert.True(t, d.IsLocal(types.Host{Address: addr}), addr)
	}
	assert.False(t, d.IsLocal(types.Host{Address: "203.0.113.99"}))

	// every interface address of this machine counts as local
	addrs, err := net.InterfaceAddrs()
	require.NoError(t, err)
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok {
			assert.True(t, d.IsLocal(types.Host{Address: ipnet.IP.String()}), ipnet.IP.String())
		}
	}
}

func TestRunner_DispatchesByAddress(t *testing.T) {
	var localCalls int32
	r := executor.New(executor.Options{
		IsLocal: func(h types.Host) bool {
			atomic.AddInt32(&localCalls, 1)
			return h.Address == "localhost"
		},
	})

	res := r.Run(context.Background(), localHost, executor.Cmd("true"), "web", executor.Buffered)
	assert.True(t, res.Success)
	assert.Equal(t, "here", res.Host)
	assert.Equal(t, int32(1), atomic.LoadInt32(&localCalls))
}

func TestProbe_PathsUseOneInvocation(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "data")
	require.NoError(t, os.Mkdir(present, 0o755))
	quoted := filepath.Join(dir, "it's here")
	require.NoError(t, os.WriteFile(quoted, nil, 0o644))
	missing := filepath.Join(dir, "nope")

	counter := &countingExecutor{inner: executor.NewLocalRunner(logger.DiscardSink{})}
	prober := executor.Prober{Executor: counter, Timeout: 5 * time.Second}

	found, err := prober.CheckPaths(context.Background(), localHost, []string{present, quoted, missing})
	require.NoError(t, err)

	assert.Equal(t, map[string]bool{present: true, quoted: true, missing: false}, found)
	assert.Equal(t, int32(1), atomic.LoadInt32(&counter.calls))
}

func TestProbe_EmptyIsFree(t *testing.T) {
	counter := &countingExecutor{inner: executor.NewLocalRunner(logger.DiscardSink{})}
	prober := executor.Prober{Executor: counter}

	found, err := prober.CheckNetworks(context.Background(), localHost, nil)
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.Equal(t, int32(0), atomic.LoadInt32(&counter.calls))
}

func TestProbe_Timeout(t *testing.T) {
	slow := executorFunc(func(ctx context.Context, _ types.Host, _ executor.Command, label string, _ executor.Mode) types.CommandResult {
		<-ctx.Done()
		return types.CommandResult{Label: label, Interrupted: true, ExitCode: executor.ExitInterrupted}
	})
	prober := executor.Prober{Executor: slow, Timeout: 20 * time.Millisecond}

	_, err := prober.CheckPaths(context.Background(), localHost, []string{"/x"})
	require.Error(t, err)
	assert.True(t, ferrors.IsTransportError(err))
	assert.Contains(t, err.Error(), "timed out")
}

func TestProbe_InterruptedByCaller(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	prober := executor.Prober{Executor: &countingExecutor{inner: executor.NewLocalRunner(logger.DiscardSink{})}, Timeout: time.Second}

	_, err := prober.CheckPaths(ctx, localHost, []string{"/x"})
	assert.True(t, ferrors.IsInterruptedError(err))
}

func TestParseProbe(t *testing.T) {
	out := "Y:/mnt/data\nN:/mnt/media\nY:/unrelated\ngarbage\n"
	got := executor.ParseProbe([]string{"/mnt/data", "/mnt/media", "/mnt/silent"}, out)

	assert.Equal(t, map[string]bool{"/mnt/data": true, "/mnt/media": false, "/mnt/silent": false}, got)
}

func TestNetworkProbe_QuotesNames(t *testing.T) {
	cmd := executor.NetworkProbe([]string{"edge", "we ird"})
	s := cmd.String()

	assert.True(t, cmd.IsScript())
	assert.Contains(t, s, "docker network inspect edge >/dev/null 2>&1 && echo Y:edge || echo N:edge")
	assert.Contains(t, s, "docker network inspect 'we ird'")
	assert.Equal(t, 1, strings.Count(s, "; "))
}

type countingExecutor struct {
	inner *executor.LocalRunner
	calls int32
}

func (c *countingExecutor) Run(ctx context.Context, _ types.Host, cmd executor.Command, label string, mode executor.Mode) types.CommandResult {
	atomic.AddInt32(&c.calls, 1)
	return c.inner.Run(ctx, cmd, label, mode)
}

type executorFunc func(ctx context.Context, host types.Host, cmd executor.Command, label string, mode executor.Mode) types.CommandResult

func (f executorFunc) Run(ctx context.Context, host types.Host, cmd executor.Command, label string, mode executor.Mode) types.CommandResult {
	return f(ctx, host, cmd, label, mode)
}
