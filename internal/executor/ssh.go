package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/compose-farm/compose-farm/pkg/logger"
	"github.com/compose-farm/compose-farm/pkg/types"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// DefaultKeyName is the dedicated key compose-farm looks for in ~/.ssh
const DefaultKeyName = "compose-farm"

// SSHConfig configures remote execution
type SSHConfig struct {
	// KeyPath is tried before the standard ~/.ssh identities
	KeyPath     string
	DialTimeout time.Duration
	// AgentSocket defaults to $SSH_AUTH_SOCK
	AgentSocket string
}

// SSHRunner runs commands over a fresh SSH connection per invocation
type SSHRunner struct {
	config SSHConfig
	sink   logger.OutputSink
}

// NewSSHRunner creates a remote runner
func NewSSHRunner(config SSHConfig, sink logger.OutputSink) *SSHRunner {
	if config.DialTimeout == 0 {
		config.DialTimeout = 10 * time.Second
	}
	if config.AgentSocket == "" {
		config.AgentSocket = os.Getenv("SSH_AUTH_SOCK")
	}
	return &SSHRunner{config: config, sink: sink}
}

// DefaultKeyPath returns ~/.ssh/compose-farm
func DefaultKeyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ssh", DefaultKeyName)
}

// Run executes cmd on host
func (r *SSHRunner) Run(ctx context.Context, host types.Host, cmd Command, label string, mode Mode) types.CommandResult {
	if ctx.Err() != nil {
		return interrupted(label)
	}

	client, closeAuth, err := r.dial(ctx, host)
	if err != nil {
		if ctx.Err() != nil {
			return interrupted(label)
		}
		return transportFailure(label, fmt.Errorf("ssh error: %w", err))
	}
	defer closeAuth()
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return transportFailure(label, fmt.Errorf("ssh session: %w", err))
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	var closers []io.Closer
	if mode == Streaming {
		outW := logger.NewLineWriter(r.sink, label, logger.Stdout)
		errW := logger.NewLineWriter(r.sink, label, logger.Stderr)
		session.Stdout, session.Stderr = outW, errW
		closers = append(closers, outW, errW)
	} else {
		session.Stdout, session.Stderr = &stdout, &stderr
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd.String())
	}()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGINT)
		select {
		case <-done:
		case <-time.After(interruptGrace):
			client.Close()
			<-done
		}
		for _, cl := range closers {
			cl.Close()
		}
		res := interrupted(label)
		res.Stdout, res.Stderr = stdout.String(), stderr.String()
		return res
	}
	for _, cl := range closers {
		cl.Close()
	}

	result := types.CommandResult{
		Label:  label,
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	var exitErr *ssh.ExitError
	var missingErr *ssh.ExitMissingError
	switch {
	case runErr == nil:
		result.Success = true
	case errors.As(runErr, &exitErr):
		result.ExitCode = exitErr.ExitStatus()
	case errors.As(runErr, &missingErr):
		result.ExitCode = ExitTransport
		result.Err = "ssh error: remote command exited without status"
	default:
		result.ExitCode = ExitTransport
		result.Err = "ssh error: " + runErr.Error()
	}
	return result
}

func transportFailure(label string, err error) types.CommandResult {
	return types.CommandResult{
		Label:    label,
		ExitCode: ExitTransport,
		Err:      err.Error(),
	}
}

func (r *SSHRunner) dial(ctx context.Context, host types.Host) (*ssh.Client, func(), error) {
	auth, closeAuth := r.authMethods()
	if len(auth) == 0 {
		closeAuth()
		return nil, nil, errors.New("no ssh agent or private key available")
	}

	config := &ssh.ClientConfig{
		User: host.User,
		Auth: auth,
		// Host keys are deliberately not verified, see the package documentation
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         r.config.DialTimeout,
	}

	addr := host.Endpoint()
	dialer := net.Dialer{Timeout: r.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		closeAuth()
		return nil, nil, err
	}

	// Bound the handshake, then clear the deadline for the command itself
	_ = conn.SetDeadline(time.Now().Add(r.config.DialTimeout))
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	stop()
	if err != nil {
		conn.Close()
		closeAuth()
		return nil, nil, err
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(c, chans, reqs), closeAuth, nil
}

// authMethods collects the agent and any readable unencrypted private keys
func (r *SSHRunner) authMethods() ([]ssh.AuthMethod, func()) {
	var methods []ssh.AuthMethod
	closeAuth := func() {}

	if r.config.AgentSocket != "" {
		if conn, err := net.Dial("unix", r.config.AgentSocket); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			closeAuth = func() { conn.Close() }
		}
	}

	var signers []ssh.Signer
	for _, path := range r.keyPaths() {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			continue
		}
		signers = append(signers, signer)
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}
	return methods, closeAuth
}

func (r *SSHRunner) keyPaths() []string {
	var paths []string
	if r.config.KeyPath != "" {
		paths = append(paths, r.config.KeyPath)
	} else if p := DefaultKeyPath(); p != "" {
		paths = append(paths, p)
	}
	if home, err := os.UserHomeDir(); err == nil {
		for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
			paths = append(paths, filepath.Join(home, ".ssh", name))
		}
	}
	return paths
}
