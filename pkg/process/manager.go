// Package process ties a run context to OS signals
package process

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/compose-farm/compose-farm/pkg/logger"
)

// ExitInterrupted is the conventional exit status after SIGINT
const ExitInterrupted = 130

// Manager handles process lifecycle and signals.
// The first signal cancels the run context; a second one exits immediately.
type Manager struct {
	logger           logger.Logger
	shutdownHandlers []func()
	onHangup         func()
	sigChan          chan os.Signal
	exit             func(int)
	ctx              context.Context
	cancel           context.CancelFunc
	received         os.Signal
	stopped          chan struct{}
	wg               sync.WaitGroup
	mu               sync.Mutex
	running          bool
}

// NewManager creates a new process manager
func NewManager(log logger.Logger) *Manager {
	if log == nil {
		log = logger.Discard()
	}
	return &Manager{
		logger:           log,
		shutdownHandlers: make([]func(), 0),
		sigChan:          make(chan os.Signal, 2),
		exit:             os.Exit,
	}
}

// RegisterShutdownHandler adds a handler run once the context is cancelled by a signal.
// Handlers run in reverse registration order.
func (m *Manager) RegisterShutdownHandler(handler func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shutdownHandlers = append(m.shutdownHandlers, handler)
}

// OnHangup makes SIGHUP call fn instead of cancelling the run context
func (m *Manager) OnHangup(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onHangup = fn
}

// Start returns a context derived from parent that is cancelled on SIGINT, SIGTERM or SIGHUP.
// Calling Start again before Stop returns the same context.
func (m *Manager) Start(parent context.Context) context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return m.ctx
	}
	ctx, cancel := context.WithCancel(parent)
	m.running = true
	m.ctx = ctx
	m.cancel = cancel
	m.received = nil
	m.stopped = make(chan struct{})

	signal.Notify(m.sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	m.wg.Add(1)
	go m.loop(ctx, m.stopped)

	return ctx
}

// Stop releases signal handling and cancels the run context
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	signal.Stop(m.sigChan)
	close(m.stopped)
	m.cancel()
	m.mu.Unlock()

	m.wg.Wait()
}

// IsRunning checks if the process manager is running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Received returns the signal that cancelled the run, or nil
func (m *Manager) Received() os.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.received
}

// Interrupted reports whether a signal cancelled the run
func (m *Manager) Interrupted() bool {
	return m.Received() != nil
}

func (m *Manager) loop(ctx context.Context, stopped <-chan struct{}) {
	defer m.wg.Done()

	var sig os.Signal
	for sig == nil {
		select {
		case <-stopped:
			return
		case <-ctx.Done():
			return
		case sig = <-m.sigChan:
			m.mu.Lock()
			hangup := m.onHangup
			m.mu.Unlock()
			if sig == syscall.SIGHUP && hangup != nil {
				m.logger.Info("Received hangup, reloading")
				hangup()
				sig = nil
			}
		}
	}

	m.logger.Warn("Received signal, interrupting", logger.WithField("signal", sig))
	m.mu.Lock()
	m.received = sig
	m.mu.Unlock()
	m.cancel()
	m.handleShutdown()

	select {
	case <-stopped:
	case sig := <-m.sigChan:
		m.logger.Error("Received second signal, exiting", logger.WithField("signal", sig))
		m.exit(ExitInterrupted)
	}
}

func (m *Manager) handleShutdown() {
	m.mu.Lock()
	handlers := make([]func(), len(m.shutdownHandlers))
	copy(handlers, m.shutdownHandlers)
	m.mu.Unlock()

	for i := len(handlers) - 1; i >= 0; i-- {
		handlers[i]()
	}
}
