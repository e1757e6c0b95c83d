package daemon

import "errors"

// Sentinel errors for watch daemon operations
var (
	// ErrDaemonNotRunning indicates the daemon is not currently running
	ErrDaemonNotRunning = errors.New("daemon is not running")

	// ErrDaemonAlreadyRunning indicates Run was called twice
	ErrDaemonAlreadyRunning = errors.New("daemon is already running")

	// ErrDaemonStartFailed indicates the config watcher could not be started
	ErrDaemonStartFailed = errors.New("daemon failed to start")
)
