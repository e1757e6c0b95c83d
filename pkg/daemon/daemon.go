// Package daemon keeps the fleet reconciled: it applies on start and again
// whenever the config file changes.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/compose-farm/compose-farm/internal/engine"
	"github.com/compose-farm/compose-farm/pkg/config"
	pctx "github.com/compose-farm/compose-farm/pkg/context"
	"github.com/compose-farm/compose-farm/pkg/logger"
	"github.com/compose-farm/compose-farm/pkg/notifier"
)

// Applier reconciles one config snapshot
type Applier interface {
	Apply(ctx context.Context, opts engine.ApplyOptions) (engine.ApplyReport, error)
}

// ApplierFactory builds an Applier for a freshly loaded config
type ApplierFactory func(cfg *config.Config) (Applier, error)

// Config represents daemon configuration
type Config struct {
	ConfigPath string
	Apply      engine.ApplyOptions
	// Debounce coalesces bursts of file events; zero keeps the reload manager default
	Debounce time.Duration
	// Interval re-applies periodically to repair drift; zero disables it
	Interval time.Duration
}

// Options holds the daemon's collaborators
type Options struct {
	Config     Config
	Manager    *config.Manager
	NewApplier ApplierFactory
	Notifier   notifier.Notifier
	Logger     logger.Logger
}

// Status represents daemon status
type Status struct {
	Running   bool
	Runs      int
	Failures  int
	Failing   bool
	LastRun   time.Time
	LastError string
}

// Daemon watches the config file and re-applies it
type Daemon struct {
	config     Config
	manager    *config.Manager
	newApplier ApplierFactory
	notifier   notifier.Notifier
	logger     logger.Logger
	reload     *config.ReloadManager
	pending    chan *config.Config
	status     Status
	mu         sync.RWMutex
}

// New creates a watch daemon
func New(opts Options) *Daemon {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	manager := opts.Manager
	if manager == nil {
		manager = config.NewManager()
	}
	n := opts.Notifier
	if n == nil {
		n = notifier.New(notifier.Config{}, log)
	}
	return &Daemon{
		config:     opts.Config,
		manager:    manager,
		newApplier: opts.NewApplier,
		notifier:   n,
		logger:     log,
		pending:    make(chan *config.Config, 1),
	}
}

// Run applies the current config, then re-applies on every change until ctx is cancelled
func (d *Daemon) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.status.Running {
		d.mu.Unlock()
		return ErrDaemonAlreadyRunning
	}
	d.status.Running = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.status.Running = false
		d.reload = nil
		d.mu.Unlock()
	}()

	cfg, err := d.manager.LoadConfig(d.config.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	reload := config.NewReloadManager(d.config.ConfigPath, d.manager, d.logger)
	if d.config.Debounce > 0 {
		reload.SetDebouncePeriod(d.config.Debounce)
	}
	reload.AddCallback(d.onReload)
	if err := reload.StartWatching(); err != nil {
		return fmt.Errorf("%w: %v", ErrDaemonStartFailed, err)
	}
	defer reload.StopWatching()

	d.mu.Lock()
	d.reload = reload
	d.mu.Unlock()

	d.logger.Info("Watching configuration", logger.WithField("path", d.config.ConfigPath))
	d.runApply(ctx, cfg, "startup")

	var tick <-chan time.Time
	if d.config.Interval > 0 {
		ticker := time.NewTicker(d.config.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Watch stopped", logger.WithField("reason", ctx.Err()))
			return nil
		case next := <-d.pending:
			cfg = next
			d.runApply(ctx, cfg, "config change")
		case <-tick:
			d.runApply(ctx, cfg, "interval")
		}
	}
}

// Trigger reloads the config from disk and re-applies it even if the file is unchanged
func (d *Daemon) Trigger() error {
	d.mu.RLock()
	reload := d.reload
	d.mu.RUnlock()
	if reload == nil {
		return ErrDaemonNotRunning
	}
	reload.TriggerReload()
	return nil
}

// Status returns a snapshot of the daemon's counters
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

// IsRunning checks if the daemon is running
func (d *Daemon) IsRunning() bool {
	return d.Status().Running
}

// onReload runs on the watcher goroutine, so it only queues the new config
func (d *Daemon) onReload(cfg *config.Config, err error) {
	if err != nil {
		d.logger.Warn("Keeping previous configuration", logger.WithField("error", err))
		d.fail(nil, err)
		return
	}

	for {
		select {
		case d.pending <- cfg:
			return
		default:
		}
		// replace a config that has not been applied yet
		select {
		case <-d.pending:
		default:
		}
	}
}

func (d *Daemon) runApply(ctx context.Context, cfg *config.Config, reason string) {
	ctx = pctx.StartRun(ctx, "watch")
	log := logger.WithContext(ctx, d.logger)
	log.Info("Applying configuration", logger.WithField("reason", reason))

	applier, err := d.newApplier(cfg)
	if err != nil {
		log.Error("Cannot build engine", logger.WithField("error", err))
		d.fail(nil, err)
		return
	}

	report, err := applier.Apply(ctx, d.config.Apply)
	switch {
	case ctx.Err() != nil || report.Interrupted:
		log.Warn("Apply interrupted")
	case err != nil:
		log.Error("Apply failed", logger.WithField("error", err))
		d.fail(nil, err)
	case report.Failed():
		d.fail(failedUnits(report), nil)
	default:
		d.succeed(pctx.GetDuration(ctx))
	}
}

func (d *Daemon) fail(units []string, err error) {
	d.mu.Lock()
	d.status.Runs++
	d.status.Failures++
	d.status.Failing = true
	d.status.LastRun = time.Now()
	d.status.LastError = failureText(units, err)
	d.mu.Unlock()

	d.notifier.NotifyApplyFailure(units, err)
}

func (d *Daemon) succeed(duration time.Duration) {
	d.mu.Lock()
	recovered := d.status.Failing
	d.status.Runs++
	d.status.Failing = false
	d.status.LastRun = time.Now()
	d.status.LastError = ""
	d.mu.Unlock()

	if recovered {
		d.logger.Success("Fleet reconciled after earlier failure")
		d.notifier.NotifyApplyRecovered(duration)
	}
}

func failedUnits(report engine.ApplyReport) []string {
	seen := make(map[string]bool)
	var units []string
	for _, r := range report.Results() {
		if r.Failed() && !seen[r.Unit] {
			seen[r.Unit] = true
			units = append(units, r.Unit)
		}
	}
	return units
}

func failureText(units []string, err error) string {
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("%d unit(s) failed: %v", len(units), units)
}
