// Package notifier raises desktop notifications for watch-mode apply runs
package notifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/compose-farm/compose-farm/pkg/logger"
	"github.com/gen2brain/beeep"
)

//go:generate mockgen -destination=../mocks/mocks.go -package=mocks github.com/compose-farm/compose-farm/pkg/notifier Notifier

// Notifier reports the outcome of an unattended apply
type Notifier interface {
	NotifyApplyFailure(failed []string, err error)
	NotifyApplyRecovered(duration time.Duration)
}

// maxListed caps how many unit names go into one notification body
const maxListed = 5

// DesktopNotifier sends notifications through the platform notification daemon
type DesktopNotifier struct {
	enabled bool
	sound   bool
	logger  logger.Logger
	send    func(title, message string) error
	beep    func() error
}

// Config represents notification configuration
type Config struct {
	Enabled bool
	// Sound beeps on failure
	Sound bool
}

// New creates a desktop notifier; a disabled notifier only logs at debug level
func New(config Config, log logger.Logger) *DesktopNotifier {
	if log == nil {
		log = logger.Discard()
	}
	return &DesktopNotifier{
		enabled: config.Enabled,
		sound:   config.Sound,
		logger:  log,
		send: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
		beep: func() error {
			return beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration)
		},
	}
}

// NotifyApplyFailure reports the units that failed during apply
func (n *DesktopNotifier) NotifyApplyFailure(failed []string, err error) {
	message := failureMessage(failed, err)
	if !n.enabled {
		n.logger.Debug("Notification suppressed", logger.WithField("message", message))
		return
	}
	n.sendNotification("compose-farm: apply failed", message)

	if n.sound {
		if err := n.beep(); err != nil {
			n.logger.Debug("Failed to play sound", logger.WithField("error", err))
		}
	}
}

// NotifyApplyRecovered reports the first successful apply after a failure
func (n *DesktopNotifier) NotifyApplyRecovered(duration time.Duration) {
	message := fmt.Sprintf("all units reconciled in %s", formatDuration(duration))
	if !n.enabled {
		n.logger.Debug("Notification suppressed", logger.WithField("message", message))
		return
	}
	n.sendNotification("compose-farm: apply recovered", message)
}

func (n *DesktopNotifier) sendNotification(title, message string) {
	if err := n.send(title, message); err != nil {
		// Headless hosts have no notification daemon
		n.logger.Debug("Failed to send notification", logger.WithField("error", err))
		n.logger.Info(fmt.Sprintf("%s: %s", title, message))
	}
}

func failureMessage(failed []string, err error) string {
	var parts []string
	if len(failed) > 0 {
		listed := failed
		if len(listed) > maxListed {
			listed = listed[:maxListed]
		}
		unitList := strings.Join(listed, ", ")
		if extra := len(failed) - len(listed); extra > 0 {
			unitList += fmt.Sprintf(" and %d more", extra)
		}
		parts = append(parts, "failed: "+unitList)
	}
	if err != nil {
		parts = append(parts, err.Error())
	}
	if len(parts) == 0 {
		return "apply failed"
	}
	return strings.Join(parts, "; ")
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
