// Package ui defines the external tray/CLI notifier interface the
// Session Supervisor reports status changes to (out of scope per spec.md
// §1; only the interface and a logging stub live here).
package ui

import (
	"go.uber.org/zap"

	"github.com/rc-deceive/deceive/pkg/presence"
)

// Notifier is implemented by whatever presents Deceive's status to the user
// (a system tray icon, a TUI, etc.).
type Notifier interface {
	StatusChanged(mode presence.Mode, enabled bool)
}

// LoggingNotifier satisfies Notifier by logging status changes; it is the
// default when no richer UI is wired in.
type LoggingNotifier struct{}

// StatusChanged implements Notifier.
func (LoggingNotifier) StatusChanged(mode presence.Mode, enabled bool) {
	zap.S().Infof("status changed: mode=%s enabled=%t", mode, enabled)
}
