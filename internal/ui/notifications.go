package ui

import (
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"panesync/internal/entry"
	"panesync/internal/events"
)

// NotificationManager sends desktop notifications for finished transfers
// and clipboard warnings.
type NotificationManager struct {
	mu      sync.Mutex
	enabled bool
	send    func(title, message string)
}

// NewNotificationManager creates a new notification manager.
func NewNotificationManager(enabled bool) *NotificationManager {
	return &NotificationManager{enabled: enabled, send: sendNotification}
}

// SetEnabled enables or disables notifications.
func (nm *NotificationManager) SetEnabled(enabled bool) {
	nm.mu.Lock()
	nm.enabled = enabled
	nm.mu.Unlock()
}

// Notify sends a desktop notification.
func (nm *NotificationManager) Notify(title, message string) {
	nm.mu.Lock()
	enabled, send := nm.enabled, nm.send
	nm.mu.Unlock()
	if !enabled {
		return
	}
	go send(title, message)
}

// Handle turns a bus event into a notification when it warrants one.
func (nm *NotificationManager) Handle(ev events.Event) {
	title, text, ok := notificationFor(ev)
	if ok {
		nm.Notify(title, text)
	}
}

// notificationFor returns the notification of ev, if any.
func notificationFor(ev events.Event) (string, string, bool) {
	switch e := ev.(type) {
	case *events.TransferEvent:
		switch e.Type() {
		case events.TransferCompleted:
			return "Transfert terminé", e.Name + " copié vers le panneau de " + strings.ToLower(sideLabel(entry.Side(e.TargetSide))), true
		case events.TransferFailed:
			msg := e.Name
			if e.Err != nil {
				msg += " : " + e.Err.Error()
			}
			return "Échec du transfert", msg, true
		}
	case *events.ClipboardEvent:
		if e.Type() == events.ClipboardWarning {
			return "Presse-papiers", message(e.MessageKey), true
		}
	case *events.ConnectionEvent:
		if e.MessageKey != "" {
			return "Connexion (" + strings.ToLower(sideLabel(entry.Side(e.Side))) + ")", message(e.MessageKey), true
		}
	}
	return "", "", false
}

// NotifyReconcileComplete sends a notification for a finished reconcile run.
func (nm *NotificationManager) NotifyReconcileComplete(summary string) {
	nm.Notify("Synchronisation terminée", summary)
}

func sendNotification(title, message string) {
	switch runtime.GOOS {
	case "linux":
		_ = exec.Command("notify-send", "-a", "PaneSync", title, message).Run()
	case "darwin":
		script := `display notification "` + escapeAppleScript(message) + `" with title "` + escapeAppleScript(title) + `"`
		_ = exec.Command("osascript", "-e", script).Run()
	}
}

// escapeAppleScript escapes special characters for AppleScript strings.
func escapeAppleScript(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
