package ui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"panesync/internal/clipboard"
	"panesync/internal/connection"
	"panesync/internal/entry"
	"panesync/internal/pane"
	"panesync/internal/transfer"
)

// messages maps message keys surfaced by the core to display text.
var messages = map[string]string{
	connection.MsgReconnectFailed: "Reconnexion impossible, veuillez vous reconnecter",
	pane.MsgListFailed:            "Impossible de lister le dossier",
	pane.MsgNotConnected:          "Non connecté",
	pane.MsgReconnecting:          "Reconnexion en cours...",
	clipboard.MsgSamePane:         "Impossible de coller dans le même dossier",
	clipboard.MsgEmpty:            "Le presse-papiers est vide",
	clipboard.MsgPartialMove:      "Déplacement partiel : certains fichiers n'ont pas été transférés",
}

// message returns the display text of key, or key itself when unknown.
func message(key string) string {
	if m, ok := messages[key]; ok {
		return m
	}
	return key
}

// noticeError wraps a message key for display in an error dialog.
func noticeError(key string) error {
	return errors.New(message(key))
}

// formatCount renders n with the singular or plural noun.
func formatCount(n int, singular, plural string) string {
	if n > 1 {
		return fmt.Sprintf("%d %s", n, plural)
	}
	return fmt.Sprintf("%d %s", n, singular)
}

// formatSize formats a file size in human-readable form.
func formatSize(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.IBytes(uint64(bytes))
}

// formatSpeed formats transfer speed in human-readable form.
func formatSpeed(bytesPerSecond float64) string {
	if bytesPerSecond <= 0 {
		return "0 B/s"
	}
	return humanize.IBytes(uint64(bytesPerSecond)) + "/s"
}

// formatETA formats a remaining duration, "" when unknown.
func formatETA(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}

// formatModified renders a modification time, relative when recent.
func formatModified(t time.Time, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	if now.Sub(t) < 7*24*time.Hour && !t.After(now) {
		return humanize.RelTime(t, now, "", "")
	}
	return t.Format("02/01/2006 15:04")
}

// sizeLabel is the size column of a row.
func sizeLabel(e entry.FileEntry) string {
	switch {
	case e.IsParent():
		return ""
	case e.IsDir():
		return "<DIR>"
	default:
		return formatSize(e.Size)
	}
}

// statusLabel is the status column of a transfer row.
func statusLabel(t transfer.Task) string {
	switch t.Status {
	case transfer.StatusPending:
		if t.Phase == transfer.PhaseScanning {
			return "Analyse..."
		}
		return "En attente"
	case transfer.StatusTransferring:
		return fmt.Sprintf("%.1f%%", t.Progress())
	case transfer.StatusCompleted:
		return "Terminé"
	case transfer.StatusFailed:
		return "Échec"
	case transfer.StatusCancelled:
		return "Annulé"
	}
	return string(t.Status)
}

// transferDetail is the secondary line of a transfer row.
func transferDetail(t transfer.Task) string {
	parts := []string{
		fmt.Sprintf("%s / %s", formatSize(t.TransferredBytes), formatSize(t.TotalBytes)),
	}
	if t.Status == transfer.StatusTransferring {
		parts = append(parts, formatSpeed(t.BytesPerSecond))
		if eta := formatETA(t.RemainingTime()); eta != "" {
			parts = append(parts, "reste "+eta)
		}
	}
	if t.Status == transfer.StatusFailed && t.Error != nil {
		parts = append(parts, t.Error.Error())
	}
	return strings.Join(parts, " · ")
}

// sideLabel names a pane in the UI.
func sideLabel(side entry.Side) string {
	if side == entry.Right {
		return "Droite"
	}
	return "Gauche"
}

// parsePatterns parses a comma-separated pattern string.
func parsePatterns(text string) []string {
	var patterns []string
	for _, p := range strings.FieldsFunc(text, func(r rune) bool { return r == ',' || r == '\n' }) {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}
	return patterns
}
