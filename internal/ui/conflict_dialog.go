package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"panesync/internal/conflict"
)

// ConflictSource is the part of conflict.Resolver the prompt uses.
type ConflictSource interface {
	Current() (conflict.Record, bool)
	Resolve(transferID string, res conflict.Resolution, applyToBatch bool) ([]string, error)
	Changed() <-chan struct{}
}

// ConflictPrompt asks the user about the head of the conflict queue, one
// dialog at a time.
type ConflictPrompt struct {
	window   fyne.Window
	resolver ConflictSource

	mu      sync.Mutex
	showing string
}

// NewConflictPrompt creates a prompt for resolver.
func NewConflictPrompt(window fyne.Window, resolver ConflictSource) *ConflictPrompt {
	return &ConflictPrompt{window: window, resolver: resolver}
}

// Watch calls Check whenever a new conflict reaches the head of the queue,
// until ctx is done.
func (cp *ConflictPrompt) Watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-cp.resolver.Changed():
			cp.Check()
		}
	}
}

// Showing returns the transfer id whose dialog is open, if any.
func (cp *ConflictPrompt) Showing() string {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.showing
}

// Check shows a dialog for the current head if none is open.
func (cp *ConflictPrompt) Check() {
	rec, ok := cp.resolver.Current()
	if !ok {
		return
	}
	cp.mu.Lock()
	if cp.showing != "" {
		cp.mu.Unlock()
		return
	}
	cp.showing = rec.TransferID
	cp.mu.Unlock()

	cp.show(rec)
}

// conflictText describes both versions of the file.
func conflictText(rec conflict.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "« %s » existe déjà dans la destination.\n\n", rec.FileName)
	fmt.Fprintf(&b, "Existant : %s", formatSize(rec.ExistingSize))
	if !rec.ExistingModified.IsZero() {
		fmt.Fprintf(&b, ", modifié le %s", rec.ExistingModified.Format("02/01/2006 15:04"))
	}
	fmt.Fprintf(&b, "\nNouveau : %s", formatSize(rec.NewSize))
	if !rec.NewModified.IsZero() {
		fmt.Fprintf(&b, ", modifié le %s", rec.NewModified.Format("02/01/2006 15:04"))
	}
	return b.String()
}

func (cp *ConflictPrompt) show(rec conflict.Record) {
	applyAll := widget.NewCheck("Appliquer à tous les conflits de ce lot", nil)
	text := widget.NewLabel(conflictText(rec))
	text.Wrapping = fyne.TextWrapWord

	var dlg dialog.Dialog
	choose := func(res conflict.Resolution) func() {
		return func() {
			dlg.Hide()
			if _, err := cp.resolver.Resolve(rec.TransferID, res, applyAll.Checked); err != nil && !errors.Is(err, conflict.ErrNotPending) {
				dialog.ShowError(err, cp.window)
			}
			cp.mu.Lock()
			cp.showing = ""
			cp.mu.Unlock()
			cp.Check()
		}
	}

	buttons := container.NewGridWithColumns(3,
		widget.NewButton("Remplacer", choose(conflict.Replace)),
		widget.NewButton("Ignorer", choose(conflict.Skip)),
		widget.NewButton("Conserver les deux", choose(conflict.Duplicate)),
	)
	dlg = dialog.NewCustomWithoutButtons("Fichier existant",
		container.NewVBox(text, applyAll, buttons), cp.window)
	dlg.Resize(fyne.NewSize(460, 220))
	dlg.Show()
}
