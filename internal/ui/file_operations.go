package ui

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"panesync/internal/entry"
	"panesync/internal/pane"
)

// FileOperations shows the dialogs of the single-pane file actions.
type FileOperations struct {
	window fyne.Window
	ctx    context.Context
}

// NewFileOperations creates a new file operations handler.
func NewFileOperations(ctx context.Context, window fyne.Window) *FileOperations {
	return &FileOperations{window: window, ctx: ctx}
}

func (fo *FileOperations) run(op func(ctx context.Context) error, failure string) {
	go func() {
		if err := op(fo.ctx); err != nil {
			dialog.ShowError(fmt.Errorf("%s : %w", failure, err), fo.window)
		}
	}()
}

// Rename asks for a new name of one entry.
func (fo *FileOperations) Rename(p *pane.Pane, name string) {
	input := widget.NewEntry()
	input.SetText(name)
	input.Validator = entry.ValidateName

	dialog.ShowForm("Renommer", "Renommer", "Annuler",
		[]*widget.FormItem{widget.NewFormItem("Nouveau nom :", input)},
		func(confirmed bool) {
			if !confirmed || input.Text == name {
				return
			}
			newName := input.Text
			fo.run(func(ctx context.Context) error {
				return p.Rename(ctx, name, newName)
			}, "échec du renommage")
		},
		fo.window,
	)
}

// Delete confirms and removes the given entries.
func (fo *FileOperations) Delete(p *pane.Pane, names []string) {
	if len(names) == 0 {
		return
	}
	question := fmt.Sprintf("Êtes-vous sûr de vouloir supprimer '%s' ?", names[0])
	if len(names) > 1 {
		question = fmt.Sprintf("Êtes-vous sûr de vouloir supprimer ces %d éléments ?", len(names))
	}

	dialog.ShowConfirm("Supprimer", question, func(confirmed bool) {
		if !confirmed {
			return
		}
		fo.run(func(ctx context.Context) error {
			return p.Delete(ctx, names...)
		}, "échec de la suppression")
	}, fo.window)
}

// CreateFolder asks for a folder name and creates it in the pane directory.
func (fo *FileOperations) CreateFolder(p *pane.Pane) {
	input := widget.NewEntry()
	input.SetPlaceHolder("Nouveau dossier")
	input.Validator = entry.ValidateName

	dialog.ShowForm("Nouveau dossier", "Créer", "Annuler",
		[]*widget.FormItem{widget.NewFormItem("Nom du dossier :", input)},
		func(confirmed bool) {
			if !confirmed {
				return
			}
			name := input.Text
			fo.run(func(ctx context.Context) error {
				return p.Mkdir(ctx, name)
			}, "échec de la création du dossier")
		},
		fo.window,
	)
}

// parseMode reads an octal permission string such as "755" or "0644".
func parseMode(s string) (os.FileMode, error) {
	s = strings.TrimSpace(s)
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil || v > 0o7777 {
		return 0, fmt.Errorf("permissions invalides : %q", s)
	}
	return os.FileMode(v), nil
}

// Chmod asks for octal permissions of one entry.
func (fo *FileOperations) Chmod(p *pane.Pane, e entry.FileEntry) {
	input := widget.NewEntry()
	input.SetPlaceHolder("644")
	input.Validator = func(s string) error {
		_, err := parseMode(s)
		return err
	}

	dialog.ShowForm("Permissions", "Appliquer", "Annuler",
		[]*widget.FormItem{
			widget.NewFormItem("Actuelles :", widget.NewLabel(e.Permissions)),
			widget.NewFormItem("Nouvelles (octal) :", input),
		},
		func(confirmed bool) {
			if !confirmed {
				return
			}
			mode, err := parseMode(input.Text)
			if err != nil {
				dialog.ShowError(err, fo.window)
				return
			}
			fo.run(func(ctx context.Context) error {
				return p.Chmod(ctx, e.Name, mode)
			}, "échec du changement de permissions")
		},
		fo.window,
	)
}

// propertiesText renders the properties of one entry.
func propertiesText(dir string, e entry.FileEntry) string {
	path := dir
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	path += e.Name

	lines := []string{
		"Nom : " + e.Name,
		"Type : " + e.KindLabel(),
	}
	if !e.IsDir() {
		lines = append(lines, "Taille : "+formatSize(e.Size))
	}
	lines = append(lines, "Chemin : "+path)
	if e.LinkTarget != "" {
		lines = append(lines, "Cible : "+e.LinkTarget)
	}
	if e.Permissions != "" {
		lines = append(lines, "Permissions : "+e.Permissions)
	}
	if !e.LastModified.IsZero() {
		lines = append(lines, "Modifié : "+e.LastModified.Format("02/01/2006 15:04:05"))
	}
	return strings.Join(lines, "\n")
}

// ShowProperties shows the properties of one entry.
func (fo *FileOperations) ShowProperties(p *pane.Pane, e entry.FileEntry) {
	dialog.ShowInformation("Propriétés", propertiesText(p.Path(), e), fo.window)
}
