package ui

import (
	"fmt"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
	"go.uber.org/multierr"

	"panesync/internal/entry"
	"panesync/internal/reconcile"
)

var (
	modeLabels = []string{
		"Miroir (source → destination)",
		"Miroir inverse (destination → source)",
		"Bidirectionnel (le plus récent gagne)",
	}
	compareLabels = []string{
		"Date de modification uniquement",
		"Taille uniquement",
		"Taille + Date de modification",
		"Somme de contrôle (MD5)",
	}
)

// ReconcileDialog collects the options of a reconcile run between the two
// panes.
type ReconcileDialog struct {
	window    fyne.Window
	source    entry.Side
	srcDir    string
	dstDir    string
	onConfirm func(entry.Side, reconcile.Options)

	sourceSelect    *widget.Select
	modeSelect      *widget.Select
	compareSelect   *widget.Select
	deleteExtra     *widget.Check
	ignoreHidden    *widget.Check
	dryRun          *widget.Check
	excludePatterns *widget.Entry
	includePatterns *widget.Entry
}

// NewReconcileDialog creates a dialog between the left directory leftDir
// and the right directory rightDir.
func NewReconcileDialog(parent fyne.Window, leftDir, rightDir string, onConfirm func(entry.Side, reconcile.Options)) *ReconcileDialog {
	return &ReconcileDialog{
		window:    parent,
		source:    entry.Left,
		srcDir:    leftDir,
		dstDir:    rightDir,
		onConfirm: onConfirm,
	}
}

// Show displays the dialog.
func (rd *ReconcileDialog) Show() {
	summary := widget.NewLabel(fmt.Sprintf("Gauche : %s\nDroite : %s", rd.srcDir, rd.dstDir))
	summary.Wrapping = fyne.TextWrapWord

	rd.sourceSelect = widget.NewSelect([]string{"Gauche", "Droite"}, nil)
	rd.sourceSelect.SetSelectedIndex(0)
	rd.modeSelect = widget.NewSelect(modeLabels, nil)
	rd.modeSelect.SetSelectedIndex(0)
	rd.compareSelect = widget.NewSelect(compareLabels, nil)
	rd.compareSelect.SetSelectedIndex(2)

	rd.deleteExtra = widget.NewCheck("Supprimer les fichiers supplémentaires à la destination", nil)
	rd.ignoreHidden = widget.NewCheck("Ignorer les fichiers cachés", nil)
	rd.ignoreHidden.SetChecked(true)
	rd.dryRun = widget.NewCheck("Simulation (aperçu uniquement)", nil)

	rd.excludePatterns = widget.NewMultiLineEntry()
	rd.excludePatterns.SetPlaceHolder("**/*.tmp, .git/**")
	rd.includePatterns = widget.NewMultiLineEntry()
	rd.includePatterns.SetPlaceHolder("**/*.go")

	var objs []fyne.CanvasObject
	objs = append(objs, section("Dossiers")...)
	objs = append(objs, summary, row("Source :", rd.sourceSelect))
	objs = append(objs, section("Mode")...)
	objs = append(objs, rd.modeSelect)
	objs = append(objs, section("Méthode de comparaison")...)
	objs = append(objs, rd.compareSelect)
	objs = append(objs, section("Options")...)
	objs = append(objs, rd.deleteExtra, rd.ignoreHidden, rd.dryRun)
	objs = append(objs, section("Motifs d'exclusion")...)
	objs = append(objs, rd.excludePatterns)
	objs = append(objs, section("Motifs d'inclusion (optionnel)")...)
	objs = append(objs, rd.includePatterns)

	scroll := container.NewVScroll(container.NewVBox(objs...))
	scroll.SetMinSize(fyne.NewSize(420, 460))

	dlg := dialog.NewCustomConfirm("Synchronisation des dossiers", "Démarrer", "Annuler", scroll,
		func(confirmed bool) {
			if confirmed {
				rd.start()
			}
		}, rd.window)
	dlg.Resize(fyne.NewSize(520, 580))
	dlg.Show()
}

// reconcileOptions builds options from the selected indexes and raw
// pattern text.
func reconcileOptions(mode, compare int, exclude, include string, deleteExtra, ignoreHidden, dryRun bool) (reconcile.Options, error) {
	opts := reconcile.Options{
		Mode:            reconcile.Mode(mode),
		Compare:         reconcile.CompareMethod(compare),
		ExcludePatterns: parsePatterns(exclude),
		IncludePatterns: parsePatterns(include),
		DeleteExtra:     deleteExtra,
		IgnoreHidden:    ignoreHidden,
		DryRun:          dryRun,
	}
	if mode < 0 {
		opts.Mode = reconcile.ModeMirrorToTarget
	}
	if compare < 0 {
		opts.Compare = reconcile.CompareBySizeAndTime
	}
	err := multierr.Combine(
		reconcile.ValidatePatterns(opts.ExcludePatterns),
		reconcile.ValidatePatterns(opts.IncludePatterns),
	)
	return opts, err
}

func (rd *ReconcileDialog) start() {
	opts, err := reconcileOptions(rd.modeSelect.SelectedIndex(), rd.compareSelect.SelectedIndex(),
		rd.excludePatterns.Text, rd.includePatterns.Text,
		rd.deleteExtra.Checked, rd.ignoreHidden.Checked, rd.dryRun.Checked)
	if err != nil {
		dialog.ShowError(err, rd.window)
		return
	}
	source := entry.Left
	if rd.sourceSelect.SelectedIndex() == 1 {
		source = entry.Right
	}
	if rd.onConfirm != nil {
		rd.onConfirm(source, opts)
	}
}

// reconcileSummary describes the outcome of a run.
func reconcileSummary(res *reconcile.Result, dryRun bool) string {
	head := "Synchronisation terminée"
	if dryRun {
		head = "Simulation"
	}
	text := fmt.Sprintf("%s en %s\n\nCopiés vers la destination : %d\nCopiés vers la source : %d\nSupprimés : %d\nIgnorés : %d",
		head, res.Duration.Round(time.Millisecond), res.CopiedToTarget, res.CopiedToSource, res.Deleted, res.Skipped)
	if res.BytesTransferred > 0 {
		text += "\nVolume : " + formatSize(res.BytesTransferred)
	}
	if n := len(multierr.Errors(res.Err)); n > 0 {
		text += "\n" + formatCount(n, "erreur", "erreurs")
	}
	return text
}
