package ui

import (
	"errors"
	"strconv"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"panesync/internal/bridge"
	"panesync/internal/config"
)

var ratePresets = bridge.BandwidthPresets()

var themeLabels = map[string]string{
	"system": "système",
	"light":  "clair",
	"dark":   "sombre",
}

// rateToPresetName returns the preset label of rate, "Illimité" when none
// matches.
func rateToPresetName(rate int64) string {
	for _, p := range ratePresets {
		if p.BytesPerSecond == rate {
			return p.Name
		}
	}
	return ratePresets[0].Name
}

func presetNameToRate(name string) int64 {
	for _, p := range ratePresets {
		if p.Name == name {
			return p.BytesPerSecond
		}
	}
	return 0
}

func themeKey(label string) string {
	for k, v := range themeLabels {
		if v == label {
			return k
		}
	}
	return "system"
}

// SettingsDialog edits the application settings.
type SettingsDialog struct {
	window    fyne.Window
	configMgr *config.ConfigManager
	onSave    func(config.AppConfig)

	themeSelect         *widget.Select
	parallelTransfers   *widget.Entry
	rateSelect          *widget.Select
	cacheTTL            *widget.Entry
	reconnectAttempts   *widget.Entry
	reconnectDelay      *widget.Entry
	virtualThreshold    *widget.Entry
	overscan            *widget.Entry
	showHiddenFiles     *widget.Check
	defaultLocalDir     *widget.Entry
	logLevelSelect      *widget.Select
	windowWidth         *widget.Entry
	windowHeight        *widget.Entry
	enableNotifications *widget.Check
}

// NewSettingsDialog creates a new settings dialog. onSave receives the
// stored configuration.
func NewSettingsDialog(parent fyne.Window, configMgr *config.ConfigManager, onSave func(config.AppConfig)) *SettingsDialog {
	return &SettingsDialog{
		window:    parent,
		configMgr: configMgr,
		onSave:    onSave,
	}
}

func intEntry(v int) *widget.Entry {
	e := widget.NewEntry()
	e.SetText(strconv.Itoa(v))
	return e
}

func row(label string, obj fyne.CanvasObject) fyne.CanvasObject {
	return container.NewGridWithColumns(2, widget.NewLabel(label), obj)
}

func section(title string) []fyne.CanvasObject {
	return []fyne.CanvasObject{
		widget.NewLabelWithStyle(title, fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		widget.NewSeparator(),
	}
}

// Show displays the settings dialog.
func (sd *SettingsDialog) Show() {
	cfg := sd.configMgr.Get()

	sd.themeSelect = widget.NewSelect([]string{"système", "clair", "sombre"}, nil)
	sd.themeSelect.SetSelected(themeLabels[cfg.Theme])

	names := make([]string, len(ratePresets))
	for i, p := range ratePresets {
		names[i] = p.Name
	}
	sd.rateSelect = widget.NewSelect(names, nil)
	sd.rateSelect.SetSelected(rateToPresetName(cfg.UploadRateLimit))

	sd.parallelTransfers = intEntry(cfg.MaxParallelTransfers)
	sd.cacheTTL = intEntry(cfg.CacheTTLSeconds)
	sd.reconnectAttempts = intEntry(cfg.ReconnectAttempts)
	sd.reconnectDelay = intEntry(cfg.ReconnectDelayMS)
	sd.virtualThreshold = intEntry(cfg.VirtualThreshold)
	sd.overscan = intEntry(cfg.Overscan)
	sd.windowWidth = intEntry(cfg.WindowWidth)
	sd.windowHeight = intEntry(cfg.WindowHeight)

	sd.showHiddenFiles = widget.NewCheck("", nil)
	sd.showHiddenFiles.SetChecked(cfg.ShowHiddenFiles)
	sd.enableNotifications = widget.NewCheck("", nil)
	sd.enableNotifications.SetChecked(cfg.EnableNotifications)

	sd.defaultLocalDir = widget.NewEntry()
	sd.defaultLocalDir.SetText(cfg.DefaultLocalDir)
	browseDirBtn := widget.NewButton("Parcourir...", func() {
		dialog.NewFolderOpen(func(uri fyne.ListableURI, err error) {
			if err != nil || uri == nil {
				return
			}
			sd.defaultLocalDir.SetText(uri.Path())
		}, sd.window).Show()
	})

	sd.logLevelSelect = widget.NewSelect([]string{"debug", "info", "warn", "error"}, nil)
	sd.logLevelSelect.SetSelected(cfg.LogLevel)

	var objs []fyne.CanvasObject
	objs = append(objs, section("Apparence")...)
	objs = append(objs,
		row("Thème :", sd.themeSelect),
		row("Taille de fenêtre :", container.NewHBox(sd.windowWidth, widget.NewLabel("x"), sd.windowHeight)),
	)
	objs = append(objs, section("Transferts")...)
	objs = append(objs,
		row("Lots simultanés max :", sd.parallelTransfers),
		row("Limite de débit :", sd.rateSelect),
	)
	objs = append(objs, section("Connexions")...)
	objs = append(objs,
		row("Tentatives de reconnexion :", sd.reconnectAttempts),
		row("Délai entre tentatives (ms) :", sd.reconnectDelay),
		row("Durée du cache (s) :", sd.cacheTTL),
	)
	objs = append(objs, section("Navigateur de fichiers")...)
	objs = append(objs,
		row("Afficher fichiers cachés :", sd.showHiddenFiles),
		row("Répertoire local par défaut :", container.NewBorder(nil, nil, nil, browseDirBtn, sd.defaultLocalDir)),
		row("Seuil de virtualisation :", sd.virtualThreshold),
		row("Lignes hors écran :", sd.overscan),
	)
	objs = append(objs, section("Notifications")...)
	objs = append(objs, row("Notifications bureau :", sd.enableNotifications))
	objs = append(objs, section("Journalisation")...)
	objs = append(objs, row("Niveau de log :", sd.logLevelSelect))

	scroll := container.NewVScroll(container.NewVBox(objs...))
	scroll.SetMinSize(fyne.NewSize(440, 420))

	dlg := dialog.NewCustomConfirm("Paramètres", "Enregistrer", "Annuler", scroll,
		func(confirmed bool) {
			if confirmed {
				sd.saveSettings()
			}
		}, sd.window)
	dlg.Resize(fyne.NewSize(540, 560))
	dlg.Show()
}

// settingsInput holds the raw text of the numeric fields.
type settingsInput struct {
	Parallel, CacheTTL, Attempts, Delay, Threshold, Overscan, Width, Height string
}

// apply validates in and writes the values into cfg.
func (in settingsInput) apply(cfg *config.AppConfig) error {
	atoi := func(s string, min, max int, msg string) (int, error) {
		n, err := strconv.Atoi(s)
		if err != nil || n < min || (max > 0 && n > max) {
			return 0, errors.New(msg)
		}
		return n, nil
	}

	var err error
	if cfg.MaxParallelTransfers, err = atoi(in.Parallel, 1, 16, "Les lots simultanés doivent être entre 1 et 16"); err != nil {
		return err
	}
	if cfg.CacheTTLSeconds, err = atoi(in.CacheTTL, 1, 3600, "La durée du cache doit être entre 1 et 3600 secondes"); err != nil {
		return err
	}
	if cfg.ReconnectAttempts, err = atoi(in.Attempts, 1, 20, "Les tentatives de reconnexion doivent être entre 1 et 20"); err != nil {
		return err
	}
	if cfg.ReconnectDelayMS, err = atoi(in.Delay, 0, 60000, "Le délai doit être entre 0 et 60000 ms"); err != nil {
		return err
	}
	if cfg.VirtualThreshold, err = atoi(in.Threshold, 0, 0, "Le seuil de virtualisation doit être positif"); err != nil {
		return err
	}
	if cfg.Overscan, err = atoi(in.Overscan, 0, 100, "Les lignes hors écran doivent être entre 0 et 100"); err != nil {
		return err
	}
	if cfg.WindowWidth, err = atoi(in.Width, 400, 0, "La largeur de fenêtre doit être au moins 400"); err != nil {
		return err
	}
	if cfg.WindowHeight, err = atoi(in.Height, 300, 0, "La hauteur de fenêtre doit être au moins 300"); err != nil {
		return err
	}
	return nil
}

func (sd *SettingsDialog) saveSettings() {
	cfg := sd.configMgr.Get()

	in := settingsInput{
		Parallel:  sd.parallelTransfers.Text,
		CacheTTL:  sd.cacheTTL.Text,
		Attempts:  sd.reconnectAttempts.Text,
		Delay:     sd.reconnectDelay.Text,
		Threshold: sd.virtualThreshold.Text,
		Overscan:  sd.overscan.Text,
		Width:     sd.windowWidth.Text,
		Height:    sd.windowHeight.Text,
	}
	if err := in.apply(&cfg); err != nil {
		dialog.ShowError(err, sd.window)
		return
	}

	cfg.Theme = themeKey(sd.themeSelect.Selected)
	cfg.ShowHiddenFiles = sd.showHiddenFiles.Checked
	cfg.DefaultLocalDir = sd.defaultLocalDir.Text
	cfg.LogLevel = sd.logLevelSelect.Selected
	cfg.UploadRateLimit = presetNameToRate(sd.rateSelect.Selected)
	cfg.EnableNotifications = sd.enableNotifications.Checked

	if err := sd.configMgr.Set(&cfg); err != nil {
		dialog.ShowError(err, sd.window)
		return
	}
	if sd.onSave != nil {
		sd.onSave(cfg)
	}
	dialog.ShowInformation("Paramètres", "Paramètres enregistrés. Certaines modifications nécessitent un redémarrage.", sd.window)
}
