// Package ui provides the graphical user interface using Fyne.
package ui

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"go.uber.org/zap"

	"panesync/internal/clipboard"
	"panesync/internal/config"
	"panesync/internal/conflict"
	"panesync/internal/connection"
	"panesync/internal/entry"
	"panesync/internal/events"
	"panesync/internal/pane"
	"panesync/internal/reconcile"
	"panesync/internal/transfer"
	"panesync/pkg/logger"
)

// RateLimiter applies the bandwidth setting.
type RateLimiter interface {
	SetRateLimit(bytesPerSecond int64)
}

// Deps are the services the window drives.
type Deps struct {
	Config   *config.ConfigManager
	Creds    *config.CredentialStore
	Known    *config.KnownHosts
	Hosts    *config.HostStore
	Browser  *pane.Browser
	Engine   *transfer.Manager
	Resolver *conflict.Resolver
	Bus      *events.Bus
	Limiter  RateLimiter
	Log      *logger.Logger
}

// MainWindow represents the main application window.
type MainWindow struct {
	app    fyne.App
	window fyne.Window
	deps   Deps
	log    *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events <-chan events.Event

	left          *PaneView
	right         *PaneView
	active        entry.Side
	transferView  *TransferView
	conflicts     *ConflictPrompt
	notifications *NotificationManager
	statusBar     *widget.Label
	closeOnce     sync.Once
}

// NewMainWindow creates and initializes the main application window.
func NewMainWindow(d Deps) *MainWindow {
	if d.Log == nil {
		d.Log = logger.GetInstance()
	}
	ctx, cancel := context.WithCancel(context.Background())
	mw := &MainWindow{
		app:    app.NewWithID("io.panesync"),
		deps:   d,
		log:    d.Log.Named("ui"),
		ctx:    ctx,
		cancel: cancel,
		active: entry.Left,
	}

	cfg := d.Config.Get()
	mw.app.SetIcon(AppIcon)
	mw.applyTheme(cfg.Theme)
	mw.window = mw.app.NewWindow("PaneSync")
	mw.window.Resize(fyne.NewSize(float32(cfg.WindowWidth), float32(cfg.WindowHeight)))
	mw.notifications = NewNotificationManager(cfg.EnableNotifications)

	mw.buildUI(cfg)
	mw.installPrompts()
	return mw
}

func (mw *MainWindow) applyTheme(name string) {
	switch name {
	case "dark":
		mw.app.Settings().SetTheme(theme.DarkTheme())
	case "light":
		mw.app.Settings().SetTheme(theme.LightTheme())
	default:
		mw.app.Settings().SetTheme(theme.DefaultTheme())
	}
}

func (mw *MainWindow) buildUI(cfg config.AppConfig) {
	d := mw.deps
	ops := NewFileOperations(mw.ctx, mw.window)
	ddm := NewDragDropManager(mw.ctx, d.Browser)
	ddm.OnError = mw.showError

	mw.left = NewPaneView(mw.ctx, mw.window, d.Browser, entry.Left, ops, ddm, cfg.VirtualThreshold, cfg.Overscan)
	mw.right = NewPaneView(mw.ctx, mw.window, d.Browser, entry.Right, ops, ddm, cfg.VirtualThreshold, cfg.Overscan)
	for _, pv := range []*PaneView{mw.left, mw.right} {
		pv.OnConnect = mw.onConnect
		pv.OnError = mw.showError
		pv.OnFocus = func(side entry.Side) { mw.active = side }
		pv.SetShowHidden(cfg.ShowHiddenFiles)
	}

	mw.transferView = NewTransferView(d.Engine)
	mw.transferView.OnError = mw.showError
	mw.conflicts = NewConflictPrompt(mw.window, d.Resolver)
	mw.statusBar = widget.NewLabel("Prêt")

	browserSplit := container.NewHSplit(mw.left.Content(), mw.right.Content())
	browserSplit.SetOffset(0.5)
	mainSplit := container.NewVSplit(browserSplit, mw.transferView.GetContainer())
	mainSplit.SetOffset(0.7)

	mw.window.SetContent(container.NewBorder(mw.createToolbar(), mw.statusBar, nil, nil, mainSplit))
	mw.createMenu()
	mw.createShortcuts()
}

func (mw *MainWindow) createToolbar() *fyne.Container {
	return container.NewHBox(
		widget.NewButtonWithIcon("Gauche", theme.ComputerIcon(), func() { mw.onConnect(entry.Left) }),
		widget.NewButtonWithIcon("Droite", theme.ComputerIcon(), func() { mw.onConnect(entry.Right) }),
		widget.NewSeparator(),
		widget.NewButtonWithIcon("Actualiser", theme.ViewRefreshIcon(), mw.onRefresh),
		layout.NewSpacer(),
		widget.NewButtonWithIcon("", theme.NavigateNextIcon(), func() { mw.left.TransferSelection() }),
		widget.NewButtonWithIcon("", theme.NavigateBackIcon(), func() { mw.right.TransferSelection() }),
		widget.NewButtonWithIcon("Synchroniser", theme.MediaReplayIcon(), mw.onReconcile),
	)
}

func (mw *MainWindow) createMenu() {
	fileMenu := fyne.NewMenu("Fichier",
		fyne.NewMenuItem("Connecter le panneau gauche...", func() { mw.onConnect(entry.Left) }),
		fyne.NewMenuItem("Connecter le panneau droit...", func() { mw.onConnect(entry.Right) }),
		fyne.NewMenuItem("Déconnecter le panneau gauche", func() { mw.onDisconnect(entry.Left) }),
		fyne.NewMenuItem("Déconnecter le panneau droit", func() { mw.onDisconnect(entry.Right) }),
		fyne.NewMenuItemSeparator(),
		fyne.NewMenuItem("Profils...", mw.onManageProfiles),
	)

	editMenu := fyne.NewMenu("Édition",
		fyne.NewMenuItem("Copier", func() { mw.activePane().Copy() }),
		fyne.NewMenuItem("Couper", func() { mw.activePane().Cut() }),
		fyne.NewMenuItem("Coller", func() { mw.activePane().Paste() }),
		fyne.NewMenuItemSeparator(),
		fyne.NewMenuItem("Paramètres...", mw.onSettings),
	)

	transferMenu := fyne.NewMenu("Transfert",
		fyne.NewMenuItem("Gauche → Droite", func() { mw.left.TransferSelection() }),
		fyne.NewMenuItem("Droite → Gauche", func() { mw.right.TransferSelection() }),
		fyne.NewMenuItemSeparator(),
		fyne.NewMenuItem("Synchroniser les dossiers...", mw.onReconcile),
		fyne.NewMenuItemSeparator(),
		fyne.NewMenuItem("Tout annuler", mw.onCancelAll),
	)

	helpMenu := fyne.NewMenu("Aide",
		fyne.NewMenuItem("À propos", mw.onAbout),
	)

	mw.window.SetMainMenu(fyne.NewMainMenu(fileMenu, editMenu, transferMenu, helpMenu))
}

func (mw *MainWindow) createShortcuts() {
	canvas := mw.window.Canvas()
	add := func(key fyne.KeyName, fn func()) {
		canvas.AddShortcut(&desktop.CustomShortcut{KeyName: key, Modifier: fyne.KeyModifierShortcutDefault},
			func(fyne.Shortcut) { fn() })
	}
	add(fyne.KeyC, func() { mw.activePane().Copy() })
	add(fyne.KeyX, func() { mw.activePane().Cut() })
	add(fyne.KeyV, func() { mw.activePane().Paste() })
	add(fyne.KeyR, mw.onRefresh)
	canvas.SetOnTypedKey(func(ev *fyne.KeyEvent) {
		switch ev.Name {
		case fyne.KeyDelete:
			mw.activePane().DeleteSelection()
		case fyne.KeyF5:
			mw.activePane().TransferSelection()
		}
	})
}

func (mw *MainWindow) activePane() *PaneView {
	if mw.active == entry.Right {
		return mw.right
	}
	return mw.left
}

func (mw *MainWindow) paneView(side entry.Side) *PaneView {
	if side == entry.Right {
		return mw.right
	}
	return mw.left
}

// installPrompts routes password and host key questions to dialogs.
func (mw *MainWindow) installPrompts() {
	if mw.deps.Hosts != nil {
		mw.deps.Hosts.SetPasswordPrompt(mw.askPassword)
	}
	if mw.deps.Known != nil {
		mw.deps.Known.SetCallbacks(
			func(host, fp string) bool {
				return mw.confirm("Hôte inconnu",
					fmt.Sprintf("L'authenticité de l'hôte %s ne peut être établie.\nEmpreinte : %s\n\nFaire confiance à cet hôte ?", host, fp))
			},
			func(host, oldFP, newFP string) bool {
				return mw.confirm("Clé d'hôte modifiée",
					fmt.Sprintf("ATTENTION : la clé de l'hôte %s a changé.\nAncienne : %s\nNouvelle : %s\n\nAccepter la nouvelle clé ?", host, oldFP, newFP))
			},
		)
	}
}

func (mw *MainWindow) askPassword(ctx context.Context, p config.HostProfile) (string, bool) {
	answer := make(chan string, 1)
	pwEntry := widget.NewPasswordEntry()
	items := []*widget.FormItem{widget.NewFormItem("Mot de passe", pwEntry)}
	title := fmt.Sprintf("Connexion à %s", p.Host)
	dialog.ShowForm(title, "Connexion", "Annuler", items, func(ok bool) {
		if ok {
			answer <- pwEntry.Text
		}
		close(answer)
	}, mw.window)

	select {
	case pw, ok := <-answer:
		return pw, ok
	case <-ctx.Done():
		return "", false
	}
}

func (mw *MainWindow) confirm(title, text string) bool {
	answer := make(chan bool, 1)
	dialog.ShowConfirm(title, text, func(ok bool) { answer <- ok }, mw.window)
	return <-answer
}

// listen dispatches bus events to the views until the window closes.
func (mw *MainWindow) listen() {
	for ev := range mw.events {
		mw.dispatch(ev)
	}
}

func (mw *MainWindow) dispatch(ev events.Event) {
	switch e := ev.(type) {
	case *events.PaneEvent:
		mw.paneView(entry.Side(e.Side)).Update()
	case *events.TransferEvent:
		switch e.Type() {
		case events.TransferQueued:
			mw.transferView.Reload()
		case events.TransferCompleted, events.TransferFailed, events.TransferCancelled:
			if t, ok := mw.deps.Engine.Task(e.TaskID); ok {
				mw.transferView.UpdateTask(t)
				mw.statusBar.SetText(e.Name + " : " + statusLabel(t))
			}
			mw.left.Update()
			mw.right.Update()
			mw.notifications.Handle(ev)
			mw.conflicts.Check()
		default:
			if t, ok := mw.deps.Engine.Task(e.TaskID); ok {
				mw.transferView.UpdateTask(t)
			}
		}
	case *events.ConflictEvent:
		if e.Type() == events.ConflictPending {
			mw.conflicts.Check()
		}
	case *events.ClipboardEvent:
		switch {
		case e.Type() == events.ClipboardWarning:
			mw.statusBar.SetText(message(e.MessageKey))
			mw.notifications.Handle(ev)
		case len(e.Files) > 0:
			mw.statusBar.SetText(clipboardText(e))
		}
	case *events.ConnectionEvent:
		mw.statusBar.SetText(connectionText(e))
		mw.notifications.Handle(ev)
	}
}

// clipboardText describes the clipboard content.
func clipboardText(e *events.ClipboardEvent) string {
	verb := "copié"
	if e.Operation == string(clipboard.OpCut) {
		verb = "coupé"
	}
	if len(e.Files) > 1 {
		verb += "s"
	}
	return fmt.Sprintf("%s %s depuis le panneau de %s",
		formatCount(len(e.Files), "élément", "éléments"), verb, strings.ToLower(sideLabel(entry.Side(e.SourceSide))))
}

// connectionText describes a connection state change.
func connectionText(e *events.ConnectionEvent) string {
	side := sideLabel(entry.Side(e.Side))
	if e.MessageKey != "" {
		return side + " : " + message(e.MessageKey)
	}
	switch e.State {
	case "connected":
		return side + " : connecté"
	case "disconnected":
		return side + " : déconnecté"
	case "reconnecting":
		return side + " : " + message(pane.MsgReconnecting)
	}
	return side + " : prêt"
}

func (mw *MainWindow) showError(err error) {
	if err == nil {
		return
	}
	mw.log.Warn("action failed", zap.Error(err))
	dialog.ShowError(err, mw.window)
}

func (mw *MainWindow) onConnect(side entry.Side) {
	d := mw.deps
	NewConnectionDialog(mw.window, side, d.Config, d.Creds, d.Hosts, mw.connect).Show()
}

func (mw *MainWindow) connect(side entry.Side, target connection.Target) {
	mw.statusBar.SetText(sideLabel(side) + " : connexion...")
	go func() {
		if err := mw.deps.Browser.Pane(side).Connect(mw.ctx, target); err != nil {
			mw.statusBar.SetText(sideLabel(side) + " : échec de la connexion")
			mw.showError(fmt.Errorf("Échec de la connexion : %w", err))
		}
	}()
}

func (mw *MainWindow) onDisconnect(side entry.Side) {
	go func() {
		if err := mw.deps.Browser.Pane(side).Disconnect(mw.ctx); err != nil {
			mw.showError(err)
		}
	}()
}

func (mw *MainWindow) onRefresh() {
	for _, p := range []*pane.Pane{mw.deps.Browser.Left, mw.deps.Browser.Right} {
		p := p
		go func() {
			if p.Snapshot().ConnectionID != "" {
				_ = p.Refresh(mw.ctx)
			}
		}()
	}
}

func (mw *MainWindow) onReconcile() {
	b := mw.deps.Browser
	if b.Left.Snapshot().ConnectionID == "" || b.Right.Snapshot().ConnectionID == "" {
		dialog.ShowInformation("Non connecté", "Les deux panneaux doivent être connectés.", mw.window)
		return
	}
	NewReconcileDialog(mw.window, b.Left.Path(), b.Right.Path(), mw.reconcile).Show()
}

func (mw *MainWindow) reconcile(source entry.Side, opts reconcile.Options) {
	mw.statusBar.SetText("Synchronisation en cours...")
	go func() {
		_, res, err := mw.deps.Browser.Reconcile(mw.ctx, source, opts)
		if err != nil {
			mw.statusBar.SetText("Échec de la synchronisation")
			mw.showError(err)
			return
		}
		summary := reconcileSummary(res, opts.DryRun)
		mw.statusBar.SetText("Synchronisation terminée")
		dialog.ShowInformation("Synchronisation", summary, mw.window)
		if !opts.DryRun {
			mw.notifications.NotifyReconcileComplete(summary)
		}
	}()
}

func (mw *MainWindow) onCancelAll() {
	mw.deps.Engine.CancelAll()
	mw.transferView.Reload()
	mw.statusBar.SetText("Tous les transferts ont été annulés")
}

func (mw *MainWindow) onManageProfiles() {
	NewProfilesDialog(mw.window, mw.deps.Config, mw.deps.Creds, mw.deps.Known, nil).Show()
}

func (mw *MainWindow) onSettings() {
	NewSettingsDialog(mw.window, mw.deps.Config, mw.applySettings).Show()
}

// applySettings applies the settings that do not need a restart.
func (mw *MainWindow) applySettings(cfg config.AppConfig) {
	if mw.deps.Limiter != nil {
		mw.deps.Limiter.SetRateLimit(cfg.UploadRateLimit)
	}
	mw.notifications.SetEnabled(cfg.EnableNotifications)
	mw.applyTheme(cfg.Theme)
	mw.left.SetShowHidden(cfg.ShowHiddenFiles)
	mw.right.SetShowHidden(cfg.ShowHiddenFiles)
}

func (mw *MainWindow) onAbout() {
	dialog.ShowInformation("À propos de PaneSync",
		"PaneSync\n\nTransferts et synchronisation entre deux panneaux : local, SFTP, FTP et FTPS.",
		mw.window)
}

// Run shows the window and blocks until it is closed. The left pane opens
// on the local machine.
func (mw *MainWindow) Run() {
	mw.events = mw.deps.Bus.SubscribeAll()
	go mw.listen()
	go mw.conflicts.Watch(mw.ctx)

	cfg := mw.deps.Config.Get()
	mw.connect(entry.Left, connection.Target{Local: true, StartDir: cfg.DefaultLocalDir})
	mw.window.SetOnClosed(mw.Cleanup)
	mw.window.ShowAndRun()
}

// Cleanup stops the event loop and background work of the views.
func (mw *MainWindow) Cleanup() {
	mw.closeOnce.Do(func() {
		mw.cancel()
		if mw.events != nil {
			mw.deps.Bus.Unsubscribe(mw.events)
		}
		mw.left.Dispose()
		mw.right.Dispose()
		mw.deps.Browser.Close()
	})
}
