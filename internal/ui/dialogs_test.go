package ui

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"panesync/internal/clipboard"
	"panesync/internal/config"
	"panesync/internal/connection"
	"panesync/internal/events"
	"panesync/internal/reconcile"
)

func TestProfileFromForm(t *testing.T) {
	_, err := profileFromForm("", "", "SFTP", "", "22", "me", "", "", "", false, false)
	assert.ErrorIs(t, err, errMissingHost)

	_, err = profileFromForm("", "", "SFTP", "h", "22", "", "", "", "", false, false)
	assert.ErrorIs(t, err, errMissingUsername)

	for _, port := range []string{"0", "70000", "abc"} {
		_, err = profileFromForm("", "", "FTP", "h", port, "", "", "", "", false, false)
		assert.ErrorIs(t, err, errInvalidPort, port)
	}

	p, err := profileFromForm("id1", "", "FTP", "ftp.example", "21", "", "~/.ssh/key", "/pub", "", true, true)
	require.NoError(t, err)
	assert.Equal(t, "ftp.example", p.Name)
	assert.Equal(t, "ftp", p.Protocol)
	assert.Empty(t, p.PrivateKeyPath)
	assert.False(t, p.TLSImplicit)
	assert.False(t, p.TLSSkipVerify)
	assert.Equal(t, "/pub", p.RemoteDir)

	p, err = profileFromForm("", "", "SFTP", "s.example", "2222", "me", "~/.ssh/key", "", "", true, false)
	require.NoError(t, err)
	assert.Equal(t, "me@s.example", p.Name)
	assert.Equal(t, 2222, p.Port)
	assert.Equal(t, "~/.ssh/key", p.PrivateKeyPath)
	assert.False(t, p.TLSImplicit)

	p, err = profileFromForm("", "box", "FTPS", "f.example", "990", "u", "k", "", "windows-1252", true, true)
	require.NoError(t, err)
	assert.Equal(t, "box", p.Name)
	assert.True(t, p.TLSImplicit)
	assert.True(t, p.TLSSkipVerify)
	assert.Empty(t, p.PrivateKeyPath)
	assert.Equal(t, "windows-1252", p.FilenameEncoding)
}

func TestProtocolLabels(t *testing.T) {
	for i, label := range protocolLabels {
		assert.Equal(t, i, protocolIndex(protocolName(label)))
	}
	assert.Equal(t, "sftp", protocolName(""))
	assert.Equal(t, 0, protocolIndex("gopher"))
}

func TestProfileLabel(t *testing.T) {
	assert.Equal(t, "box (sftp://me@h)", profileLabel(config.HostProfile{Name: "box", Protocol: "sftp", Host: "h", Username: "me"}))
	assert.Equal(t, "pub (ftp://h)", profileLabel(config.HostProfile{Name: "pub", Protocol: "ftp", Host: "h"}))
}

func TestRatePresets(t *testing.T) {
	assert.Equal(t, "1 Mio/s", rateToPresetName(1<<20))
	assert.Equal(t, "Illimité", rateToPresetName(12345))
	assert.Equal(t, int64(512<<10), presetNameToRate("512 Kio/s"))
	assert.Zero(t, presetNameToRate("unknown"))
	assert.Equal(t, "dark", themeKey("sombre"))
	assert.Equal(t, "system", themeKey("?"))
}

func TestSettingsInputApply(t *testing.T) {
	valid := settingsInput{
		Parallel:  "4",
		CacheTTL:  "30",
		Attempts:  "5",
		Delay:     "0",
		Threshold: "100",
		Overscan:  "10",
		Width:     "1024",
		Height:    "768",
	}
	var cfg config.AppConfig
	require.NoError(t, valid.apply(&cfg))
	assert.Equal(t, 4, cfg.MaxParallelTransfers)
	assert.Equal(t, 30, cfg.CacheTTLSeconds)
	assert.Equal(t, 5, cfg.ReconnectAttempts)
	assert.Zero(t, cfg.ReconnectDelayMS)
	assert.Equal(t, 100, cfg.VirtualThreshold)
	assert.Equal(t, 10, cfg.Overscan)
	assert.Equal(t, 1024, cfg.WindowWidth)
	assert.Equal(t, 768, cfg.WindowHeight)

	bad := valid
	bad.Parallel = "17"
	assert.EqualError(t, bad.apply(&cfg), "Les lots simultanés doivent être entre 1 et 16")

	bad = valid
	bad.Threshold = "-1"
	assert.Error(t, bad.apply(&cfg))

	bad = valid
	bad.Width = "399"
	assert.Error(t, bad.apply(&cfg))

	bad = valid
	bad.Delay = "x"
	assert.Error(t, bad.apply(&cfg))
}

func TestReconcileOptions(t *testing.T) {
	opts, err := reconcileOptions(-1, -1, "*.tmp", "", false, true, true)
	require.NoError(t, err)
	assert.Equal(t, reconcile.ModeMirrorToTarget, opts.Mode)
	assert.Equal(t, reconcile.CompareBySizeAndTime, opts.Compare)
	assert.Equal(t, []string{"*.tmp"}, opts.ExcludePatterns)
	assert.True(t, opts.IgnoreHidden)
	assert.True(t, opts.DryRun)

	opts, err = reconcileOptions(2, 3, "", "docs/**", true, false, false)
	require.NoError(t, err)
	assert.Equal(t, reconcile.ModeBidirectional, opts.Mode)
	assert.Equal(t, reconcile.CompareByHash, opts.Compare)
	assert.Equal(t, []string{"docs/**"}, opts.IncludePatterns)
	assert.True(t, opts.DeleteExtra)

	_, err = reconcileOptions(0, 0, "[", "[", false, false, false)
	assert.Len(t, multierr.Errors(err), 2)
}

func TestReconcileSummary(t *testing.T) {
	res := &reconcile.Result{
		CopiedToTarget:   3,
		CopiedToSource:   1,
		Deleted:          2,
		Skipped:          5,
		BytesTransferred: 2048,
		Duration:         1500 * time.Millisecond,
		Err:              multierr.Combine(errors.New("a"), errors.New("b")),
	}
	assert.Equal(t,
		"Synchronisation terminée en 1.5s\n\nCopiés vers la destination : 3\nCopiés vers la source : 1\nSupprimés : 2\nIgnorés : 5\nVolume : 2.0 KiB\n2 erreurs",
		reconcileSummary(res, false))

	dry := reconcileSummary(&reconcile.Result{CopiedToTarget: 1}, true)
	assert.Equal(t, "Simulation en 0s\n\nCopiés vers la destination : 1\nCopiés vers la source : 0\nSupprimés : 0\nIgnorés : 0", dry)
}

func TestNotificationFor(t *testing.T) {
	title, body, ok := notificationFor(&events.TransferEvent{
		BaseEvent:  events.NewBase(events.TransferCompleted),
		Name:       "a.txt",
		TargetSide: "right",
	})
	require.True(t, ok)
	assert.Equal(t, "Transfert terminé", title)
	assert.Equal(t, "a.txt copié vers le panneau de droite", body)

	title, body, ok = notificationFor(&events.TransferEvent{
		BaseEvent: events.NewBase(events.TransferFailed),
		Name:      "b.bin",
		Err:       errors.New("permission denied"),
	})
	require.True(t, ok)
	assert.Equal(t, "Échec du transfert", title)
	assert.Equal(t, "b.bin : permission denied", body)

	_, _, ok = notificationFor(&events.TransferEvent{BaseEvent: events.NewBase(events.TransferProgress)})
	assert.False(t, ok)

	title, body, ok = notificationFor(&events.ClipboardEvent{
		BaseEvent:  events.NewBase(events.ClipboardWarning),
		MessageKey: clipboard.MsgEmpty,
	})
	require.True(t, ok)
	assert.Equal(t, "Presse-papiers", title)
	assert.Equal(t, message(clipboard.MsgEmpty), body)

	_, _, ok = notificationFor(&events.ClipboardEvent{BaseEvent: events.NewBase(events.ClipboardChanged)})
	assert.False(t, ok)

	title, body, ok = notificationFor(&events.ConnectionEvent{
		BaseEvent:  events.NewBase(events.ConnectionState),
		Side:       "left",
		State:      "failed",
		MessageKey: connection.MsgReconnectFailed,
	})
	require.True(t, ok)
	assert.Equal(t, "Connexion (gauche)", title)
	assert.Equal(t, message(connection.MsgReconnectFailed), body)

	_, _, ok = notificationFor(&events.ConnectionEvent{BaseEvent: events.NewBase(events.ConnectionState), State: "connected"})
	assert.False(t, ok)
}

func TestNotificationManagerDisabled(t *testing.T) {
	nm := NewNotificationManager(false)
	sent := make(chan string, 1)
	nm.send = func(title, _ string) { sent <- title }

	nm.Notify("t", "m")
	nm.SetEnabled(true)
	nm.Notify("on", "m")

	select {
	case got := <-sent:
		assert.Equal(t, "on", got)
	case <-time.After(time.Second):
		t.Fatal("notification not sent")
	}
}

func TestEscapeAppleScript(t *testing.T) {
	assert.Equal(t, `say \"hi\" \\ now`, escapeAppleScript(`say "hi" \ now`))
}

func TestStatusBarTexts(t *testing.T) {
	assert.Equal(t, "2 éléments copiés depuis le panneau de gauche", clipboardText(&events.ClipboardEvent{
		Operation:  string(clipboard.OpCopy),
		SourceSide: "left",
		Files:      []string{"a", "b"},
	}))
	assert.Equal(t, "1 élément coupé depuis le panneau de droite", clipboardText(&events.ClipboardEvent{
		Operation:  string(clipboard.OpCut),
		SourceSide: "right",
		Files:      []string{"a"},
	}))

	assert.Equal(t, "Droite : connecté", connectionText(&events.ConnectionEvent{Side: "right", State: "connected"}))
	assert.Equal(t, "Gauche : déconnecté", connectionText(&events.ConnectionEvent{Side: "left", State: "disconnected"}))
	assert.Equal(t, "Gauche : "+message(connection.MsgReconnectFailed),
		connectionText(&events.ConnectionEvent{Side: "left", State: "failed", MessageKey: connection.MsgReconnectFailed}))
	assert.Equal(t, "Gauche : prêt", connectionText(&events.ConnectionEvent{Side: "left", State: "idle"}))
}
