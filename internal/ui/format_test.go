package ui

import (
	"errors"
	"testing"
	"time"

	"fyne.io/fyne/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panesync/internal/conflict"
	"panesync/internal/entry"
	"panesync/internal/pane"
	"panesync/internal/transfer"
)

func TestFormatETA(t *testing.T) {
	assert.Equal(t, "", formatETA(0))
	assert.Equal(t, "45s", formatETA(45*time.Second))
	assert.Equal(t, "1m30s", formatETA(90*time.Second))
	assert.Equal(t, "1h01m", formatETA(time.Hour+time.Minute+10*time.Second))
}

func TestFormatSizes(t *testing.T) {
	assert.Equal(t, "0 B", formatSize(-3))
	assert.Equal(t, "1.0 KiB", formatSize(1024))
	assert.Equal(t, "0 B/s", formatSpeed(0))
	assert.Equal(t, "2.0 KiB/s", formatSpeed(2048))
	assert.Equal(t, "1 élément", formatCount(1, "élément", "éléments"))
	assert.Equal(t, "3 éléments", formatCount(3, "élément", "éléments"))
}

func TestFormatModified(t *testing.T) {
	now := time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "", formatModified(time.Time{}, now))
	old := time.Date(2023, 1, 2, 3, 4, 0, 0, time.UTC)
	assert.Equal(t, "02/01/2023 03:04", formatModified(old, now))
	assert.NotEmpty(t, formatModified(now.Add(-time.Hour), now))
}

func TestSizeLabel(t *testing.T) {
	assert.Equal(t, "", sizeLabel(entry.Parent()))
	assert.Equal(t, "<DIR>", sizeLabel(entry.FileEntry{Name: "d", Type: entry.TypeDirectory}))
	assert.Equal(t, "5 B", sizeLabel(entry.FileEntry{Name: "f", Size: 5}))
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "Analyse...", statusLabel(transfer.Task{Status: transfer.StatusPending, Phase: transfer.PhaseScanning}))
	assert.Equal(t, "En attente", statusLabel(transfer.Task{Status: transfer.StatusPending}))
	assert.Equal(t, "25.0%", statusLabel(transfer.Task{Status: transfer.StatusTransferring, TransferredBytes: 50, TotalBytes: 200}))
	assert.Equal(t, "Terminé", statusLabel(transfer.Task{Status: transfer.StatusCompleted}))
	assert.Equal(t, "Échec", statusLabel(transfer.Task{Status: transfer.StatusFailed}))
	assert.Equal(t, "Annulé", statusLabel(transfer.Task{Status: transfer.StatusCancelled}))
}

func TestTransferDetail(t *testing.T) {
	running := transfer.Task{
		Status:           transfer.StatusTransferring,
		TransferredBytes: 1024,
		TotalBytes:       4096,
		BytesPerSecond:   1024,
	}
	assert.Equal(t, "1.0 KiB / 4.0 KiB · 1.0 KiB/s · reste 3s", transferDetail(running))

	failed := transfer.Task{Status: transfer.StatusFailed, TotalBytes: 10, Error: errors.New("boom")}
	assert.Equal(t, "0 B / 10 B · boom", transferDetail(failed))
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "", summarize(nil))
	tasks := []transfer.Task{
		{Status: transfer.StatusCompleted},
		{Status: transfer.StatusFailed},
		{Status: transfer.StatusTransferring},
		{Status: transfer.StatusPending},
		{Status: transfer.StatusCancelled},
	}
	assert.Equal(t, "2 en cours, 1 terminé, 1 échec", summarize(tasks))
	assert.Equal(t, "0 en cours, 1 terminé", summarize(tasks[:1]))
}

func TestParsePatterns(t *testing.T) {
	assert.Nil(t, parsePatterns(""))
	assert.Equal(t, []string{"*.tmp", ".git/**", "*.log"}, parsePatterns("*.tmp, .git/**\n *.log ,"))
}

func TestMessages(t *testing.T) {
	assert.Equal(t, "some.unknown.key", message("some.unknown.key"))
	assert.Equal(t, "Non connecté", message(pane.MsgNotConnected))
	assert.EqualError(t, noticeError(pane.MsgNotConnected), "Non connecté")
}

func TestSideLabel(t *testing.T) {
	assert.Equal(t, "Gauche", sideLabel(entry.Left))
	assert.Equal(t, "Droite", sideLabel(entry.Right))
}

func TestStatusText(t *testing.T) {
	snap := pane.Snapshot{
		Files: []entry.FileEntry{
			entry.Parent(),
			{Name: "a"},
			{Name: "b"},
		},
		SelectedFiles: []string{"a"},
	}
	assert.Equal(t, "2 éléments, 1 sélectionné", statusText(snap))

	snap.Transfers = []transfer.Task{
		{Status: transfer.StatusTransferring},
		{Status: transfer.StatusCompleted},
	}
	assert.Equal(t, "2 éléments, 1 sélectionné, 1 transfert", statusText(snap))

	assert.Equal(t, message(pane.MsgReconnecting), statusText(pane.Snapshot{Reconnecting: true, Loading: true}))
	assert.Equal(t, "Chargement...", statusText(pane.Snapshot{Loading: true}))
	assert.Equal(t, "Impossible de lister le dossier : boom",
		statusText(pane.Snapshot{Error: pane.MsgListFailed, ErrorMsg: "boom"}))
}

func TestParseMode(t *testing.T) {
	m, err := parseMode("755")
	require.NoError(t, err)
	assert.Equal(t, uint32(0o755), uint32(m))

	m, err = parseMode(" 0644 ")
	require.NoError(t, err)
	assert.Equal(t, uint32(0o644), uint32(m))

	for _, bad := range []string{"", "9", "rwx", "17777"} {
		_, err := parseMode(bad)
		assert.Error(t, err, bad)
	}
}

func TestPropertiesText(t *testing.T) {
	mod := time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC)
	text := propertiesText("/srv", entry.FileEntry{Name: "a.txt", Size: 2048, Permissions: "-rw-r--r--", LastModified: mod})
	assert.Equal(t, "Nom : a.txt\nType : txt\nTaille : 2.0 KiB\nChemin : /srv/a.txt\nPermissions : -rw-r--r--\nModifié : 01/03/2024 10:20:30", text)

	text = propertiesText("/", entry.FileEntry{Name: "d", Type: entry.TypeDirectory})
	assert.Equal(t, "Nom : d\nType : directory\nChemin : /d", text)
}

func TestContains(t *testing.T) {
	origin := fyne.NewPos(10, 10)
	size := fyne.NewSize(100, 50)
	assert.True(t, contains(origin, size, fyne.NewPos(10, 10)))
	assert.True(t, contains(origin, size, fyne.NewPos(50, 59)))
	assert.False(t, contains(origin, size, fyne.NewPos(110, 10)))
	assert.False(t, contains(origin, size, fyne.NewPos(9, 20)))
}

func TestConflictText(t *testing.T) {
	rec := conflict.Record{
		FileName:         "a.txt",
		ExistingSize:     1024,
		NewSize:          2048,
		ExistingModified: time.Date(2024, 1, 2, 3, 4, 0, 0, time.UTC),
	}
	assert.Equal(t,
		"« a.txt » existe déjà dans la destination.\n\nExistant : 1.0 KiB, modifié le 02/01/2024 03:04\nNouveau : 2.0 KiB",
		conflictText(rec))
}

func TestContextMenuItems(t *testing.T) {
	noop := func() {}
	items := FileContextMenuItems(MenuActions{
		IsDir:     true,
		Open:      noop,
		Transfer:  noop,
		Copy:      noop,
		Cut:       noop,
		Paste:     noop,
		Delete:    noop,
		Rename:    noop,
		Refresh:   noop,
		Selection: 2,
	})

	byLabel := make(map[string]ContextMenuItem)
	var labels []string
	for _, it := range items {
		if it.Label != "-" {
			labels = append(labels, it.Label)
			byLabel[it.Label] = it
		}
	}
	assert.Equal(t, []string{"Ouvrir", "Transférer vers l'autre panneau", "Copier", "Couper", "Coller", "Renommer...", "Supprimer", "Actualiser"}, labels)
	assert.True(t, byLabel["Transférer vers l'autre panneau"].Disabled)
	assert.True(t, byLabel["Coller"].Disabled)
	assert.True(t, byLabel["Renommer..."].Disabled)
	assert.False(t, byLabel["Supprimer"].Disabled)

	items = EmptyContextMenuItems(MenuActions{Paste: noop, NewFolder: noop, CanPaste: true, Connected: false})
	require.Len(t, items, 3)
	assert.Equal(t, "Coller", items[0].Label)
	assert.False(t, items[0].Disabled)
	assert.Equal(t, "Nouveau dossier...", items[2].Label)
	assert.True(t, items[2].Disabled)
}
