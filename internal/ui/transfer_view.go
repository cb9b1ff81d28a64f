package ui

import (
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	mapset "github.com/deckarep/golang-set/v2"

	"panesync/internal/entry"
	"panesync/internal/transfer"
)

// TaskSource is the part of transfer.Manager the view needs.
type TaskSource interface {
	Tasks() []transfer.Task
	Cancel(id string) error
	CancelAll()
	Retry(id string) (transfer.Task, error)
	ClearFinished()
	OnTaskDone(id string, fn func(transfer.Task)) error
}

// TransferView lists transfer tasks with their progress.
type TransferView struct {
	engine    TaskSource
	container *fyne.Container
	list      *widget.List
	summary   *widget.Label

	mu    sync.RWMutex
	items []transfer.Task
	// watched holds ids with a completion listener registered.
	watched mapset.Set[string]

	// OnError reports a failed cancel or retry.
	OnError func(err error)
}

// NewTransferView creates a new transfer view.
func NewTransferView(engine TaskSource) *TransferView {
	tv := &TransferView{engine: engine, watched: mapset.NewSet[string]()}
	tv.buildUI()
	return tv
}

func (tv *TransferView) buildUI() {
	tv.summary = widget.NewLabel("")

	tv.list = widget.NewList(
		func() int {
			tv.mu.RLock()
			defer tv.mu.RUnlock()
			return len(tv.items)
		},
		func() fyne.CanvasObject {
			cancel := widget.NewButtonWithIcon("", theme.CancelIcon(), nil)
			retry := widget.NewButtonWithIcon("", theme.MediaReplayIcon(), nil)
			return container.NewVBox(
				container.NewHBox(
					widget.NewIcon(theme.MailForwardIcon()),
					widget.NewLabel("filename.txt"),
					widget.NewLabel("Gauche → Droite"),
					layout.NewSpacer(),
					widget.NewLabel("50%"),
					retry,
					cancel,
				),
				widget.NewProgressBar(),
				widget.NewLabel(""),
			)
		},
		func(id widget.ListItemID, obj fyne.CanvasObject) {
			tv.mu.RLock()
			if id >= len(tv.items) {
				tv.mu.RUnlock()
				return
			}
			t := tv.items[id]
			tv.mu.RUnlock()

			box := obj.(*fyne.Container)
			row := box.Objects[0].(*fyne.Container)

			icon := row.Objects[0].(*widget.Icon)
			if t.TargetSide == entry.Left {
				icon.SetResource(theme.NavigateBackIcon())
			} else {
				icon.SetResource(theme.NavigateNextIcon())
			}
			row.Objects[1].(*widget.Label).SetText(t.FileName)
			row.Objects[2].(*widget.Label).SetText(sideLabel(t.SourceSide) + " → " + t.TargetPath)
			row.Objects[4].(*widget.Label).SetText(statusLabel(t))

			retry := row.Objects[5].(*widget.Button)
			retry.OnTapped = func() { tv.retry(t.ID) }
			if t.Status == transfer.StatusFailed {
				retry.Show()
			} else {
				retry.Hide()
			}

			cancel := row.Objects[6].(*widget.Button)
			cancel.OnTapped = func() { tv.cancel(t.ID) }
			if t.Status.Terminal() {
				cancel.Hide()
			} else {
				cancel.Show()
			}

			box.Objects[1].(*widget.ProgressBar).SetValue(t.Progress() / 100)
			box.Objects[2].(*widget.Label).SetText(transferDetail(t))
		},
	)

	clearBtn := widget.NewButtonWithIcon("Effacer terminés", theme.DeleteIcon(), func() {
		tv.engine.ClearFinished()
		tv.Reload()
	})
	cancelAllBtn := widget.NewButtonWithIcon("Tout annuler", theme.CancelIcon(), func() {
		tv.engine.CancelAll()
		tv.Reload()
	})

	header := container.NewHBox(
		widget.NewLabelWithStyle("Transferts", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		tv.summary,
	)

	tv.container = container.NewBorder(
		header,
		container.NewHBox(clearBtn, cancelAllBtn),
		nil, nil,
		tv.list,
	)
}

// GetContainer returns the transfer view's container.
func (tv *TransferView) GetContainer() *fyne.Container {
	return tv.container
}

// Reload re-reads every task from the engine and asks to be told when the
// unfinished ones end.
func (tv *TransferView) Reload() {
	tasks := tv.engine.Tasks()
	tv.mu.Lock()
	tv.items = tasks
	tv.mu.Unlock()
	tv.summary.SetText(summarize(tasks))
	tv.list.Refresh()

	for _, t := range tasks {
		if t.Status.Terminal() || !tv.watched.Add(t.ID) {
			continue
		}
		if err := tv.engine.OnTaskDone(t.ID, tv.taskDone); err != nil {
			tv.watched.Remove(t.ID)
		}
	}
}

func (tv *TransferView) taskDone(t transfer.Task) {
	tv.watched.Remove(t.ID)
	tv.UpdateTask(t)
}

// UpdateTask replaces one task in place, or reloads when it is new.
func (tv *TransferView) UpdateTask(t transfer.Task) {
	tv.mu.Lock()
	found := false
	for i := range tv.items {
		if tv.items[i].ID == t.ID {
			tv.items[i] = t
			found = true
			break
		}
	}
	tv.mu.Unlock()

	if !found {
		tv.Reload()
		return
	}
	tv.summary.SetText(summarize(tv.snapshot()))
	tv.list.Refresh()
}

func (tv *TransferView) snapshot() []transfer.Task {
	tv.mu.RLock()
	defer tv.mu.RUnlock()
	return append([]transfer.Task(nil), tv.items...)
}

// GetActiveCount returns the number of tasks not yet finished.
func (tv *TransferView) GetActiveCount() int {
	tv.mu.RLock()
	defer tv.mu.RUnlock()
	n := 0
	for _, t := range tv.items {
		if !t.Status.Terminal() {
			n++
		}
	}
	return n
}

func (tv *TransferView) cancel(id string) {
	if err := tv.engine.Cancel(id); err != nil && tv.OnError != nil {
		tv.OnError(err)
	}
}

func (tv *TransferView) retry(id string) {
	if _, err := tv.engine.Retry(id); err != nil && tv.OnError != nil {
		tv.OnError(err)
	}
	tv.Reload()
}

// summarize counts tasks per state for the header.
func summarize(tasks []transfer.Task) string {
	var active, done, failed int
	for _, t := range tasks {
		switch t.Status {
		case transfer.StatusCompleted:
			done++
		case transfer.StatusFailed:
			failed++
		case transfer.StatusCancelled:
		default:
			active++
		}
	}
	if len(tasks) == 0 {
		return ""
	}
	text := formatCount(active, "en cours", "en cours") + ", " + formatCount(done, "terminé", "terminés")
	if failed > 0 {
		text += ", " + formatCount(failed, "échec", "échecs")
	}
	return text
}
