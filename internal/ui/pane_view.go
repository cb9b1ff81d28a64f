package ui

import (
	"context"
	"errors"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	mapset "github.com/deckarep/golang-set/v2"

	"panesync/internal/entry"
	"panesync/internal/pane"
	"panesync/internal/virtuallist"
	"panesync/pkg/logger"
)

var errNoSelection = errors.New("Aucun fichier sélectionné")

// fallbackRowHeight is used until a row has been measured.
const fallbackRowHeight = 36

var sortFields = []struct {
	label string
	field entry.SortField
}{
	{"Nom", entry.SortByName},
	{"Taille", entry.SortBySize},
	{"Date", entry.SortByModified},
	{"Type", entry.SortByKind},
}

// PaneView renders one pane. Only the rows inside the VirtualList window are
// materialized.
type PaneView struct {
	ctx     context.Context
	side    entry.Side
	pane    *pane.Pane
	browser *pane.Browser
	window  fyne.Window
	ops     *FileOperations
	ddm     *DragDropManager
	log     *logger.Logger

	threshold int
	overscan  int

	mu        sync.Mutex
	snap      pane.Snapshot
	selected  mapset.Set[string]
	scrollTop float64
	win       virtuallist.Window
	sampler   virtuallist.RowHeightSampler
	coalescer *virtuallist.Coalescer

	// OnConnect is called by the connect button.
	OnConnect func(side entry.Side)
	// OnError reports a failed action.
	OnError func(err error)
	// OnFocus is called when a row of the pane is clicked.
	OnFocus func(side entry.Side)

	titleLabel  *widget.Label
	pathEntry   *widget.Entry
	filterEntry *widget.Entry
	hiddenCheck *widget.Check
	sortSelect  *widget.Select
	statusLabel *widget.Label
	rows        *fyne.Container
	scroll      *container.Scroll
	content     fyne.CanvasObject
}

// NewPaneView creates the view of side.
func NewPaneView(ctx context.Context, window fyne.Window, browser *pane.Browser, side entry.Side, ops *FileOperations, ddm *DragDropManager, threshold, overscan int) *PaneView {
	pv := &PaneView{
		ctx:       ctx,
		side:      side,
		pane:      browser.Pane(side),
		browser:   browser,
		window:    window,
		ops:       ops,
		ddm:       ddm,
		log:       logger.GetInstance().Named("ui").Named(string(side)),
		threshold: threshold,
		overscan:  overscan,
		selected:  mapset.NewSet[string](),
	}
	pv.coalescer = virtuallist.NewCoalescer(virtuallist.DefaultFrame, pv.onScroll)
	pv.buildUI()
	return pv
}

func (pv *PaneView) buildUI() {
	pv.titleLabel = widget.NewLabelWithStyle(sideLabel(pv.side)+" : non connecté", fyne.TextAlignCenter, fyne.TextStyle{Bold: true})

	pv.pathEntry = widget.NewEntry()
	pv.pathEntry.OnSubmitted = func(p string) {
		pv.async(func(ctx context.Context) error { return pv.pane.Navigate(ctx, p) })
	}

	connectBtn := widget.NewButtonWithIcon("", theme.ComputerIcon(), func() {
		if pv.OnConnect != nil {
			pv.OnConnect(pv.side)
		}
	})
	upBtn := widget.NewButtonWithIcon("", theme.MoveUpIcon(), func() {
		pv.async(pv.pane.Up)
	})
	homeBtn := widget.NewButtonWithIcon("", theme.HomeIcon(), func() {
		pv.async(pv.pane.Home)
	})
	refreshBtn := widget.NewButtonWithIcon("", theme.ViewRefreshIcon(), func() {
		pv.async(pv.pane.Refresh)
	})

	pathBar := container.NewBorder(nil, nil,
		container.NewHBox(connectBtn, upBtn, homeBtn),
		refreshBtn,
		pv.pathEntry,
	)

	pv.filterEntry = widget.NewEntry()
	pv.filterEntry.SetPlaceHolder("Filtrer...")
	pv.filterEntry.OnChanged = pv.pane.SetFilter

	pv.hiddenCheck = widget.NewCheck("Cachés", pv.pane.SetShowHidden)

	labels := make([]string, len(sortFields))
	for i, f := range sortFields {
		labels[i] = f.label
	}
	pv.sortSelect = widget.NewSelect(labels, func(label string) {
		for _, f := range sortFields {
			if f.label == label {
				pv.pane.ToggleSort(f.field)
			}
		}
	})
	pv.sortSelect.PlaceHolder = "Trier"

	filterBar := container.NewBorder(nil, nil, nil,
		container.NewHBox(pv.sortSelect, pv.hiddenCheck),
		pv.filterEntry,
	)

	pv.rows = container.New(&rowsLayout{pv: pv})
	pv.scroll = container.NewVScroll(pv.rows)
	pv.scroll.OnScrolled = func(pos fyne.Position) {
		pv.coalescer.Update(float64(pos.Y))
	}

	pv.statusLabel = widget.NewLabel("")
	pv.statusLabel.Wrapping = fyne.TextWrapWord

	zone := NewDropZone(newBackground(pv, pv.scroll), pv.side, pv.ddm)
	pv.ddm.SetZone(pv.side, zone)

	pv.content = container.NewBorder(
		container.NewVBox(pv.titleLabel, pathBar, filterBar),
		pv.statusLabel, nil, nil,
		zone,
	)
}

// Content returns the root object of the view.
func (pv *PaneView) Content() fyne.CanvasObject {
	return pv.content
}

// SetShowHidden applies the configured default.
func (pv *PaneView) SetShowHidden(show bool) {
	pv.hiddenCheck.SetChecked(show)
}

func (pv *PaneView) async(op func(ctx context.Context) error) {
	go func() {
		if err := op(pv.ctx); err != nil {
			pv.log.Debugf("pane action failed: %v", err)
		}
	}()
}

func (pv *PaneView) report(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, pane.ErrNoSelection) {
		err = errNoSelection
	}
	if pv.OnError != nil {
		pv.OnError(err)
		return
	}
	dialog.ShowError(err, pv.window)
}

// Update re-reads the pane snapshot and re-renders.
func (pv *PaneView) Update() {
	snap := pv.pane.Snapshot()

	pv.mu.Lock()
	pathChanged := snap.Path != pv.snap.Path || snap.ConnectionID != pv.snap.ConnectionID
	pv.snap = snap
	pv.selected = mapset.NewSet(snap.SelectedFiles...)
	if pathChanged {
		pv.scrollTop = 0
	}
	pv.mu.Unlock()

	if pathChanged {
		pv.scroll.ScrollToTop()
	}

	title := sideLabel(pv.side) + " : non connecté"
	if snap.ConnectionID != "" {
		title = sideLabel(pv.side)
	}
	pv.titleLabel.SetText(title)
	if pv.pathEntry.Text != snap.Path {
		pv.pathEntry.SetText(snap.Path)
	}
	pv.statusLabel.SetText(statusText(snap))
	pv.render()
}

// statusText is the line shown under a pane.
func statusText(s pane.Snapshot) string {
	switch {
	case s.Reconnecting:
		return message(pane.MsgReconnecting)
	case s.Loading:
		return "Chargement..."
	case s.Error != "":
		text := message(s.Error)
		if s.ErrorMsg != "" {
			text += " : " + s.ErrorMsg
		}
		return text
	}
	n := len(entry.WithoutParent(s.Files))
	text := formatCount(n, "élément", "éléments")
	if len(s.SelectedFiles) > 0 {
		text += ", " + formatCount(len(s.SelectedFiles), "sélectionné", "sélectionnés")
	}
	if active := activeTransfers(s); active > 0 {
		text += ", " + formatCount(active, "transfert", "transferts")
	}
	return text
}

func activeTransfers(s pane.Snapshot) int {
	n := 0
	for _, t := range s.Transfers {
		if !t.Status.Terminal() {
			n++
		}
	}
	return n
}

func (pv *PaneView) onScroll(top float64) {
	pv.mu.Lock()
	pv.scrollTop = top
	pv.mu.Unlock()
	pv.render()
}

// computeWindow returns the rows to materialize for the current state.
func (pv *PaneView) computeWindow() virtuallist.Window {
	pv.mu.Lock()
	defer pv.mu.Unlock()
	return virtuallist.Compute(virtuallist.Params{
		Count:          len(pv.snap.Files),
		RowHeight:      pv.sampler.Height(fallbackRowHeight),
		ViewportHeight: float64(pv.scroll.Size().Height),
		ScrollTop:      pv.scrollTop,
		Overscan:       pv.overscan,
		Threshold:      pv.threshold,
	})
}

// render binds a row widget to every entry inside the window.
func (pv *PaneView) render() {
	win := pv.computeWindow()

	pv.mu.Lock()
	pv.win = win
	files := pv.snap.Files
	pv.mu.Unlock()

	objects := pv.rows.Objects
	for len(objects) < win.Len() {
		objects = append(objects, newFileRow(pv))
	}
	objects = objects[:win.Len()]
	for i, obj := range objects {
		idx := win.Start + i
		obj.(*fileRow).bind(idx, files[idx], pv.isSelected(files[idx].Name))
	}
	pv.rows.Objects = objects

	if len(objects) > 0 && pv.sampler.Sample(float64(objects[0].MinSize().Height)) {
		// The first real measurement changes every offset.
		pv.render()
		return
	}
	pv.rows.Refresh()
}

func (pv *PaneView) isSelected(name string) bool {
	pv.mu.Lock()
	defer pv.mu.Unlock()
	return pv.selected.Contains(name)
}

func (pv *PaneView) currentWindow() (virtuallist.Window, float64) {
	pv.mu.Lock()
	defer pv.mu.Unlock()
	return pv.win, pv.sampler.Height(fallbackRowHeight)
}

// tap applies click selection: plain click selects one row, the shortcut
// modifier toggles, shift extends.
func (pv *PaneView) tap(idx int, f entry.FileEntry, mod fyne.KeyModifier) {
	if pv.OnFocus != nil {
		pv.OnFocus(pv.side)
	}
	if f.IsParent() {
		return
	}
	switch {
	case mod&(fyne.KeyModifierControl|fyne.KeyModifierSuper) != 0:
		pv.pane.Toggle(f.Name)
	case mod&fyne.KeyModifierShift != 0:
		pv.pane.Select(pv.rangeNames(idx)...)
	default:
		pv.pane.ClearSelection()
		pv.pane.Select(f.Name)
	}
}

// rangeNames returns the names from the nearest selected row to idx.
func (pv *PaneView) rangeNames(idx int) []string {
	pv.mu.Lock()
	defer pv.mu.Unlock()
	anchor := idx
	for i, f := range pv.snap.Files {
		if pv.selected.Contains(f.Name) {
			anchor = i
			if i >= idx {
				break
			}
		}
	}
	lo, hi := anchor, idx
	if lo > hi {
		lo, hi = hi, lo
	}
	var names []string
	for i := lo; i <= hi && i < len(pv.snap.Files); i++ {
		if !pv.snap.Files[i].IsParent() {
			names = append(names, pv.snap.Files[i].Name)
		}
	}
	return names
}

func (pv *PaneView) open(f entry.FileEntry) {
	if f.IsDir() {
		name := f.Name
		pv.async(func(ctx context.Context) error { return pv.pane.Open(ctx, name) })
		return
	}
	pv.transfer([]entry.FileEntry{f})
}

func (pv *PaneView) transfer(files []entry.FileEntry) {
	go func() {
		_, err := pv.browser.TransferEntries(pv.ctx, pv.side, files)
		pv.report(err)
	}()
}

// selectionOr returns the selection, or f alone when f is not part of it.
func (pv *PaneView) selectionOr(f entry.FileEntry) []entry.FileEntry {
	sel := pv.pane.SelectedEntries()
	for _, s := range sel {
		if s.Name == f.Name {
			return sel
		}
	}
	if f.IsParent() {
		return nil
	}
	return []entry.FileEntry{f}
}

func names(files []entry.FileEntry) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Name)
	}
	return out
}

// Copy puts the selection on the clipboard.
func (pv *PaneView) Copy() { pv.report(pv.browser.Copy(pv.side)) }

// Cut puts the selection on the clipboard for a move.
func (pv *PaneView) Cut() { pv.report(pv.browser.Cut(pv.side)) }

// Paste pastes the clipboard into the pane's directory.
func (pv *PaneView) Paste() {
	go func() {
		res, err := pv.browser.Paste(pv.ctx, pv.side)
		if res.Notice != "" {
			pv.report(noticeError(res.Notice))
			return
		}
		pv.report(err)
	}()
}

// TransferSelection sends the selection to the other pane.
func (pv *PaneView) TransferSelection() {
	pv.transfer(pv.pane.SelectedEntries())
}

// DeleteSelection asks to delete the selection.
func (pv *PaneView) DeleteSelection() {
	if sel := pv.pane.Selected(); len(sel) > 0 {
		pv.ops.Delete(pv.pane, sel)
	}
}

func (pv *PaneView) menuActions() MenuActions {
	other := pv.browser.Pane(pv.side.Opposite()).Snapshot()
	snap := pv.pane.Snapshot()
	return MenuActions{
		Paste:     pv.Paste,
		SelectAll: pv.pane.SelectAll,
		NewFolder: func() { pv.ops.CreateFolder(pv.pane) },
		Refresh:   func() { pv.async(pv.pane.Refresh) },
		CopyPath: func() {
			pv.window.Clipboard().SetContent(pv.pane.Path())
		},
		CanPaste:    pv.browser.CanPaste(),
		Connected:   snap.ConnectionID != "",
		OtherSideOK: other.ConnectionID != "",
	}
}

func (pv *PaneView) showRowMenu(f entry.FileEntry, pos fyne.Position) {
	if !pv.isSelected(f.Name) && !f.IsParent() {
		pv.pane.ClearSelection()
		pv.pane.Select(f.Name)
	}
	files := pv.selectionOr(f)

	a := pv.menuActions()
	a.IsDir = f.IsDir()
	a.Selection = len(files)
	a.Open = func() { pv.open(f) }
	if len(files) > 0 {
		a.Transfer = func() { pv.transfer(files) }
		a.Copy = pv.Copy
		a.Cut = pv.Cut
		a.Rename = func() { pv.ops.Rename(pv.pane, f.Name) }
		a.Delete = func() { pv.ops.Delete(pv.pane, names(files)) }
		a.Chmod = func() { pv.ops.Chmod(pv.pane, f) }
		a.Properties = func() { pv.ops.ShowProperties(pv.pane, f) }
		a.CopyPath = func() {
			dir := pv.pane.Path()
			if dir != "/" {
				dir += "/"
			}
			pv.window.Clipboard().SetContent(dir + f.Name)
		}
	}
	NewContextMenu(FileContextMenuItems(a)).ShowAtPosition(pv.window.Canvas(), pos)
}

func (pv *PaneView) showBackgroundMenu(pos fyne.Position) {
	NewContextMenu(EmptyContextMenuItems(pv.menuActions())).ShowAtPosition(pv.window.Canvas(), pos)
}

// Dispose stops the scroll coalescer.
func (pv *PaneView) Dispose() {
	pv.coalescer.Stop()
}

// rowsLayout positions the materialized rows at their list offsets and
// reports the full list height so the scroll bar covers every row.
type rowsLayout struct {
	pv *PaneView
}

func (l *rowsLayout) Layout(objects []fyne.CanvasObject, size fyne.Size) {
	win, h := l.pv.currentWindow()
	for i, obj := range objects {
		y := float32(win.OffsetTop + float64(i)*h)
		obj.Move(fyne.NewPos(0, y))
		obj.Resize(fyne.NewSize(size.Width, float32(h)))
	}
}

func (l *rowsLayout) MinSize(objects []fyne.CanvasObject) fyne.Size {
	win, _ := l.pv.currentWindow()
	var w float32
	for _, obj := range objects {
		if mw := obj.MinSize().Width; mw > w {
			w = mw
		}
	}
	return fyne.NewSize(w, float32(win.TotalHeight))
}

// fileRow is one materialized row.
type fileRow struct {
	widget.BaseWidget
	pv       *PaneView
	index    int
	file     entry.FileEntry
	mod      fyne.KeyModifier
	dragging bool
	lastDrag fyne.Position

	bg       *canvas.Rectangle
	icon     *widget.Icon
	name     *widget.Label
	size     *widget.Label
	modified *widget.Label
}

func newFileRow(pv *PaneView) *fileRow {
	r := &fileRow{
		pv:       pv,
		bg:       canvas.NewRectangle(theme.SelectionColor()),
		icon:     widget.NewIcon(theme.FileIcon()),
		name:     widget.NewLabel(""),
		size:     widget.NewLabel(""),
		modified: widget.NewLabel(""),
	}
	r.bg.Hide()
	r.ExtendBaseWidget(r)
	return r
}

func (r *fileRow) bind(idx int, f entry.FileEntry, selected bool) {
	r.index = idx
	r.file = f

	switch {
	case f.IsParent():
		r.icon.SetResource(theme.MoveUpIcon())
	case f.Type == entry.TypeSymlink:
		r.icon.SetResource(theme.MailForwardIcon())
	case f.IsDir():
		r.icon.SetResource(theme.FolderIcon())
	default:
		r.icon.SetResource(theme.FileIcon())
	}
	r.name.SetText(f.Name)
	r.size.SetText(sizeLabel(f))
	r.modified.SetText(formatModified(f.LastModified, time.Now()))
	if selected {
		r.bg.Show()
	} else {
		r.bg.Hide()
	}
}

func (r *fileRow) CreateRenderer() fyne.WidgetRenderer {
	return widget.NewSimpleRenderer(container.NewStack(
		r.bg,
		container.NewBorder(nil, nil, r.icon, container.NewHBox(r.size, r.modified), r.name),
	))
}

// MouseDown implements desktop.Mouseable to capture modifiers before Tapped.
func (r *fileRow) MouseDown(e *desktop.MouseEvent) { r.mod = e.Modifier }

// MouseUp implements desktop.Mouseable.
func (r *fileRow) MouseUp(*desktop.MouseEvent) {}

// Tapped implements fyne.Tappable.
func (r *fileRow) Tapped(*fyne.PointEvent) {
	r.pv.tap(r.index, r.file, r.mod)
	r.mod = 0
}

// DoubleTapped implements fyne.DoubleTappable.
func (r *fileRow) DoubleTapped(*fyne.PointEvent) {
	r.pv.open(r.file)
}

// TappedSecondary implements fyne.SecondaryTappable.
func (r *fileRow) TappedSecondary(e *fyne.PointEvent) {
	r.pv.showRowMenu(r.file, e.AbsolutePosition)
}

// Dragged implements fyne.Draggable.
func (r *fileRow) Dragged(e *fyne.DragEvent) {
	r.lastDrag = e.AbsolutePosition
	if r.dragging || r.file.IsParent() {
		return
	}
	r.dragging = true
	r.pv.ddm.StartDrag(r.pv.side, r.pv.selectionOr(r.file))
}

// DragEnd implements fyne.Draggable.
func (r *fileRow) DragEnd() {
	if !r.dragging {
		return
	}
	r.dragging = false
	r.pv.ddm.Release(r.lastDrag)
}

// background catches secondary taps on the empty part of a pane.
type background struct {
	widget.BaseWidget
	pv      *PaneView
	content fyne.CanvasObject
}

func newBackground(pv *PaneView, content fyne.CanvasObject) *background {
	b := &background{pv: pv, content: content}
	b.ExtendBaseWidget(b)
	return b
}

func (b *background) CreateRenderer() fyne.WidgetRenderer {
	return widget.NewSimpleRenderer(b.content)
}

// TappedSecondary implements fyne.SecondaryTappable.
func (b *background) TappedSecondary(e *fyne.PointEvent) {
	b.pv.showBackgroundMenu(e.AbsolutePosition)
}
