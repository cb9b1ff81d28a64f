package ui

import (
	"context"
	"image/color"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"

	"panesync/internal/entry"
	"panesync/internal/transfer"
)

// Transferrer starts a transfer of files from one pane to the other.
type Transferrer interface {
	TransferEntries(ctx context.Context, from entry.Side, files []entry.FileEntry) (transfer.Batch, error)
}

// DragDropManager tracks a drag between the two panes and turns a drop on
// the other pane into a transfer.
type DragDropManager struct {
	mu sync.Mutex

	ctx      context.Context
	transfer Transferrer
	locate   func(fyne.CanvasObject) fyne.Position
	zones    map[entry.Side]*DropZone

	dragging bool
	source   entry.Side
	items    []entry.FileEntry

	// OnError reports a failed drop.
	OnError func(err error)
}

// NewDragDropManager creates a manager that hands drops to t.
func NewDragDropManager(ctx context.Context, t Transferrer) *DragDropManager {
	return &DragDropManager{
		ctx:      ctx,
		transfer: t,
		zones:    make(map[entry.Side]*DropZone),
		locate: func(o fyne.CanvasObject) fyne.Position {
			return fyne.CurrentApp().Driver().AbsolutePositionForObject(o)
		},
	}
}

// SetZone registers the drop zone of side.
func (ddm *DragDropManager) SetZone(side entry.Side, z *DropZone) {
	ddm.mu.Lock()
	defer ddm.mu.Unlock()
	ddm.zones[side] = z
}

// StartDrag begins a drag of items out of source.
func (ddm *DragDropManager) StartDrag(source entry.Side, items []entry.FileEntry) {
	items = entry.WithoutParent(items)
	if len(items) == 0 {
		return
	}

	ddm.mu.Lock()
	ddm.dragging = true
	ddm.source = source
	ddm.items = items
	target := ddm.zones[source.Opposite()]
	ddm.mu.Unlock()

	if target != nil {
		target.SetHighlighted(true)
	}
}

// IsDragging returns whether a drag operation is in progress.
func (ddm *DragDropManager) IsDragging() bool {
	ddm.mu.Lock()
	defer ddm.mu.Unlock()
	return ddm.dragging
}

// Source returns the side the current drag started from.
func (ddm *DragDropManager) Source() entry.Side {
	ddm.mu.Lock()
	defer ddm.mu.Unlock()
	return ddm.source
}

// Release ends the drag at the absolute position pos. Dropping inside the
// other pane starts a transfer; anywhere else cancels.
func (ddm *DragDropManager) Release(pos fyne.Position) {
	ddm.mu.Lock()
	target := ddm.source.Opposite()
	zone := ddm.zones[target]
	hit := zone != nil && ddm.dragging && contains(ddm.locate(zone), zone.Size(), pos)
	ddm.mu.Unlock()

	if hit {
		ddm.Drop(target)
		return
	}
	ddm.EndDrag()
}

// Drop transfers the dragged items into target.
func (ddm *DragDropManager) Drop(target entry.Side) {
	ddm.mu.Lock()
	source, items, dragging := ddm.source, ddm.items, ddm.dragging
	ddm.mu.Unlock()
	ddm.EndDrag()

	if !dragging || source == target || len(items) == 0 {
		return
	}
	go func() {
		if _, err := ddm.transfer.TransferEntries(ddm.ctx, source, items); err != nil && ddm.OnError != nil {
			ddm.OnError(err)
		}
	}()
}

// EndDrag clears the drag state and highlights.
func (ddm *DragDropManager) EndDrag() {
	ddm.mu.Lock()
	ddm.dragging = false
	ddm.items = nil
	zones := make([]*DropZone, 0, len(ddm.zones))
	for _, z := range ddm.zones {
		zones = append(zones, z)
	}
	ddm.mu.Unlock()

	for _, z := range zones {
		z.SetHighlighted(false)
	}
}

// contains reports whether p lies in the rectangle at origin with size.
func contains(origin fyne.Position, size fyne.Size, p fyne.Position) bool {
	return p.X >= origin.X && p.Y >= origin.Y &&
		p.X < origin.X+size.Width && p.Y < origin.Y+size.Height
}

// DropZone wraps a pane body and highlights while it is a drop target.
type DropZone struct {
	widget.BaseWidget
	content     fyne.CanvasObject
	highlightBg *canvas.Rectangle
	side        entry.Side
	ddm         *DragDropManager
}

// NewDropZone creates a new drop zone wrapping the given content.
func NewDropZone(content fyne.CanvasObject, side entry.Side, ddm *DragDropManager) *DropZone {
	dz := &DropZone{
		content:     content,
		highlightBg: canvas.NewRectangle(color.NRGBA{R: 0, G: 150, B: 255, A: 50}),
		side:        side,
		ddm:         ddm,
	}
	dz.highlightBg.Hide()
	dz.ExtendBaseWidget(dz)
	return dz
}

// SetHighlighted sets the highlight state.
func (dz *DropZone) SetHighlighted(highlighted bool) {
	if highlighted {
		dz.highlightBg.Show()
	} else {
		dz.highlightBg.Hide()
	}
	dz.Refresh()
}

// CreateRenderer implements fyne.Widget.
func (dz *DropZone) CreateRenderer() fyne.WidgetRenderer {
	return &dropZoneRenderer{
		dz:      dz,
		objects: []fyne.CanvasObject{dz.content, dz.highlightBg},
	}
}

type dropZoneRenderer struct {
	dz      *DropZone
	objects []fyne.CanvasObject
}

func (r *dropZoneRenderer) Layout(size fyne.Size) {
	r.dz.highlightBg.Resize(size)
	r.dz.content.Resize(size)
}

func (r *dropZoneRenderer) MinSize() fyne.Size {
	return r.dz.content.MinSize()
}

func (r *dropZoneRenderer) Refresh() {
	r.dz.highlightBg.Refresh()
	r.dz.content.Refresh()
}

func (r *dropZoneRenderer) Objects() []fyne.CanvasObject {
	return r.objects
}

func (r *dropZoneRenderer) Destroy() {}
