package pane

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"panesync/internal/bridge"
	"panesync/internal/clipboard"
	"panesync/internal/dircache"
	"panesync/internal/entry"
	"panesync/internal/events"
	"panesync/internal/reconcile"
	"panesync/internal/transfer"
	"panesync/pkg/logger"
)

// ErrNoSelection is returned when an action needs selected files.
var ErrNoSelection = errors.New("no files selected")

// Engine is the part of transfer.Manager the browser drives.
type Engine interface {
	TaskLister
	clipboard.Enqueuer
	Cancel(id string) error
}

// Deps are the shared services of both panes.
type Deps struct {
	Bridge      bridge.Bridge
	Connections Connections
	Cache       *dircache.Cache
	Engine      Engine
	Clipboard   *clipboard.Coordinator
	Bus         *events.Bus
	Log         *logger.Logger
}

// Browser composes the two panes.
type Browser struct {
	Left  *Pane
	Right *Pane

	bridge bridge.Bridge
	engine Engine
	clip   *clipboard.Coordinator
	log    *logger.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewBrowser creates both panes over shared services.
func NewBrowser(d Deps) *Browser {
	if d.Log == nil {
		d.Log = logger.GetInstance()
	}
	seq := dircache.NewSequencer()
	ctx, cancel := context.WithCancel(context.Background())
	return &Browser{
		Left:   New(entry.Left, d.Bridge, d.Connections, d.Cache, seq, d.Engine, d.Bus, d.Log),
		Right:  New(entry.Right, d.Bridge, d.Connections, d.Cache, seq, d.Engine, d.Bus, d.Log),
		bridge: d.Bridge,
		engine: d.Engine,
		clip:   d.Clipboard,
		log:    d.Log.Named("browser"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Pane returns the pane of side.
func (b *Browser) Pane(side entry.Side) *Pane {
	if side == entry.Right {
		return b.Right
	}
	return b.Left
}

// CanPaste reports whether the clipboard holds files.
func (b *Browser) CanPaste() bool {
	return b.clip != nil && b.clip.Has()
}

// Close stops background refreshes.
func (b *Browser) Close() {
	b.cancel()
}

func toItems(files []entry.FileEntry) []transfer.Item {
	items := make([]transfer.Item, 0, len(files))
	for _, f := range files {
		items = append(items, transfer.Item{Name: f.Name, IsDir: f.Type == entry.TypeDirectory, Size: f.Size})
	}
	return items
}

// Transfer sends the selection of from into the other pane's directory.
func (b *Browser) Transfer(ctx context.Context, from entry.Side) (transfer.Batch, error) {
	return b.TransferEntries(ctx, from, b.Pane(from).SelectedEntries())
}

// TransferEntries sends files of from into the other pane's directory.
func (b *Browser) TransferEntries(ctx context.Context, from entry.Side, files []entry.FileEntry) (transfer.Batch, error) {
	files = entry.WithoutParent(files)
	if len(files) == 0 {
		return transfer.Batch{}, ErrNoSelection
	}
	src, dst := b.Pane(from), b.Pane(from.Opposite())
	srcConn, srcDir, err := src.connection(ctx)
	if err != nil {
		return transfer.Batch{}, fmt.Errorf("%s pane: %w", from, err)
	}
	dstConn, dstDir, err := dst.connection(ctx)
	if err != nil {
		return transfer.Batch{}, fmt.Errorf("%s pane: %w", from.Opposite(), err)
	}

	batch, err := b.engine.Enqueue(ctx, transfer.Request{
		Items:      toItems(files),
		SourceSide: from,
		TargetSide: from.Opposite(),
		SourceConn: srcConn.ID,
		TargetConn: dstConn.ID,
		SourceDir:  srcDir,
		TargetDir:  dstDir,
	})
	if err != nil {
		return transfer.Batch{}, err
	}
	b.log.Info("transfer started",
		zap.String("from", string(from)),
		zap.Int("files", len(files)),
		zap.String("batch_id", batch.ID))

	if err := b.engine.OnBatchDone(batch.ID, func(transfer.BatchResult) {
		dst.InvalidateIfAt(b.ctx, dstConn.ID, dstDir)
	}); err != nil {
		b.log.Warn("cannot watch batch", zap.Error(err))
	}
	return batch, nil
}

func toClipboardFiles(files []entry.FileEntry) []clipboard.File {
	out := make([]clipboard.File, 0, len(files))
	for _, f := range files {
		out = append(out, clipboard.File{Name: f.Name, IsDirectory: f.Type == entry.TypeDirectory, Size: f.Size})
	}
	return out
}

// Copy puts the selection of side on the clipboard.
func (b *Browser) Copy(side entry.Side) error {
	return b.toClipboard(side, clipboard.OpCopy)
}

// Cut puts the selection of side on the clipboard for a move.
func (b *Browser) Cut(side entry.Side) error {
	return b.toClipboard(side, clipboard.OpCut)
}

func (b *Browser) toClipboard(side entry.Side, op clipboard.Operation) error {
	p := b.Pane(side)
	files := p.SelectedEntries()
	if len(files) == 0 {
		return ErrNoSelection
	}
	conn, ok := p.conns.Current(side)
	if !ok {
		return errors.New("pane is not connected")
	}
	if op == clipboard.OpCut {
		b.clip.Cut(toClipboardFiles(files), p.Path(), conn.ID, side)
	} else {
		b.clip.Copy(toClipboardFiles(files), p.Path(), conn.ID, side)
	}
	return nil
}

// Paste pastes the clipboard into side. Both panes refresh once the paste
// has settled.
func (b *Browser) Paste(ctx context.Context, side entry.Side) (clipboard.PasteResult, error) {
	p := b.Pane(side)
	conn, dir, err := p.connection(ctx)
	if err != nil {
		return clipboard.PasteResult{}, err
	}
	st, _ := b.clip.State()
	res := b.clip.Paste(ctx, clipboard.Target{Side: side, Path: dir, ConnectionID: conn.ID})
	if res.Notice != "" {
		return res, nil
	}
	go func() {
		select {
		case <-res.Done:
		case <-b.ctx.Done():
			return
		}
		p.InvalidateIfAt(b.ctx, conn.ID, dir)
		if st.Operation == clipboard.OpCut {
			b.Pane(st.SourceSide).InvalidateIfAt(b.ctx, st.SourceConnectionID, st.SourcePath)
		}
	}()
	return res, res.Err
}

// Reconcile brings the directory of the other pane in line with the one of
// source according to opts. Both panes refresh once it is over.
func (b *Browser) Reconcile(ctx context.Context, source entry.Side, opts reconcile.Options) ([]reconcile.Action, *reconcile.Result, error) {
	src, dst := b.Pane(source), b.Pane(source.Opposite())
	srcConn, srcDir, err := src.connection(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%s pane: %w", source, err)
	}
	dstConn, dstDir, err := dst.connection(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%s pane: %w", source.Opposite(), err)
	}
	req := reconcile.Request{
		Source: reconcile.Endpoint{Side: source, Conn: srcConn.ID, Dir: srcDir},
		Target: reconcile.Endpoint{Side: source.Opposite(), Conn: dstConn.ID, Dir: dstDir},
	}

	s := reconcile.NewSyncer(b.bridge, b.engine, b.log, opts)
	actions, err := s.Analyze(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	res, err := s.Execute(ctx, req, actions)
	if !opts.DryRun {
		src.InvalidateIfAt(b.ctx, srcConn.ID, srcDir)
		dst.InvalidateIfAt(b.ctx, dstConn.ID, dstDir)
	}
	return actions, res, err
}
