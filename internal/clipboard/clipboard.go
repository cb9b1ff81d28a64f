// Package clipboard holds the cross-pane copy/cut slot and turns a paste into
// transfers, deleting cut sources once their transfers complete.
package clipboard

import (
	"context"
	"path"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"panesync/internal/entry"
	"panesync/internal/events"
	"panesync/internal/transfer"
	"panesync/pkg/logger"
)

// Message keys shown to the user.
const (
	MsgSamePane    = "sftp.clipboard.samePane"
	MsgEmpty       = "sftp.clipboard.empty"
	MsgPartialMove = "sftp.clipboard.partialMove"
)

// Operation is what a paste does with the source.
type Operation string

const (
	OpCopy Operation = "copy"
	OpCut  Operation = "cut"
)

// File is one clipboard entry.
type File struct {
	Name        string
	IsDirectory bool
	Size        int64
}

// State is the clipboard payload.
type State struct {
	Files              []File
	SourcePath         string
	SourceConnectionID string
	SourceSide         entry.Side
	Operation          Operation
}

func (s State) clone() State {
	s.Files = append([]File(nil), s.Files...)
	return s
}

// Names returns the file names in order.
func (s State) Names() []string {
	out := make([]string, len(s.Files))
	for i, f := range s.Files {
		out[i] = f.Name
	}
	return out
}

// Enqueuer starts transfers and reports when a batch is over.
type Enqueuer interface {
	Enqueue(ctx context.Context, req transfer.Request) (transfer.Batch, error)
	OnBatchDone(batchID string, fn func(transfer.BatchResult)) error
}

// Deleter removes a source entry after a completed move.
type Deleter interface {
	Delete(ctx context.Context, connID, p string, recursive bool) error
}

// Target is where a paste goes.
type Target struct {
	Side         entry.Side
	Path         string
	ConnectionID string
}

// PasteResult reports what a paste started.
type PasteResult struct {
	// Notice is a message key for an informational outcome; nothing was
	// transferred when it is set.
	Notice  string
	Batches []transfer.Batch
	// Err collects the files that could not be queued.
	Err error
	// Done is closed when every started transfer has finished and, for a
	// cut, the sources have been handled.
	Done <-chan struct{}
}

// Coordinator owns a single clipboard slot.
type Coordinator struct {
	engine  Enqueuer
	deleter Deleter
	bus     *events.Bus
	log     *logger.Logger

	mu    sync.Mutex
	state *State
	gen   uint64
}

// NewCoordinator creates an empty clipboard.
func NewCoordinator(engine Enqueuer, deleter Deleter, bus *events.Bus, log *logger.Logger) *Coordinator {
	if log == nil {
		log = logger.GetInstance()
	}
	return &Coordinator{engine: engine, deleter: deleter, bus: bus, log: log.Named("clipboard")}
}

// Copy replaces the clipboard with files to copy.
func (c *Coordinator) Copy(files []File, sourcePath, sourceConnectionID string, sourceSide entry.Side) {
	c.set(OpCopy, files, sourcePath, sourceConnectionID, sourceSide)
}

// Cut replaces the clipboard with files to move.
func (c *Coordinator) Cut(files []File, sourcePath, sourceConnectionID string, sourceSide entry.Side) {
	c.set(OpCut, files, sourcePath, sourceConnectionID, sourceSide)
}

func (c *Coordinator) set(op Operation, files []File, sourcePath, connID string, side entry.Side) {
	kept := make([]File, 0, len(files))
	for _, f := range files {
		if f.Name != "" && f.Name != ".." {
			kept = append(kept, f)
		}
	}
	st := &State{
		Files:              kept,
		SourcePath:         sourcePath,
		SourceConnectionID: connID,
		SourceSide:         side,
		Operation:          op,
	}
	c.mu.Lock()
	c.state = st
	c.gen++
	c.mu.Unlock()

	c.publishChanged(st)
}

// State returns a copy of the clipboard.
func (c *Coordinator) State() (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return State{}, false
	}
	return c.state.clone(), true
}

// Has reports whether the clipboard holds anything.
func (c *Coordinator) Has() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != nil && len(c.state.Files) > 0
}

// Clear empties the clipboard.
func (c *Coordinator) Clear() {
	c.mu.Lock()
	c.state = nil
	c.gen++
	c.mu.Unlock()
	c.publishChanged(nil)
}

// Paste transfers the clipboard into target. The clipboard is read once at
// entry; later Copy or Cut calls do not affect this paste.
func (c *Coordinator) Paste(ctx context.Context, target Target) PasteResult {
	c.mu.Lock()
	var snap State
	has := c.state != nil && len(c.state.Files) > 0
	if has {
		snap = c.state.clone()
	}
	gen := c.gen
	c.mu.Unlock()

	if !has {
		return closedResult(MsgEmpty)
	}
	if snap.SourceSide == target.Side {
		c.log.Info("paste into source pane ignored", zap.String("side", string(target.Side)))
		return closedResult(MsgSamePane)
	}

	p := &paste{
		c:       c,
		snap:    snap,
		gen:     gen,
		ctx:     context.WithoutCancel(ctx),
		tracked: mapset.NewSet[string](),
		done:    make(chan struct{}),
	}
	if snap.Operation == OpCut {
		p.tracked.Append(snap.Names()...)
	}

	res := PasteResult{Done: p.done}
	p.outstanding = len(snap.Files)
	for _, f := range snap.Files {
		b, err := c.engine.Enqueue(ctx, transfer.Request{
			Items:      []transfer.Item{{Name: f.Name, IsDir: f.IsDirectory, Size: f.Size}},
			SourceSide: snap.SourceSide,
			TargetSide: target.Side,
			SourceConn: snap.SourceConnectionID,
			TargetConn: target.ConnectionID,
			SourceDir:  snap.SourcePath,
			TargetDir:  target.Path,
		})
		if err != nil {
			c.log.Warn("failed to queue clipboard file", zap.String("name", f.Name), zap.Error(err))
			res.Err = multierr.Append(res.Err, err)
			p.fileDone()
			continue
		}
		res.Batches = append(res.Batches, b)
		f := f
		if err := c.engine.OnBatchDone(b.ID, func(r transfer.BatchResult) { p.batchDone(f, r) }); err != nil {
			res.Err = multierr.Append(res.Err, err)
			p.fileDone()
		}
	}
	return res
}

func closedResult(notice string) PasteResult {
	done := make(chan struct{})
	close(done)
	return PasteResult{Notice: notice, Done: done}
}

// paste tracks one in-flight paste.
type paste struct {
	c    *Coordinator
	snap State
	gen  uint64
	ctx  context.Context

	tracked mapset.Set[string]

	mu          sync.Mutex
	outstanding int
	done        chan struct{}
}

func (p *paste) batchDone(f File, r transfer.BatchResult) {
	if len(r.Incomplete) > 0 {
		p.c.log.Warn("paste left entries behind",
			zap.String("name", f.Name), zap.Strings("paths", r.Incomplete))
	}
	if p.snap.Operation == OpCut && r.AllCompleted() {
		src := path.Join(p.snap.SourcePath, f.Name)
		if err := p.c.deleter.Delete(p.ctx, p.snap.SourceConnectionID, src, f.IsDirectory); err != nil {
			p.c.log.Warn("failed to delete moved source", zap.String("path", src), zap.Error(err))
		} else {
			p.tracked.Remove(f.Name)
			p.c.dropFile(p.gen, f.Name)
		}
	}
	p.fileDone()
}

// fileDone settles the paste once every file has been handled.
func (p *paste) fileDone() {
	p.mu.Lock()
	p.outstanding--
	last := p.outstanding == 0
	p.mu.Unlock()
	if !last {
		return
	}
	defer close(p.done)

	if p.snap.Operation != OpCut {
		return
	}
	if p.tracked.Cardinality() == 0 {
		p.c.clearIf(p.gen)
		return
	}
	remaining := p.tracked.ToSlice()
	sort.Strings(remaining)
	p.c.log.Warn("move left files in place", zap.Strings("files", remaining))
	p.c.bus.Publish(&events.ClipboardEvent{
		BaseEvent:  events.NewBase(events.ClipboardWarning),
		Operation:  string(OpCut),
		SourceSide: string(p.snap.SourceSide),
		Files:      remaining,
		MessageKey: MsgPartialMove,
	})
}

// dropFile removes name from the slot if it still holds the paste's payload.
func (c *Coordinator) dropFile(gen uint64, name string) {
	c.mu.Lock()
	if c.gen != gen || c.state == nil {
		c.mu.Unlock()
		return
	}
	kept := c.state.Files[:0:0]
	for _, f := range c.state.Files {
		if f.Name != name {
			kept = append(kept, f)
		}
	}
	c.state.Files = kept
	st := c.state.clone()
	c.mu.Unlock()
	c.publishChanged(&st)
}

func (c *Coordinator) clearIf(gen uint64) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.state = nil
	c.gen++
	c.mu.Unlock()
	c.publishChanged(nil)
}

func (c *Coordinator) publishChanged(st *State) {
	ev := &events.ClipboardEvent{BaseEvent: events.NewBase(events.ClipboardChanged)}
	if st != nil {
		ev.Operation = string(st.Operation)
		ev.SourceSide = string(st.SourceSide)
		ev.Files = st.Names()
	}
	c.bus.Publish(ev)
}
