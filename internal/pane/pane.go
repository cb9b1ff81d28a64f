// Package pane holds the state of one side of the browser: its directory,
// listing, selection and view options.
package pane

import (
	"context"
	"errors"
	"os"
	"path"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"panesync/internal/bridge"
	"panesync/internal/connection"
	"panesync/internal/dircache"
	"panesync/internal/entry"
	"panesync/internal/events"
	"panesync/internal/transfer"
	"panesync/pkg/logger"
)

// Message keys recorded as the pane error.
const (
	MsgListFailed   = "sftp.error.listFailed"
	MsgNotConnected = "sftp.error.notConnected"
	MsgReconnecting = "sftp.error.reconnecting"
)

// Connections is the part of connection.Manager a pane uses.
type Connections interface {
	Connect(ctx context.Context, side entry.Side, target connection.Target) (*connection.Connection, error)
	Disconnect(ctx context.Context, side entry.Side) error
	Ensure(ctx context.Context, side entry.Side) (*connection.Connection, error)
	Current(side entry.Side) (*connection.Connection, bool)
	Reconnect(ctx context.Context, side entry.Side, verify connection.VerifyFunc) error
	SetCurrentPath(side entry.Side, p string)
}

// TaskLister reports transfers touching a side.
type TaskLister interface {
	TasksForSide(side entry.Side) []transfer.Task
}

// Snapshot is a copy of the pane state for rendering.
type Snapshot struct {
	Side         entry.Side
	ConnectionID string
	Path         string
	// Files is the visible listing, ".." included.
	Files         []entry.FileEntry
	Loading       bool
	Reconnecting  bool
	SelectedFiles []string
	Transfers     []transfer.Task
	Filter        string
	SortField     entry.SortField
	SortOrder     entry.SortOrder
	ShowHidden    bool
	// Error is the message key of the last surfaced error.
	Error    string
	ErrorMsg string
}

// Pane is one side of the browser.
type Pane struct {
	side      entry.Side
	bridge    bridge.Bridge
	conns     Connections
	cache     *dircache.Cache
	seq       *dircache.Sequencer
	transfers TaskLister
	bus       *events.Bus
	log       *logger.Logger

	mu           sync.Mutex
	connID       string
	dir          string
	files        []entry.FileEntry
	loaded       bool
	loading      bool
	reconnecting bool
	selected     mapset.Set[string]
	filter       string
	field        entry.SortField
	order        entry.SortOrder
	showHidden   bool
	errKey       string
	err          error
}

// New creates a pane for side. transfers may be nil.
func New(side entry.Side, b bridge.Bridge, conns Connections, cache *dircache.Cache, seq *dircache.Sequencer, transfers TaskLister, bus *events.Bus, log *logger.Logger) *Pane {
	if log == nil {
		log = logger.GetInstance()
	}
	if seq == nil {
		seq = dircache.NewSequencer()
	}
	return &Pane{
		side:      side,
		bridge:    b,
		conns:     conns,
		cache:     cache,
		seq:       seq,
		transfers: transfers,
		bus:       bus,
		log:       log.Named("pane").With(zap.String("side", string(side))),
		selected:  mapset.NewSet[string](),
		field:     entry.SortByName,
		order:     entry.Ascending,
	}
}

// Side returns the side this pane shows.
func (p *Pane) Side() entry.Side { return p.side }

// Path returns the directory currently shown.
func (p *Pane) Path() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dir
}

// Connect binds the pane to target and lists its start directory.
func (p *Pane) Connect(ctx context.Context, target connection.Target) error {
	p.mu.Lock()
	p.loaded = false
	p.files = nil
	p.dir = ""
	p.selected.Clear()
	p.mu.Unlock()

	conn, err := p.conns.Connect(ctx, p.side, target)
	if err != nil {
		p.setError(MsgNotConnected, err)
		return err
	}
	return p.Navigate(ctx, conn.CurrentPath)
}

// Disconnect closes the pane's connection and empties it.
func (p *Pane) Disconnect(ctx context.Context) error {
	p.seq.Issue(string(p.side))
	err := p.conns.Disconnect(ctx, p.side)
	p.mu.Lock()
	p.connID = ""
	p.dir = ""
	p.files = nil
	p.loaded = false
	p.loading = false
	p.reconnecting = false
	p.selected.Clear()
	p.mu.Unlock()
	p.publish()
	if errors.Is(err, connection.ErrNotBound) {
		return nil
	}
	return err
}

// Navigate shows dir, from cache when fresh.
func (p *Pane) Navigate(ctx context.Context, dir string) error {
	return p.load(ctx, cleanDir(dir), false)
}

// Refresh re-lists the current directory, bypassing the cache.
func (p *Pane) Refresh(ctx context.Context) error {
	return p.load(ctx, p.Path(), true)
}

// Up navigates to the parent directory.
func (p *Pane) Up(ctx context.Context) error {
	return p.Navigate(ctx, parentDir(p.Path()))
}

// Home navigates to the connection's home directory.
func (p *Pane) Home(ctx context.Context) error {
	conn, err := p.conns.Ensure(ctx, p.side)
	if err != nil {
		p.setError(MsgNotConnected, err)
		return err
	}
	return p.Navigate(ctx, conn.HomeDir)
}

// Open enters the named directory, ".." going up.
func (p *Pane) Open(ctx context.Context, name string) error {
	if name == entry.ParentName {
		return p.Up(ctx)
	}
	return p.Navigate(ctx, path.Join(p.Path(), name))
}

func (p *Pane) load(ctx context.Context, dir string, force bool) error {
	key := string(p.side)
	seq := p.seq.Issue(key)

	conn, err := p.conns.Ensure(ctx, p.side)
	if err != nil {
		msg := MsgNotConnected
		if errors.Is(err, connection.ErrReconnecting) {
			msg = MsgReconnecting
		}
		p.fail(seq, msg, err)
		return err
	}
	if dir == "" {
		dir = conn.CurrentPath
	}

	p.mu.Lock()
	p.loading = true
	hadContent := p.loaded && p.connID == conn.ID
	p.mu.Unlock()

	if files, ok := p.cache.Get(conn.ID, dir, force); ok {
		p.apply(seq, conn, dir, files)
		return nil
	}

	files, err := p.bridge.List(ctx, conn.ID, dir, conn.FilenameEncoding)
	recovered := false
	if err != nil && hadContent && connection.IsSessionLost(err) {
		recovered = true
		conn, files, err = p.recover(ctx, seq, dir)
	}
	if err != nil {
		msg := MsgListFailed
		switch {
		case recovered && connection.IsSessionLost(err):
			msg = connection.MsgReconnectFailed
		case connection.IsSessionLost(err):
			msg = MsgNotConnected
		}
		p.fail(seq, msg, err)
		return err
	}
	p.apply(seq, conn, dir, files)
	return nil
}

// recover reconnects the side after a lost session and lists dir again.
func (p *Pane) recover(ctx context.Context, seq uint64, dir string) (*connection.Connection, []entry.FileEntry, error) {
	p.log.Warn("session lost, reconnecting", zap.String("path", dir))
	p.setReconnecting(seq, true)
	defer p.setReconnecting(seq, false)

	var (
		conn   *connection.Connection
		listed []entry.FileEntry
	)
	err := p.conns.Reconnect(ctx, p.side, func(ctx context.Context, c *connection.Connection) error {
		files, err := p.bridge.List(ctx, c.ID, dir, c.FilenameEncoding)
		if err != nil {
			return err
		}
		conn, listed = c, files
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if conn != nil {
		return conn, listed, nil
	}

	// Another caller ran the reconnect; retry the listing once.
	c, err := p.conns.Ensure(ctx, p.side)
	if err != nil {
		return nil, nil, err
	}
	files, err := p.bridge.List(ctx, c.ID, dir, c.FilenameEncoding)
	return c, files, err
}

func (p *Pane) apply(seq uint64, conn *connection.Connection, dir string, files []entry.FileEntry) {
	if !p.seq.IsLatest(string(p.side), seq) {
		p.log.Debug("discarding stale listing", zap.String("path", dir))
		return
	}
	files = entry.WithoutParent(files)
	p.cache.Set(conn.ID, dir, files)

	p.mu.Lock()
	if p.dir != dir || p.connID != conn.ID {
		p.selected.Clear()
	} else {
		p.pruneSelection(files)
	}
	p.connID = conn.ID
	p.dir = dir
	p.files = files
	p.loaded = true
	p.loading = false
	p.errKey = ""
	p.err = nil
	p.mu.Unlock()

	p.conns.SetCurrentPath(p.side, dir)
	p.publish()
}

// pruneSelection drops selected names no longer listed. Caller holds p.mu.
func (p *Pane) pruneSelection(files []entry.FileEntry) {
	present := mapset.NewThreadUnsafeSet[string]()
	for _, f := range files {
		present.Add(f.Name)
	}
	for _, name := range p.selected.ToSlice() {
		if !present.Contains(name) {
			p.selected.Remove(name)
		}
	}
}

func (p *Pane) fail(seq uint64, key string, err error) {
	if !p.seq.IsLatest(string(p.side), seq) {
		return
	}
	p.log.Warn("listing failed", zap.String("key", key), zap.Error(err))
	p.mu.Lock()
	p.loading = false
	p.reconnecting = false
	p.errKey = key
	p.err = err
	p.mu.Unlock()
	p.publish()
}

func (p *Pane) setError(key string, err error) {
	p.mu.Lock()
	p.loading = false
	p.errKey = key
	p.err = err
	p.mu.Unlock()
	p.publish()
}

func (p *Pane) setReconnecting(seq uint64, on bool) {
	p.mu.Lock()
	if on || p.seq.IsLatest(string(p.side), seq) {
		p.reconnecting = on
	}
	p.mu.Unlock()
	p.publish()
}

func (p *Pane) publish() {
	p.bus.Publish(&events.PaneEvent{
		BaseEvent: events.NewBase(events.PaneUpdated),
		Side:      string(p.side),
		Path:      p.Path(),
	})
}

// InvalidateIfAt drops the cached listing of dir and refreshes when the pane
// shows it.
func (p *Pane) InvalidateIfAt(ctx context.Context, connID, dir string) {
	p.cache.Invalidate(connID, dir)
	p.mu.Lock()
	showing := p.connID == connID && p.dir == cleanDir(dir)
	p.mu.Unlock()
	if showing {
		if err := p.Refresh(ctx); err != nil {
			p.log.Warn("refresh after change failed", zap.Error(err))
		}
	}
}

// SetSort changes the sort field and order.
func (p *Pane) SetSort(field entry.SortField, order entry.SortOrder) {
	p.mu.Lock()
	p.field, p.order = field, order
	p.mu.Unlock()
	p.publish()
}

// ToggleSort sorts by field, flipping the order when it already is.
func (p *Pane) ToggleSort(field entry.SortField) {
	p.mu.Lock()
	if p.field == field {
		if p.order == entry.Ascending {
			p.order = entry.Descending
		} else {
			p.order = entry.Ascending
		}
	} else {
		p.field, p.order = field, entry.Ascending
	}
	p.mu.Unlock()
	p.publish()
}

// SetFilter sets the case-insensitive name filter.
func (p *Pane) SetFilter(query string) {
	p.mu.Lock()
	p.filter = query
	p.mu.Unlock()
	p.publish()
}

// SetShowHidden toggles dot files.
func (p *Pane) SetShowHidden(show bool) {
	p.mu.Lock()
	p.showHidden = show
	p.mu.Unlock()
	p.publish()
}

// View returns the visible listing, ".." first when there is a parent.
func (p *Pane) View() []entry.FileEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view()
}

func (p *Pane) view() []entry.FileEntry {
	if !p.loaded {
		return nil
	}
	return entry.View(p.files, entry.ViewOptions{
		ShowHidden: p.showHidden,
		Filter:     p.filter,
		Field:      p.field,
		Order:      p.order,
		WithParent: parentDir(p.dir) != p.dir,
	})
}

// Select replaces the selection.
func (p *Pane) Select(names ...string) {
	p.mu.Lock()
	p.selected.Clear()
	for _, n := range names {
		if n != entry.ParentName {
			p.selected.Add(n)
		}
	}
	p.mu.Unlock()
	p.publish()
}

// Toggle flips the selection of name.
func (p *Pane) Toggle(name string) {
	if name == entry.ParentName {
		return
	}
	p.mu.Lock()
	if p.selected.Contains(name) {
		p.selected.Remove(name)
	} else {
		p.selected.Add(name)
	}
	p.mu.Unlock()
	p.publish()
}

// SelectAll selects every visible entry.
func (p *Pane) SelectAll() {
	p.mu.Lock()
	for _, e := range p.view() {
		if !e.IsParent() {
			p.selected.Add(e.Name)
		}
	}
	p.mu.Unlock()
	p.publish()
}

// ClearSelection empties the selection.
func (p *Pane) ClearSelection() {
	p.mu.Lock()
	p.selected.Clear()
	p.mu.Unlock()
	p.publish()
}

// Selected returns the selected names, sorted.
func (p *Pane) Selected() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.selected.ToSlice()
	sort.Strings(out)
	return out
}

// SelectedEntries returns the listing entries that are selected.
func (p *Pane) SelectedEntries() []entry.FileEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []entry.FileEntry
	for _, f := range p.files {
		if p.selected.Contains(f.Name) {
			out = append(out, f)
		}
	}
	return out
}

// Lookup returns the listed entry called name.
func (p *Pane) Lookup(name string) (entry.FileEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range p.files {
		if f.Name == name {
			return f, true
		}
	}
	return entry.FileEntry{}, false
}

// Snapshot returns a copy of the pane state.
func (p *Pane) Snapshot() Snapshot {
	p.mu.Lock()
	s := Snapshot{
		Side:          p.side,
		ConnectionID:  p.connID,
		Path:          p.dir,
		Files:         p.view(),
		Loading:       p.loading,
		Reconnecting:  p.reconnecting,
		SelectedFiles: p.selected.ToSlice(),
		Filter:        p.filter,
		SortField:     p.field,
		SortOrder:     p.order,
		ShowHidden:    p.showHidden,
		Error:         p.errKey,
	}
	if p.err != nil {
		s.ErrorMsg = p.err.Error()
	}
	p.mu.Unlock()

	sort.Strings(s.SelectedFiles)
	if p.transfers != nil {
		s.Transfers = p.transfers.TasksForSide(p.side)
	}
	return s
}

// connection returns the pane's open connection and directory.
func (p *Pane) connection(ctx context.Context) (*connection.Connection, string, error) {
	conn, err := p.conns.Ensure(ctx, p.side)
	if err != nil {
		return nil, "", err
	}
	return conn, p.Path(), nil
}

// mutate runs op against the pane's connection. When op fails because the
// session was lost on a pane that already shows content, the side is
// reconnected and op runs once more on the new session.
func (p *Pane) mutate(ctx context.Context, op func(ctx context.Context, conn *connection.Connection, dir string) error) (*connection.Connection, string, error) {
	conn, dir, err := p.connection(ctx)
	if err != nil {
		return nil, "", err
	}
	err = op(ctx, conn, dir)
	if err == nil || !connection.IsSessionLost(err) {
		return conn, dir, err
	}
	p.mu.Lock()
	hadContent := p.loaded && p.connID == conn.ID
	p.mu.Unlock()
	if !hadContent {
		return conn, dir, err
	}

	p.log.Warn("session lost during file operation, reconnecting", zap.String("path", dir))
	seq := p.seq.Issue(string(p.side))
	p.setReconnecting(seq, true)
	rerr := p.conns.Reconnect(ctx, p.side, nil)
	p.setReconnecting(seq, false)
	if rerr != nil {
		p.setError(connection.MsgReconnectFailed, rerr)
		return conn, dir, rerr
	}
	conn, err = p.conns.Ensure(ctx, p.side)
	if err != nil {
		p.setError(MsgNotConnected, err)
		return nil, dir, err
	}
	return conn, dir, op(ctx, conn, dir)
}

// Mkdir creates a directory in the current one.
func (p *Pane) Mkdir(ctx context.Context, name string) error {
	if err := entry.ValidateName(name); err != nil {
		return err
	}
	conn, dir, err := p.mutate(ctx, func(ctx context.Context, conn *connection.Connection, dir string) error {
		return p.bridge.Mkdir(ctx, conn.ID, path.Join(dir, name))
	})
	if err != nil {
		return err
	}
	p.log.Info("directory created", zap.String("path", path.Join(dir, name)))
	p.cache.Invalidate(conn.ID, dir)
	return p.Refresh(ctx)
}

// Rename renames an entry of the current directory.
func (p *Pane) Rename(ctx context.Context, oldName, newName string) error {
	if err := entry.ValidateName(newName); err != nil {
		return err
	}
	if oldName == newName {
		return nil
	}
	conn, dir, err := p.mutate(ctx, func(ctx context.Context, conn *connection.Connection, dir string) error {
		return p.bridge.Rename(ctx, conn.ID, path.Join(dir, oldName), path.Join(dir, newName))
	})
	if err != nil {
		return err
	}
	p.cache.Invalidate(conn.ID, dir)
	p.cache.Invalidate(conn.ID, path.Join(dir, oldName))
	p.mu.Lock()
	if p.selected.Contains(oldName) {
		p.selected.Remove(oldName)
		p.selected.Add(newName)
	}
	p.mu.Unlock()
	return p.Refresh(ctx)
}

// Delete removes the named entries, directories recursively. Every name is
// attempted; failures are combined.
func (p *Pane) Delete(ctx context.Context, names ...string) error {
	var (
		errs error
		conn *connection.Connection
		dir  string
	)
	for _, name := range names {
		if name == entry.ParentName || name == "" {
			continue
		}
		recursive := false
		if e, ok := p.Lookup(name); ok {
			recursive = e.Type == entry.TypeDirectory
		}
		c, d, err := p.mutate(ctx, func(ctx context.Context, conn *connection.Connection, dir string) error {
			return p.bridge.Delete(ctx, conn.ID, path.Join(dir, name), recursive)
		})
		if c != nil {
			conn, dir = c, d
		}
		if err != nil {
			errs = multierr.Append(errs, err)
			if c == nil || connection.IsSessionLost(err) {
				// No usable session left for the remaining names.
				return errs
			}
			continue
		}
		target := path.Join(d, name)
		p.cache.Invalidate(c.ID, target)
		p.log.Info("deleted", zap.String("path", target))
	}
	if conn == nil {
		return errs
	}
	p.cache.Invalidate(conn.ID, dir)
	if err := p.Refresh(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

// Chmod changes the permission bits of an entry.
func (p *Pane) Chmod(ctx context.Context, name string, mode os.FileMode) error {
	if err := entry.ValidateName(name); err != nil {
		return err
	}
	conn, dir, err := p.mutate(ctx, func(ctx context.Context, conn *connection.Connection, dir string) error {
		return p.bridge.Chmod(ctx, conn.ID, path.Join(dir, name), mode)
	})
	if err != nil {
		return err
	}
	p.cache.Invalidate(conn.ID, dir)
	return p.Refresh(ctx)
}

func cleanDir(dir string) string {
	if dir == "" {
		return ""
	}
	return path.Clean(dir)
}

// parentDir returns the parent of dir; the root is its own parent.
func parentDir(dir string) string {
	if dir == "" {
		return ""
	}
	if isDriveRoot(dir) {
		return dir
	}
	parent := path.Dir(dir)
	if len(parent) == 2 && parent[1] == ':' {
		return parent + "/"
	}
	return parent
}

func isDriveRoot(dir string) bool {
	return len(dir) == 3 && dir[1] == ':' && dir[2] == '/'
}
