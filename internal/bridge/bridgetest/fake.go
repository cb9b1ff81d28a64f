// Package bridgetest provides an in-memory bridge.Bridge with fault
// injection for tests.
package bridgetest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"panesync/internal/bridge"
	"panesync/internal/entry"
)

// LocalHost is the host key used for local sessions.
const LocalHost = "local"

type node struct {
	dir     bool
	data    []byte
	modTime time.Time
	mode    os.FileMode
	link    string
	linkDir bool
}

type memFS struct {
	nodes map[string]*node
}

func newMemFS() *memFS {
	return &memFS{nodes: map[string]*node{"/": {dir: true, mode: 0755}}}
}

func clean(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean("/" + strings.TrimPrefix(p, "/"))
}

// Fake is an in-memory Bridge. Sessions opened with the same host share one
// filesystem, so a reopened connection sees the same files.
type Fake struct {
	mu      sync.Mutex
	hosts   map[string]*memFS
	conns   map[string]string
	nextID  int
	running map[string]context.CancelFunc
	now     func() time.Time

	// Hooks run before the operation. A non-nil error fails the call.
	// They are called without the fake's lock held and may block.
	OnOpen     func(ctx context.Context, params bridge.OpenParams) error
	OnList     func(ctx context.Context, connID, dir string) error
	OnDelete   func(ctx context.Context, connID, p string) error
	OnMkdir    func(ctx context.Context, connID, p string) error
	OnTransfer func(ctx context.Context, req bridge.StreamRequest) error

	// ChunkSize is the number of bytes reported per progress callback.
	ChunkSize int

	opens     int
	lists     int
	deletes   []string
	transfers []bridge.StreamRequest
	closed    []string
}

// New returns an empty fake with a local host.
func New() *Fake {
	return &Fake{
		hosts:     map[string]*memFS{LocalHost: newMemFS()},
		conns:     make(map[string]string),
		running:   make(map[string]context.CancelFunc),
		now:       time.Now,
		ChunkSize: 4,
	}
}

var _ bridge.Bridge = (*Fake)(nil)

func hostKey(params bridge.OpenParams) string {
	if params.Kind == bridge.KindLocal || params.Host == "" {
		return LocalHost
	}
	return params.Host
}

func (f *Fake) fs(host string) *memFS {
	m, ok := f.hosts[host]
	if !ok {
		m = newMemFS()
		f.hosts[host] = m
	}
	return m
}

func (m *memFS) mkdirAll(p string, now time.Time) {
	p = clean(p)
	for cur := p; ; cur = path.Dir(cur) {
		if _, ok := m.nodes[cur]; !ok {
			m.nodes[cur] = &node{dir: true, modTime: now, mode: 0755}
		}
		if cur == "/" {
			return
		}
	}
}

// AddFile creates a file on host, creating parent directories.
func (f *Fake) AddFile(host, p string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.fs(host)
	m.mkdirAll(path.Dir(clean(p)), f.now())
	m.nodes[clean(p)] = &node{data: append([]byte(nil), data...), modTime: f.now(), mode: 0644}
}

// AddDir creates a directory on host.
func (f *Fake) AddDir(host, p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fs(host).mkdirAll(p, f.now())
}

// AddSymlink creates a symbolic link at p pointing to target. toDir marks
// the target as a directory. The link itself is not listable.
func (f *Fake) AddSymlink(host, p, target string, toDir bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.fs(host)
	m.mkdirAll(path.Dir(clean(p)), f.now())
	m.nodes[clean(p)] = &node{link: target, linkDir: toDir, modTime: f.now(), mode: os.ModeSymlink | 0777}
}

// Touch sets the modification time of p on host.
func (f *Fake) Touch(host, p string, mod time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n, ok := f.fs(host).nodes[clean(p)]; ok {
		n.modTime = mod
	}
}

// Exists reports whether p exists on host.
func (f *Fake) Exists(host, p string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.fs(host).nodes[clean(p)]
	return ok
}

// File returns the content of p on host.
func (f *Fake) File(host, p string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.fs(host).nodes[clean(p)]
	if !ok || n.dir {
		return nil, false
	}
	return append([]byte(nil), n.data...), true
}

// Opens returns how many sessions were opened successfully.
func (f *Fake) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

// Lists returns how many List calls reached the filesystem.
func (f *Fake) Lists() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists
}

// Deletes returns the paths deleted, in order.
func (f *Fake) Deletes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletes...)
}

// Transfers returns every stream request received.
func (f *Fake) Transfers() []bridge.StreamRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bridge.StreamRequest(nil), f.transfers...)
}

// Closed returns the ids passed to Close.
func (f *Fake) Closed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closed...)
}

// DropSession forgets connID as if the remote end died.
func (f *Fake) DropSession(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.conns, connID)
}

// FailTimes returns a hook body failing the first n calls with err.
func FailTimes(n int, err error) func() error {
	var mu sync.Mutex
	return func() error {
		mu.Lock()
		defer mu.Unlock()
		if n > 0 {
			n--
			return err
		}
		return nil
	}
}

func lost(connID string) error {
	return fmt.Errorf("%w: session not found: %s", bridge.ErrSessionLost, connID)
}

// lookup returns the filesystem behind connID. Caller holds f.mu.
func (f *Fake) lookup(connID string) (*memFS, error) {
	host, ok := f.conns[connID]
	if !ok {
		return nil, lost(connID)
	}
	return f.fs(host), nil
}

func (f *Fake) Open(ctx context.Context, params bridge.OpenParams) (string, error) {
	if f.OnOpen != nil {
		if err := f.OnOpen(ctx, params); err != nil {
			return "", err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("conn-%d", f.nextID)
	host := hostKey(params)
	f.fs(host)
	f.conns[id] = host
	f.opens++
	return id, nil
}

func (f *Fake) Close(_ context.Context, connID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, connID)
	if _, ok := f.conns[connID]; !ok {
		return lost(connID)
	}
	delete(f.conns, connID)
	return nil
}

func (f *Fake) Home(_ context.Context, connID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.lookup(connID); err != nil {
		return "", err
	}
	return "/", nil
}

func (n *node) entry(name string) entry.FileEntry {
	e := entry.FileEntry{
		Name:         name,
		Type:         entry.TypeFile,
		Size:         int64(len(n.data)),
		LastModified: n.modTime,
		Permissions:  n.mode.String(),
	}
	switch {
	case n.dir:
		e.Type = entry.TypeDirectory
		e.Size = 0
	case n.link != "":
		e.Type = entry.TypeSymlink
		e.LinkTarget = n.link
		e.LinkIsDir = n.linkDir
		e.Size = 0
	}
	return e
}

func (f *Fake) List(ctx context.Context, connID, dir, _ string) ([]entry.FileEntry, error) {
	if f.OnList != nil {
		if err := f.OnList(ctx, connID, dir); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.lookup(connID)
	if err != nil {
		return nil, err
	}
	dir = clean(dir)
	n, ok := m.nodes[dir]
	if !ok || !n.dir {
		return nil, &fs.PathError{Op: "list", Path: dir, Err: fs.ErrNotExist}
	}
	f.lists++

	var out []entry.FileEntry
	for p, child := range m.nodes {
		if p != "/" && path.Dir(p) == dir {
			out = append(out, child.entry(path.Base(p)))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *Fake) Stat(_ context.Context, connID, p string) (entry.FileEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.lookup(connID)
	if err != nil {
		return entry.FileEntry{}, err
	}
	n, ok := m.nodes[clean(p)]
	if !ok {
		return entry.FileEntry{}, &fs.PathError{Op: "stat", Path: p, Err: fs.ErrNotExist}
	}
	return n.entry(path.Base(clean(p))), nil
}

func (f *Fake) ReadBinary(_ context.Context, connID, p string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.lookup(connID)
	if err != nil {
		return nil, err
	}
	n, ok := m.nodes[clean(p)]
	if !ok || n.dir {
		return nil, &fs.PathError{Op: "read", Path: p, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), n.data...), nil
}

func (f *Fake) ReadText(ctx context.Context, connID, p string) (string, error) {
	data, err := f.ReadBinary(ctx, connID, p)
	return string(data), err
}

func (f *Fake) WriteBinary(_ context.Context, connID, p string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.lookup(connID)
	if err != nil {
		return err
	}
	if parent, ok := m.nodes[path.Dir(clean(p))]; !ok || !parent.dir {
		return &fs.PathError{Op: "write", Path: p, Err: fs.ErrNotExist}
	}
	m.nodes[clean(p)] = &node{data: append([]byte(nil), data...), modTime: f.now(), mode: 0644}
	return nil
}

func (f *Fake) WriteText(ctx context.Context, connID, p, content string) error {
	return f.WriteBinary(ctx, connID, p, []byte(content))
}

func (f *Fake) Mkdir(ctx context.Context, connID, p string) error {
	if f.OnMkdir != nil {
		if err := f.OnMkdir(ctx, connID, p); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.lookup(connID)
	if err != nil {
		return err
	}
	p = clean(p)
	if _, ok := m.nodes[p]; ok {
		return &fs.PathError{Op: "mkdir", Path: p, Err: fs.ErrExist}
	}
	if parent, ok := m.nodes[path.Dir(p)]; !ok || !parent.dir {
		return &fs.PathError{Op: "mkdir", Path: p, Err: fs.ErrNotExist}
	}
	m.nodes[p] = &node{dir: true, modTime: f.now(), mode: 0755}
	return nil
}

func (f *Fake) Delete(ctx context.Context, connID, p string, recursive bool) error {
	if f.OnDelete != nil {
		if err := f.OnDelete(ctx, connID, p); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.lookup(connID)
	if err != nil {
		return err
	}
	p = clean(p)
	n, ok := m.nodes[p]
	if !ok {
		return &fs.PathError{Op: "delete", Path: p, Err: fs.ErrNotExist}
	}
	if n.dir {
		for child := range m.nodes {
			if strings.HasPrefix(child, p+"/") {
				if !recursive {
					return &fs.PathError{Op: "delete", Path: p, Err: fmt.Errorf("directory not empty")}
				}
				delete(m.nodes, child)
			}
		}
	}
	delete(m.nodes, p)
	f.deletes = append(f.deletes, p)
	return nil
}

func (f *Fake) Rename(_ context.Context, connID, from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.lookup(connID)
	if err != nil {
		return err
	}
	from, to = clean(from), clean(to)
	if _, ok := m.nodes[from]; !ok {
		return &fs.PathError{Op: "rename", Path: from, Err: fs.ErrNotExist}
	}
	for p, n := range m.nodes {
		if p == from || strings.HasPrefix(p, from+"/") {
			delete(m.nodes, p)
			m.nodes[to+strings.TrimPrefix(p, from)] = n
		}
	}
	return nil
}

func (f *Fake) Chmod(_ context.Context, connID, p string, mode os.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.lookup(connID)
	if err != nil {
		return err
	}
	n, ok := m.nodes[clean(p)]
	if !ok {
		return &fs.PathError{Op: "chmod", Path: p, Err: fs.ErrNotExist}
	}
	n.mode = mode
	return nil
}

func (f *Fake) CancelTransfer(transferID string) bool {
	f.mu.Lock()
	cancel, ok := f.running[transferID]
	f.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// StartStreamTransfer copies the file in ChunkSize steps, reporting each.
func (f *Fake) StartStreamTransfer(ctx context.Context, req bridge.StreamRequest, progress bridge.ProgressFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	f.mu.Lock()
	f.transfers = append(f.transfers, req)
	f.running[req.TransferID] = cancel
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		delete(f.running, req.TransferID)
		f.mu.Unlock()
	}()

	if f.OnTransfer != nil {
		if err := f.OnTransfer(ctx, req); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %s", bridge.ErrTransferCancelled, req.SourcePath)
			}
			return err
		}
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %s", bridge.ErrTransferCancelled, req.SourcePath)
	}

	data, err := f.ReadBinary(ctx, req.SourceConn, req.SourcePath)
	if err != nil {
		return err
	}
	chunk := f.ChunkSize
	if chunk <= 0 {
		chunk = len(data)
	}
	for sent := 0; sent < len(data); {
		sent += chunk
		if sent > len(data) {
			sent = len(data)
		}
		if progress != nil {
			progress(int64(sent), int64(len(data)))
		}
	}
	return f.WriteBinary(ctx, req.TargetConn, req.TargetPath, data)
}
