// Package transfer provides the transfer queue that moves files between the
// two panes.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"panesync/internal/bridge"
	"panesync/internal/conflict"
	"panesync/internal/entry"
	"panesync/internal/events"
	"panesync/pkg/logger"
)

const (
	// DefaultMaxConcurrentBatches caps batches running at the same time.
	DefaultMaxConcurrentBatches = 4

	// DefaultProgressInterval is the window progress updates are coalesced over.
	DefaultProgressInterval = 250 * time.Millisecond
)

// Status represents the current state of a transfer.
type Status string

const (
	StatusPending      Status = "pending"
	StatusTransferring Status = "transferring"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Phase is the step a batch or task is in.
type Phase string

const (
	PhaseScanning     Phase = "scanning"
	PhaseTransferring Phase = "transferring"
)

// TransferError is the failure recorded on a failed task.
type TransferError struct {
	TaskID string
	Path   string
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s of %s failed: %v", e.TaskID, e.Path, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Task is a snapshot of a single file transfer.
type Task struct {
	ID      string
	BatchID string
	// RetryOf is the id of the failed task this one retries.
	RetryOf string

	FileName   string
	SourceSide entry.Side
	TargetSide entry.Side
	SourceConn string
	TargetConn string
	SourcePath string
	TargetPath string

	TotalBytes       int64
	TransferredBytes int64
	// BytesPerSecond is measured over the last progress window.
	BytesPerSecond float64
	Status         Status
	Phase          Phase
	Error          error
	StartTime      time.Time
	EndTime        time.Time
}

// Progress returns the transfer progress as a percentage.
func (t Task) Progress() float64 {
	if t.TotalBytes == 0 {
		if t.Status == StatusCompleted {
			return 100
		}
		return 0
	}
	return float64(t.TransferredBytes) / float64(t.TotalBytes) * 100
}

// RemainingTime returns the estimated remaining time.
func (t Task) RemainingTime() time.Duration {
	if t.BytesPerSecond <= 0 {
		return 0
	}
	remaining := t.TotalBytes - t.TransferredBytes
	return time.Duration(float64(remaining) / t.BytesPerSecond * float64(time.Second))
}

// Item is one entry of the selection being transferred.
type Item struct {
	Name  string
	IsDir bool
	Size  int64
}

// Request describes a transfer of items from one directory to another.
type Request struct {
	Items      []Item
	SourceSide entry.Side
	TargetSide entry.Side
	SourceConn string
	TargetConn string
	SourceDir  string
	TargetDir  string
	// Overwrite replaces existing destinations without asking the resolver.
	Overwrite bool
}

// Batch is the set of tasks created by one Enqueue call.
type Batch struct {
	ID    string
	Tasks []Task
}

// BatchResult is delivered once every task of a batch has finished.
type BatchResult struct {
	ID    string
	Tasks []Task
	// Incomplete lists paths the batch could not reproduce on the target:
	// symlinked directories it did not follow and directories it failed to
	// create.
	Incomplete []string
}

// AllCompleted reports whether every task of the batch completed and
// nothing was left out.
func (r BatchResult) AllCompleted() bool {
	if len(r.Incomplete) > 0 {
		return false
	}
	for _, t := range r.Tasks {
		if t.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// Options tunes a Manager.
type Options struct {
	MaxConcurrentBatches int
	ProgressInterval     time.Duration
	// Resolver suspends tasks whose destination exists. Without one the
	// destination is replaced.
	Resolver *conflict.Resolver
}

type task struct {
	Task
	ctx    context.Context
	cancel context.CancelFunc

	lastEmit  time.Time
	lastBytes int64
	listeners []func(Task)
	check     *conflictCheck
}

// conflictCheck is the outcome of looking at a task's destination before the
// batch starts writing.
type conflictCheck struct {
	ticket *conflict.Ticket
	err    error
}

type batch struct {
	id        string
	taskIDs   []string
	dirs      []string
	skipped   []string
	targetCon string
	overwrite bool
	done      bool
	listeners []func(BatchResult)
}

// Manager runs transfer batches. Tasks inside a batch run one by one;
// independent batches run concurrently up to the configured cap.
type Manager struct {
	bridge   bridge.Bridge
	resolver *conflict.Resolver
	bus      *events.Bus
	log      *logger.Logger
	sem      *semaphore.Weighted
	interval time.Duration

	mu       sync.Mutex
	tasks    map[string]*task
	order    []string
	batches  map[string]*batch
	onUpdate func(Task)

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a transfer manager on top of b.
func NewManager(b bridge.Bridge, bus *events.Bus, log *logger.Logger, opts Options) *Manager {
	if log == nil {
		log = logger.GetInstance()
	}
	if opts.MaxConcurrentBatches <= 0 {
		opts.MaxConcurrentBatches = DefaultMaxConcurrentBatches
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		bridge:   b,
		resolver: opts.Resolver,
		bus:      bus,
		log:      log.Named("transfer"),
		sem:      semaphore.NewWeighted(int64(opts.MaxConcurrentBatches)),
		interval: opts.ProgressInterval,
		tasks:    make(map[string]*task),
		batches:  make(map[string]*batch),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetUpdateCallback sets the callback for coalesced progress updates.
func (m *Manager) SetUpdateCallback(fn func(Task)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// Enqueue expands req into one task per regular file and starts the batch.
// Directories are walked before Enqueue returns.
func (m *Manager) Enqueue(ctx context.Context, req Request) (Batch, error) {
	if len(req.Items) == 0 {
		return Batch{}, errors.New("nothing to transfer")
	}
	if req.SourceSide == req.TargetSide {
		return Batch{}, fmt.Errorf("source and target are both %s", req.SourceSide)
	}

	b := &batch{id: uuid.NewString(), targetCon: req.TargetConn, overwrite: req.Overwrite}
	var pending []*task
	for _, item := range req.Items {
		if item.Name == "" || item.Name == ".." || item.Name == "." {
			continue
		}
		src := path.Join(req.SourceDir, item.Name)
		dst := path.Join(req.TargetDir, item.Name)
		if !item.IsDir {
			pending = append(pending, m.newTask(b.id, req, item.Name, src, dst, item.Size))
			continue
		}
		m.publish(events.TransferProgress, Task{BatchID: b.id, FileName: item.Name,
			SourceSide: req.SourceSide, TargetSide: req.TargetSide, Phase: PhaseScanning})
		b.dirs = append(b.dirs, dst)
		found, err := m.expand(ctx, req, b, src, dst)
		if err != nil {
			return Batch{}, fmt.Errorf("scan %s: %w", src, err)
		}
		pending = append(pending, found...)
	}
	if len(pending) == 0 && len(b.dirs) == 0 {
		return Batch{}, errors.New("nothing to transfer")
	}

	m.mu.Lock()
	for _, t := range pending {
		m.tasks[t.ID] = t
		m.order = append(m.order, t.ID)
		b.taskIDs = append(b.taskIDs, t.ID)
	}
	m.batches[b.id] = b
	out := Batch{ID: b.id, Tasks: make([]Task, len(pending))}
	for i, t := range pending {
		out.Tasks[i] = t.Task
	}
	m.mu.Unlock()

	for _, t := range out.Tasks {
		m.publish(events.TransferQueued, t)
	}
	m.log.Info("batch queued",
		zap.String("batch_id", b.id),
		zap.Int("tasks", len(out.Tasks)),
		zap.Int("dirs", len(b.dirs)),
		zap.Int("skipped", len(b.skipped)))

	m.wg.Add(1)
	go m.runBatch(b)
	return out, nil
}

// expand walks src and returns a task for every regular file below it.
// Symlinked directories are not followed; they are recorded on b as skipped.
func (m *Manager) expand(ctx context.Context, req Request, b *batch, src, dst string) ([]*task, error) {
	list, err := m.bridge.List(ctx, req.SourceConn, src, "")
	if err != nil {
		return nil, err
	}
	var out []*task
	for _, e := range entry.WithoutParent(list) {
		s := path.Join(src, e.Name)
		d := path.Join(dst, e.Name)
		switch {
		case e.Type == entry.TypeDirectory:
			b.dirs = append(b.dirs, d)
			sub, err := m.expand(ctx, req, b, s, d)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		case e.IsDir():
			m.log.Warn("skipping symlinked directory", zap.String("path", s), zap.String("link", e.LinkTarget))
			b.skipped = append(b.skipped, s)
		default:
			out = append(out, m.newTask(b.id, req, e.Name, s, d, e.Size))
		}
	}
	return out, nil
}

func (m *Manager) newTask(batchID string, req Request, name, src, dst string, size int64) *task {
	return &task{Task: Task{
		ID:         uuid.NewString(),
		BatchID:    batchID,
		FileName:   name,
		SourceSide: req.SourceSide,
		TargetSide: req.TargetSide,
		SourceConn: req.SourceConn,
		TargetConn: req.TargetConn,
		SourcePath: src,
		TargetPath: dst,
		TotalBytes: size,
		Status:     StatusPending,
	}}
}

func (m *Manager) runBatch(b *batch) {
	defer m.wg.Done()
	defer m.finishBatch(b)

	if err := m.sem.Acquire(m.ctx, 1); err != nil {
		for _, id := range b.taskIDs {
			m.finish(id, StatusCancelled, nil)
		}
		return
	}
	defer m.sem.Release(1)

	for _, dir := range b.dirs {
		if err := m.ensureDir(b.targetCon, dir); err != nil {
			m.log.Warn("failed to create directory", zap.String("batch_id", b.id),
				zap.String("path", dir), zap.Error(err))
			m.mu.Lock()
			b.skipped = append(b.skipped, dir)
			m.mu.Unlock()
		}
	}
	m.surfaceConflicts(b)
	for _, id := range b.taskIDs {
		m.runTask(b, id)
	}
}

// ensureDir creates dir on the target, tolerating an existing directory.
func (m *Manager) ensureDir(conn, dir string) error {
	err := m.bridge.Mkdir(m.ctx, conn, dir)
	if err == nil {
		return nil
	}
	if st, statErr := m.bridge.Stat(m.ctx, conn, dir); statErr == nil && st.IsDir() {
		return nil
	}
	return err
}

// surfaceConflicts looks at every destination of b before the first write,
// so all of the batch's conflicts are queued together and a decision applied
// to the batch reaches each of them.
func (m *Manager) surfaceConflicts(b *batch) {
	for _, id := range b.taskIDs {
		m.mu.Lock()
		t, ok := m.tasks[id]
		if !ok || t.Status != StatusPending {
			m.mu.Unlock()
			continue
		}
		if t.ctx == nil {
			t.ctx, t.cancel = context.WithCancel(m.ctx)
		}
		ctx := t.ctx
		snap := t.Task
		m.mu.Unlock()

		c := m.inspect(ctx, snap, b.overwrite)

		m.mu.Lock()
		t.check = c
		terminal := t.Status.Terminal()
		m.mu.Unlock()
		if terminal && c.ticket != nil {
			m.resolver.CancelTransfer(id)
		}
	}
}

// inspect stats the destination of t and queues a conflict when it exists.
func (m *Manager) inspect(ctx context.Context, t Task, overwrite bool) *conflictCheck {
	existing, err := m.bridge.Stat(ctx, t.TargetConn, t.TargetPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &conflictCheck{}
	case err != nil:
		return &conflictCheck{err: err}
	case m.resolver == nil || overwrite:
		return &conflictCheck{}
	}

	var newModified time.Time
	if src, err := m.bridge.Stat(ctx, t.SourceConn, t.SourcePath); err == nil {
		newModified = src.LastModified
	}
	ticket := m.resolver.Submit(ctx, conflict.Record{
		TransferID:       t.ID,
		BatchID:          t.BatchID,
		FileName:         t.FileName,
		SourcePath:       t.SourcePath,
		TargetPath:       t.TargetPath,
		ExistingSize:     existing.Size,
		NewSize:          t.TotalBytes,
		ExistingModified: existing.LastModified,
		NewModified:      newModified,
	}, func(ctx context.Context, p string) bool {
		_, err := m.bridge.Stat(ctx, t.TargetConn, p)
		return err == nil
	})
	return &conflictCheck{ticket: ticket}
}

func (m *Manager) runTask(b *batch, id string) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok || t.Status != StatusPending {
		m.mu.Unlock()
		return
	}
	if t.ctx == nil {
		t.ctx, t.cancel = context.WithCancel(m.ctx)
	}
	t.Status = StatusTransferring
	t.Phase = PhaseTransferring
	t.StartTime = time.Now()
	t.lastEmit = t.StartTime
	snap := t.Task
	ctx := t.ctx
	check := t.check
	m.mu.Unlock()

	m.publish(events.TransferStarted, snap)

	if check == nil {
		check = m.inspect(ctx, snap, b.overwrite)
	}
	target, proceed := m.checkConflict(ctx, snap, check)
	if !proceed {
		return
	}
	if target != snap.TargetPath {
		m.mu.Lock()
		t.TargetPath = target
		m.mu.Unlock()
		snap.TargetPath = target
	}

	err := m.bridge.StartStreamTransfer(ctx, bridge.StreamRequest{
		TransferID: snap.ID,
		SourceConn: snap.SourceConn,
		SourcePath: snap.SourcePath,
		TargetConn: snap.TargetConn,
		TargetPath: snap.TargetPath,
		Size:       snap.TotalBytes,
	}, func(transferred, total int64) {
		m.progress(t, transferred, total)
	})

	switch {
	case ctx.Err() != nil || errors.Is(err, bridge.ErrTransferCancelled):
		m.finish(id, StatusCancelled, nil)
	case err != nil:
		m.finish(id, StatusFailed, &TransferError{TaskID: id, Path: snap.SourcePath, Err: err})
	default:
		m.finish(id, StatusCompleted, nil)
	}
}

// checkConflict waits for the decision on the task's queued conflict, if
// any. It returns the path to write to and whether to go on.
func (m *Manager) checkConflict(ctx context.Context, t Task, c *conflictCheck) (string, bool) {
	switch {
	case c.err != nil:
		if ctx.Err() != nil {
			m.finish(t.ID, StatusCancelled, nil)
		} else {
			m.finish(t.ID, StatusFailed, &TransferError{TaskID: t.ID, Path: t.TargetPath, Err: c.err})
		}
		return "", false
	case c.ticket == nil:
		return t.TargetPath, true
	}

	decision, err := m.resolver.Await(c.ticket)
	if err != nil {
		m.finish(t.ID, StatusCancelled, nil)
		return "", false
	}
	if decision.Resolution == conflict.Skip {
		m.finish(t.ID, StatusCancelled, nil)
		return "", false
	}
	return decision.TargetPath, true
}

// progress records the byte count and emits at most one update per window.
func (m *Manager) progress(t *task, transferred, total int64) {
	now := time.Now()
	m.mu.Lock()
	if t.Status != StatusTransferring {
		m.mu.Unlock()
		return
	}
	t.TransferredBytes = transferred
	if total > 0 {
		t.TotalBytes = total
	}
	elapsed := now.Sub(t.lastEmit)
	if elapsed < m.interval {
		m.mu.Unlock()
		return
	}
	if elapsed > 0 {
		t.BytesPerSecond = float64(transferred-t.lastBytes) / elapsed.Seconds()
	}
	t.lastEmit = now
	t.lastBytes = transferred
	snap := t.Task
	onUpdate := m.onUpdate
	m.mu.Unlock()

	m.publish(events.TransferProgress, snap)
	if onUpdate != nil {
		onUpdate(snap)
	}
}

// finish moves a task to a terminal status once and notifies listeners.
func (m *Manager) finish(id string, status Status, err error) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok || t.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	t.Status = status
	t.Error = err
	t.EndTime = time.Now()
	if status == StatusCompleted {
		t.TransferredBytes = t.TotalBytes
		if d := t.EndTime.Sub(t.StartTime); d > 0 {
			t.BytesPerSecond = float64(t.TotalBytes) / d.Seconds()
		}
	}
	if t.cancel != nil {
		t.cancel()
	}
	listeners := t.listeners
	t.listeners = nil
	queued := t.check != nil && t.check.ticket != nil
	snap := t.Task
	m.mu.Unlock()

	if queued {
		m.resolver.CancelTransfer(id)
	}
	switch status {
	case StatusCompleted:
		m.publish(events.TransferCompleted, snap)
	case StatusFailed:
		m.publish(events.TransferFailed, snap)
	default:
		m.publish(events.TransferCancelled, snap)
	}
	if !snap.StartTime.IsZero() {
		m.log.LogTransfer(snap.ID, string(snap.SourceSide), string(snap.TargetSide),
			snap.SourcePath, snap.TargetPath, snap.TransferredBytes, snap.EndTime.Sub(snap.StartTime), err)
	}
	for _, fn := range listeners {
		fn(snap)
	}
}

func (m *Manager) finishBatch(b *batch) {
	m.mu.Lock()
	b.done = true
	res := m.batchResult(b)
	listeners := b.listeners
	b.listeners = nil
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(res)
	}
}

// batchResult snapshots b. Caller holds m.mu.
func (m *Manager) batchResult(b *batch) BatchResult {
	res := BatchResult{ID: b.id, Incomplete: append([]string(nil), b.skipped...)}
	for _, id := range b.taskIDs {
		if t, ok := m.tasks[id]; ok {
			res.Tasks = append(res.Tasks, t.Task)
		}
	}
	return res
}

func (m *Manager) publish(t events.EventType, task Task) {
	ev := &events.TransferEvent{
		BaseEvent:   events.NewBase(t),
		TaskID:      task.ID,
		BatchID:     task.BatchID,
		Name:        task.FileName,
		SourceSide:  string(task.SourceSide),
		TargetSide:  string(task.TargetSide),
		Phase:       string(task.Phase),
		Transferred: task.TransferredBytes,
		Total:       task.TotalBytes,
		Speed:       task.BytesPerSecond,
		Err:         task.Error,
	}
	m.bus.Publish(ev)
}

// OnTaskDone registers fn to run once with the terminal snapshot of task id.
// It runs immediately when the task has already finished.
func (m *Manager) OnTaskDone(id string, fn func(Task)) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("transfer not found: %s", id)
	}
	if !t.Status.Terminal() {
		t.listeners = append(t.listeners, fn)
		m.mu.Unlock()
		return nil
	}
	snap := t.Task
	m.mu.Unlock()
	fn(snap)
	return nil
}

// OnBatchDone registers fn to run once when every task of the batch has
// finished.
func (m *Manager) OnBatchDone(batchID string, fn func(BatchResult)) error {
	m.mu.Lock()
	b, ok := m.batches[batchID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("batch not found: %s", batchID)
	}
	if !b.done {
		b.listeners = append(b.listeners, fn)
		m.mu.Unlock()
		return nil
	}
	res := m.batchResult(b)
	m.mu.Unlock()
	fn(res)
	return nil
}

// Cancel cancels a transfer. A running stream is aborted; the partial
// destination is left in place.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("transfer not found: %s", id)
	}
	status := t.Status
	m.mu.Unlock()

	if status.Terminal() {
		return nil
	}
	m.finish(id, StatusCancelled, nil)
	if status == StatusTransferring {
		m.bridge.CancelTransfer(id)
	}
	return nil
}

// CancelAll cancels all pending and in-progress transfers.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.order))
	for _, id := range m.order {
		if t := m.tasks[id]; !t.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.Cancel(id)
	}
}

// Retry re-queues a failed transfer as a new task in its own batch.
func (m *Manager) Retry(id string) (Task, error) {
	m.mu.Lock()
	old, ok := m.tasks[id]
	if !ok || old.Status != StatusFailed {
		m.mu.Unlock()
		return Task{}, fmt.Errorf("failed transfer not found: %s", id)
	}
	b := &batch{id: uuid.NewString(), targetCon: old.TargetConn}
	t := &task{Task: Task{
		ID:         uuid.NewString(),
		BatchID:    b.id,
		RetryOf:    old.ID,
		FileName:   old.FileName,
		SourceSide: old.SourceSide,
		TargetSide: old.TargetSide,
		SourceConn: old.SourceConn,
		TargetConn: old.TargetConn,
		SourcePath: old.SourcePath,
		TargetPath: old.TargetPath,
		TotalBytes: old.TotalBytes,
		Status:     StatusPending,
	}}
	b.taskIDs = []string{t.ID}
	m.tasks[t.ID] = t
	m.order = append(m.order, t.ID)
	m.batches[b.id] = b
	snap := t.Task
	m.mu.Unlock()

	m.publish(events.TransferQueued, snap)
	m.wg.Add(1)
	go m.runBatch(b)
	return snap, nil
}

// Tasks returns every known task in queue order.
func (m *Manager) Tasks() []Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Task, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.tasks[id].Task)
	}
	return out
}

// Task returns a task by id.
func (m *Manager) Task(id string) (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return Task{}, false
	}
	return t.Task, true
}

// TasksForSide returns the tasks reading from or writing to side.
func (m *Manager) TasksForSide(side entry.Side) []Task {
	var out []Task
	for _, t := range m.Tasks() {
		if t.SourceSide == side || t.TargetSide == side {
			out = append(out, t)
		}
	}
	return out
}

// ClearFinished forgets terminal tasks and the batches they completed.
func (m *Manager) ClearFinished() {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.order[:0]
	for _, id := range m.order {
		if m.tasks[id].Status.Terminal() {
			delete(m.tasks, id)
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	for id, b := range m.batches {
		if b.done {
			delete(m.batches, id)
		}
	}
}

// Wait waits for all batches to finish.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Stop cancels everything and waits for the workers to exit.
func (m *Manager) Stop() {
	m.cancel()
	m.CancelAll()
	m.wg.Wait()
}
