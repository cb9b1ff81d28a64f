// Package conflict queues destination-name collisions and hands each
// suspended transfer the user's decision.
package conflict

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"panesync/internal/events"
	"panesync/pkg/logger"
)

// Resolution is the user's answer to a conflict.
type Resolution int

const (
	Replace Resolution = iota
	Skip
	Duplicate
)

func (r Resolution) String() string {
	switch r {
	case Skip:
		return "skip"
	case Duplicate:
		return "duplicate"
	default:
		return "replace"
	}
}

// ParseResolution maps a name back to a Resolution.
func ParseResolution(s string) (Resolution, error) {
	switch s {
	case "replace":
		return Replace, nil
	case "skip":
		return Skip, nil
	case "duplicate":
		return Duplicate, nil
	}
	return 0, fmt.Errorf("unknown resolution %q", s)
}

// ErrNotPending is returned when resolving an id that has no open conflict.
var ErrNotPending = errors.New("no pending conflict for transfer")

// Record describes a transfer whose destination already exists.
type Record struct {
	TransferID       string
	BatchID          string
	FileName         string
	SourcePath       string
	TargetPath       string
	ExistingSize     int64
	NewSize          int64
	ExistingModified time.Time
	NewModified      time.Time
}

// Decision tells the suspended transfer how to continue.
type Decision struct {
	Resolution Resolution
	// TargetPath is where to write; it differs from the record's path only
	// for Duplicate.
	TargetPath string
}

// ExistsFunc reports whether a destination path is taken.
type ExistsFunc func(ctx context.Context, p string) bool

type pending struct {
	rec      Record
	ctx      context.Context
	exists   ExistsFunc
	done     chan Decision
	resolved bool
}

// Ticket is a queued conflict waiting for its decision.
type Ticket struct {
	p *pending
}

// TransferID returns the id of the suspended transfer.
func (t *Ticket) TransferID() string { return t.p.rec.TransferID }

// Resolver surfaces conflicts one at a time in arrival order.
type Resolver struct {
	mu      sync.Mutex
	queue   []*pending
	bus     *events.Bus
	log     *logger.Logger
	changed chan struct{}
}

// NewResolver creates an empty resolver.
func NewResolver(bus *events.Bus, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.GetInstance()
	}
	return &Resolver{bus: bus, log: log.Named("conflict"), changed: make(chan struct{}, 1)}
}

// Changed returns a channel signalled whenever a new conflict reaches the
// head of the queue. Signals coalesce, so a reader that falls behind still
// wakes up once; it should then look at Current.
func (r *Resolver) Changed() <-chan struct{} {
	return r.changed
}

// Suspend blocks until rec is resolved or ctx is done. exists is used to pick
// a free name for Duplicate.
func (r *Resolver) Suspend(ctx context.Context, rec Record, exists ExistsFunc) (Decision, error) {
	return r.Await(r.Submit(ctx, rec, exists))
}

// Submit queues rec without waiting. The conflict is withdrawn when ctx is
// done while someone awaits it, or through CancelTransfer.
func (r *Resolver) Submit(ctx context.Context, rec Record, exists ExistsFunc) *Ticket {
	p := &pending{rec: rec, ctx: ctx, exists: exists, done: make(chan Decision, 1)}

	r.mu.Lock()
	r.queue = append(r.queue, p)
	head := len(r.queue) == 1
	remaining := len(r.queue)
	r.mu.Unlock()

	r.log.Info("transfer suspended on conflict",
		zap.String("transfer_id", rec.TransferID),
		zap.String("batch_id", rec.BatchID),
		zap.String("target", rec.TargetPath))
	if head {
		r.publishPending(rec, remaining)
	}
	return &Ticket{p: p}
}

// Await blocks until the ticket's conflict is resolved or its context is
// done.
func (r *Resolver) Await(t *Ticket) (Decision, error) {
	p := t.p
	select {
	case d := <-p.done:
		return d, nil
	case <-p.ctx.Done():
		r.withdraw(p.rec.TransferID)
		r.mu.Lock()
		resolved := p.resolved
		r.mu.Unlock()
		if resolved {
			// Resolved concurrently with cancellation.
			return <-p.done, nil
		}
		return Decision{}, p.ctx.Err()
	}
}

// Current returns the conflict at the head of the queue.
func (r *Resolver) Current() (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return Record{}, false
	}
	return r.queue[0].rec, true
}

// Pending lists open conflicts in arrival order.
func (r *Resolver) Pending() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.queue))
	for i, p := range r.queue {
		out[i] = p.rec
	}
	return out
}

// Len returns the number of open conflicts.
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Resolve applies res to transferID and, with applyToBatch, to every other
// conflict of the same batch pending at call time. It returns the ids
// resolved.
func (r *Resolver) Resolve(transferID string, res Resolution, applyToBatch bool) ([]string, error) {
	r.mu.Lock()
	idx := r.indexOf(transferID)
	if idx < 0 {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotPending, transferID)
	}
	batch := r.queue[idx].rec.BatchID
	oldHead := r.queue[0]

	var selected []*pending
	kept := r.queue[:0:0]
	for i, p := range r.queue {
		if i == idx || (applyToBatch && batch != "" && p.rec.BatchID == batch) {
			p.resolved = true
			selected = append(selected, p)
			continue
		}
		kept = append(kept, p)
	}
	r.queue = kept
	var newHead *pending
	if len(r.queue) > 0 && r.queue[0] != oldHead {
		newHead = r.queue[0]
	}
	remaining := len(r.queue)
	r.mu.Unlock()

	ids := make([]string, 0, len(selected))
	for _, p := range selected {
		d := Decision{Resolution: res, TargetPath: p.rec.TargetPath}
		if res == Duplicate {
			d.TargetPath = UniquePath(p.rec.TargetPath, func(candidate string) bool {
				return p.exists != nil && p.exists(p.ctx, candidate)
			})
		}
		p.done <- d
		ids = append(ids, p.rec.TransferID)

		r.log.Info("conflict resolved",
			zap.String("transfer_id", p.rec.TransferID),
			zap.String("resolution", res.String()),
			zap.String("target", d.TargetPath))
		r.bus.Publish(&events.ConflictEvent{
			BaseEvent:  events.NewBase(events.ConflictResolved),
			TransferID: p.rec.TransferID,
			BatchID:    p.rec.BatchID,
			FileName:   p.rec.FileName,
			TargetPath: d.TargetPath,
			Resolution: res.String(),
			Remaining:  remaining,
		})
	}

	if newHead != nil {
		r.publishPending(newHead.rec, remaining)
	}
	return ids, nil
}

// CancelTransfer withdraws the conflict of a cancelled transfer. The
// suspended caller observes its own context being done.
func (r *Resolver) CancelTransfer(transferID string) bool {
	return r.withdraw(transferID)
}

func (r *Resolver) withdraw(transferID string) bool {
	r.mu.Lock()
	idx := r.indexOf(transferID)
	if idx < 0 {
		r.mu.Unlock()
		return false
	}
	r.queue = append(r.queue[:idx:idx], r.queue[idx+1:]...)
	var newHead *pending
	if idx == 0 && len(r.queue) > 0 {
		newHead = r.queue[0]
	}
	remaining := len(r.queue)
	r.mu.Unlock()

	if newHead != nil {
		r.publishPending(newHead.rec, remaining)
	}
	return true
}

func (r *Resolver) indexOf(transferID string) int {
	for i, p := range r.queue {
		if p.rec.TransferID == transferID {
			return i
		}
	}
	return -1
}

func (r *Resolver) publishPending(rec Record, remaining int) {
	select {
	case r.changed <- struct{}{}:
	default:
	}
	r.bus.Publish(&events.ConflictEvent{
		BaseEvent:  events.NewBase(events.ConflictPending),
		TransferID: rec.TransferID,
		BatchID:    rec.BatchID,
		FileName:   rec.FileName,
		TargetPath: rec.TargetPath,
		Remaining:  remaining,
	})
}

// UniquePath returns p, or the first "name (n).ext" variant of it for which
// taken is false.
func UniquePath(p string, taken func(string) bool) string {
	if !taken(p) {
		return p
	}
	dir, name := path.Split(p)
	base, ext := splitExt(name)
	for n := 1; ; n++ {
		candidate := dir + fmt.Sprintf("%s (%d)%s", base, n, ext)
		if !taken(candidate) {
			return candidate
		}
	}
}

// splitExt splits the last extension off name. Dot files without another
// dot have no extension.
func splitExt(name string) (string, string) {
	ext := path.Ext(name)
	if ext == name || strings.TrimLeft(name, ".") == strings.TrimPrefix(ext, ".") {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), ext
}
