// Package events provides the in-process bus panes, transfers, conflicts and
// the clipboard use to notify the UI.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType names a kind of event.
type EventType string

const (
	TransferQueued    EventType = "transfer.queued"
	TransferStarted   EventType = "transfer.started"
	TransferProgress  EventType = "transfer.progress"
	TransferCompleted EventType = "transfer.completed"
	TransferFailed    EventType = "transfer.failed"
	TransferCancelled EventType = "transfer.cancelled"

	ConflictPending  EventType = "conflict.pending"
	ConflictResolved EventType = "conflict.resolved"

	ClipboardChanged EventType = "clipboard.changed"
	ClipboardWarning EventType = "clipboard.warning"

	ConnectionState EventType = "connection.state"
	PaneUpdated     EventType = "pane.updated"
)

// DefaultBufferSize is the per-subscriber channel capacity.
const DefaultBufferSize = 256

// Event is implemented by every published value.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent carries the fields common to all events.
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// NewBase stamps an event of type t with the current time.
func NewBase(t EventType) BaseEvent {
	return BaseEvent{EventType: t, Time: time.Now()}
}

// TransferEvent reports a task lifecycle change or progress sample.
type TransferEvent struct {
	BaseEvent
	TaskID      string
	BatchID     string
	Name        string
	SourceSide  string
	TargetSide  string
	Phase       string
	Transferred int64
	Total       int64
	Speed       float64
	Err         error
}

// ConflictEvent reports the head of the conflict queue or a resolution.
type ConflictEvent struct {
	BaseEvent
	TransferID string
	BatchID    string
	FileName   string
	TargetPath string
	Resolution string
	// Remaining is the queue length after the change.
	Remaining int
}

// ClipboardEvent reports a clipboard change or a user-facing notice.
type ClipboardEvent struct {
	BaseEvent
	Operation  string
	SourceSide string
	Files      []string
	// MessageKey is set for notices and warnings.
	MessageKey string
}

// ConnectionEvent reports a connection state transition for one side.
type ConnectionEvent struct {
	BaseEvent
	Side         string
	ConnectionID string
	State        string
	MessageKey   string
	Err          error
}

// PaneEvent tells the UI that a pane's snapshot changed.
type PaneEvent struct {
	BaseEvent
	Side string
	Path string
}

// Bus fans events out to channel subscribers. Publishing never blocks: an
// event is dropped for a subscriber whose buffer is full.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	all         []chan Event
	bufferSize  int
	closed      bool
	dropped     atomic.Int64
}

// NewBus creates a bus with the given per-subscriber buffer.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe returns a channel receiving events of the given types.
func (b *Bus) Subscribe(types ...EventType) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	if b.closed {
		close(ch)
		return ch
	}
	for _, t := range types {
		b.subscribers[t] = append(b.subscribers[t], ch)
	}
	return ch
}

// SubscribeAll returns a channel receiving every event.
func (b *Bus) SubscribeAll() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	if b.closed {
		close(ch)
		return ch
	}
	b.all = append(b.all, ch)
	return ch
}

// Unsubscribe detaches ch and closes it.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	var found chan Event
	for t, subs := range b.subscribers {
		for i, sub := range subs {
			if sub == ch {
				found = sub
				b.subscribers[t] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	}
	for i, sub := range b.all {
		if sub == ch {
			found = sub
			b.all = append(b.all[:i:i], b.all[i+1:]...)
			break
		}
	}
	if found != nil {
		close(found)
	}
}

// Publish delivers e to all matching subscribers. A nil bus is a no-op.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subscribers[e.Type()] {
		b.send(ch, e)
	}
	for _, ch := range b.all {
		b.send(ch, e)
	}
}

func (b *Bus) send(ch chan Event, e Event) {
	select {
	case ch <- e:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns the number of events dropped because a subscriber was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	seen := make(map[chan Event]bool)
	for _, subs := range b.subscribers {
		for _, ch := range subs {
			if !seen[ch] {
				seen[ch] = true
				close(ch)
			}
		}
	}
	for _, ch := range b.all {
		if !seen[ch] {
			seen[ch] = true
			close(ch)
		}
	}
}
