package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestSubscribeFiltersByType(t *testing.T) {
	bus := NewBus(4)
	defer bus.Close()

	transfers := bus.Subscribe(TransferCompleted, TransferFailed)
	all := bus.SubscribeAll()

	bus.Publish(&PaneEvent{BaseEvent: NewBase(PaneUpdated), Side: "left"})
	bus.Publish(&TransferEvent{BaseEvent: NewBase(TransferFailed), TaskID: "t1"})

	e := receive(t, transfers)
	require.Equal(t, TransferFailed, e.Type())
	assert.Equal(t, "t1", e.(*TransferEvent).TaskID)

	assert.Equal(t, PaneUpdated, receive(t, all).Type())
	assert.Equal(t, TransferFailed, receive(t, all).Type())
	assert.Empty(t, transfers)
}

func TestPublishDropsWhenFull(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	ch := bus.Subscribe(PaneUpdated)
	bus.Publish(&PaneEvent{BaseEvent: NewBase(PaneUpdated)})
	bus.Publish(&PaneEvent{BaseEvent: NewBase(PaneUpdated)})

	assert.Len(t, ch, 1)
	assert.Equal(t, int64(1), bus.Dropped())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	ch := bus.Subscribe(PaneUpdated, ConnectionState)
	bus.Unsubscribe(ch)

	_, ok := <-ch
	assert.False(t, ok)
	bus.Publish(&PaneEvent{BaseEvent: NewBase(PaneUpdated)})
}

func TestCloseIsIdempotent(t *testing.T) {
	bus := NewBus(1)
	ch := bus.Subscribe(PaneUpdated, ConflictPending)
	bus.Close()
	bus.Close()

	_, ok := <-ch
	assert.False(t, ok)

	late := bus.SubscribeAll()
	_, ok = <-late
	assert.False(t, ok)
}

func TestNilBusPublish(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() {
		bus.Publish(&PaneEvent{BaseEvent: NewBase(PaneUpdated)})
	})
}
