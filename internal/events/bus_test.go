package events

import (
	"testing"
	"time"

	"github.com/orchestrator-core/orchestrator/internal/types"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe("ctx-1", []types.EventKind{types.EventKindMessage})

	se := NewStreamEvent("ctx-1", &types.ContextEvent{ContextID: "ctx-1", Seq: 1, Kind: types.EventKindMessage, Importance: 3})
	bus.Publish(se)

	select {
	case got := <-ch:
		if got.Event.Seq != 1 {
			t.Fatalf("Seq = %d, want 1", got.Event.Seq)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("did not receive event within timeout")
	}
	bus.Unsubscribe("ctx-1", ch)
}

func TestBusFiltersByKind(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe("ctx-1", []types.EventKind{types.EventKindDecision})

	bus.Publish(NewStreamEvent("ctx-1", &types.ContextEvent{ContextID: "ctx-1", Seq: 1, Kind: types.EventKindMessage, Importance: 3}))

	select {
	case got := <-ch:
		t.Fatalf("received unwanted event %+v", got)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestBusDropsLowImportanceWhenChannelFull(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe("ctx-1", nil)

	// Fill the subscriber's buffer (capacity 100) without draining it.
	for i := 0; i < 100; i++ {
		bus.Publish(NewStreamEvent("ctx-1", &types.ContextEvent{ContextID: "ctx-1", Seq: int64(i), Kind: types.EventKindMessage, Importance: 2}))
	}

	// One more low-importance event should be dropped immediately, not block.
	done := make(chan struct{})
	go func() {
		bus.Publish(NewStreamEvent("ctx-1", &types.ContextEvent{ContextID: "ctx-1", Seq: 100, Kind: types.EventKindMessage, Importance: 2}))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Publish() of a low-importance event blocked on a full channel")
	}
	if bus.DroppedEventCount() == 0 {
		t.Fatal("DroppedEventCount() = 0, want at least one dropped event")
	}
	bus.Unsubscribe("ctx-1", ch)
}
