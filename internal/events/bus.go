package events

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orchestrator-core/orchestrator/internal/types"
)

// Subscription is a live subscriber to one target's stream.
type Subscription struct {
	Ch     chan StreamEvent
	Kinds  []types.EventKind // nil/empty = all kinds
	Target string
}

// Backpressure configuration constants.
const (
	MaxBackpressureRetries = 3
	BackpressureRetryDelay = 10 * time.Millisecond
)

// Bus fans StreamEvents out to subscribers. It owns no storage; callers
// publish after the Context Manager has already persisted the underlying
// event via the Store.
type Bus struct {
	subscribers   map[string][]*Subscription
	mu            sync.RWMutex
	droppedEvents uint64
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]*Subscription)}
}

// Subscribe returns a channel receiving StreamEvents for target (or "all"
// for every target), optionally filtered to kinds.
func (b *Bus) Subscribe(target string, kinds []types.EventKind) <-chan StreamEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		Ch:     make(chan StreamEvent, 100),
		Kinds:  kinds,
		Target: target,
	}
	b.subscribers[target] = append(b.subscribers[target], sub)
	return sub.Ch
}

// Unsubscribe removes and closes a previously returned channel.
func (b *Bus) Unsubscribe(target string, ch <-chan StreamEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, exists := b.subscribers[target]
	if !exists {
		return
	}
	for i, sub := range subs {
		if sub.Ch == ch {
			close(sub.Ch)
			b.subscribers[target] = append(subs[:i], subs[i+1:]...)
			if len(b.subscribers[target]) == 0 {
				delete(b.subscribers, target)
			}
			return
		}
	}
}

// Publish broadcasts se to subscribers of se.Target and of "all".
func (b *Bus) Publish(se StreamEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var targetSubs []*Subscription
	if se.Target == "all" {
		for _, subs := range b.subscribers {
			targetSubs = append(targetSubs, subs...)
		}
	} else {
		targetSubs = append(targetSubs, b.subscribers[se.Target]...)
		targetSubs = append(targetSubs, b.subscribers["all"]...)
	}

	for _, sub := range targetSubs {
		if matchesKinds(se.Event.Kind, sub.Kinds) {
			b.sendWithBackpressure(sub, se)
		}
	}
}

// sendWithBackpressure applies spec.md §9's redesign: low-importance
// updates (below the preservation threshold) are dropped immediately when
// a subscriber's channel is full, rather than retried; preserved-importance
// events get a bounded number of retries before being dropped.
func (b *Bus) sendWithBackpressure(sub *Subscription, se StreamEvent) {
	select {
	case sub.Ch <- se:
		return
	default:
	}

	if se.Importance() < types.PreservationThreshold {
		dropped := atomic.AddUint64(&b.droppedEvents, 1)
		log.Printf("[EVENTS] dropped low-importance update: target=%s kind=%s importance=%d (total dropped: %d)",
			se.Target, se.Event.Kind, se.Importance(), dropped)
		return
	}

	for retry := 1; retry <= MaxBackpressureRetries; retry++ {
		time.Sleep(BackpressureRetryDelay)
		select {
		case sub.Ch <- se:
			return
		default:
		}
	}

	dropped := atomic.AddUint64(&b.droppedEvents, 1)
	log.Printf("[EVENTS] WARNING: dropped preserved-importance update after %d retries: target=%s kind=%s (total dropped: %d)",
		MaxBackpressureRetries, se.Target, se.Event.Kind, dropped)
}

// DroppedEventCount returns the total number of events dropped so far.
func (b *Bus) DroppedEventCount() uint64 {
	return atomic.LoadUint64(&b.droppedEvents)
}

func matchesKinds(kind types.EventKind, kinds []types.EventKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
