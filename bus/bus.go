// Package bus fans state transitions out to any number of subscribers.
//
// Delivery is at-most-once per subscriber: a publish never blocks the
// emitting component, events for a subscriber whose buffer is full are
// dropped. Emission order is preserved per subscriber; no ordering is
// guaranteed across subscribers. Replay for late joiners is a transport
// concern, not handled here.
package bus

import (
	"sync"

	"github.com/golang/glog"
)

const (
	TypeCandidates = "candidates"
	TypeScanState  = "scan_state"
	TypeFocusState = "focus_state"
)

type Event struct {
	Type    string
	Payload any
}

type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func New() *Bus {
	return &Bus{subs: map[int]chan Event{}}
}

// Subscribe returns a receive channel with the given buffer and a cancel
// func. Cancel closes the channel; pending events may still be read.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Event, buffer)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			glog.V(2).Infof("subscriber %d buffer full, dropping %s event", id, e.Type)
		}
	}
}

func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
