// Package events provides the in-process coordination event stream and the
// websocket hub that broadcasts it to dashboard readers.
package events

import (
	"sync"

	"github.com/jdefouw/EvoNash-sub001/pkg/core"
)

// Bus fans coordination events out to subscribers. Publishing never
// blocks; a subscriber that falls behind loses events rather than
// stalling a claim or upload.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan core.Event
	next int
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan core.Event)}
}

// Publish delivers the event to every subscriber with room in its buffer.
func (b *Bus) Publish(e core.Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a buffered event channel. The returned cancel
// function removes the subscription and closes the channel.
func (b *Bus) Subscribe() (<-chan core.Event, func()) {
	ch := make(chan core.Event, 100)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}
