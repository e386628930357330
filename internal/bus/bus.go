package bus

import (
	"strings"
	"sync"
	"time"
)

// Bus is an in-process publish/subscribe event bus with namespace filtering.
// Every component of the engine communicates through it: the connection
// manager publishes raw push events, the reconciliation engine consumes
// them, and observers subscribe to the kinds they care about.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	namespace string
	ch        chan Event
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish stamps an event and delivers it to all subscribers whose namespace
// is a prefix of kind. A slow subscriber never blocks the publisher: when a
// subscriber's buffer is full the event is dropped for that subscriber.
func (b *Bus) Publish(kind string, payload any) {
	evt := Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.namespace) {
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}
}

// Subscribe returns a channel that receives events matching the given
// namespace prefix. bufSize controls the channel buffer. Returns the channel
// and an unsubscribe function.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
