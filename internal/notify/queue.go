package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinchat/clinchat/internal/bus"
	"github.com/clinchat/clinchat/internal/store"
)

// Notification is a transient alert for a message that arrived in a
// conversation the user is not looking at. Clicking it activates that
// conversation; otherwise it expires on its own.
type Notification struct {
	ID           string
	Conversation store.ConversationKey
	SenderID     string
	SenderName   string
	Body         string
	CreatedAt    time.Time
}

// Queue holds the pending notifications. Each entry expires after the
// configured TTL; when the queue is full the oldest entry is dropped first.
type Queue struct {
	mu     sync.Mutex
	items  []*queued
	ttl    time.Duration
	cap    int
	bus    *bus.Bus
	now    func() time.Time
	closed bool
}

type queued struct {
	n     Notification
	timer *time.Timer
}

// NewQueue creates a notification queue. A non-positive ttl disables
// auto-expiry; a non-positive capacity means unbounded.
func NewQueue(ttl time.Duration, capacity int, b *bus.Bus) *Queue {
	return &Queue{
		ttl: ttl,
		cap: capacity,
		bus: b,
		now: time.Now,
	}
}

// Enqueue adds a notification, assigning it an ID and creation time, and
// returns the stored value. The oldest entry is evicted if the queue is at
// capacity.
func (q *Queue) Enqueue(n Notification) Notification {
	n.ID = uuid.NewString()
	n.CreatedAt = q.now()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return n
	}
	var evicted *queued
	if q.cap > 0 && len(q.items) >= q.cap {
		evicted = q.items[0]
		q.items = q.items[1:]
	}
	item := &queued{n: n}
	if q.ttl > 0 {
		id := n.ID
		item.timer = time.AfterFunc(q.ttl, func() { q.expire(id) })
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	if evicted != nil {
		if evicted.timer != nil {
			evicted.timer.Stop()
		}
		q.publish(bus.KindNotifyExpired, evicted.n.ID)
	}
	q.publish(bus.KindNotifyPosted, n)
	return n
}

// Dismiss removes a notification by ID, reporting whether it was present.
func (q *Queue) Dismiss(id string) bool {
	q.mu.Lock()
	item := q.remove(id)
	q.mu.Unlock()
	if item == nil {
		return false
	}
	if item.timer != nil {
		item.timer.Stop()
	}
	return true
}

// Notifications returns the pending notifications, oldest first.
func (q *Queue) Notifications() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Notification, len(q.items))
	for i, item := range q.items {
		out[i] = item.n
	}
	return out
}

// Close stops all expiry timers. Pending notifications are discarded.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	items := q.items
	q.items = nil
	q.mu.Unlock()
	for _, item := range items {
		if item.timer != nil {
			item.timer.Stop()
		}
	}
}

func (q *Queue) expire(id string) {
	q.mu.Lock()
	item := q.remove(id)
	q.mu.Unlock()
	if item != nil {
		q.publish(bus.KindNotifyExpired, id)
	}
}

// remove is called with q.mu held.
func (q *Queue) remove(id string) *queued {
	for i, item := range q.items {
		if item.n.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return item
		}
	}
	return nil
}

func (q *Queue) publish(kind string, payload any) {
	if q.bus != nil {
		q.bus.Publish(kind, payload)
	}
}
