package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one line of the live-event feed, a short-lived log of recent
// activity (sends, arrivals, reconnects) shown alongside the conversation.
type Entry struct {
	ID   string
	Text string
	At   time.Time
}

// Feed keeps the most recent activity lines. Entries age out after the TTL
// and the feed never holds more than its capacity, newest last.
type Feed struct {
	mu      sync.Mutex
	entries []*feedEntry
	ttl     time.Duration
	cap     int
	now     func() time.Time
}

type feedEntry struct {
	e     Entry
	timer *time.Timer
}

// NewFeed creates a feed. A non-positive ttl disables aging; a non-positive
// capacity means unbounded.
func NewFeed(ttl time.Duration, capacity int) *Feed {
	return &Feed{
		ttl: ttl,
		cap: capacity,
		now: time.Now,
	}
}

// Post adds a line to the feed, evicting the oldest line when full.
func (f *Feed) Post(text string) Entry {
	e := Entry{ID: uuid.NewString(), Text: text, At: f.now()}

	f.mu.Lock()
	if f.cap > 0 && len(f.entries) >= f.cap {
		old := f.entries[0]
		f.entries = f.entries[1:]
		if old.timer != nil {
			old.timer.Stop()
		}
	}
	item := &feedEntry{e: e}
	if f.ttl > 0 {
		id := e.ID
		item.timer = time.AfterFunc(f.ttl, func() { f.drop(id) })
	}
	f.entries = append(f.entries, item)
	f.mu.Unlock()
	return e
}

// Entries returns the current feed lines, oldest first.
func (f *Feed) Entries() []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Entry, len(f.entries))
	for i, item := range f.entries {
		out[i] = item.e
	}
	return out
}

// Close stops all aging timers and empties the feed.
func (f *Feed) Close() {
	f.mu.Lock()
	entries := f.entries
	f.entries = nil
	f.mu.Unlock()
	for _, item := range entries {
		if item.timer != nil {
			item.timer.Stop()
		}
	}
}

func (f *Feed) drop(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, item := range f.entries {
		if item.e.ID == id {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			return
		}
	}
}
