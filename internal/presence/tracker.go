package presence

import (
	"sort"
	"sync"

	"github.com/clinchat/clinchat/internal/bus"
)

// Status is a user's presence as known to this client.
type Status string

const (
	Unknown Status = "unknown"
	Online  Status = "online"
	Offline Status = "offline"
)

// Change is the payload for presence change events.
type Change struct {
	UserID string
	Status Status
}

// Tracker keeps the last known presence of every user seen over the push
// channel or the REST snapshot. Deltas are applied idempotently; an event
// is published only when a user's status actually changes.
type Tracker struct {
	mu       sync.RWMutex
	statuses map[string]Status
	bus      *bus.Bus
}

// NewTracker creates an empty tracker.
func NewTracker(b *bus.Bus) *Tracker {
	return &Tracker{
		statuses: make(map[string]Status),
		bus:      b,
	}
}

// Status returns the last known status for a user, Unknown if never seen.
func (t *Tracker) Status(userID string) Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.statuses[userID]; ok {
		return s
	}
	return Unknown
}

// IsOnline reports whether the user is known to be online.
func (t *Tracker) IsOnline(userID string) bool {
	return t.Status(userID) == Online
}

// Online returns the IDs of all users known online, sorted.
func (t *Tracker) Online() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var ids []string
	for id, s := range t.statuses {
		if s == Online {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ApplyDelta records one user coming online or going offline.
func (t *Tracker) ApplyDelta(userID string, online bool) {
	next := Offline
	if online {
		next = Online
	}
	t.mu.Lock()
	prev := t.statuses[userID]
	if prev == next {
		t.mu.Unlock()
		return
	}
	t.statuses[userID] = next
	t.mu.Unlock()

	t.publish(userID, next)
}

// ApplySnapshot replaces the presence picture with an authoritative list of
// online users. Tracked users absent from the snapshot become offline. The
// snapshot compensates for deltas missed while the push channel was down.
func (t *Tracker) ApplySnapshot(onlineIDs []string) {
	online := make(map[string]bool, len(onlineIDs))
	for _, id := range onlineIDs {
		online[id] = true
	}

	var changes []Change
	t.mu.Lock()
	for id, prev := range t.statuses {
		if !online[id] && prev != Offline {
			t.statuses[id] = Offline
			changes = append(changes, Change{UserID: id, Status: Offline})
		}
	}
	for id := range online {
		if t.statuses[id] != Online {
			t.statuses[id] = Online
			changes = append(changes, Change{UserID: id, Status: Online})
		}
	}
	t.mu.Unlock()

	for _, c := range changes {
		t.publish(c.UserID, c.Status)
	}
}

func (t *Tracker) publish(userID string, s Status) {
	if t.bus != nil {
		t.bus.Publish(bus.KindPresenceChanged, Change{UserID: userID, Status: s})
	}
}
