package store

import (
	"sort"
	"sync"
	"time"

	"github.com/clinchat/clinchat/internal/bus"
	"go.uber.org/zap"
)

// Store is the canonical per-conversation message log. It reconciles the
// three message sources (optimistic local sends, REST history batches and
// push-delivered events) into one ordered, de-duplicated log per
// conversation, and owns the pending buffers and unread counters for
// conversations that are not on screen.
//
// One coarse mutex guards all state: the cross-field invariants (a message
// is never both pending and delivered, never in a pending buffer and the
// active log at once) need atomic read-modify-write.
type Store struct {
	mu          sync.Mutex
	selfID      string
	dedupWindow time.Duration

	logs      map[ConversationKey][]*entry
	pendbuf   map[string][]*entry // keyed by the other party's contact ID
	unread    map[string]int
	active    ConversationKey
	hasActive bool
	seq       uint64

	bus    *bus.Bus
	logger *zap.Logger
}

// entry wraps a message with its insertion sequence, which breaks timestamp
// ties so the log order is deterministic.
type entry struct {
	msg Message
	seq uint64
}

// New creates a store for the given local user. dedupWindow bounds how far
// apart two content-identical messages may be and still be collapsed into
// one; it is configuration, not a constant, because the heuristic is an
// approximation (see ReconcileIncoming).
func New(selfID string, dedupWindow time.Duration, b *bus.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		selfID:      selfID,
		dedupWindow: dedupWindow,
		logs:        make(map[ConversationKey][]*entry),
		pendbuf:     make(map[string][]*entry),
		unread:      make(map[string]int),
		bus:         b,
		logger:      logger,
	}
}

// SelfID returns the local user ID the store reconciles against.
func (s *Store) SelfID() string {
	return s.selfID
}

// Snapshot returns the ordered, de-duplicated log for a conversation.
func (s *Store) Snapshot(key ConversationKey) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLog(key)
}

// ActiveLog returns the log of the active conversation, its key, and
// whether any conversation is active.
func (s *Store) ActiveLog() ([]Message, ConversationKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasActive {
		return nil, ConversationKey{}, false
	}
	return s.copyLog(s.active), s.active, true
}

// Active returns the active conversation key, if any.
func (s *Store) Active() (ConversationKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.hasActive
}

// UnreadCount returns the unread counter for a contact.
func (s *Store) UnreadCount(contactID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread[contactID]
}

// UnreadCounts returns a copy of all non-zero unread counters.
func (s *Store) UnreadCounts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.unread))
	for id, n := range s.unread {
		out[id] = n
	}
	return out
}

// BufferedCount returns how many messages are held in a contact's pending
// buffer awaiting activation of that conversation.
func (s *Store) BufferedCount(contactID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendbuf[contactID])
}

func (s *Store) copyLog(key ConversationKey) []Message {
	log := s.logs[key]
	out := make([]Message, len(log))
	for i, e := range log {
		out[i] = e.msg
	}
	return out
}

// sortLog re-establishes the canonical order: ascending timestamp, ties
// broken by insertion sequence.
func (s *Store) sortLog(key ConversationKey) {
	log := s.logs[key]
	sort.SliceStable(log, func(i, j int) bool {
		if log[i].msg.Timestamp.Equal(log[j].msg.Timestamp) {
			return log[i].seq < log[j].seq
		}
		return log[i].msg.Timestamp.Before(log[j].msg.Timestamp)
	})
}

func (s *Store) append(key ConversationKey, m Message) *entry {
	s.seq++
	e := &entry{msg: m, seq: s.seq}
	s.logs[key] = append(s.logs[key], e)
	return e
}

// withinWindow reports whether two instants are within the configured
// duplicate-suppression window of each other.
func (s *Store) withinWindow(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d < s.dedupWindow
}

func (s *Store) publish(kind string, ref Ref) {
	if s.bus != nil {
		s.bus.Publish(kind, ref)
	}
}
