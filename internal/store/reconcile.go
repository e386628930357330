package store

import (
	"time"

	"github.com/clinchat/clinchat/internal/bus"
	"go.uber.org/zap"
)

// Result describes what ReconcileIncoming did with a message.
type Result int

const (
	// ResultAppended means the message was new and added to the active log.
	ResultAppended Result = iota
	// ResultReplaced means the message confirmed an optimistic placeholder,
	// which was replaced in place.
	ResultReplaced
	// ResultDuplicate means the message matched an already-delivered entry
	// and was discarded.
	ResultDuplicate
	// ResultBuffered means the message targets an inactive conversation and
	// was held in that contact's pending buffer.
	ResultBuffered
)

// AppendLocal inserts an optimistic message with status Pending and returns
// the stored copy. If a Pending message with identical content (sender,
// recipient, normalized text, attachment) already exists in that
// conversation, the send is coalesced onto it: the existing copy is
// returned with coalesced=true and nothing is inserted. A user mashing the
// send button must never produce duplicates.
func (s *Store) AppendLocal(m Message) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key(m.SenderID, m.RecipientID)
	m.Conversation = key
	m.Status = StatusPending
	m.Origin = OriginLocal
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}

	ck := m.contentKey()
	for _, e := range s.logs[key] {
		if e.msg.Status == StatusPending && e.msg.contentKey() == ck {
			return e.msg, true
		}
	}

	s.append(key, m)
	s.sortLog(key)
	s.publish(bus.KindMessageUpserted, Ref{Conversation: key, ID: m.ID})
	return m, false
}

// ReconcileIncoming merges a push-delivered message into the store.
//
// For the active conversation: an optimistic Pending placeholder matching
// the full content tuple is replaced in place (same log position) and
// marked Delivered. Failing that, an already-Delivered entry with the same
// sender, recipient and text within the dedup window means the relay echoed
// a message we already have, and the incoming copy is discarded. Otherwise
// the message is appended and the log re-sorted by timestamp.
//
// For an inactive conversation the pending replacement is attempted first
// against that conversation's background log (the user may have switched
// away with a send in flight); only a message that claims no placeholder
// goes to the contact's pending buffer. The unread counter increments only
// for messages from the other party, not for our own echoes arriving from
// another device or the relay.
//
// The content+window matching is a heuristic: under rapid identical sends
// it can mis-suppress. The window is configurable for that reason.
func (s *Store) ReconcileIncoming(m Message) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	other := m.SenderID
	if m.SenderID == s.selfID {
		other = m.RecipientID
	}
	key := Key(m.SenderID, m.RecipientID)
	m.Conversation = key
	m.Status = StatusDelivered
	if m.Origin == "" {
		m.Origin = OriginRemote
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}

	if s.hasActive && s.active == key {
		if s.claimPending(key, m) {
			return ResultReplaced
		}

		if s.isDuplicate(s.logs[key], &m) {
			s.logger.Debug("duplicate push event suppressed",
				zap.String("conversation", key.String()),
				zap.String("sender", m.SenderID))
			return ResultDuplicate
		}

		s.append(key, m)
		s.sortLog(key)
		s.publish(bus.KindMessageUpserted, Ref{Conversation: key, ID: m.ID})
		return ResultAppended
	}

	// Inactive conversation. An optimistic placeholder lives in the
	// background log, not the buffer, so the echo must still claim it
	// there; buffering it instead would surface both entries when the
	// user switches to that conversation mid-flight.
	if s.claimPending(key, m) {
		return ResultReplaced
	}

	// Replaying the same event must stay invisible, so the duplicate
	// check covers both the buffer and the background log.
	if s.isDuplicate(s.pendbuf[other], &m) || s.isDuplicate(s.logs[key], &m) {
		return ResultDuplicate
	}

	s.seq++
	s.pendbuf[other] = append(s.pendbuf[other], &entry{msg: m, seq: s.seq})
	if m.SenderID != s.selfID {
		s.unread[other]++
	}
	s.publish(bus.KindMessageBuffered, Ref{Conversation: key, ID: m.ID})
	return ResultBuffered
}

// claimPending performs the optimistic-to-confirmed transition: a Pending
// entry in key's log matching m's full content tuple is replaced in place
// (same position, new identity, status Delivered). Called with s.mu held.
func (s *Store) claimPending(key ConversationKey, m Message) bool {
	ck := m.contentKey()
	for _, e := range s.logs[key] {
		if e.msg.Status == StatusPending && e.msg.contentKey() == ck {
			e.msg = m
			s.publish(bus.KindMessageConfirmed, Ref{Conversation: key, ID: m.ID})
			return true
		}
	}
	return false
}

// isDuplicate reports whether m matches an already-delivered entry by ID or
// by content within the dedup window.
func (s *Store) isDuplicate(entries []*entry, m *Message) bool {
	for _, e := range entries {
		if m.ID != "" && e.msg.ID == m.ID {
			return true
		}
		if e.msg.Status == StatusDelivered && e.msg.sameContent(m) &&
			s.withinWindow(e.msg.Timestamp, m.Timestamp) {
			return true
		}
	}
	return false
}

// AppendHistory merges a REST-fetched batch into a conversation's canonical
// log. The merge is idempotent: entries already present by ID, and entries
// whose content matches an existing one within the dedup window (a
// confirmed optimistic send fetched back under its server identity), are
// skipped. Order across a reconnect between history re-fetch and queued
// push events is not guaranteed, so this must be safe in any interleaving.
func (s *Store) AppendHistory(key ConversationKey, batch []Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, m := range batch {
		m.Conversation = key
		m.Status = StatusDelivered
		m.Origin = OriginHistory
		if s.isDuplicate(s.logs[key], &m) {
			continue
		}
		s.append(key, m)
		added++
	}
	if added > 0 {
		s.sortLog(key)
		if s.bus != nil {
			s.bus.Publish(bus.KindMessageHistoryMerged, HistoryMerge{
				Conversation: key,
				Added:        added,
			})
		}
	}
	return added
}

// HistoryMerge is the bus payload for a merged history batch.
type HistoryMerge struct {
	Conversation ConversationKey
	Added        int
}

// SetActiveConversation switches focus to key. The other party's pending
// buffer is drained into the canonical log in timestamp order, subject to
// the same duplicate suppression as any other merge, and the unread counter
// resets to zero. Exactly one conversation (or none) is active at a time.
func (s *Store) SetActiveConversation(key ConversationKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = key
	s.hasActive = true

	other := key.Other(s.selfID)
	buffered := s.pendbuf[other]
	delete(s.pendbuf, other)
	delete(s.unread, other)

	for _, e := range buffered {
		// An echo that reached the buffer before the optimistic append
		// still claims its placeholder here rather than landing twice.
		if s.claimPending(key, e.msg) {
			continue
		}
		if s.isDuplicate(s.logs[key], &e.msg) {
			continue
		}
		s.logs[key] = append(s.logs[key], e)
	}
	s.sortLog(key)

	if s.bus != nil {
		s.bus.Publish(bus.KindConversationActivated, key)
	}
}

// ClearActive leaves no conversation active; subsequent incoming messages
// for any conversation go to pending buffers.
func (s *Store) ClearActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = ConversationKey{}
	s.hasActive = false
}

// ConfirmLocal marks a Pending message Delivered, keeping its position.
// Returns false if the message is gone or no longer Pending, which is the
// normal outcome when a push echo won the race and replaced it already.
func (s *Store) ConfirmLocal(key ConversationKey, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.logs[key] {
		if e.msg.ID == id {
			if e.msg.Status != StatusPending {
				return false
			}
			e.msg.Status = StatusDelivered
			s.publish(bus.KindMessageConfirmed, Ref{Conversation: key, ID: id})
			return true
		}
	}
	return false
}

// FailLocal marks a Pending message Failed with the given reason. The entry
// stays visible so the user can re-issue it; a failed send is a normal
// outcome, not a fault. No-op (false) if the message was already confirmed
// by an echo.
func (s *Store) FailLocal(key ConversationKey, id, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.logs[key] {
		if e.msg.ID == id {
			if e.msg.Status != StatusPending {
				return false
			}
			e.msg.Status = StatusFailed
			e.msg.SendError = reason
			s.publish(bus.KindMessageSendFailed, Ref{Conversation: key, ID: id})
			return true
		}
	}
	return false
}

// RetryLocal flips a Failed message back to Pending for a user-initiated
// re-send and returns the message to post again.
func (s *Store) RetryLocal(key ConversationKey, id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.logs[key] {
		if e.msg.ID == id && e.msg.Status == StatusFailed {
			e.msg.Status = StatusPending
			e.msg.SendError = ""
			s.publish(bus.KindMessageUpserted, Ref{Conversation: key, ID: id})
			return e.msg, true
		}
	}
	return Message{}, false
}
