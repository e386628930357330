package store

import (
	"testing"
	"time"

	"github.com/clinchat/clinchat/internal/bus"
)

const (
	self = "u-self"
	c42  = "u-c42"
	c7   = "u-c7"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return New(self, 10*time.Second, bus.New(), nil)
}

func msg(sender, recipient, text string, ts time.Time) Message {
	return Message{
		ID:          "srv-" + sender + "-" + text,
		SenderID:    sender,
		RecipientID: recipient,
		Text:        text,
		Timestamp:   ts,
	}
}

// Optimistic send followed by the relay echo must leave exactly one entry,
// Delivered, at the same position.
func TestOptimisticReplacedByEcho(t *testing.T) {
	s := testStore(t)
	key := Key(self, c42)
	s.SetActiveConversation(key)

	now := time.Now()
	local, coalesced := s.AppendLocal(Message{
		ID: "prov-1", SenderID: self, RecipientID: c42, Text: "hi", Timestamp: now,
	})
	if coalesced {
		t.Fatal("first AppendLocal reported coalesced")
	}
	if local.Status != StatusPending {
		t.Fatalf("status = %q, want pending", local.Status)
	}

	res := s.ReconcileIncoming(msg(self, c42, "hi", now.Add(200*time.Millisecond)))
	if res != ResultReplaced {
		t.Fatalf("result = %v, want ResultReplaced", res)
	}

	log := s.Snapshot(key)
	if len(log) != 1 {
		t.Fatalf("log has %d entries, want 1", len(log))
	}
	if log[0].Status != StatusDelivered {
		t.Errorf("status = %q, want delivered", log[0].Status)
	}
	if log[0].Text != "hi" {
		t.Errorf("text = %q, want hi", log[0].Text)
	}
}

// Replacement must keep the placeholder's position in the log even when the
// echo carries a slightly later timestamp.
func TestReplacementKeepsPosition(t *testing.T) {
	s := testStore(t)
	key := Key(self, c42)
	s.SetActiveConversation(key)

	base := time.Now()
	s.ReconcileIncoming(msg(c42, self, "first", base.Add(-time.Minute)))
	s.AppendLocal(Message{ID: "prov-1", SenderID: self, RecipientID: c42, Text: "mine", Timestamp: base})
	s.ReconcileIncoming(msg(c42, self, "third", base.Add(time.Minute)))

	s.ReconcileIncoming(msg(self, c42, "mine", base.Add(500*time.Millisecond)))

	log := s.Snapshot(key)
	if len(log) != 3 {
		t.Fatalf("log has %d entries, want 3", len(log))
	}
	if log[1].Text != "mine" || log[1].Status != StatusDelivered {
		t.Errorf("middle entry = %q/%q, want mine/delivered", log[1].Text, log[1].Status)
	}
}

// A second send with identical content while the first is pending must be
// coalesced, never duplicated.
func TestAppendLocalCoalescesDuplicatePending(t *testing.T) {
	s := testStore(t)
	key := Key(self, c42)
	s.SetActiveConversation(key)

	s.AppendLocal(Message{ID: "prov-1", SenderID: self, RecipientID: c42, Text: "hello"})
	got, coalesced := s.AppendLocal(Message{ID: "prov-2", SenderID: self, RecipientID: c42, Text: "  hello  "})

	if !coalesced {
		t.Fatal("second identical pending send not coalesced")
	}
	if got.ID != "prov-1" {
		t.Errorf("coalesced onto ID %q, want prov-1", got.ID)
	}
	if n := len(s.Snapshot(key)); n != 1 {
		t.Errorf("log has %d entries, want 1", n)
	}
}

// Replaying the same push event twice (relay duplication) never produces
// two visible messages.
func TestReconcileIdempotentReplay(t *testing.T) {
	s := testStore(t)
	key := Key(self, c42)
	s.SetActiveConversation(key)

	m := msg(c42, self, "ping", time.Now())
	if res := s.ReconcileIncoming(m); res != ResultAppended {
		t.Fatalf("first result = %v, want ResultAppended", res)
	}
	if res := s.ReconcileIncoming(m); res != ResultDuplicate {
		t.Fatalf("replay result = %v, want ResultDuplicate", res)
	}
	if n := len(s.Snapshot(key)); n != 1 {
		t.Errorf("log has %d entries, want 1", n)
	}
}

// Echo suppression: a content-identical delivered message within the window
// is dropped even when the relay assigned it a fresh ID.
func TestEchoSuppressionWithoutStableID(t *testing.T) {
	s := testStore(t)
	key := Key(self, c42)
	s.SetActiveConversation(key)

	now := time.Now()
	first := msg(self, c42, "hey", now)
	first.ID = "srv-a"
	second := msg(self, c42, "hey", now.Add(2*time.Second))
	second.ID = "srv-b"

	s.ReconcileIncoming(first)
	if res := s.ReconcileIncoming(second); res != ResultDuplicate {
		t.Fatalf("result = %v, want ResultDuplicate", res)
	}
	if n := len(s.Snapshot(key)); n != 1 {
		t.Errorf("log has %d entries, want 1", n)
	}
}

// Outside the window the same content is a genuinely new message.
func TestSameContentOutsideWindowIsNew(t *testing.T) {
	s := New(self, 10*time.Second, bus.New(), nil)
	key := Key(self, c42)
	s.SetActiveConversation(key)

	now := time.Now()
	a := msg(c42, self, "ok", now)
	a.ID = "srv-a"
	b := msg(c42, self, "ok", now.Add(time.Minute))
	b.ID = "srv-b"

	s.ReconcileIncoming(a)
	if res := s.ReconcileIncoming(b); res != ResultAppended {
		t.Fatalf("result = %v, want ResultAppended", res)
	}
	if n := len(s.Snapshot(key)); n != 2 {
		t.Errorf("log has %d entries, want 2", n)
	}
}

// A message for a non-active conversation must leave the active log
// untouched and increment the target's unread counter by exactly one.
func TestInactiveConversationBuffered(t *testing.T) {
	s := testStore(t)
	active := Key(self, c7)
	s.SetActiveConversation(active)
	s.ReconcileIncoming(msg(c7, self, "active talk", time.Now()))

	res := s.ReconcileIncoming(msg(c42, self, "psst", time.Now()))
	if res != ResultBuffered {
		t.Fatalf("result = %v, want ResultBuffered", res)
	}

	if n := len(s.Snapshot(active)); n != 1 {
		t.Errorf("active log has %d entries, want 1 (unchanged)", n)
	}
	if n := s.UnreadCount(c42); n != 1 {
		t.Errorf("unread[c42] = %d, want 1", n)
	}
	if n := s.BufferedCount(c42); n != 1 {
		t.Errorf("buffered[c42] = %d, want 1", n)
	}
}

// Our own echo arriving for an inactive conversation is buffered without
// counting as unread.
func TestOwnEchoInactiveNoUnread(t *testing.T) {
	s := testStore(t)
	s.SetActiveConversation(Key(self, c7))

	res := s.ReconcileIncoming(msg(self, c42, "sent elsewhere", time.Now()))
	if res != ResultBuffered {
		t.Fatalf("result = %v, want ResultBuffered", res)
	}
	if n := s.UnreadCount(c42); n != 0 {
		t.Errorf("unread[c42] = %d, want 0 for own message", n)
	}
}

// Sending to a background conversation and switching to it before the
// confirm grace fires must show exactly one entry: the echo claims the
// optimistic placeholder even while the conversation is inactive.
func TestEchoClaimsPendingInInactiveConversation(t *testing.T) {
	s := testStore(t)
	s.SetActiveConversation(Key(self, c7))

	now := time.Now()
	s.AppendLocal(Message{ID: "prov-1", SenderID: self, RecipientID: c42, Text: "hi", Timestamp: now})

	echo := msg(self, c42, "hi", now.Add(200*time.Millisecond))
	if res := s.ReconcileIncoming(echo); res != ResultReplaced {
		t.Fatalf("result = %v, want ResultReplaced", res)
	}
	if n := s.BufferedCount(c42); n != 0 {
		t.Errorf("buffered[c42] = %d, want 0 (echo must not buffer)", n)
	}

	key := Key(self, c42)
	s.SetActiveConversation(key)

	log := s.Snapshot(key)
	if len(log) != 1 {
		t.Fatalf("log has %d entries, want exactly one for the logical message", len(log))
	}
	if log[0].Status != StatusDelivered || log[0].Text != "hi" {
		t.Errorf("entry = %q/%q, want hi/delivered", log[0].Text, log[0].Status)
	}
}

// When the echo beats the optimistic append into the buffer, the activation
// drain performs the replacement instead of landing both entries.
func TestDrainClaimsPendingPlaceholder(t *testing.T) {
	s := testStore(t)
	s.SetActiveConversation(Key(self, c7))

	now := time.Now()
	echo := msg(self, c42, "hi", now)
	if res := s.ReconcileIncoming(echo); res != ResultBuffered {
		t.Fatalf("result = %v, want ResultBuffered", res)
	}
	s.AppendLocal(Message{ID: "prov-1", SenderID: self, RecipientID: c42, Text: "hi", Timestamp: now})

	key := Key(self, c42)
	s.SetActiveConversation(key)

	log := s.Snapshot(key)
	if len(log) != 1 {
		t.Fatalf("log has %d entries, want 1", len(log))
	}
	if log[0].Status != StatusDelivered || log[0].ID != echo.ID {
		t.Errorf("entry = %q/%q, want the delivered echo %q", log[0].ID, log[0].Status, echo.ID)
	}
}

// Duplicate replay of a buffered event stays invisible too.
func TestBufferedReplayIdempotent(t *testing.T) {
	s := testStore(t)
	s.SetActiveConversation(Key(self, c7))

	m := msg(c42, self, "psst", time.Now())
	s.ReconcileIncoming(m)
	if res := s.ReconcileIncoming(m); res != ResultDuplicate {
		t.Fatalf("replay result = %v, want ResultDuplicate", res)
	}
	if n := s.UnreadCount(c42); n != 1 {
		t.Errorf("unread[c42] = %d, want 1 after replay", n)
	}
}

// Switching to a conversation drains its pending buffer into the log in
// timestamp order and resets the unread counter.
func TestActivationDrainsPendingBuffer(t *testing.T) {
	s := testStore(t)
	s.SetActiveConversation(Key(self, c7))

	base := time.Now()
	s.ReconcileIncoming(msg(c42, self, "second", base.Add(time.Second)))
	s.ReconcileIncoming(msg(c42, self, "first", base))
	if n := s.UnreadCount(c42); n != 2 {
		t.Fatalf("unread[c42] = %d, want 2", n)
	}

	key := Key(self, c42)
	s.SetActiveConversation(key)

	log := s.Snapshot(key)
	if len(log) != 2 {
		t.Fatalf("log has %d entries, want 2", len(log))
	}
	if log[0].Text != "first" || log[1].Text != "second" {
		t.Errorf("drain order = [%q, %q], want [first, second]", log[0].Text, log[1].Text)
	}
	if n := s.UnreadCount(c42); n != 0 {
		t.Errorf("unread[c42] = %d, want 0 after activation", n)
	}
	if n := s.BufferedCount(c42); n != 0 {
		t.Errorf("buffered[c42] = %d, want 0 after drain", n)
	}
}

// A drained message must not duplicate one already merged into the log via
// history (never in both the buffer and the log at once, visibly).
func TestDrainDeduplicatesAgainstLog(t *testing.T) {
	s := testStore(t)
	s.SetActiveConversation(Key(self, c7))

	now := time.Now()
	m := msg(c42, self, "overlap", now)
	s.ReconcileIncoming(m)

	key := Key(self, c42)
	s.AppendHistory(key, []Message{m})

	s.SetActiveConversation(key)
	if n := len(s.Snapshot(key)); n != 1 {
		t.Errorf("log has %d entries, want 1", n)
	}
}

// History merge is idempotent and skips the confirmed optimistic send even
// though the server assigned it a different identity.
func TestAppendHistoryIdempotent(t *testing.T) {
	s := testStore(t)
	key := Key(self, c42)
	s.SetActiveConversation(key)

	now := time.Now()
	s.AppendLocal(Message{ID: "prov-1", SenderID: self, RecipientID: c42, Text: "mine", Timestamp: now})
	s.ReconcileIncoming(msg(self, c42, "mine", now)) // confirm

	batch := []Message{
		msg(c42, self, "theirs", now.Add(-time.Hour)),
		msg(self, c42, "mine", now), // server copy of our confirmed send
	}
	if added := s.AppendHistory(key, batch); added != 1 {
		t.Errorf("first merge added %d, want 1", added)
	}
	if added := s.AppendHistory(key, batch); added != 0 {
		t.Errorf("second merge added %d, want 0", added)
	}

	log := s.Snapshot(key)
	if len(log) != 2 {
		t.Fatalf("log has %d entries, want 2", len(log))
	}
	if log[0].Text != "theirs" || log[1].Text != "mine" {
		t.Errorf("order = [%q, %q], want [theirs, mine]", log[0].Text, log[1].Text)
	}
}

// Timestamp ties keep insertion order.
func TestTimestampTiesKeepInsertionOrder(t *testing.T) {
	s := testStore(t)
	key := Key(self, c42)
	s.SetActiveConversation(key)

	ts := time.Now()
	a := msg(c42, self, "a", ts)
	b := msg(c42, self, "b", ts)
	s.ReconcileIncoming(a)
	s.ReconcileIncoming(b)

	log := s.Snapshot(key)
	if len(log) != 2 || log[0].Text != "a" || log[1].Text != "b" {
		t.Errorf("tie order wrong: %+v", log)
	}
}

func TestConfirmFailRetryLifecycle(t *testing.T) {
	s := testStore(t)
	key := Key(self, c42)
	s.SetActiveConversation(key)

	local, _ := s.AppendLocal(Message{ID: "prov-1", SenderID: self, RecipientID: c42, Text: "hi"})

	if !s.FailLocal(key, local.ID, "network error") {
		t.Fatal("FailLocal did not mark pending message")
	}
	log := s.Snapshot(key)
	if log[0].Status != StatusFailed {
		t.Fatalf("status = %q, want failed", log[0].Status)
	}
	if log[0].SendError != "network error" {
		t.Errorf("SendError = %q, want attached reason", log[0].SendError)
	}

	retried, ok := s.RetryLocal(key, local.ID)
	if !ok || retried.Status != StatusPending || retried.SendError != "" {
		t.Fatalf("RetryLocal = %+v, %v", retried, ok)
	}

	if !s.ConfirmLocal(key, local.ID) {
		t.Fatal("ConfirmLocal did not confirm pending message")
	}
	// Confirming again is a no-op: the echo race loser must not flap state.
	if s.ConfirmLocal(key, local.ID) {
		t.Error("ConfirmLocal succeeded twice")
	}
	if s.FailLocal(key, local.ID, "late failure") {
		t.Error("FailLocal overrode a delivered message")
	}
}

func TestConversationKeyNormalized(t *testing.T) {
	if Key("b", "a") != Key("a", "b") {
		t.Error("keys for (a,b) and (b,a) differ")
	}
	if got := Key("a", "b").Other("a"); got != "b" {
		t.Errorf("Other(a) = %q, want b", got)
	}
	if !((ConversationKey{}).IsZero()) {
		t.Error("zero key not IsZero")
	}
}
