package store

import (
	"strings"
	"time"
)

// Status is the delivery status of a message in the canonical log.
type Status string

const (
	// StatusPending marks an optimistic local message awaiting confirmation.
	StatusPending Status = "pending"
	// StatusDelivered marks a message confirmed by the server or relay.
	StatusDelivered Status = "delivered"
	// StatusFailed marks a local message whose send was rejected. Failed
	// messages stay visible so the user can re-issue them.
	StatusFailed Status = "failed"
)

// Origin records which of the three sources produced a message.
type Origin string

const (
	OriginLocal   Origin = "local"   // optimistic send issued by this client
	OriginRemote  Origin = "remote"  // delivered over the push channel
	OriginHistory Origin = "history" // fetched from the REST history service
)

// ConversationKey identifies a conversation by the unordered pair of
// participant IDs. Construct with Key so the pair is normalized; keys built
// from (a, b) and (b, a) compare equal.
type ConversationKey struct {
	lo, hi string
}

// Key returns the normalized conversation key for two participants.
func Key(a, b string) ConversationKey {
	if a > b {
		a, b = b, a
	}
	return ConversationKey{lo: a, hi: b}
}

// Other returns the participant that is not id. If id is not a participant
// the first participant is returned.
func (k ConversationKey) Other(id string) string {
	if k.lo == id {
		return k.hi
	}
	return k.lo
}

// IsZero reports whether the key is the zero value (no conversation).
func (k ConversationKey) IsZero() bool {
	return k.lo == "" && k.hi == ""
}

func (k ConversationKey) String() string {
	return k.lo + "|" + k.hi
}

// Message is one entry in a conversation log. IDs of local messages are
// provisional and may be replaced when the relay echoes the send back.
type Message struct {
	ID            string
	Conversation  ConversationKey
	SenderID      string
	RecipientID   string
	Text          string
	AttachmentRef string
	Timestamp     time.Time
	Status        Status
	Origin        Origin
	// SendError carries the failure reason for Failed messages. A failed
	// send is a user-visible outcome attached to the entry, not an
	// exception raised to the caller.
	SendError string
}

// contentKey is the tuple used to match an incoming message against an
// optimistic placeholder: sender, recipient, normalized text, attachment.
// The relay echoes sends without a stable ID, so matching is by content.
func (m *Message) contentKey() string {
	return m.SenderID + "\x00" + m.RecipientID + "\x00" +
		strings.TrimSpace(m.Text) + "\x00" + m.AttachmentRef
}

// sameContent reports whether two messages carry the same sender, recipient
// and normalized text. Used for the coarser post-confirmation duplicate
// suppression, which deliberately ignores the attachment field.
func (m *Message) sameContent(o *Message) bool {
	return m.SenderID == o.SenderID &&
		m.RecipientID == o.RecipientID &&
		strings.TrimSpace(m.Text) == strings.TrimSpace(o.Text)
}

// Ref identifies a message within a conversation; used as bus payload for
// canonical-log mutations.
type Ref struct {
	Conversation ConversationKey
	ID           string
}
