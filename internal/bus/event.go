package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the engine. Subscribers filter by namespace
// prefix, e.g. "push." receives every event delivered over the push channel
// and "message." every canonical-log mutation.
const (
	// Push-channel events, published by the connection manager. Payloads
	// are parsed, canonical-schema values.
	KindPushMessage          = "push.message"           // store.Message
	KindPushPresenceDelta    = "push.presence_delta"    // conn.PresenceDelta
	KindPushPresenceSnapshot = "push.presence_snapshot" // []string (online user IDs)

	// Connection lifecycle.
	KindConnStateChanged = "conn.state_changed" // status.Change
	KindConnAuthError    = "conn.auth_error"    // error string

	// Canonical-log mutations, published by the message store.
	KindMessageUpserted      = "message.upserted"       // store.Ref
	KindMessageBuffered      = "message.buffered"       // store.Ref
	KindMessageConfirmed     = "message.confirmed"      // store.Ref
	KindMessageSendFailed    = "message.send_failed"    // store.Ref
	KindMessageHistoryMerged = "message.history_merged" // store.HistoryMerge

	// Conversation focus changes.
	KindConversationActivated = "conversation.activated" // store.ConversationKey

	// Presence and notification events.
	KindPresenceChanged   = "presence.changed"   // presence.Change
	KindPresenceRefreshed = "presence.refreshed" // int (contacts refreshed)
	KindNotifyPosted      = "notify.posted"      // notify.Notification
	KindNotifyExpired     = "notify.expired"     // notification ID
)
