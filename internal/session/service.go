package session

import (
	"context"
	"fmt"

	"github.com/clinchat/clinchat/internal/bus"
	"github.com/clinchat/clinchat/internal/conn"
	"github.com/clinchat/clinchat/internal/notify"
	"github.com/clinchat/clinchat/internal/outbox"
	"github.com/clinchat/clinchat/internal/presence"
	"github.com/clinchat/clinchat/internal/rest"
	"github.com/clinchat/clinchat/internal/status"
	"github.com/clinchat/clinchat/internal/store"
	intsync "github.com/clinchat/clinchat/internal/sync"
)

// Service is the in-process API a frontend drives the engine through. It
// only delegates; every behavior lives in the component that owns it.
type Service struct {
	name     string
	bus      *bus.Bus
	store    *store.Store
	contacts *store.Contacts
	tracker  *presence.Tracker
	queue    *notify.Queue
	feed     *notify.Feed
	manager  *conn.Manager
	engine   *intsync.Engine
	pipeline *outbox.Pipeline
}

// NewService assembles the session facade.
func NewService(name string, b *bus.Bus, s *store.Store, contacts *store.Contacts, tracker *presence.Tracker, queue *notify.Queue, feed *notify.Feed, manager *conn.Manager, engine *intsync.Engine, pipeline *outbox.Pipeline) *Service {
	return &Service{
		name:     name,
		bus:      b,
		store:    s,
		contacts: contacts,
		tracker:  tracker,
		queue:    queue,
		feed:     feed,
		manager:  manager,
		engine:   engine,
		pipeline: pipeline,
	}
}

// Name returns the session name.
func (s *Service) Name() string { return s.name }

// Subscribe exposes the event bus so a frontend can react to log, presence
// and notification changes.
func (s *Service) Subscribe(namespace string, bufSize int) (<-chan bus.Event, func()) {
	return s.bus.Subscribe(namespace, bufSize)
}

// ConnectionState returns the current push-channel state.
func (s *Service) ConnectionState() status.State {
	return s.manager.State()
}

// Connect starts (or retries) the push channel.
func (s *Service) Connect() error {
	return s.manager.Connect()
}

// Disconnect tears down the push channel.
func (s *Service) Disconnect() {
	s.manager.Disconnect()
}

// Contacts returns the known contacts, sorted by display name.
func (s *Service) Contacts() []store.Contact {
	return s.contacts.All()
}

// Presence returns a contact's last known presence.
func (s *Service) Presence(contactID string) presence.Status {
	return s.tracker.Status(contactID)
}

// ActiveLog returns the messages of the active conversation.
func (s *Service) ActiveLog() ([]store.Message, store.ConversationKey, bool) {
	return s.store.ActiveLog()
}

// Snapshot returns the ordered, de-duplicated log for one conversation.
func (s *Service) Snapshot(key store.ConversationKey) []store.Message {
	return s.store.Snapshot(key)
}

// UnreadCount returns the unread counter for one contact.
func (s *Service) UnreadCount(contactID string) int {
	return s.store.UnreadCount(contactID)
}

// UnreadCounts returns the per-contact unread counters.
func (s *Service) UnreadCounts() map[string]int {
	return s.store.UnreadCounts()
}

// OpenConversation activates the conversation with a contact, replaying
// buffered messages and merging history in the background.
func (s *Service) OpenConversation(contactID string) {
	s.engine.ActivateConversation(contactID)
}

// Send posts a message to a contact through the optimistic pipeline.
// A send with neither text nor attachment does nothing and returns
// outbox.ErrEmptyMessage; frontends treat it as a no-op, not a failure
// to surface.
func (s *Service) Send(ctx context.Context, recipientID, text string, att *rest.Attachment) (store.Message, error) {
	return s.pipeline.Send(ctx, recipientID, text, att)
}

// Retry re-sends a failed message.
func (s *Service) Retry(ctx context.Context, key store.ConversationKey, id string) (store.Message, error) {
	return s.pipeline.Retry(ctx, key, id)
}

// Notifications returns the pending transient notifications.
func (s *Service) Notifications() []notify.Notification {
	return s.queue.Notifications()
}

// DismissNotification removes a notification without acting on it.
func (s *Service) DismissNotification(id string) bool {
	return s.queue.Dismiss(id)
}

// ClickNotification dismisses a notification and activates the
// conversation it points at.
func (s *Service) ClickNotification(id string) error {
	var target *notify.Notification
	for _, n := range s.queue.Notifications() {
		if n.ID == id {
			target = &n
			break
		}
	}
	if target == nil {
		return fmt.Errorf("notification %s not found", id)
	}
	s.queue.Dismiss(id)
	s.engine.ActivateConversation(target.Conversation.Other(s.store.SelfID()))
	return nil
}

// Feed returns the recent live-event lines.
func (s *Service) Feed() []notify.Entry {
	return s.feed.Entries()
}
