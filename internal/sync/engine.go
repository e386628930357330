package sync

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/clinchat/clinchat/internal/bus"
	"github.com/clinchat/clinchat/internal/conn"
	"github.com/clinchat/clinchat/internal/notify"
	"github.com/clinchat/clinchat/internal/presence"
	"github.com/clinchat/clinchat/internal/store"
)

// HistoryFetcher fetches the authoritative history for one conversation.
type HistoryFetcher interface {
	FetchMessages(ctx context.Context, selfID, otherID string) ([]store.Message, error)
}

// Engine consumes push events from the bus and routes them into the
// message store, the presence tracker and the notification queue. All
// reconciliation runs on the engine's single goroutine, so the store never
// sees concurrent push traffic.
type Engine struct {
	store   *store.Store
	contts  *store.Contacts
	tracker *presence.Tracker
	queue   *notify.Queue
	feed    *notify.Feed
	history HistoryFetcher
	bus     *bus.Bus
	logger  *zap.Logger

	mu          sync.Mutex
	fetchCancel context.CancelFunc
}

// NewEngine creates a sync engine.
func NewEngine(s *store.Store, contacts *store.Contacts, tracker *presence.Tracker, queue *notify.Queue, feed *notify.Feed, history HistoryFetcher, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:   s,
		contts:  contacts,
		tracker: tracker,
		queue:   queue,
		feed:    feed,
		history: history,
		bus:     b,
		logger:  logger,
	}
}

// Run consumes push events until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	events, unsub := e.bus.Subscribe("push.", 256)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			e.cancelFetch()
			return
		case evt := <-events:
			e.handle(evt)
		}
	}
}

func (e *Engine) handle(evt bus.Event) {
	switch evt.Kind {
	case bus.KindPushMessage:
		m, ok := evt.Payload.(store.Message)
		if !ok {
			return
		}
		e.handleMessage(m)
	case bus.KindPushPresenceDelta:
		if d, ok := evt.Payload.(conn.PresenceDelta); ok {
			e.tracker.ApplyDelta(d.UserID, d.Online)
		}
	case bus.KindPushPresenceSnapshot:
		if ids, ok := evt.Payload.([]string); ok {
			e.tracker.ApplySnapshot(ids)
		}
	}
}

func (e *Engine) handleMessage(m store.Message) {
	result := e.store.ReconcileIncoming(m)
	if result != store.ResultBuffered || m.SenderID == e.store.SelfID() {
		return
	}

	sender := e.contts.DisplayName(m.SenderID)
	e.queue.Enqueue(notify.Notification{
		Conversation: m.Conversation,
		SenderID:     m.SenderID,
		SenderName:   sender,
		Body:         m.Text,
	})
	if e.feed != nil {
		e.feed.Post("New message from " + sender)
	}
}

// ActivateConversation makes the conversation with otherID the active one,
// replaying its buffered messages immediately, and merges the REST history
// in the background. Switching again cancels an in-flight fetch; a fetch
// that loses the race never touches the log.
func (e *Engine) ActivateConversation(otherID string) {
	key := store.Key(e.store.SelfID(), otherID)
	e.store.SetActiveConversation(key)

	e.mu.Lock()
	if e.fetchCancel != nil {
		e.fetchCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.fetchCancel = cancel
	e.mu.Unlock()

	go func() {
		defer cancel()
		msgs, err := e.history.FetchMessages(ctx, e.store.SelfID(), otherID)
		if err != nil {
			if ctx.Err() == nil {
				e.logger.Warn("history fetch failed",
					zap.String("contact", otherID),
					zap.Error(err))
			}
			return
		}
		if ctx.Err() != nil {
			// A later activation superseded this fetch.
			return
		}
		added := e.store.AppendHistory(key, msgs)
		e.logger.Debug("history merged",
			zap.String("contact", otherID),
			zap.Int("added", added))
	}()
}

func (e *Engine) cancelFetch() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fetchCancel != nil {
		e.fetchCancel()
		e.fetchCancel = nil
	}
}
