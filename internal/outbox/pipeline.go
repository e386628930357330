package outbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinchat/clinchat/internal/rest"
	"github.com/clinchat/clinchat/internal/store"
)

// MaxAttachmentBytes is the largest attachment the pipeline accepts.
const MaxAttachmentBytes = 5 << 20

var (
	// ErrEmptyMessage is returned when a send has neither text nor an
	// attachment. Sending nothing is a no-op, not a failure.
	ErrEmptyMessage = errors.New("message has no content")

	// ErrAttachmentTooLarge is returned when an attachment exceeds
	// MaxAttachmentBytes.
	ErrAttachmentTooLarge = fmt.Errorf("attachment exceeds %d bytes", MaxAttachmentBytes)
)

// Poster posts one message to the remote send endpoint.
type Poster interface {
	PostMessage(ctx context.Context, m store.Message, att *rest.Attachment) error
}

// Pipeline is the optimistic send path. A message appears in the
// conversation log as pending before the network round-trip begins; the
// push echo normally confirms it, with a grace-period fallback when the
// POST succeeded but no echo arrived. Failures keep the message in the log
// marked failed so the user can retry it.
type Pipeline struct {
	store        *store.Store
	poster       Poster
	logger       *zap.Logger
	confirmGrace time.Duration

	// pending holds buffered attachment bytes by message ID so a failed
	// send can be retried with its attachment intact.
	mu      sync.Mutex
	pending map[string]pendingAttachment

	wg sync.WaitGroup

	// now and sleep are replaceable in tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type pendingAttachment struct {
	name string
	data []byte
}

// NewPipeline creates a send pipeline.
func NewPipeline(s *store.Store, poster Poster, logger *zap.Logger, confirmGrace time.Duration) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:        s,
		poster:       poster,
		logger:       logger,
		confirmGrace: confirmGrace,
		pending:      make(map[string]pendingAttachment),
		now:          time.Now,
		sleep:        sleepCtx,
	}
}

// Send validates and appends an optimistic message, then posts it in the
// background. The returned message is the pending entry as stored; when an
// identical pending send is already in flight it is returned instead of
// creating a duplicate.
func (p *Pipeline) Send(ctx context.Context, recipientID, text string, att *rest.Attachment) (store.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" && att == nil {
		return store.Message{}, ErrEmptyMessage
	}
	if recipientID == "" {
		return store.Message{}, errors.New("no recipient")
	}

	var buffered *pendingAttachment
	if att != nil {
		data, err := readAttachment(att)
		if err != nil {
			return store.Message{}, err
		}
		buffered = &pendingAttachment{name: att.Name, data: data}
	}

	selfID := p.store.SelfID()
	m := store.Message{
		ID:           uuid.NewString(),
		Conversation: store.Key(selfID, recipientID),
		SenderID:     selfID,
		RecipientID:  recipientID,
		Text:         text,
		Timestamp:    p.now(),
		Status:       store.StatusPending,
		Origin:       store.OriginLocal,
	}
	if buffered != nil {
		m.AttachmentRef = buffered.name
	}

	stored, coalesced := p.store.AppendLocal(m)
	if coalesced {
		return stored, nil
	}

	if buffered != nil {
		p.mu.Lock()
		p.pending[stored.ID] = *buffered
		p.mu.Unlock()
	}

	p.post(ctx, stored)
	return stored, nil
}

// Retry re-posts a failed message, attachment included.
func (p *Pipeline) Retry(ctx context.Context, key store.ConversationKey, id string) (store.Message, error) {
	m, ok := p.store.RetryLocal(key, id)
	if !ok {
		return store.Message{}, fmt.Errorf("message %s is not retryable", id)
	}
	p.post(ctx, m)
	return m, nil
}

// Wait blocks until all in-flight posts complete.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) post(ctx context.Context, m store.Message) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		var att *rest.Attachment
		p.mu.Lock()
		if pa, ok := p.pending[m.ID]; ok {
			att = &rest.Attachment{Name: pa.name, Size: int64(len(pa.data)), Data: bytes.NewReader(pa.data)}
		}
		p.mu.Unlock()

		if err := p.poster.PostMessage(ctx, m, att); err != nil {
			p.logger.Warn("send failed",
				zap.String("message_id", m.ID),
				zap.Error(err))
			p.store.FailLocal(m.Conversation, m.ID, sendFailureReason(err))
			return
		}

		// The push echo is the normal confirmation path. Hold the pending
		// state for the grace period so the echo can claim the entry,
		// then confirm it ourselves if it never arrived. The POST already
		// succeeded, so cancellation only cuts the wait short; it must
		// never leave a sent message pending.
		if p.confirmGrace > 0 {
			_ = p.sleep(ctx, p.confirmGrace)
		}
		p.store.ConfirmLocal(m.Conversation, m.ID)
		p.forget(m.ID)
	}()
}

func (p *Pipeline) forget(id string) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

func sendFailureReason(err error) string {
	if rest.IsAuthError(err) {
		return "authentication required"
	}
	return err.Error()
}

func readAttachment(att *rest.Attachment) ([]byte, error) {
	if att.Size > MaxAttachmentBytes {
		return nil, ErrAttachmentTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(att.Data, MaxAttachmentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	if len(data) > MaxAttachmentBytes {
		return nil, ErrAttachmentTooLarge
	}
	return data, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
