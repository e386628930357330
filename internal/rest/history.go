package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/clinchat/clinchat/internal/store"
	"golang.org/x/sync/errgroup"
)

// History fetches the authoritative message history for a conversation.
type History struct {
	c *Client
}

// NewHistory creates a history service client.
func NewHistory(c *Client) *History {
	return &History{c: c}
}

type messageDTO struct {
	ID          string `json:"id"`
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
	MessageText string `json:"messageText"`
	Date        string `json:"date"`
	FileName    string `json:"fileName"`
}

// FetchMessages returns the full history between selfID and otherID, sorted
// ascending by timestamp. The service indexes messages by (sender,
// recipient), so both orientations are queried concurrently and merged.
func (h *History) FetchMessages(ctx context.Context, selfID, otherID string) ([]store.Message, error) {
	var mu sync.Mutex
	var all []store.Message

	g, gctx := errgroup.WithContext(ctx)
	for _, pair := range [][2]string{{selfID, otherID}, {otherID, selfID}} {
		sender, recipient := pair[0], pair[1]
		g.Go(func() error {
			msgs, err := h.fetchOriented(gctx, sender, recipient)
			if err != nil {
				return err
			}
			mu.Lock()
			all = append(all, msgs...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})
	return all, nil
}

func (h *History) fetchOriented(ctx context.Context, senderID, recipientID string) ([]store.Message, error) {
	path := fmt.Sprintf("/messages?senderId=%s&recipientId=%s",
		url.QueryEscape(senderID), url.QueryEscape(recipientID))
	resp, err := h.c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var dtos []messageDTO
	if err := decodeJSON(resp.Body, &dtos); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}

	msgs := make([]store.Message, 0, len(dtos))
	for _, dto := range dtos {
		ts, err := time.Parse(time.RFC3339, dto.Date)
		if err != nil {
			// A history entry without a parseable date still renders;
			// place it at fetch time rather than dropping it.
			ts = time.Now()
		}
		msgs = append(msgs, store.Message{
			ID:            dto.ID,
			SenderID:      dto.SenderID,
			RecipientID:   dto.RecipientID,
			Text:          dto.MessageText,
			AttachmentRef: dto.FileName,
			Timestamp:     ts,
			Status:        store.StatusDelivered,
			Origin:        store.OriginHistory,
		})
	}
	return msgs, nil
}
