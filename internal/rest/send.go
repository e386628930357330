package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/clinchat/clinchat/internal/store"
)

// Attachment is an opaque file payload for an outgoing message.
type Attachment struct {
	Name string
	Size int64
	Data io.Reader
}

// Send posts outgoing messages to the remote send endpoint.
type Send struct {
	c        *Client
	userName string
}

// NewSend creates a send service client. userName is included in the form
// for relays that broadcast the sender's display name.
func NewSend(c *Client, userName string) *Send {
	return &Send{c: c, userName: userName}
}

// PostMessage posts one message as a multipart form, with the attachment as
// a file part when present. The remote service persists the message and
// fans out a push event to all parties, including the sender.
func (s *Send) PostMessage(ctx context.Context, m store.Message, att *Attachment) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		"SenderId":    m.SenderID,
		"RecipientId": m.RecipientID,
		"Date":        m.Timestamp.UTC().Format(time.RFC3339),
		"MessageText": m.Text,
		"UserName":    s.userName,
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return fmt.Errorf("write field %s: %w", name, err)
		}
	}

	if att != nil {
		part, err := w.CreateFormFile("ImageFile", att.Name)
		if err != nil {
			return fmt.Errorf("create file part: %w", err)
		}
		if _, err := io.Copy(part, att.Data); err != nil {
			return fmt.Errorf("copy attachment: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize form: %w", err)
	}

	resp, err := s.c.do(ctx, http.MethodPost, "/messages/send", func() (io.Reader, string) {
		return bytes.NewReader(buf.Bytes()), w.FormDataContentType()
	})
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}
