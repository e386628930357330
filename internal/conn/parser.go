package conn

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/clinchat/clinchat/internal/bus"
	"github.com/clinchat/clinchat/internal/store"
)

// PresenceDelta is one user coming online or going offline, as delivered
// over the push channel.
type PresenceDelta struct {
	UserID string
	Online bool
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type pushMessageDTO struct {
	ID          string `json:"id"`
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
	MessageText string `json:"messageText"`
	Date        string `json:"date"`
	FileName    string `json:"fileName"`
}

type presenceDTO struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// parseFrame turns one raw push frame into a bus event kind and payload.
//
// The canonical shape is an envelope {"type": ..., "payload": ...}. Older
// relays instead send a message as a bare positional array, in one of two
// shapes which are tried in order:
//
//	[senderId, recipientId, text, date, attachment]   full form
//	[senderName, text, senderId]                      short form, recipient
//	                                                  is the local user
//
// The full form is tried first; a five-element array is never interpreted
// as the short form. Anything else is an error and the frame is dropped by
// the caller.
func parseFrame(data []byte, selfID string, now func() time.Time) (string, any, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return "", nil, fmt.Errorf("empty frame")
	}
	if trimmed[0] == '[' {
		return parseLegacyMessage(trimmed, selfID, now)
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return "", nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case "message":
		var dto pushMessageDTO
		if err := json.Unmarshal(env.Payload, &dto); err != nil {
			return "", nil, fmt.Errorf("decode message payload: %w", err)
		}
		if dto.SenderID == "" || dto.RecipientID == "" {
			return "", nil, fmt.Errorf("message payload missing participants")
		}
		ts, err := time.Parse(time.RFC3339, dto.Date)
		if err != nil {
			ts = now()
		}
		return bus.KindPushMessage, pushMessage(dto.ID, dto.SenderID, dto.RecipientID, dto.MessageText, dto.FileName, ts), nil

	case "presence":
		var dto presenceDTO
		if err := json.Unmarshal(env.Payload, &dto); err != nil {
			return "", nil, fmt.Errorf("decode presence payload: %w", err)
		}
		if dto.UserID == "" {
			return "", nil, fmt.Errorf("presence payload missing user")
		}
		return bus.KindPushPresenceDelta, PresenceDelta{UserID: dto.UserID, Online: dto.Online}, nil

	case "presence_snapshot":
		var ids []string
		if err := json.Unmarshal(env.Payload, &ids); err != nil {
			return "", nil, fmt.Errorf("decode presence snapshot: %w", err)
		}
		return bus.KindPushPresenceSnapshot, ids, nil

	default:
		return "", nil, fmt.Errorf("unknown frame type %q", env.Type)
	}
}

func parseLegacyMessage(data []byte, selfID string, now func() time.Time) (string, any, error) {
	var args []string
	if err := json.Unmarshal(data, &args); err != nil {
		return "", nil, fmt.Errorf("decode positional frame: %w", err)
	}

	switch len(args) {
	case 5:
		// [senderId, recipientId, text, date, attachment]
		ts, err := time.Parse(time.RFC3339, args[3])
		if err != nil {
			ts = now()
		}
		return bus.KindPushMessage, pushMessage("", args[0], args[1], args[2], args[4], ts), nil

	case 3:
		// [senderName, text, senderId], always addressed to the local user.
		if args[2] == "" {
			return "", nil, fmt.Errorf("short frame missing sender id")
		}
		return bus.KindPushMessage, pushMessage("", args[2], selfID, args[1], "", now()), nil

	default:
		return "", nil, fmt.Errorf("positional frame with %d elements", len(args))
	}
}

func pushMessage(id, senderID, recipientID, text, attachment string, ts time.Time) store.Message {
	return store.Message{
		ID:            id,
		Conversation:  store.Key(senderID, recipientID),
		SenderID:      senderID,
		RecipientID:   recipientID,
		Text:          text,
		AttachmentRef: attachment,
		Timestamp:     ts,
		Status:        store.StatusDelivered,
		Origin:        store.OriginRemote,
	}
}
