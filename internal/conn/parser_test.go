package conn

import (
	"testing"
	"time"

	"github.com/clinchat/clinchat/internal/bus"
	"github.com/clinchat/clinchat/internal/store"
)

var parseNow = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }

func parseMessage(t *testing.T, frame string) store.Message {
	t.Helper()
	kind, payload, err := parseFrame([]byte(frame), "self-1", parseNow)
	if err != nil {
		t.Fatalf("parseFrame(%q) error: %v", frame, err)
	}
	if kind != bus.KindPushMessage {
		t.Fatalf("kind = %q, want %q", kind, bus.KindPushMessage)
	}
	m, ok := payload.(store.Message)
	if !ok {
		t.Fatalf("payload type %T, want store.Message", payload)
	}
	return m
}

func TestParseCanonicalMessage(t *testing.T) {
	frame := `{"type":"message","payload":{"id":"m1","senderId":"u1","recipientId":"self-1","messageText":"hi","date":"2026-08-01T11:59:00Z","fileName":"x.png"}}`
	m := parseMessage(t, frame)

	if m.ID != "m1" || m.SenderID != "u1" || m.RecipientID != "self-1" {
		t.Errorf("identity fields wrong: %+v", m)
	}
	if m.Text != "hi" || m.AttachmentRef != "x.png" {
		t.Errorf("content fields wrong: %+v", m)
	}
	if m.Status != store.StatusDelivered || m.Origin != store.OriginRemote {
		t.Errorf("status/origin = %v/%v", m.Status, m.Origin)
	}
	if m.Conversation != store.Key("u1", "self-1") {
		t.Errorf("conversation = %v", m.Conversation)
	}
}

func TestParseCanonicalMessageBadDateFallsBack(t *testing.T) {
	frame := `{"type":"message","payload":{"senderId":"u1","recipientId":"self-1","messageText":"hi","date":"yesterday"}}`
	m := parseMessage(t, frame)
	if !m.Timestamp.Equal(parseNow()) {
		t.Errorf("timestamp = %v, want receipt time %v", m.Timestamp, parseNow())
	}
}

func TestParseFullPositionalMessage(t *testing.T) {
	frame := `["u1","u2","lab results ready","2026-08-01T11:58:00Z","report.pdf"]`
	m := parseMessage(t, frame)

	if m.SenderID != "u1" || m.RecipientID != "u2" {
		t.Errorf("participants = %s -> %s, want u1 -> u2", m.SenderID, m.RecipientID)
	}
	if m.Text != "lab results ready" || m.AttachmentRef != "report.pdf" {
		t.Errorf("content fields wrong: %+v", m)
	}
	if m.ID != "" {
		t.Errorf("positional frames carry no ID, got %q", m.ID)
	}
	want := time.Date(2026, 8, 1, 11, 58, 0, 0, time.UTC)
	if !m.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", m.Timestamp, want)
	}
}

func TestParseShortPositionalMessage(t *testing.T) {
	frame := `["Dr. Adams","please call back","u9"]`
	m := parseMessage(t, frame)

	if m.SenderID != "u9" {
		t.Errorf("sender = %q, want u9 (third element, not the display name)", m.SenderID)
	}
	if m.RecipientID != "self-1" {
		t.Errorf("recipient = %q, want the local user", m.RecipientID)
	}
	if m.Text != "please call back" {
		t.Errorf("text = %q", m.Text)
	}
	if !m.Timestamp.Equal(parseNow()) {
		t.Errorf("timestamp = %v, want receipt time", m.Timestamp)
	}
}

func TestParsePresenceDelta(t *testing.T) {
	kind, payload, err := parseFrame([]byte(`{"type":"presence","payload":{"userId":"u3","online":true}}`), "self-1", parseNow)
	if err != nil {
		t.Fatal(err)
	}
	if kind != bus.KindPushPresenceDelta {
		t.Fatalf("kind = %q", kind)
	}
	d := payload.(PresenceDelta)
	if d.UserID != "u3" || !d.Online {
		t.Errorf("delta = %+v", d)
	}
}

func TestParsePresenceSnapshot(t *testing.T) {
	kind, payload, err := parseFrame([]byte(`{"type":"presence_snapshot","payload":["u1","u2"]}`), "self-1", parseNow)
	if err != nil {
		t.Fatal(err)
	}
	if kind != bus.KindPushPresenceSnapshot {
		t.Fatalf("kind = %q", kind)
	}
	ids := payload.([]string)
	if len(ids) != 2 || ids[0] != "u1" || ids[1] != "u2" {
		t.Errorf("ids = %v", ids)
	}
}

func TestParseMalformedFrames(t *testing.T) {
	frames := []string{
		``,
		`not json`,
		`{"type":"message","payload":"nope"}`,
		`{"type":"message","payload":{"messageText":"no participants"}}`,
		`{"type":"telemetry","payload":{}}`,
		`["only","two"]`,
		`["a","b","c","d"]`,
		`["a","b","c","d","e","f"]`,
		`["Dr. Adams","text",""]`,
	}
	for _, frame := range frames {
		if _, _, err := parseFrame([]byte(frame), "self-1", parseNow); err == nil {
			t.Errorf("parseFrame(%q) accepted a malformed frame", frame)
		}
	}
}
