package wa

import (
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/wpphub/wpphub/internal/client"
)

func TestExtractTextBody(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{"nil message", nil, ""},
		{"conversation", &waE2E.Message{Conversation: proto.String("hello")}, "hello"},
		{"extended text", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("extended")}}, "extended"},
		{"image caption", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("look")}}, "look"},
		{"image without caption", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, ""},
		{"empty conversation", &waE2E.Message{Conversation: proto.String("")}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractTextBody(tt.msg); got != tt.want {
				t.Errorf("extractTextBody() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectMessageType(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{"nil", nil, "unknown"},
		{"conversation", &waE2E.Message{Conversation: proto.String("hi")}, "chat"},
		{"extended text", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("hi")}}, "chat"},
		{"image", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, "image"},
		{"video", &waE2E.Message{VideoMessage: &waE2E.VideoMessage{}}, "video"},
		{"audio", &waE2E.Message{AudioMessage: &waE2E.AudioMessage{}}, "audio"},
		{"document", &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{}}, "document"},
		{"sticker", &waE2E.Message{StickerMessage: &waE2E.StickerMessage{}}, "sticker"},
		{"contact", &waE2E.Message{ContactMessage: &waE2E.ContactMessage{}}, "contact"},
		{"location", &waE2E.Message{LocationMessage: &waE2E.LocationMessage{}}, "location"},
		{"empty message", &waE2E.Message{}, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detectMessageType(tt.msg); got != tt.want {
				t.Errorf("detectMessageType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseLiveMessage(t *testing.T) {
	ts := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	evt := &events.Message{
		Info: types.MessageInfo{
			Timestamp: ts,
			MessageSource: types.MessageSource{
				Chat:     types.JID{User: "chat", Server: "s.whatsapp.net"},
				Sender:   types.JID{User: "sender", Server: "s.whatsapp.net"},
				IsFromMe: true,
			},
			ID: "MSG123",
		},
		Message: &waE2E.Message{Conversation: proto.String("hello world")},
	}

	m := parseLiveMessage(evt)

	if m.ID != "MSG123" {
		t.Errorf("ID = %q", m.ID)
	}
	if m.ChatID != "chat@s.whatsapp.net" {
		t.Errorf("ChatID = %q", m.ChatID)
	}
	if m.From != "sender@s.whatsapp.net" {
		t.Errorf("From = %q", m.From)
	}
	if m.Body != "hello world" || m.Type != "chat" {
		t.Errorf("Body/Type = %q/%q", m.Body, m.Type)
	}
	if !m.FromMe {
		t.Error("FromMe = false, want true")
	}
	if m.Timestamp != ts.UnixMilli() {
		t.Errorf("Timestamp = %d, want %d", m.Timestamp, ts.UnixMilli())
	}
	if m.HasMedia {
		t.Error("text message flagged as media")
	}
	if m.Author != "" {
		t.Errorf("Author = %q, want empty outside groups", m.Author)
	}
}

// Device-suffixed JIDs must collapse to the canonical contact id, otherwise
// history sync and live traffic produce duplicate chats.
func TestParseLiveMessageStripsDeviceSuffix(t *testing.T) {
	evt := &events.Message{
		Info: types.MessageInfo{
			ID:        "M1",
			Timestamp: time.Now(),
			MessageSource: types.MessageSource{
				Chat:   types.JID{User: "558592403672", Server: "s.whatsapp.net", Device: 1},
				Sender: types.JID{User: "558592403672", Server: "s.whatsapp.net", Device: 3},
			},
		},
		Message: &waE2E.Message{Conversation: proto.String("hi")},
	}

	m := parseLiveMessage(evt)
	if m.ChatID != "558592403672@s.whatsapp.net" {
		t.Errorf("ChatID = %q, device suffix not stripped", m.ChatID)
	}
	if m.From != "558592403672@s.whatsapp.net" {
		t.Errorf("From = %q, device suffix not stripped", m.From)
	}
}

func TestParseLiveMessageGroupAuthor(t *testing.T) {
	evt := &events.Message{
		Info: types.MessageInfo{
			ID:        "M1",
			Timestamp: time.Now(),
			MessageSource: types.MessageSource{
				Chat:    types.JID{User: "12036312345", Server: "g.us"},
				Sender:  types.JID{User: "sender", Server: "s.whatsapp.net"},
				IsGroup: true,
			},
		},
		Message: &waE2E.Message{Conversation: proto.String("hi")},
	}

	m := parseLiveMessage(evt)
	if m.Author != "sender@s.whatsapp.net" {
		t.Errorf("Author = %q", m.Author)
	}
}

func TestParseProtocolMessageRevoke(t *testing.T) {
	evt := &events.Message{
		Info: types.MessageInfo{
			ID:        "REV1",
			Timestamp: time.Now(),
			MessageSource: types.MessageSource{
				Chat:   types.JID{User: "chat", Server: "s.whatsapp.net"},
				Sender: types.JID{User: "sender", Server: "s.whatsapp.net"},
			},
		},
		Message: &waE2E.Message{ProtocolMessage: &waE2E.ProtocolMessage{
			Type: waE2E.ProtocolMessage_REVOKE.Enum(),
			Key:  &waCommon.MessageKey{ID: proto.String("TARGET1")},
		}},
	}

	got := parseProtocolMessage(evt)
	rev, ok := got.(*client.MessageRevokeEvent)
	if !ok {
		t.Fatalf("got %T, want MessageRevokeEvent", got)
	}
	if rev.MessageID != "TARGET1" || rev.ChatID != "chat@s.whatsapp.net" {
		t.Errorf("event = %+v", rev)
	}
	if rev.RevokedBy != client.RevokedByEveryone {
		t.Errorf("RevokedBy = %q, want everyone", rev.RevokedBy)
	}

	evt.Info.IsFromMe = true
	rev = parseProtocolMessage(evt).(*client.MessageRevokeEvent)
	if rev.RevokedBy != client.RevokedByMe {
		t.Errorf("RevokedBy = %q, want me", rev.RevokedBy)
	}
}

func TestParseProtocolMessageEdit(t *testing.T) {
	evt := &events.Message{
		Info: types.MessageInfo{
			ID:        "ED1",
			Timestamp: time.Now(),
			MessageSource: types.MessageSource{
				Chat:   types.JID{User: "chat", Server: "s.whatsapp.net"},
				Sender: types.JID{User: "sender", Server: "s.whatsapp.net"},
			},
		},
		Message: &waE2E.Message{ProtocolMessage: &waE2E.ProtocolMessage{
			Type:          waE2E.ProtocolMessage_MESSAGE_EDIT.Enum(),
			Key:           &waCommon.MessageKey{ID: proto.String("TARGET2")},
			EditedMessage: &waE2E.Message{Conversation: proto.String("corrected")},
		}},
	}

	got := parseProtocolMessage(evt)
	edit, ok := got.(*client.MessageEditEvent)
	if !ok {
		t.Fatalf("got %T, want MessageEditEvent", got)
	}
	if edit.MessageID != "TARGET2" || edit.NewBody != "corrected" {
		t.Errorf("event = %+v", edit)
	}
}

func TestParseProtocolMessageIgnoresOthers(t *testing.T) {
	evt := &events.Message{
		Message: &waE2E.Message{Conversation: proto.String("plain")},
	}
	if got := parseProtocolMessage(evt); got != nil {
		t.Errorf("got %T, want nil", got)
	}
}

func TestMediaFilename(t *testing.T) {
	doc := &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{FileName: proto.String("report.pdf")}}
	if got := mediaFilename(doc); got != "report.pdf" {
		t.Errorf("document filename = %q", got)
	}
	img := &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}
	if got := mediaFilename(img); got != "image.jpg" {
		t.Errorf("image filename = %q", got)
	}
	if got := mediaFilename(&waE2E.Message{Conversation: proto.String("x")}); got != "" {
		t.Errorf("text filename = %q", got)
	}
}

func TestHasMedia(t *testing.T) {
	if hasMedia(&waE2E.Message{Conversation: proto.String("x")}) {
		t.Error("text message reported as media")
	}
	if !hasMedia(&waE2E.Message{AudioMessage: &waE2E.AudioMessage{}}) {
		t.Error("audio message not reported as media")
	}
}
