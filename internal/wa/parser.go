package wa

import (
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/wpphub/wpphub/internal/client"
)

// normalizeJID strips device and agent suffixes so history sync and live
// messages agree on one id per contact.
func normalizeJID(jid types.JID) string {
	return jid.ToNonAD().String()
}

// parseLiveMessage normalizes a live whatsmeow message event into the
// client contract's message shape.
func parseLiveMessage(evt *events.Message) *client.Message {
	m := &client.Message{
		ID:        evt.Info.ID,
		ChatID:    normalizeJID(evt.Info.Chat),
		Body:      extractTextBody(evt.Message),
		Type:      detectMessageType(evt.Message),
		From:      normalizeJID(evt.Info.Sender),
		To:        normalizeJID(evt.Info.Chat),
		FromMe:    evt.Info.IsFromMe,
		Timestamp: evt.Info.Timestamp.UnixMilli(),
		HasMedia:  hasMedia(evt.Message),
		Filename:  mediaFilename(evt.Message),
	}
	if evt.Info.IsGroup {
		m.Author = normalizeJID(evt.Info.Sender)
	}
	return m
}

// parseProtocolMessage maps revokes and edits to their dedicated events.
// Returns nil for anything else.
func parseProtocolMessage(evt *events.Message) any {
	pm := evt.Message.GetProtocolMessage()
	if pm == nil {
		return nil
	}

	switch pm.GetType() {
	case waE2E.ProtocolMessage_REVOKE:
		revokedBy := client.RevokedByEveryone
		if evt.Info.IsFromMe {
			revokedBy = client.RevokedByMe
		}
		return &client.MessageRevokeEvent{
			MessageID: pm.GetKey().GetID(),
			ChatID:    normalizeJID(evt.Info.Chat),
			RevokedBy: revokedBy,
		}
	case waE2E.ProtocolMessage_MESSAGE_EDIT:
		return &client.MessageEditEvent{
			MessageID: pm.GetKey().GetID(),
			ChatID:    normalizeJID(evt.Info.Chat),
			NewBody:   extractTextBody(pm.GetEditedMessage()),
		}
	}
	return nil
}

func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return doc.GetCaption()
	}
	return ""
}

func detectMessageType(msg *waE2E.Message) string {
	if msg == nil {
		return "unknown"
	}
	switch {
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return "chat"
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		return "video"
	case msg.GetAudioMessage() != nil:
		return "audio"
	case msg.GetDocumentMessage() != nil:
		return "document"
	case msg.GetStickerMessage() != nil:
		return "sticker"
	case msg.GetContactMessage() != nil:
		return "contact"
	case msg.GetLocationMessage() != nil:
		return "location"
	default:
		return "unknown"
	}
}

func hasMedia(msg *waE2E.Message) bool {
	if msg == nil {
		return false
	}
	return msg.GetImageMessage() != nil ||
		msg.GetVideoMessage() != nil ||
		msg.GetAudioMessage() != nil ||
		msg.GetDocumentMessage() != nil ||
		msg.GetStickerMessage() != nil
}

func mediaFilename(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return doc.GetFileName()
	}
	switch {
	case msg.GetImageMessage() != nil:
		return "image.jpg"
	case msg.GetVideoMessage() != nil:
		return "video.mp4"
	case msg.GetAudioMessage() != nil:
		return "audio.ogg"
	case msg.GetStickerMessage() != nil:
		return "sticker.webp"
	}
	return ""
}
