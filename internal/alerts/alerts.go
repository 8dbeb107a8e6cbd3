// Package alerts builds durable alert records from lifecycle and content
// events and forwards them to the outbound broker.
package alerts

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/wpphub/wpphub/internal/store"
)

// Service creates alert records. Each triggering event produces exactly one
// alert; only the read flag mutates afterwards.
type Service struct {
	db *store.DB
}

// NewService creates an alert service.
func NewService(db *store.DB) *Service {
	return &Service{db: db}
}

// Disconnected records a session-drop alert.
func (s *Service) Disconnected(sessionID, reason string) error {
	msg := fmt.Sprintf("session %s disconnected", sessionID)
	if reason != "" {
		msg += ": " + reason
	}
	return s.insert(&store.Alert{
		SessionID: sessionID,
		Type:      store.AlertDisconnected,
		Message:   msg,
	})
}

// MessageDeleted records a message-revocation alert.
func (s *Service) MessageDeleted(sessionID, chatID, msgID, deletedBy string) error {
	return s.insert(&store.Alert{
		SessionID: sessionID,
		Type:      store.AlertMessageDeleted,
		ChatID:    chatID,
		MsgID:     msgID,
		Message:   fmt.Sprintf("message %s deleted by %s in chat %s", msgID, deletedBy, chatID),
	})
}

// MessageEdited records a message-edit alert.
func (s *Service) MessageEdited(sessionID, chatID, msgID string) error {
	return s.insert(&store.Alert{
		SessionID: sessionID,
		Type:      store.AlertMessageEdited,
		ChatID:    chatID,
		MsgID:     msgID,
		Message:   fmt.Sprintf("message %s edited in chat %s", msgID, chatID),
	})
}

// ChatRemoved records a chat-removal alert.
func (s *Service) ChatRemoved(sessionID, chatID string) error {
	return s.insert(&store.Alert{
		SessionID: sessionID,
		Type:      store.AlertChatRemoved,
		ChatID:    chatID,
		Message:   fmt.Sprintf("chat %s removed", chatID),
	})
}

func (s *Service) insert(a *store.Alert) error {
	a.ID = uuid.New().String()
	return s.db.InsertAlert(a)
}
