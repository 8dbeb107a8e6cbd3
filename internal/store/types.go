package store

import "github.com/wpphub/wpphub/internal/status"

// Session is the durable record of a managed session.
type Session struct {
	ID             string
	Status         status.Status
	LastSeen       int64
	QRAttempts     int
	MaxQRAttempts  int
	IsDisconnected bool
	ClosedAt       int64
	GroupRef       string
	QRCode         string
}

// Chat is a stored chat, keyed by (session id, chat id).
type Chat struct {
	SessionID          string
	ChatID             string
	Name               string
	IsGroup            bool
	Archived           bool
	Pinned             bool
	MutedUntil         int64
	LastMessagePreview string
	Timestamp          int64
	Deleted            bool
}

// Message is a stored message, keyed by (session id, message id).
type Message struct {
	SessionID     string
	MsgID         string
	ChatID        string
	Body          string
	Type          string
	From          string
	To            string
	Author        string
	FromMe        bool
	Timestamp     int64
	Ack           int
	HasMedia      bool
	MediaPath     string
	MediaSize     int64
	MediaFilename string
	IsDeleted     bool
	DeletedBy     string
	DeletedAt     int64
	GroupRef      string
}

// Alert kinds.
const (
	AlertDisconnected   = "disconnected"
	AlertMessageDeleted = "message_deleted"
	AlertMessageEdited  = "message_edited"
	AlertChatRemoved    = "chat_removed"
)

// Alert is a durable notice of a lifecycle or content event. Only IsRead
// and Notified change after creation.
type Alert struct {
	ID        string
	SessionID string
	Type      string
	ChatID    string
	MsgID     string
	Message   string
	IsRead    bool
	Notified  bool
	CreatedAt int64
}

// SessionFilter narrows ListSessions.
type SessionFilter struct {
	Statuses []status.Status
}

// ChatFilter narrows ListChats. Nil pointer fields are not applied.
type ChatFilter struct {
	Archived       *bool
	IsGroup        *bool
	IncludeDeleted bool
	Skip           int
	Limit          int
}

// MessageFilter narrows ListMessages. Zero time bounds are not applied.
type MessageFilter struct {
	ChatID         string
	FromMe         *bool
	Since          int64
	Until          int64
	IncludeDeleted bool
	Skip           int
	Limit          int
}
