// Package client defines the contract the core consumes from a
// browser/automation messaging client. The production implementation lives
// in internal/wa; tests substitute fakes.
package client

import (
	"context"
	"strings"
)

// Client is one live automation-client instance bound to one session
// identity. Operations fail once the underlying session is torn down; such
// failures are detectable with IsSessionClosed.
type Client interface {
	// Initialize starts the client. It drives the authentication handshake
	// and begins emitting events to registered handlers.
	Initialize(ctx context.Context) error
	// Destroy shuts the client down and releases its resources.
	Destroy(ctx context.Context) error

	GetChats(ctx context.Context) ([]Chat, error)
	GetChatByID(ctx context.Context, chatID string) (*Chat, error)
	FetchMessages(ctx context.Context, chatID string, limit int) ([]Message, error)
	SendMessage(ctx context.Context, chatID, text string) (string, error)
	// DownloadMedia returns the raw media bytes and suggested filename for
	// a message that carries media.
	DownloadMedia(ctx context.Context, msg *Message) ([]byte, string, error)

	// AddEventHandler registers a handler invoked for every protocol event,
	// in emission order. Must be called before Initialize.
	AddEventHandler(handler func(evt any))
}

// Chat is the wire representation of a chat as the automation client sees it.
type Chat struct {
	ID                 string
	Name               string
	IsGroup            bool
	Archived           bool
	Pinned             bool
	MutedUntil         int64
	LastMessagePreview string
	Timestamp          int64
}

// Message is the wire representation of a message.
type Message struct {
	ID        string
	ChatID    string
	Body      string
	Type      string
	From      string
	To        string
	Author    string
	FromMe    bool
	Timestamp int64
	Ack       int
	HasMedia  bool
	Filename  string
}

const sessionClosedMarker = "session closed"

// SessionClosedError wraps a failure caused by operating on a torn-down
// session. The controller detects it by message content per the client
// contract.
type SessionClosedError struct {
	SessionID string
}

func (e *SessionClosedError) Error() string {
	return sessionClosedMarker + ": " + e.SessionID
}

// IsSessionClosed reports whether err looks like a torn-down-session failure.
func IsSessionClosed(err error) bool {
	return err != nil && strings.Contains(err.Error(), sessionClosedMarker)
}
