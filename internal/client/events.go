package client

// Protocol events emitted by an automation client, delivered in emission
// order to handlers registered with AddEventHandler.

// QREvent carries a fresh scannable authentication payload.
type QREvent struct {
	Code string
}

// AuthenticatedEvent fires once credentials are accepted.
type AuthenticatedEvent struct{}

// ReadyEvent fires when the client is fully usable.
type ReadyEvent struct{}

// AuthFailureEvent ends the current authentication attempt.
type AuthFailureEvent struct {
	Reason string
}

// MessageEvent carries an inbound or self-sent message.
type MessageEvent struct {
	Message Message
}

// ChatRemovedEvent fires when a chat disappears from the account.
type ChatRemovedEvent struct {
	ChatID string
}

// DisconnectedEvent fires when the underlying session drops.
type DisconnectedEvent struct {
	Reason string
}

// RevokedBy values for MessageRevokeEvent.
const (
	RevokedByMe       = "me"
	RevokedByEveryone = "everyone"
)

// MessageRevokeEvent fires when a message is deleted for the operator or
// for everyone.
type MessageRevokeEvent struct {
	MessageID string
	ChatID    string
	RevokedBy string
}

// MessageEditEvent fires when a message body is edited.
type MessageEditEvent struct {
	MessageID string
	ChatID    string
	NewBody   string
}

// LoadingScreenEvent is informational progress during client startup.
type LoadingScreenEvent struct {
	Percent int
	Message string
}
