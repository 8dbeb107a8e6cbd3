package bus

import "time"

// Event represents a domain event published on the bus. Session carries the
// originating session id so subscribers can filter a single session's stream.
type Event struct {
	Kind      string
	Session   string
	Timestamp time.Time
	Payload   any
}
