package status

// Status represents the durable lifecycle status of a session.
type Status string

const (
	Initializing  Status = "initializing"
	QRGenerated   Status = "qr_generated"
	Authenticated Status = "authenticated"
	Ready         Status = "ready"
	Disconnected  Status = "disconnected"
	Closed        Status = "closed"
	AuthFailure   Status = "auth_failure"
	Error         Status = "error"
)

// All lists every valid status value.
var All = []Status{
	Initializing, QRGenerated, Authenticated, Ready,
	Disconnected, Closed, AuthFailure, Error,
}

// Restorable lists the statuses eligible for startup restoration.
var Restorable = []Status{Authenticated, Ready}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	for _, v := range All {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether the status ends the session until a new create.
// Closed is irreversible; auth_failure and error end the current attempt.
func (s Status) Terminal() bool {
	return s == Closed || s == AuthFailure || s == Error
}

// Live reports whether a session in this status is considered usable.
func (s Status) Live() bool {
	return s == Authenticated || s == Ready
}
