package core

import "github.com/vovakirdan/quizwire/internal/store"

// EventKind is a notification a node emits to its subscribers.
type EventKind int

const (
	// EventConnectionAdded reports an accepted connection.
	EventConnectionAdded EventKind = iota
	// EventConnectionClosed reports a connection leaving the node.
	EventConnectionClosed
	// EventError reports a transport, serialization or supervision fault.
	EventError
	// EventUnbanned reports a ban removed by Unban or by expiry.
	EventUnbanned
	// EventReconnecting reports that the upstream link is being re-established.
	EventReconnecting
	// EventReconnected reports that the upstream link is back.
	EventReconnected
)

func (k EventKind) String() string {
	switch k {
	case EventConnectionAdded:
		return "connection_added"
	case EventConnectionClosed:
		return "connection_closed"
	case EventError:
		return "error"
	case EventUnbanned:
		return "unbanned"
	case EventReconnecting:
		return "reconnecting"
	case EventReconnected:
		return "reconnected"
	default:
		return "unknown"
	}
}

// Event describes something that happened on a node.
type Event struct {
	Kind          EventKind
	ConnID        string
	RemoteAddress string
	UserName      string
	// WithError is set on EventConnectionClosed when the link dropped
	// rather than being closed locally.
	WithError bool
	// IsWarning marks faults that deserve user attention.
	IsWarning bool
	Err       error
	Ban       *store.Ban
}
