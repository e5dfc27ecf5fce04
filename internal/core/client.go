package core

import (
	"sync"

	"github.com/vovakirdan/quizwire/internal/proto"
)

// Participant is a local identity attached to a node: a player, the
// showman, a viewer or a bot living in this process.
type Participant interface {
	// Name may be empty while the participant has not identified itself.
	Name() string
	// Outbound yields messages the participant wants to send. A nil channel
	// means the participant never sends.
	Outbound() <-chan proto.Message
	AddIncomingMessage(m proto.Message)
	Dispose()
}

// Client is a channel-backed Participant.
type Client struct {
	ID       string
	name     string
	Outgoing chan proto.Message
	Incoming chan proto.Message

	mu       sync.RWMutex
	disposed bool
}

// NewClient constructs a client with initialized channels.
func NewClient(id, name string) *Client {
	return &Client{
		ID:       id,
		name:     name,
		Outgoing: make(chan proto.Message, 64),
		Incoming: make(chan proto.Message, 256),
	}
}

func (c *Client) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// Rename sets the participant name. Once the client is registered, rename
// it through Node.RenameClient so the node re-keys it.
func (c *Client) Rename(name string) {
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
}

func (c *Client) Outbound() <-chan proto.Message {
	return c.Outgoing
}

// AddIncomingMessage queues m for the client. Messages are dropped for a
// slow consumer or after Dispose.
func (c *Client) AddIncomingMessage(m proto.Message) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.disposed {
		return
	}
	select {
	case c.Incoming <- m:
	default:
	}
}

// Dispose closes Incoming. Safe to call more than once.
func (c *Client) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.disposed = true
	close(c.Incoming)
}
