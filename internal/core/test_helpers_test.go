package core

import (
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/quizwire/internal/proto"
)

// fakeConn records what a node sends to a peer.
type fakeConn struct {
	Identity
	id     string
	remote string

	mu        sync.Mutex
	sent      []proto.Message
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeConn(id, user, remote string, authenticated bool, clients ...string) *fakeConn {
	c := &fakeConn{id: id, remote: remote, done: make(chan struct{})}
	c.SetUserName(user)
	c.SetAuthenticated(authenticated)
	for _, name := range clients {
		c.AddClient(name)
	}
	return c
}

func (c *fakeConn) ID() string            { return c.id }
func (c *fakeConn) ConnectionID() string  { return "cid-" + c.id }
func (c *fakeConn) RemoteAddress() string { return c.remote }
func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) Send(m proto.Message) {
	c.mu.Lock()
	c.sent = append(c.sent, m)
	c.mu.Unlock()
}

func (c *fakeConn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *fakeConn) messages() []proto.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.sent)
}

func (c *fakeConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func mustEvent(t *testing.T, ch <-chan Event, kind EventKind) Event {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed before %v", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("expected event kind %v not received", kind)
			return Event{}
		}
	}
}

// pending drains what a client has received so far.
func pending(c *Client) []proto.Message {
	var out []proto.Message
	for {
		select {
		case m, ok := <-c.Incoming:
			if !ok {
				return out
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func mustMessage(t *testing.T, c *Client) proto.Message {
	t.Helper()
	select {
	case m := <-c.Incoming:
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("participant %q received nothing", c.Name())
		return proto.Message{}
	}
}

// waitClosed waits for c to be closed. Mock clock callbacks run on their
// own goroutine.
func waitClosed(t *testing.T, c *fakeConn) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("connection %s was not closed", c.id)
	}
}
