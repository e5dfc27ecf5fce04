package tcp

import (
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/quizwire/internal/core"
	"github.com/vovakirdan/quizwire/internal/proto"
)

type closeRecord struct {
	conn      core.Connection
	withError bool
}

type errRecord struct {
	err       error
	isWarning bool
}

// recordingSink collects connection callbacks.
type recordingSink struct {
	messages chan proto.Message
	closes   chan closeRecord
	errs     chan errRecord
	serial   chan error

	mu         sync.Mutex
	closeCount int
	onMessage  func(proto.Message)
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		messages: make(chan proto.Message, 32),
		closes:   make(chan closeRecord, 8),
		errs:     make(chan errRecord, 8),
		serial:   make(chan error, 8),
	}
}

func (s *recordingSink) OnConnectionMessage(_ core.Connection, m proto.Message) {
	if s.onMessage != nil {
		s.onMessage(m)
	}
	s.messages <- m
}

func (s *recordingSink) OnConnectionClosed(c core.Connection, withError bool) {
	s.mu.Lock()
	s.closeCount++
	s.mu.Unlock()
	s.closes <- closeRecord{conn: c, withError: withError}
}

func (s *recordingSink) OnSerializationError(_ core.Connection, err error) {
	s.serial <- err
}

func (s *recordingSink) OnConnectionError(_ core.Connection, err error, isWarning bool) {
	s.errs <- errRecord{err: err, isWarning: isWarning}
}

func (s *recordingSink) closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

func receive[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

func mustEvent(t *testing.T, ch <-chan core.Event, kind core.EventKind) core.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("expected event kind %v not received", kind)
			return core.Event{}
		}
	}
}

func mustMessage(t *testing.T, c *core.Client) proto.Message {
	t.Helper()
	return receive(t, c.Incoming, "message for "+c.Name())
}
