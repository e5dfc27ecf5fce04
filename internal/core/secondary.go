package core

import "sync"

// ReconnectSignal is a state change of an upstream link.
type ReconnectSignal int

const (
	SignalReconnecting ReconnectSignal = iota
	SignalReconnected
)

// ReconnectSource publishes reconnect signals of an upstream link. The
// channel is closed when the source stops.
type ReconnectSource interface {
	ReconnectSignals() <-chan ReconnectSignal
}

// SecondaryNode is a joining node with at most one upstream connection.
type SecondaryNode struct {
	*Node

	upMu     sync.Mutex
	upstream Connection
}

func NewSecondaryNode(opts Options) *SecondaryNode {
	return &SecondaryNode{Node: newNode(clientRouting{}, opts)}
}

// SetConnection replaces the upstream connection. The previous one is
// detached but not closed; its owner closes it.
func (s *SecondaryNode) SetConnection(c Connection) error {
	s.upMu.Lock()
	prev := s.upstream
	s.upstream = c
	s.upMu.Unlock()

	if prev != nil && prev != c {
		s.Node.RemoveConnection(prev)
	}
	if c == nil {
		return nil
	}
	return s.Node.AddConnection(c)
}

// AddConnection is SetConnection.
func (s *SecondaryNode) AddConnection(c Connection) error {
	return s.SetConnection(c)
}

// Connection returns the current upstream connection, or nil.
func (s *SecondaryNode) Connection() Connection {
	s.upMu.Lock()
	defer s.upMu.Unlock()
	return s.upstream
}

func (s *SecondaryNode) OnConnectionClosed(c Connection, withError bool) {
	s.upMu.Lock()
	if s.upstream == c {
		s.upstream = nil
	}
	s.upMu.Unlock()
	s.Node.OnConnectionClosed(c, withError)
}

// Follow re-emits the signals of src as node events until src closes its
// channel or stop is called.
func (s *SecondaryNode) Follow(src ReconnectSource) (stop func()) {
	done := make(chan struct{})
	signals := src.ReconnectSignals()
	go func() {
		for {
			select {
			case <-done:
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				kind := EventReconnected
				if sig == SignalReconnecting {
					kind = EventReconnecting
				}
				s.log.Info().Str("event", kind.String()).Msg("upstream link")
				s.emit(Event{Kind: kind})
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
