package core

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/multierr"

	"github.com/vovakirdan/quizwire/internal/proto"
	"github.com/vovakirdan/quizwire/internal/store"
)

// Defaults applied by Options for zero fields.
const (
	DefaultMaxChatLength   = 250
	DefaultDisposeTimeout  = 5 * time.Second
	DefaultRefuseGrace     = 2 * time.Second
	DefaultKickBanDuration = 5 * time.Minute
)

// Options configures a node.
type Options struct {
	// MaxChatLength caps ordinary chat text in runes. Negative disables it.
	MaxChatLength int
	// DisposeTimeout bounds how long Dispose waits for connections to close.
	DisposeTimeout time.Duration
	// RefuseGrace is the delay before a refused connection is closed.
	RefuseGrace time.Duration
	// KickBanDuration is the lifetime of a non-permanent kick ban.
	KickBanDuration time.Duration

	Clock     clock.Clock
	Localizer Localizer
	Logger    *zerolog.Logger
	// BanStore persists bans of a PrimaryNode. Optional.
	BanStore store.BanStore
}

func (o Options) withDefaults() Options {
	if o.MaxChatLength == 0 {
		o.MaxChatLength = DefaultMaxChatLength
	}
	if o.DisposeTimeout <= 0 {
		o.DisposeTimeout = DefaultDisposeTimeout
	}
	if o.RefuseGrace <= 0 {
		o.RefuseGrace = DefaultRefuseGrace
	}
	if o.KickBanDuration <= 0 {
		o.KickBanDuration = DefaultKickBanDuration
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Localizer == nil {
		o.Localizer = NewLocalizer("en")
	}
	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}
	return o
}

type registration struct {
	key  string
	stop chan struct{}
}

// Node routes messages between local participants and remote connections.
// It implements Sink so transports can report straight into it.
type Node struct {
	opts    Options
	log     *zerolog.Logger
	routing routing

	// clients is read without locking during fan-out.
	clients *xsync.MapOf[string, Participant]

	regMu      sync.Mutex
	registered map[Participant]*registration

	mu          sync.Mutex
	connections []Connection

	subsMu  sync.Mutex
	subs    map[int]chan Event
	nextSub int

	disposeOnce sync.Once
	disposed    atomic.Bool
}

func newNode(r routing, opts Options) *Node {
	opts = opts.withDefaults()
	role := "client"
	if r.isServer() {
		role = "server"
	}
	logger := opts.Logger.With().Str("component", "node").Str("role", role).Logger()
	return &Node{
		opts:       opts,
		log:        &logger,
		routing:    r,
		clients:    xsync.NewMapOf[string, Participant](),
		registered: make(map[Participant]*registration),
		subs:       make(map[int]chan Event),
	}
}

// IsServer reports whether the node relays between many peers.
func (n *Node) IsServer() bool {
	return n.routing.isServer()
}

// Subscribe returns a channel of node events and a function that
// unsubscribes. Events are dropped for a subscriber whose buffer is full.
// The channel is closed on unsubscribe or Dispose.
func (n *Node) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	n.subsMu.Lock()
	if n.subs == nil {
		n.subsMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := n.nextSub
	n.nextSub++
	n.subs[id] = ch
	n.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.subsMu.Lock()
			defer n.subsMu.Unlock()
			if sub, ok := n.subs[id]; ok {
				delete(n.subs, id)
				close(sub)
			}
		})
	}
}

func (n *Node) emit(ev Event) {
	n.subsMu.Lock()
	defer n.subsMu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func connectionEvent(kind EventKind, c Connection) Event {
	return Event{
		Kind:          kind,
		ConnID:        c.ID(),
		RemoteAddress: c.RemoteAddress(),
		UserName:      c.UserName(),
	}
}

// AddConnection attaches c to the node. Adding the same connection twice
// is a no-op.
func (n *Node) AddConnection(c Connection) error {
	if n.disposed.Load() {
		return coreError(ErrCodeDisposed, "node is disposed", ErrDisposed)
	}
	n.mu.Lock()
	if slices.Contains(n.connections, c) {
		n.mu.Unlock()
		return nil
	}
	n.connections = append(n.connections, c)
	n.mu.Unlock()

	n.log.Debug().Str("conn_id", c.ID()).Str("remote", c.RemoteAddress()).Msg("connection added")
	n.emit(connectionEvent(EventConnectionAdded, c))
	return nil
}

// RemoveConnection detaches c without closing it. It reports whether c
// was attached.
func (n *Node) RemoveConnection(c Connection) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	idx := slices.Index(n.connections, c)
	if idx < 0 {
		return false
	}
	n.connections = slices.Delete(n.connections, idx, idx+1)
	return true
}

// forEachConnection runs f for every connection under the node lock. f
// must not block.
func (n *Node) forEachConnection(f func(c Connection)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, c := range n.connections {
		f(c)
	}
}

func (n *Node) findConnection(match func(c Connection) bool) Connection {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, c := range n.connections {
		if match(c) {
			return c
		}
	}
	return nil
}

func (n *Node) snapshotConnections() []Connection {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.connections)
}

// Connections describes the attached connections.
func (n *Node) Connections() []ConnectionInfo {
	conns := n.snapshotConnections()
	out := make([]ConnectionInfo, 0, len(conns))
	for _, c := range conns {
		out = append(out, describe(c))
	}
	return out
}

// Authenticate binds an identity to the connection with the given id: its
// user name, the participant names it may send as, and broadcast
// eligibility. It reports whether the connection was found.
func (n *Node) Authenticate(connID, userName string, clients ...string) bool {
	c := n.findConnection(func(c Connection) bool { return c.ID() == connID })
	if c == nil {
		return false
	}
	c.SetUserName(userName)
	for _, name := range clients {
		c.AddClient(name)
	}
	c.SetAuthenticated(true)
	n.log.Info().Str("conn_id", connID).Str("user", userName).Strs("clients", clients).Msg("connection authenticated")
	return true
}

// AddClient registers a local participant and starts forwarding its
// outbound messages. Registering the same participant again is a no-op;
// a different participant with a taken name fails with ErrNameExists.
func (n *Node) AddClient(p Participant) error {
	if n.disposed.Load() {
		return coreError(ErrCodeDisposed, "node is disposed", ErrDisposed)
	}

	n.regMu.Lock()
	if _, ok := n.registered[p]; ok {
		n.regMu.Unlock()
		return nil
	}
	key := p.Name()
	if key == "" {
		key = "\x00" + uuid.NewString()
	}
	if existing, loaded := n.clients.LoadOrStore(key, p); loaded && existing != p {
		n.regMu.Unlock()
		return coreError(ErrCodeNameExists, fmt.Sprintf("participant %q already exists", key), ErrNameExists)
	}
	reg := &registration{key: key, stop: make(chan struct{})}
	n.registered[p] = reg
	n.regMu.Unlock()

	if out := p.Outbound(); out != nil {
		go n.pump(p, out, reg.stop)
	}
	n.log.Debug().Str("participant", p.Name()).Msg("participant added")
	return nil
}

// Renamer is implemented by participants whose name can change after
// registration, such as Client.
type Renamer interface {
	Rename(name string)
}

// RenameClient gives a registered participant a new name and re-keys it, so
// lookups and DeleteClient find it under the new name. A name held by
// another participant fails with ErrNameExists and leaves p unchanged.
func (n *Node) RenameClient(p Participant, name string) error {
	r, ok := p.(Renamer)
	if !ok {
		return fmt.Errorf("participant %q cannot be renamed", p.Name())
	}

	n.regMu.Lock()
	defer n.regMu.Unlock()
	reg, ok := n.registered[p]
	if !ok {
		return coreError(ErrCodeUnknown, fmt.Sprintf("participant %q is not registered", p.Name()), ErrUnknown)
	}

	key := name
	if key == "" {
		key = "\x00" + uuid.NewString()
	}
	if key != reg.key {
		if existing, loaded := n.clients.LoadOrStore(key, p); loaded && existing != p {
			return coreError(ErrCodeNameExists, fmt.Sprintf("participant %q already exists", key), ErrNameExists)
		}
		n.clients.Delete(reg.key)
		reg.key = key
	}
	r.Rename(name)
	n.log.Debug().Str("participant", name).Msg("participant renamed")
	return nil
}

// DeleteClient unregisters the participant with the given name. Unknown
// names are ignored. The participant is not disposed.
func (n *Node) DeleteClient(name string) {
	n.regMu.Lock()
	p, ok := n.clients.LoadAndDelete(name)
	if !ok {
		n.regMu.Unlock()
		return
	}
	reg, ok := n.registered[p]
	delete(n.registered, p)
	n.regMu.Unlock()
	if ok {
		close(reg.stop)
	}
	n.log.Debug().Str("participant", name).Msg("participant removed")
}

// Participants lists the names of named local participants.
func (n *Node) Participants() []string {
	var names []string
	n.clients.Range(func(_ string, p Participant) bool {
		if name := p.Name(); name != "" {
			names = append(names, name)
		}
		return true
	})
	slices.Sort(names)
	return names
}

func (n *Node) pump(p Participant, out <-chan proto.Message, stop <-chan struct{}) {
	n.supervise("participant "+p.Name(), func() {
		for {
			select {
			case <-stop:
				return
			case m, ok := <-out:
				if !ok {
					return
				}
				if m.Sender == "" {
					m.Sender = p.Name()
				}
				n.SendMessage(m)
			}
		}
	})
}

// supervise runs f and turns a panic into an error event.
func (n *Node) supervise(what string, f func()) {
	var pc panics.Catcher
	pc.Try(f)
	if rec := pc.Recovered(); rec != nil {
		err := rec.AsError()
		n.log.Error().Err(err).Str("task", what).Msg("recovered panic")
		n.emit(Event{Kind: EventError, Err: err})
	}
}

// OnConnectionMessage handles a message that arrived from a remote peer.
func (n *Node) OnConnectionMessage(c Connection, m proto.Message) {
	if n.disposed.Load() {
		return
	}
	m, ok := n.routing.admit(n, c, m)
	if !ok {
		return
	}
	m = normalize(m, n.opts.MaxChatLength)
	n.deliverLocal(m, "")
	n.routing.relay(n, c, m)
}

// SendMessage routes a message originated by a local participant.
func (n *Node) SendMessage(m proto.Message) {
	if n.disposed.Load() {
		return
	}
	m = normalize(m, n.opts.MaxChatLength)
	n.deliverLocal(m, m.Sender)
	n.routing.outbound(n, m)
}

func (n *Node) deliverLocal(m proto.Message, skip string) {
	n.clients.Range(func(_ string, p Participant) bool {
		name := p.Name()
		if skip != "" && name == skip {
			return true
		}
		if deliversTo(m, name) {
			p.AddIncomingMessage(m)
		}
		return true
	})
}

// OnConnectionClosed detaches a closed connection.
func (n *Node) OnConnectionClosed(c Connection, withError bool) {
	n.RemoveConnection(c)
	ev := connectionEvent(EventConnectionClosed, c)
	ev.WithError = withError
	n.log.Debug().Str("conn_id", c.ID()).Bool("with_error", withError).Msg("connection closed")
	n.emit(ev)
}

// OnSerializationError reports a frame that could not be decoded. The
// connection stays open.
func (n *Node) OnSerializationError(c Connection, err error) {
	n.log.Warn().Err(err).Str("conn_id", c.ID()).Msg("dropping undecodable frame")
	ev := connectionEvent(EventError, c)
	ev.Err = err
	ev.IsWarning = true
	n.emit(ev)
}

// OnConnectionError reports a transport fault.
func (n *Node) OnConnectionError(c Connection, err error, isWarning bool) {
	n.log.Error().Err(err).Str("conn_id", c.ID()).Bool("warning", isWarning).Msg("connection error")
	ev := connectionEvent(EventError, c)
	ev.Err = err
	ev.IsWarning = isWarning
	n.emit(ev)
}

// Dispose disposes every local participant and, on the server role, closes
// every connection, waiting at most DisposeTimeout. Safe to call more than
// once.
func (n *Node) Dispose() error {
	var err error
	n.disposeOnce.Do(func() {
		n.disposed.Store(true)

		n.regMu.Lock()
		regs := n.registered
		n.registered = make(map[Participant]*registration)
		n.regMu.Unlock()

		for p, reg := range regs {
			close(reg.stop)
			n.clients.Delete(reg.key)
			err = multierr.Append(err, n.disposeParticipant(p))
		}

		if n.IsServer() {
			err = multierr.Append(err, n.closeConnections())
		}

		n.subsMu.Lock()
		for _, ch := range n.subs {
			close(ch)
		}
		n.subs = nil
		n.subsMu.Unlock()
	})
	return err
}

func (n *Node) disposeParticipant(p Participant) error {
	var pc panics.Catcher
	pc.Try(p.Dispose)
	if rec := pc.Recovered(); rec != nil {
		return fmt.Errorf("dispose participant %q: %w", p.Name(), rec.AsError())
	}
	return nil
}

func (n *Node) closeConnections() error {
	conns := n.snapshotConnections()
	if len(conns) == 0 {
		return nil
	}

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, c := range conns {
			wg.Add(1)
			go func(c Connection) {
				defer wg.Done()
				c.Close()
			}(c)
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-n.opts.Clock.After(n.opts.DisposeTimeout):
		n.log.Warn().Int("connections", len(conns)).Msg("timed out closing connections")
		return fmt.Errorf("close connections: timed out after %s", n.opts.DisposeTimeout)
	}
}
