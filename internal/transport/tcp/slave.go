package tcp

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/quizwire/internal/core"
)

const (
	DefaultConnectTimeout = 15 * time.Second
	DefaultBackoffMin     = time.Second
	DefaultBackoffMax     = 30 * time.Second
)

// Joiner is the joining node as seen by SlaveServer.
type Joiner interface {
	core.Sink
	SetConnection(c core.Connection) error
}

// SlaveOptions configures SlaveServer.
type SlaveOptions struct {
	Host           string
	Port           int
	ConnectTimeout time.Duration
	// Upgrade asks the host for v2 framing.
	Upgrade       bool
	AutoReconnect bool
	BackoffMin    time.Duration
	BackoffMax    time.Duration

	// UserName and Clients are declared on every new connection.
	UserName string
	Clients  []string

	Conn Options
}

// SlaveServer maintains the upstream link of a joining node.
type SlaveServer struct {
	node Joiner
	opts SlaveOptions
	log  *zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	conn         *Conn
	connectionID string
	closed       bool
	signals      chan core.ReconnectSignal

	reconnecting atomic.Bool
	wg           sync.WaitGroup
}

var _ core.ReconnectSource = (*SlaveServer)(nil)

func NewSlaveServer(node Joiner, opts SlaveOptions) *SlaveServer {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.BackoffMin <= 0 {
		opts.BackoffMin = DefaultBackoffMin
	}
	if opts.BackoffMax < opts.BackoffMin {
		opts.BackoffMax = max(DefaultBackoffMax, opts.BackoffMin)
	}
	opts.Conn = opts.Conn.withDefaults()
	logger := opts.Conn.Logger.With().Str("component", "tcp_slave").Logger()
	ctx, cancel := context.WithCancel(context.Background())
	return &SlaveServer{
		node:    node,
		opts:    opts,
		log:     &logger,
		ctx:     ctx,
		cancel:  cancel,
		signals: make(chan core.ReconnectSignal, 8),
	}
}

// ReconnectSignals reports link state changes. The channel is closed by
// Close.
func (s *SlaveServer) ReconnectSignals() <-chan core.ReconnectSignal {
	return s.signals
}

// ConnectionID returns the session id negotiated with the host.
func (s *SlaveServer) ConnectionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectionID
}

// Conn returns the current upstream connection, or nil.
func (s *SlaveServer) Conn() *Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Connect dials the host, negotiates the framing presenting the remembered
// session id, registers the connection with the node and starts reading.
func (s *SlaveServer) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return net.ErrClosed
	}
	connID := s.connectionID
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()

	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	c := NewConn(nc, slaveSink{Joiner: s.node, slave: s}, s.opts.Conn)
	if err := c.RequestHandshake(ctx, s.opts.Upgrade, connID); err != nil {
		c.shutdown(true, false)
		return fmt.Errorf("handshake with %s: %w", addr, err)
	}
	c.SetUserName(s.opts.UserName)
	c.SetAuthenticated(true)
	for _, name := range s.opts.Clients {
		c.AddClient(name)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.shutdown(false, false)
		return net.ErrClosed
	}
	s.connectionID = c.ConnectionID()
	s.conn = c
	s.wg.Add(1)
	s.mu.Unlock()

	c.Start()
	if err := s.node.SetConnection(c); err != nil {
		s.wg.Done()
		c.Close()
		return fmt.Errorf("register upstream: %w", err)
	}

	go func() {
		defer s.wg.Done()
		c.Serve(s.ctx)
	}()
	s.log.Info().
		Str("addr", addr).
		Str("connection_id", c.ConnectionID()).
		Str("version", c.Version().String()).
		Msg("connected to host")
	return nil
}

// Reconnect drops the current link and connects again, keeping the
// session id.
func (s *SlaveServer) Reconnect(ctx context.Context) error {
	if prev := s.Conn(); prev != nil {
		prev.Close()
	}
	s.signal(core.SignalReconnecting)
	if err := s.Connect(ctx); err != nil {
		return err
	}
	s.signal(core.SignalReconnected)
	return nil
}

// Close stops reconnecting, closes the link and the signal channel.
func (s *SlaveServer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	s.cancel()
	if conn != nil {
		conn.Close()
	}
	s.wg.Wait()

	s.mu.Lock()
	close(s.signals)
	s.mu.Unlock()
}

func (s *SlaveServer) signal(sig core.ReconnectSignal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.signals <- sig:
	default:
	}
}

func (s *SlaveServer) onClosed(c core.Connection, withError bool) {
	s.mu.Lock()
	current := s.conn != nil && core.Connection(s.conn) == c
	if current {
		s.conn = nil
	}
	if !current || s.closed || !withError || !s.opts.AutoReconnect {
		s.mu.Unlock()
		return
	}
	if !s.reconnecting.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.reconnecting.Store(false)
		s.reconnectLoop()
	}()
}

// reconnectLoop retries with exponential backoff until it succeeds or the
// slave is closed.
func (s *SlaveServer) reconnectLoop() {
	s.signal(core.SignalReconnecting)
	backoff := s.opts.BackoffMin
	for {
		s.log.Info().Dur("backoff", backoff).Msg("connection lost, reconnecting")
		select {
		case <-s.ctx.Done():
			return
		case <-s.opts.Conn.Clock.After(backoff):
		}
		err := s.Connect(s.ctx)
		if err == nil {
			s.signal(core.SignalReconnected)
			return
		}
		s.log.Warn().Err(err).Msg("reconnect failed")
		backoff = min(backoff*2, s.opts.BackoffMax)
	}
}

// slaveSink forwards to the node and watches for a dropped link.
type slaveSink struct {
	Joiner
	slave *SlaveServer
}

func (k slaveSink) OnConnectionClosed(c core.Connection, withError bool) {
	k.Joiner.OnConnectionClosed(c, withError)
	k.slave.onClosed(c, withError)
}
