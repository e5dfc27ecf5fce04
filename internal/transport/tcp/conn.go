// Package tcp carries node traffic over plain TCP sockets: the connection
// actor with its reader and writer, the handshake, the hosting listener
// and the joining client.
package tcp

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/quizwire/internal/core"
	"github.com/vovakirdan/quizwire/internal/proto"
	"github.com/vovakirdan/quizwire/internal/transport/queue"
)

// Defaults for zero Options fields. The keepalive interval stays below the
// read timeout so an idle peer running the defaults is never timed out.
const (
	DefaultKeepaliveInterval = 10 * time.Second
	DefaultReadTimeout       = 20 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultMaxFrameBytes     = 1 << 20
)

const readChunk = 4096

// FrameSink observes raw frames for diagnostics.
type FrameSink interface {
	Frame(connID string, inbound bool, frame []byte)
}

// Options configures connections.
type Options struct {
	// Keepalive enables the idle PING.
	Keepalive         bool
	KeepaliveInterval time.Duration
	// ReadTimeout is the idle read limit. Hitting it is a normal disconnect.
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	MaxFrameBytes    int

	// RateLimit caps inbound messages per second. Zero disables limiting.
	RateLimit rate.Limit
	RateBurst int

	Clock     clock.Clock
	Logger    *zerolog.Logger
	FrameSink FrameSink
}

func (o Options) withDefaults() Options {
	if o.KeepaliveInterval <= 0 {
		o.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 1
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}
	return o
}

// Conn is one peer socket. Send enqueues and returns; a single writer
// goroutine performs the writes in order. The reader loop runs in Serve.
type Conn struct {
	core.Identity

	id     string
	remote string
	nc     net.Conn
	sink   core.Sink
	opts   Options
	log    zerolog.Logger

	version      proto.Version
	connectionID string
	rest         []byte

	outbox    *queue.Outbox[proto.Message]
	limiter   *rate.Limiter
	keepalive *clock.Timer

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

var _ core.Connection = (*Conn)(nil)

// NewConn wraps nc. Nothing runs until Start and Serve are called; the
// framing stays legacy unless a handshake selects v2.
func NewConn(nc net.Conn, sink core.Sink, opts Options) *Conn {
	opts = opts.withDefaults()
	id := uuid.NewString()
	remote := ""
	if addr := nc.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	c := &Conn{
		id:      id,
		remote:  remote,
		nc:      nc,
		sink:    sink,
		opts:    opts,
		log:     opts.Logger.With().Str("conn_id", id).Str("remote", remote).Logger(),
		version: proto.VersionLegacy,
		outbox:  queue.New[proto.Message](),
		done:    make(chan struct{}),
	}
	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(opts.RateLimit, opts.RateBurst)
	}
	return c
}

func (c *Conn) ID() string                { return c.id }
func (c *Conn) ConnectionID() string      { return c.connectionID }
func (c *Conn) RemoteAddress() string     { return c.remote }
func (c *Conn) Version() proto.Version    { return c.version }
func (c *Conn) Done() <-chan struct{}     { return c.done }
func (c *Conn) QueueLen() int             { return c.outbox.Len() }
func (c *Conn) setConnectionID(id string) { c.connectionID = id }

// Start launches the writer and, when enabled, the keepalive timer.
// Calling it again has no effect.
func (c *Conn) Start() {
	c.startOnce.Do(func() {
		if c.opts.Keepalive {
			c.keepalive = c.opts.Clock.Timer(c.opts.KeepaliveInterval)
			go c.keepaliveLoop()
		}
		go c.writeLoop()
	})
}

// Send queues m for delivery. Messages sent after Close are discarded.
func (c *Conn) Send(m proto.Message) {
	c.outbox.Push(m)
}

// Close releases the socket and discards unsent messages. Safe to call
// more than once.
func (c *Conn) Close() {
	c.closeWith(false)
}

func (c *Conn) closeWith(withError bool) {
	c.shutdown(withError, true)
}

// shutdown is the single close path. notify is false only when the
// connection was never handed to the sink.
func (c *Conn) shutdown(withError, notify bool) {
	c.closeOnce.Do(func() {
		dropped := c.outbox.Close()
		if c.keepalive != nil {
			c.keepalive.Stop()
		}
		_ = c.nc.Close()
		close(c.done)
		c.log.Debug().Int("dropped", dropped).Bool("with_error", withError).Msg("connection closed")
		if notify {
			c.sink.OnConnectionClosed(c, withError)
		}
	})
}

func (c *Conn) writeLoop() {
	for {
		m, ok := c.outbox.Pop()
		if !ok {
			return
		}
		frame, err := c.version.Encode(m)
		if err != nil {
			c.sink.OnSerializationError(c, err)
			continue
		}
		_ = c.nc.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
		if _, err := c.nc.Write(frame); err != nil {
			c.log.Debug().Err(err).Msg("write failed")
			c.closeWith(true)
			return
		}
		if c.opts.FrameSink != nil {
			c.opts.FrameSink.Frame(c.id, false, frame)
		}
		if c.keepalive != nil {
			c.keepalive.Reset(c.opts.KeepaliveInterval)
		}
	}
}

func (c *Conn) keepaliveLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.keepalive.C:
			user := c.UserName()
			c.Send(proto.NewSystem(user, user, proto.PingText))
			c.keepalive.Reset(c.opts.KeepaliveInterval)
		}
	}
}

// Serve runs the reader loop until the peer disconnects, the connection is
// closed or ctx is cancelled. Every exit path closes the connection.
func (c *Conn) Serve(ctx context.Context) {
	stop := context.AfterFunc(ctx, c.Close)
	defer stop()

	err := c.readLoop()
	switch {
	case err == nil || isDisconnect(err):
		c.log.Debug().Err(err).Msg("peer disconnected")
	default:
		c.sink.OnConnectionError(c, err, false)
	}
	c.closeWith(true)
}

func (c *Conn) readLoop() error {
	fr := newFramer(c.version, c.opts.MaxFrameBytes)
	emit := func(frame []byte) error { return c.dispatch(fr, frame) }

	if len(c.rest) > 0 {
		rest := c.rest
		c.rest = nil
		if err := fr.feed(rest, emit); err != nil {
			return err
		}
	}

	buf := make([]byte, readChunk)
	for {
		_ = c.nc.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		n, err := c.nc.Read(buf)
		if n > 0 {
			if ferr := fr.feed(buf[:n], emit); ferr != nil {
				return ferr
			}
		}
		if err != nil {
			return err
		}
	}
}

// dispatch decodes one frame and hands it to the sink. A panic in the
// sink is returned as an error and ends the reader.
func (c *Conn) dispatch(fr framer, frame []byte) error {
	if c.opts.FrameSink != nil {
		c.opts.FrameSink.Frame(c.id, true, frame)
	}
	m, err := fr.decode(frame)
	if err != nil {
		c.sink.OnSerializationError(c, err)
		return nil
	}
	if c.limiter != nil && !c.limiter.Allow() {
		c.log.Warn().Str("sender", m.Sender).Msg("rate limit exceeded, dropping message")
		return nil
	}

	var pc panics.Catcher
	pc.Try(func() { c.sink.OnConnectionMessage(c, m) })
	if rec := pc.Recovered(); rec != nil {
		return rec.AsError()
	}
	return nil
}

// isDisconnect reports whether err is an ordinary end of the link rather
// than a fault worth surfacing.
func isDisconnect(err error) bool {
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
