// Package ws carries node traffic over WebSocket. Each binary message
// holds exactly one v2 frame; the WebSocket handshake replaces the text
// preamble used on raw TCP.
package ws

import (
	"context"
	"errors"
	"io"
	"net"
	stdhttp "net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/quizwire/internal/core"
	"github.com/vovakirdan/quizwire/internal/proto"
	"github.com/vovakirdan/quizwire/internal/transport/queue"
)

// QueryConnectionID carries a session id presented by a reconnecting peer.
const QueryConnectionID = "connection_id"

// Options configures WebSocket connections.
type Options struct {
	WriteTimeout  time.Duration
	MaxFrameBytes int64
	RateLimit     rate.Limit
	RateBurst     int
	Logger        *zerolog.Logger
	// OriginPatterns are passed to the WebSocket acceptor. Empty means
	// same-origin only.
	OriginPatterns []string
}

func (o Options) withDefaults() Options {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = 1 << 20
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 1
	}
	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}
	return o
}

// Conn is a peer connected over WebSocket.
type Conn struct {
	core.Identity

	id           string
	connectionID string
	remote       string
	ws           *websocket.Conn
	sink         core.Sink
	opts         Options
	log          zerolog.Logger

	outbox  *queue.Outbox[proto.Message]
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

var _ core.Connection = (*Conn)(nil)

func newConn(wsc *websocket.Conn, sink core.Sink, connectionID, remote string, opts Options) *Conn {
	opts = opts.withDefaults()
	wsc.SetReadLimit(opts.MaxFrameBytes)
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		id:           id,
		connectionID: connectionID,
		remote:       remote,
		ws:           wsc,
		sink:         sink,
		opts:         opts,
		log:          opts.Logger.With().Str("conn_id", id).Str("remote", remote).Str("transport", "ws").Logger(),
		outbox:       queue.New[proto.Message](),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(opts.RateLimit, opts.RateBurst)
	}
	return c
}

// Accept upgrades an HTTP request. A session id presented in the query is
// reused; otherwise a new one is issued in the ConnectionId response
// header.
func Accept(w stdhttp.ResponseWriter, r *stdhttp.Request, sink core.Sink, opts Options) (*Conn, error) {
	connID := r.URL.Query().Get(QueryConnectionID)
	if connID == "" {
		connID = uuid.NewString()
	}
	w.Header().Set(proto.HeaderConnectionID, connID)

	wsc, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: opts.OriginPatterns,
	})
	if err != nil {
		return nil, err
	}
	return newConn(wsc, sink, connID, r.RemoteAddr, opts), nil
}

// Dial connects to a WebSocket endpoint as a joining peer.
func Dial(ctx context.Context, url string, sink core.Sink, opts Options) (*Conn, error) {
	wsc, resp, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	connID := ""
	if resp != nil {
		connID = resp.Header.Get(proto.HeaderConnectionID)
	}
	return newConn(wsc, sink, connID, url, opts), nil
}

func (c *Conn) ID() string            { return c.id }
func (c *Conn) ConnectionID() string  { return c.connectionID }
func (c *Conn) RemoteAddress() string { return c.remote }
func (c *Conn) Done() <-chan struct{} { return c.done }

// Start launches the writer.
func (c *Conn) Start() {
	c.startOnce.Do(func() { go c.writeLoop() })
}

func (c *Conn) Send(m proto.Message) {
	c.outbox.Push(m)
}

func (c *Conn) Close() {
	c.closeWith(false)
}

func (c *Conn) closeWith(withError bool) {
	c.closeOnce.Do(func() {
		dropped := c.outbox.Close()
		c.cancel()
		_ = c.ws.CloseNow()
		close(c.done)
		c.log.Debug().Int("dropped", dropped).Bool("with_error", withError).Msg("connection closed")
		c.sink.OnConnectionClosed(c, withError)
	})
}

func (c *Conn) writeLoop() {
	for {
		m, ok := c.outbox.Pop()
		if !ok {
			return
		}
		frame, err := proto.EncodeV2(m)
		if err != nil {
			c.sink.OnSerializationError(c, err)
			continue
		}
		ctx, cancel := context.WithTimeout(c.ctx, c.opts.WriteTimeout)
		err = c.ws.Write(ctx, websocket.MessageBinary, frame)
		cancel()
		if err != nil {
			c.log.Debug().Err(err).Msg("write failed")
			c.closeWith(true)
			return
		}
	}
}

// Serve reads frames until the peer leaves or ctx is cancelled.
func (c *Conn) Serve(ctx context.Context) {
	stop := context.AfterFunc(ctx, c.Close)
	defer stop()

	err := c.readLoop()
	if err != nil && !isDisconnect(err) {
		c.sink.OnConnectionError(c, err, false)
	}
	c.closeWith(true)
}

func (c *Conn) readLoop() error {
	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			return err
		}
		m, err := proto.DecodeV2(data)
		if err != nil {
			c.sink.OnSerializationError(c, err)
			continue
		}
		if c.limiter != nil && !c.limiter.Allow() {
			c.log.Warn().Str("sender", m.Sender).Msg("rate limit exceeded, dropping message")
			continue
		}

		var pc panics.Catcher
		pc.Try(func() { c.sink.OnConnectionMessage(c, m) })
		if rec := pc.Recovered(); rec != nil {
			return rec.AsError()
		}
	}
}

func isDisconnect(err error) bool {
	if websocket.CloseStatus(err) != -1 {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, net.ErrClosed)
}
