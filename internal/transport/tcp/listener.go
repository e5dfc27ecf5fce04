package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/quizwire/internal/core"
)

// Acceptor is the hosting node as seen by the listener.
type Acceptor interface {
	core.Sink
	AddConnection(c core.Connection) error
}

// Listener accepts peers for a hosting node.
type Listener struct {
	addr     string
	acceptor Acceptor
	opts     Options
	log      *zerolog.Logger

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

func NewListener(addr string, acceptor Acceptor, opts Options) *Listener {
	opts = opts.withDefaults()
	logger := opts.Logger.With().Str("component", "tcp_listener").Logger()
	return &Listener{addr: addr, acceptor: acceptor, opts: opts, log: &logger}
}

// Listen binds the address. Serve calls it when needed.
func (l *Listener) Listen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", l.addr, err)
	}
	l.ln = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Serve accepts connections until ctx is cancelled, then waits for the
// per-connection goroutines to finish.
func (l *Listener) Serve(ctx context.Context) error {
	if err := l.Listen(); err != nil {
		return err
	}
	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer l.wg.Wait()

	l.log.Info().Str("addr", ln.Addr().String()).Msg("accepting peers")
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handle(ctx, nc)
		}()
	}
}

func (l *Listener) handle(ctx context.Context, nc net.Conn) {
	c := NewConn(nc, l.acceptor, l.opts)

	hsCtx, cancel := context.WithTimeout(ctx, l.opts.HandshakeTimeout)
	err := c.AcceptHandshake(hsCtx)
	cancel()
	if err != nil {
		l.log.Warn().Err(err).Str("remote", c.RemoteAddress()).Msg("handshake failed")
		l.acceptor.OnConnectionError(c, err, true)
		c.shutdown(true, false)
		return
	}

	c.Start()
	if err := l.acceptor.AddConnection(c); err != nil {
		l.log.Info().Err(err).Str("remote", c.RemoteAddress()).Msg("connection rejected")
		// A banned peer is closed by the node after the refusal is delivered.
		if !errors.Is(err, core.ErrBanned) {
			c.Close()
		}
		return
	}
	c.Serve(ctx)
}
