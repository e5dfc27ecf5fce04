package tcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vovakirdan/quizwire/internal/proto"
)

// AcceptHandshake performs the acceptor side of the negotiation: it reads
// the peer's preamble, selects the framing and replies with the session id
// (the peer's if it presented one, a fresh one otherwise). Bytes received
// after the preamble are kept for the reader loop.
func (c *Conn) AcceptHandshake(ctx context.Context) error {
	defer c.bindDeadline(ctx)()

	hs, err := c.readPreamble()
	if err != nil {
		return err
	}
	if len(hs.Malformed) > 0 {
		c.log.Warn().Strs("lines", hs.Malformed).Msg("skipping malformed handshake lines")
		c.sink.OnConnectionError(c, fmt.Errorf("%w: %d unparsable line(s)", proto.ErrBadHandshake, len(hs.Malformed)), true)
	}
	connID := hs.ConnectionID
	if connID == "" {
		connID = uuid.NewString()
	}
	c.version = hs.Version()
	c.setConnectionID(connID)

	if _, err := c.nc.Write(proto.BuildResponse(c.version, connID)); err != nil {
		return fmt.Errorf("write handshake response: %w", err)
	}
	c.log.Debug().
		Str("version", c.version.String()).
		Str("connection_id", connID).
		Bool("resumed", hs.ConnectionID != "").
		Msg("handshake accepted")
	return nil
}

// RequestHandshake performs the joining side: it asks for v2 framing when
// upgrade is set, presents connectionID when non-empty, and adopts the
// framing and session id from the reply.
func (c *Conn) RequestHandshake(ctx context.Context, upgrade bool, connectionID string) error {
	defer c.bindDeadline(ctx)()

	if _, err := c.nc.Write(proto.BuildRequest(upgrade, connectionID)); err != nil {
		return fmt.Errorf("write handshake request: %w", err)
	}
	hs, err := c.readPreamble()
	if err != nil {
		return err
	}
	if len(hs.Malformed) > 0 {
		c.log.Warn().Strs("lines", hs.Malformed).Msg("skipping malformed handshake lines")
	}
	if !strings.Contains(hs.StartLine, " 101 ") {
		return fmt.Errorf("%w: unexpected status %q", proto.ErrBadHandshake, hs.StartLine)
	}
	c.version = proto.VersionLegacy
	if upgrade {
		c.version = hs.Version()
	}
	id := hs.ConnectionID
	if id == "" {
		id = connectionID
	}
	c.setConnectionID(id)
	c.log.Debug().Str("version", c.version.String()).Str("connection_id", id).Msg("handshake completed")
	return nil
}

// readPreamble reads until the blank-line terminator. Only an oversize
// preamble or a read error before the terminator fails it.
func (c *Conn) readPreamble() (proto.Handshake, error) {
	buf := make([]byte, 0, 512)
	chunk := make([]byte, 512)
	for {
		if end, ok := proto.HeaderEnd(buf); ok {
			hs := proto.ParseHandshake(buf[:end])
			if end < len(buf) {
				c.rest = append([]byte(nil), buf[end:]...)
			}
			return hs, nil
		}
		if len(buf) > proto.MaxHandshakeBytes {
			return proto.Handshake{}, proto.ErrHandshakeTooLarge
		}
		n, err := c.nc.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			if _, ok := proto.HeaderEnd(buf); ok {
				continue
			}
			return proto.Handshake{}, fmt.Errorf("read handshake: %w", err)
		}
	}
}

// bindDeadline applies the ctx deadline (or the handshake timeout) to the
// socket and aborts blocked I/O on cancellation. The returned func undoes
// both.
func (c *Conn) bindDeadline(ctx context.Context) func() {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.opts.HandshakeTimeout)
	}
	_ = c.nc.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = c.nc.SetDeadline(time.Now())
	})
	return func() {
		stop()
		_ = c.nc.SetDeadline(time.Time{})
	}
}
