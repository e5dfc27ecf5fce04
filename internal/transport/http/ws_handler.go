package http

import (
	"errors"
	stdhttp "net/http"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/quizwire/internal/core"
	"github.com/vovakirdan/quizwire/internal/transport/ws"
)

// WSHandler upgrades HTTP requests into peer connections of the host.
type WSHandler struct {
	host Host
	opts ws.Options
	log  *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(host Host, opts ws.Options, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{host: host, opts: opts, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	conn, err := ws.Accept(w, r, h.host, h.opts)
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	conn.Start()

	if err := h.host.AddConnection(conn); err != nil {
		h.log.Info().Err(err).Str("remote", conn.RemoteAddress()).Msg("ws connection rejected")
		if !errors.Is(err, core.ErrBanned) {
			conn.Close()
		}
		// A refused peer is closed by the host after the refusal is written.
		<-conn.Done()
		return
	}
	conn.Serve(r.Context())
}
