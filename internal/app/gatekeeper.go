package app

import (
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/quizwire/internal/core"
	"github.com/vovakirdan/quizwire/internal/proto"
)

// Join protocol spoken with the host authority. A fresh peer sends
// "JOIN <name>" as an anonymous system message; the authority answers the
// anonymous address with "WELCOME <name>" or "REFUSED <reason>".
const (
	JoinCommand  = "JOIN"
	WelcomeReply = "WELCOME"
	RefuseReply  = "REFUSED"
)

// Registry is the part of the hosting node the gatekeeper needs.
type Registry interface {
	Authenticate(connID, userName string, clients ...string) bool
	Connections() []core.ConnectionInfo
	Participants() []string
}

// Gatekeeper is the host authority participant. It turns anonymous join
// requests into authenticated connections.
type Gatekeeper struct {
	registry Registry
	out      chan proto.Message
	log      *zerolog.Logger
}

var _ core.Participant = (*Gatekeeper)(nil)

func NewGatekeeper(registry Registry, logger *zerolog.Logger) *Gatekeeper {
	l := logger.With().Str("component", "gatekeeper").Logger()
	return &Gatekeeper{
		registry: registry,
		out:      make(chan proto.Message, 64),
		log:      &l,
	}
}

func (g *Gatekeeper) Name() string { return proto.Authority }

func (g *Gatekeeper) Outbound() <-chan proto.Message { return g.out }

func (g *Gatekeeper) AddIncomingMessage(m proto.Message) {
	if !m.IsSystem || m.Receiver != proto.Authority {
		return
	}
	connID, ok := strings.CutPrefix(m.Sender, proto.AnonymousPrefix)
	if !ok {
		return
	}
	cmd, name, _ := strings.Cut(strings.TrimSpace(m.Text), " ")
	if cmd != JoinCommand {
		return
	}
	name = strings.TrimSpace(name)

	if reason := g.check(connID, name); reason != "" {
		g.log.Info().Str("conn_id", connID).Str("user", name).Str("reason", reason).Msg("join refused")
		g.reply(m.Sender, RefuseReply+" "+reason)
		return
	}
	if !g.registry.Authenticate(connID, name, name) {
		return
	}
	g.reply(m.Sender, WelcomeReply+" "+name)
}

// check returns why name cannot be taken by connID, or "".
func (g *Gatekeeper) check(connID, name string) string {
	if name == "" || strings.HasPrefix(name, "@") || name == proto.Everybody {
		return "invalid name"
	}
	if slices.Contains(g.registry.Participants(), name) {
		return "name taken"
	}

	conns := g.registry.Connections()
	var session string
	for _, c := range conns {
		if c.ID == connID {
			session = c.ConnectionID
		}
	}
	for _, c := range conns {
		// A resumed session may still have its stale link attached.
		if c.ID != connID && c.UserName == name && (session == "" || c.ConnectionID != session) {
			return "name taken"
		}
	}
	return ""
}

func (g *Gatekeeper) reply(to, text string) {
	select {
	case g.out <- proto.NewSystem(proto.Authority, to, text):
	default:
		g.log.Warn().Str("receiver", to).Msg("reply queue full, dropping")
	}
}

// Dispose is a no-op; the outbound channel stays open until the node stops
// pumping it.
func (g *Gatekeeper) Dispose() {}
