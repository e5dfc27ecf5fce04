package core

import "github.com/vovakirdan/quizwire/internal/proto"

// routing holds the role-specific half of a node: who may speak on an
// inbound connection and where traffic goes next.
type routing interface {
	isServer() bool
	// admit validates an inbound message and may rewrite its sender.
	admit(n *Node, from Connection, m proto.Message) (proto.Message, bool)
	// relay forwards an admitted inbound message to other peers.
	relay(n *Node, from Connection, m proto.Message)
	// outbound forwards a locally originated message to peers.
	outbound(n *Node, m proto.Message)
}

// serverRouting is used by the hosting node. Every peer is a downstream
// connection; the node relays between them.
type serverRouting struct{}

func (serverRouting) isServer() bool { return true }

func (serverRouting) admit(n *Node, from Connection, m proto.Message) (proto.Message, bool) {
	if m.IsSystem && m.IsPing() {
		return m, false
	}
	if m.Sender == "" {
		return m.WithSender(anonymousSender(from.ID())), true
	}
	if m.Sender == proto.Authority || from.HasClient(m.Sender) {
		return m, true
	}
	if !m.IsPing() {
		n.log.Warn().
			Str("conn_id", from.ID()).
			Str("remote", from.RemoteAddress()).
			Str("sender", m.Sender).
			Strs("declared", from.Clients()).
			Msg("dropping message with undeclared sender")
	}
	return m, false
}

func (serverRouting) relay(n *Node, from Connection, m proto.Message) {
	n.forEachConnection(func(c Connection) {
		if c != from && relaysTo(m, c) {
			c.Send(m)
		}
	})
}

func (serverRouting) outbound(n *Node, m proto.Message) {
	if id, ok := anonymousTarget(m.Receiver); ok {
		n.forEachConnection(func(c Connection) {
			if c.ID() == id {
				c.Send(m)
			}
		})
		return
	}
	n.forEachConnection(func(c Connection) {
		if relaysTo(m, c) {
			c.Send(m)
		}
	})
}

// clientRouting is used by a joining node. Its single connection leads to
// the host, which does all relaying.
type clientRouting struct{}

func (clientRouting) isServer() bool { return false }

func (clientRouting) admit(n *Node, from Connection, m proto.Message) (proto.Message, bool) {
	if m.IsSystem && m.IsPing() {
		return m, false
	}
	if m.Sender == "" {
		n.log.Warn().Str("conn_id", from.ID()).Msg("dropping upstream message without sender")
		return m, false
	}
	if _, local := n.clients.Load(m.Sender); local {
		if !m.IsPing() {
			n.log.Warn().
				Str("conn_id", from.ID()).
				Str("sender", m.Sender).
				Msg("dropping upstream message impersonating a local participant")
		}
		return m, false
	}
	return m, true
}

func (clientRouting) relay(*Node, Connection, proto.Message) {}

func (clientRouting) outbound(n *Node, m proto.Message) {
	if m.Receiver != proto.Everybody {
		if _, local := n.clients.Load(m.Receiver); local {
			return
		}
	}
	n.forEachConnection(func(c Connection) {
		c.Send(m)
	})
}
