package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/quizwire/internal/proto"
)

type signalSource chan ReconnectSignal

func (s signalSource) ReconnectSignals() <-chan ReconnectSignal { return s }

func newJoiningNode(t *testing.T) (*SecondaryNode, *Client, *fakeConn) {
	t.Helper()
	node := NewSecondaryNode(Options{})
	t.Cleanup(func() { _ = node.Dispose() })

	me := NewClient("me", "Me")
	require.NoError(t, node.AddClient(me))
	up := newFakeConn("up", "", "127.0.0.1:7777", true)
	require.NoError(t, node.SetConnection(up))
	return node, me, up
}

func TestJoiningNodeAdmission(t *testing.T) {
	node, me, _ := newJoiningNode(t)
	up := node.Connection()

	node.OnConnectionMessage(up, proto.NewChat("", proto.Everybody, "who am I"))
	node.OnConnectionMessage(up, proto.NewChat("Me", proto.Everybody, "impersonation"))
	assert.Empty(t, pending(me))

	node.OnConnectionMessage(up, proto.NewSystem("Showman", "Me", "YOUR_TURN"))
	got := pending(me)
	require.Len(t, got, 1)
	assert.Equal(t, "Showman", got[0].Sender)
	assert.False(t, node.IsServer())
}

func TestJoiningNodeOutbound(t *testing.T) {
	node, me, up := newJoiningNode(t)
	bot := NewClient("bot", "Bot")
	require.NoError(t, node.AddClient(bot))

	node.SendMessage(proto.NewSystem("Me", "Bot", "LOCAL"))
	assert.Empty(t, up.messages(), "local receiver stays local")
	assert.Len(t, pending(bot), 1)

	node.SendMessage(proto.NewChat("Me", proto.Everybody, "hi"))
	assert.Len(t, up.messages(), 1)
	assert.Len(t, pending(bot), 1)
	assert.Empty(t, pending(me))

	node.SendMessage(proto.NewSystem("Me", "Showman", "ANSWER"))
	assert.Len(t, up.messages(), 2)
}

func TestSetConnectionReplacesUpstream(t *testing.T) {
	node, _, first := newJoiningNode(t)

	second := newFakeConn("up2", "", "127.0.0.1:7778", true)
	require.NoError(t, node.SetConnection(second))

	conns := node.Connections()
	require.Len(t, conns, 1)
	assert.Equal(t, "up2", conns[0].ID)
	assert.False(t, first.closed(), "previous upstream is owned by its dialer")

	node.OnConnectionClosed(first, true)
	assert.Same(t, second, node.Connection())

	node.OnConnectionClosed(second, true)
	assert.Nil(t, node.Connection())
	assert.Empty(t, node.Connections())
}

func TestJoiningNodeDisposeLeavesUpstreamOpen(t *testing.T) {
	node, me, up := newJoiningNode(t)

	require.NoError(t, node.Dispose())

	_, open := <-me.Incoming
	assert.False(t, open)
	assert.False(t, up.closed())
}

func TestFollowForwardsReconnectSignals(t *testing.T) {
	node, _, _ := newJoiningNode(t)
	events, unsubscribe := node.Subscribe(8)
	defer unsubscribe()

	src := make(signalSource, 2)
	stop := node.Follow(src)
	defer stop()

	src <- SignalReconnecting
	mustEvent(t, events, EventReconnecting)
	src <- SignalReconnected
	mustEvent(t, events, EventReconnected)
	close(src)
}

func TestJoiningNodeHonoursRenamedParticipant(t *testing.T) {
	node, _, up := newJoiningNode(t)
	guest := NewClient("guest", "")
	require.NoError(t, node.AddClient(guest))
	require.NoError(t, node.RenameClient(guest, "Guest"))

	node.OnConnectionMessage(up, proto.NewChat("Guest", proto.Everybody, "impersonation"))
	assert.Empty(t, pending(guest))

	node.SendMessage(proto.NewSystem("Me", "Guest", "LOCAL"))
	assert.Empty(t, up.messages(), "renamed receiver stays local")
	assert.Len(t, pending(guest), 1)
}
