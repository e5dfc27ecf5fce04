package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/quizwire/internal/proto"
)

// hostFixture is a hosting node with participants A and B and peers X
// (user A) and Y (user B).
type hostFixture struct {
	node *PrimaryNode
	a, b *Client
	x, y *fakeConn
}

func newHostFixture(t *testing.T, opts Options) *hostFixture {
	t.Helper()
	node, err := NewPrimaryNode(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = node.Dispose() })

	f := &hostFixture{
		node: node,
		a:    NewClient("pa", "A"),
		b:    NewClient("pb", "B"),
		x:    newFakeConn("x", "A", "10.0.0.1:5000", true, "A"),
		y:    newFakeConn("y", "B", "10.0.0.2:5000", true, "B"),
	}
	require.NoError(t, node.AddClient(f.a))
	require.NoError(t, node.AddClient(f.b))
	require.NoError(t, node.AddConnection(f.x))
	require.NoError(t, node.AddConnection(f.y))
	return f
}

func TestOutboundBroadcastReachesEveryone(t *testing.T) {
	f := newHostFixture(t, Options{})

	f.node.SendMessage(proto.NewChat(proto.Authority, proto.Everybody, "round one"))

	assert.Len(t, pending(f.a), 1)
	assert.Len(t, pending(f.b), 1)
	assert.Len(t, f.x.messages(), 1)
	assert.Len(t, f.y.messages(), 1)
}

func TestOutboundTargetedSystemMessage(t *testing.T) {
	f := newHostFixture(t, Options{})

	f.node.SendMessage(proto.NewSystem(proto.Authority, "A", "STAGE"))

	assert.Len(t, pending(f.a), 1)
	assert.Empty(t, pending(f.b))
	assert.Len(t, f.x.messages(), 1)
	assert.Empty(t, f.y.messages())
}

func TestOrdinaryChatReachesAllLocalParticipants(t *testing.T) {
	f := newHostFixture(t, Options{})

	// Chat is addressed, but local fan-out ignores addressing for chat.
	f.node.SendMessage(proto.NewChat(proto.Authority, "A", "psst"))

	assert.Len(t, pending(f.a), 1)
	assert.Len(t, pending(f.b), 1)
	assert.Len(t, f.x.messages(), 1)
	assert.Empty(t, f.y.messages())
}

func TestOutboundSkipsSendingParticipant(t *testing.T) {
	f := newHostFixture(t, Options{})

	f.node.SendMessage(proto.NewChat("A", proto.Everybody, "hello"))

	assert.Empty(t, pending(f.a))
	assert.Len(t, pending(f.b), 1)
	assert.Empty(t, f.x.messages(), "peer declaring the sender must not get an echo")
	assert.Len(t, f.y.messages(), 1)
}

func TestInboundRelayFollowsPeerRules(t *testing.T) {
	f := newHostFixture(t, Options{})
	anon := newFakeConn("z", "", "10.0.0.3:5000", false)
	require.NoError(t, f.node.AddConnection(anon))

	f.node.OnConnectionMessage(f.x, proto.NewChat("A", proto.Everybody, "hi all"))

	assert.Len(t, pending(f.a), 1)
	assert.Len(t, pending(f.b), 1)
	assert.Empty(t, f.x.messages(), "origin never gets its own message back")
	assert.Len(t, f.y.messages(), 1)
	assert.Empty(t, anon.messages(), "unauthenticated peers miss broadcasts")
}

func TestSpoofedSenderIsDropped(t *testing.T) {
	f := newHostFixture(t, Options{})

	f.node.OnConnectionMessage(f.x, proto.NewChat("B", proto.Everybody, "I am B"))

	assert.Empty(t, pending(f.a))
	assert.Empty(t, pending(f.b))
	assert.Empty(t, f.y.messages())
}

func TestAuthoritySenderIsAccepted(t *testing.T) {
	f := newHostFixture(t, Options{})

	f.node.OnConnectionMessage(f.x, proto.NewSystem(proto.Authority, "B", "INFO"))

	assert.Empty(t, pending(f.a))
	assert.Len(t, pending(f.b), 1)
	assert.Len(t, f.y.messages(), 1)
}

func TestKeepalivePingIsSwallowed(t *testing.T) {
	f := newHostFixture(t, Options{})
	stranger := newFakeConn("s", "", "10.0.0.4:5000", false)
	require.NoError(t, f.node.AddConnection(stranger))

	f.node.OnConnectionMessage(f.x, proto.NewSystem("A", "A", proto.PingText))
	f.node.OnConnectionMessage(stranger, proto.NewChat("ghost", proto.Everybody, proto.PingText))

	assert.Empty(t, pending(f.a))
	assert.Empty(t, pending(f.b))
	assert.Empty(t, f.y.messages())
}

func TestAnonymousSenderCanBeAnswered(t *testing.T) {
	f := newHostFixture(t, Options{})
	anon := newFakeConn("z", "", "10.0.0.3:5000", false)
	require.NoError(t, f.node.AddConnection(anon))

	f.node.OnConnectionMessage(anon, proto.NewChat("", proto.Authority, "may I join?"))

	got := mustMessage(t, f.a)
	assert.Equal(t, proto.AnonymousPrefix+"z", got.Sender)
	pending(f.b)

	f.node.SendMessage(proto.NewSystem("A", got.Sender, "INFO2"))

	require.Len(t, anon.messages(), 1)
	assert.Equal(t, "INFO2", anon.messages()[0].Text)
	assert.Empty(t, f.x.messages())
	assert.Empty(t, f.y.messages())
}

func TestChatIsTruncatedByRunes(t *testing.T) {
	f := newHostFixture(t, Options{MaxChatLength: 5})

	f.node.OnConnectionMessage(f.x, proto.NewChat("A", proto.Everybody, "привет мир"))
	f.node.OnConnectionMessage(f.x, proto.NewSystem("A", proto.Everybody, "SYSTEM TEXT"))

	got := pending(f.b)
	require.Len(t, got, 2)
	assert.Equal(t, "приве", got[0].Text)
	assert.Equal(t, "SYSTEM TEXT", got[1].Text)
}

func TestEmptyReceiverMeansEverybody(t *testing.T) {
	f := newHostFixture(t, Options{})

	f.node.SendMessage(proto.Message{Sender: proto.Authority, Text: "x", IsSystem: true})

	require.Len(t, f.y.messages(), 1)
	assert.Equal(t, proto.Everybody, f.y.messages()[0].Receiver)
}

func TestUnnamedParticipantReceivesEverything(t *testing.T) {
	f := newHostFixture(t, Options{})
	viewer := NewClient("pv", "")
	require.NoError(t, f.node.AddClient(viewer))

	f.node.SendMessage(proto.NewSystem(proto.Authority, "A", "STAGE"))

	assert.Len(t, pending(viewer), 1)
}

func TestAddClientRegistration(t *testing.T) {
	f := newHostFixture(t, Options{})

	require.NoError(t, f.node.AddClient(f.a), "same instance twice is a no-op")

	err := f.node.AddClient(NewClient("other", "A"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNameExists))
	var ce *CoreError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrCodeNameExists, ce.Code)

	assert.Equal(t, []string{"A", "B"}, f.node.Participants())
}

func TestDeleteClient(t *testing.T) {
	f := newHostFixture(t, Options{})

	f.node.DeleteClient("nobody")
	f.node.DeleteClient("A")
	f.node.SendMessage(proto.NewChat(proto.Authority, proto.Everybody, "hi"))

	assert.Empty(t, pending(f.a))
	assert.Len(t, pending(f.b), 1)
	assert.Equal(t, []string{"B"}, f.node.Participants())
	require.NoError(t, f.node.AddClient(NewClient("again", "A")), "name is free again")
}

func TestParticipantOutboundIsRouted(t *testing.T) {
	f := newHostFixture(t, Options{})

	f.a.Outgoing <- proto.Message{Receiver: proto.Everybody, Text: "from pump"}

	got := mustMessage(t, f.b)
	assert.Equal(t, "A", got.Sender)
	assert.Eventually(t, func() bool { return len(f.y.messages()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Empty(t, f.x.messages())
}

type panickyParticipant struct{ name string }

func (p *panickyParticipant) Name() string                     { return p.name }
func (p *panickyParticipant) Outbound() <-chan proto.Message   { return nil }
func (p *panickyParticipant) AddIncomingMessage(proto.Message) { panic("boom") }
func (p *panickyParticipant) Dispose()                         {}

func TestParticipantPanicBecomesErrorEvent(t *testing.T) {
	f := newHostFixture(t, Options{})
	events, unsubscribe := f.node.Subscribe(8)
	defer unsubscribe()
	require.NoError(t, f.node.AddClient(&panickyParticipant{name: "C"}))

	f.a.Outgoing <- proto.NewSystem("A", "C", "hi")

	ev := mustEvent(t, events, EventError)
	assert.ErrorContains(t, ev.Err, "boom")
}

func TestConnectionLifecycleEvents(t *testing.T) {
	node, err := NewPrimaryNode(context.Background(), Options{})
	require.NoError(t, err)
	events, unsubscribe := node.Subscribe(8)
	defer unsubscribe()

	c := newFakeConn("c", "P", "10.0.0.9:1", true, "P")
	require.NoError(t, node.AddConnection(c))
	require.NoError(t, node.AddConnection(c))
	assert.Equal(t, EventConnectionAdded, mustEvent(t, events, EventConnectionAdded).Kind)
	assert.Len(t, node.Connections(), 1)

	node.OnConnectionClosed(c, true)
	ev := mustEvent(t, events, EventConnectionClosed)
	assert.True(t, ev.WithError)
	assert.Equal(t, "c", ev.ConnID)
	assert.Empty(t, node.Connections())
}

func TestSerializationErrorKeepsConnection(t *testing.T) {
	f := newHostFixture(t, Options{})
	events, unsubscribe := f.node.Subscribe(8)
	defer unsubscribe()

	f.node.OnSerializationError(f.x, proto.ErrMalformedFrame)

	ev := mustEvent(t, events, EventError)
	assert.ErrorIs(t, ev.Err, proto.ErrMalformedFrame)
	assert.False(t, f.x.closed())
	assert.Len(t, f.node.Connections(), 2)
}

func TestDisposeIsIdempotent(t *testing.T) {
	f := newHostFixture(t, Options{})
	events, _ := f.node.Subscribe(8)

	require.NoError(t, f.node.Dispose())
	require.NoError(t, f.node.Dispose())

	_, open := <-f.a.Incoming
	assert.False(t, open)
	assert.True(t, f.x.closed())
	assert.True(t, f.y.closed())

	for range events {
	}
	err := f.node.AddClient(NewClient("late", "late"))
	assert.ErrorIs(t, err, ErrDisposed)
	err = f.node.AddConnection(newFakeConn("late", "", "10.0.0.5:1", false))
	assert.ErrorIs(t, err, ErrDisposed)
}

func TestSubscribeAfterDisposeIsClosed(t *testing.T) {
	node, err := NewPrimaryNode(context.Background(), Options{})
	require.NoError(t, err)
	require.NoError(t, node.Dispose())

	events, unsubscribe := node.Subscribe(1)
	unsubscribe()
	_, open := <-events
	assert.False(t, open)
}

func TestAuthenticateDeclaresIdentity(t *testing.T) {
	f := newHostFixture(t, Options{})
	joiner := newFakeConn("j", "", "10.0.0.7:1", false)
	require.NoError(t, f.node.AddConnection(joiner))

	f.node.OnConnectionMessage(joiner, proto.NewChat("Joe", proto.Everybody, "too early"))
	assert.Empty(t, pending(f.a))

	require.True(t, f.node.Authenticate("j", "Joe", "Joe", "JoeBot"))
	assert.False(t, f.node.Authenticate("missing", "X"))

	f.node.OnConnectionMessage(joiner, proto.NewChat("JoeBot", proto.Everybody, "beep"))
	assert.Len(t, pending(f.a), 1)

	f.node.SendMessage(proto.NewSystem(proto.Authority, proto.Everybody, "ROUND"))
	assert.Len(t, joiner.messages(), 1, "authenticated peers receive broadcasts")
}

func TestRenameClientRekeysParticipant(t *testing.T) {
	f := newHostFixture(t, Options{})

	anon := NewClient("anon", "")
	require.NoError(t, f.node.AddClient(anon))
	require.NoError(t, f.node.RenameClient(anon, "C"))
	assert.Equal(t, "C", anon.Name())
	assert.Equal(t, []string{"A", "B", "C"}, f.node.Participants())

	err := f.node.AddClient(NewClient("other", "C"))
	assert.ErrorIs(t, err, ErrNameExists, "renamed name is taken")

	f.node.SendMessage(proto.NewSystem("A", "C", "YOUR_TURN"))
	got := pending(anon)
	require.Len(t, got, 1)
	assert.Equal(t, "YOUR_TURN", got[0].Text)

	f.node.DeleteClient("C")
	assert.Equal(t, []string{"A", "B"}, f.node.Participants())
}

func TestRenameClientRefusesTakenName(t *testing.T) {
	f := newHostFixture(t, Options{})

	anon := NewClient("anon", "")
	require.NoError(t, f.node.AddClient(anon))

	err := f.node.RenameClient(anon, "A")
	assert.ErrorIs(t, err, ErrNameExists)
	assert.Equal(t, "", anon.Name(), "name unchanged on clash")
	assert.Equal(t, []string{"A", "B"}, f.node.Participants())

	require.NoError(t, f.node.RenameClient(f.a, "A"), "keeping the own name is fine")
	assert.ErrorIs(t, f.node.RenameClient(NewClient("stray", ""), "D"), ErrUnknown)
}
