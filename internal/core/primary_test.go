package core

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/quizwire/internal/proto"
	"github.com/vovakirdan/quizwire/internal/store"
)

type memoryBanStore struct {
	mu   sync.Mutex
	bans map[string]store.Ban
}

func newMemoryBanStore(bans ...store.Ban) *memoryBanStore {
	s := &memoryBanStore{bans: make(map[string]store.Ban)}
	for _, b := range bans {
		s.bans[b.Address] = b
	}
	return s
}

func (s *memoryBanStore) LoadBans(context.Context) ([]store.Ban, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Ban, 0, len(s.bans))
	for _, b := range s.bans {
		out = append(out, b)
	}
	return out, nil
}

func (s *memoryBanStore) SaveBan(_ context.Context, b store.Ban) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bans[b.Address] = b
	return nil
}

func (s *memoryBanStore) DeleteBan(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bans, address)
	return nil
}

func (s *memoryBanStore) Close() error { return nil }

func (s *memoryBanStore) has(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.bans[address]
	return ok
}

func newMockedPrimary(t *testing.T, bans store.BanStore) (*PrimaryNode, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	node, err := NewPrimaryNode(context.Background(), Options{Clock: mock, BanStore: bans})
	require.NoError(t, err)
	t.Cleanup(func() { _ = node.Dispose() })
	return node, mock
}

func TestKickBansAndRefusesUntilExpiry(t *testing.T) {
	node, mock := newMockedPrimary(t, nil)
	events, unsubscribe := node.Subscribe(16)
	defer unsubscribe()

	bob := newFakeConn("bob", "Bob", "192.168.1.7:40000", true, "Bob")
	require.NoError(t, node.AddConnection(bob))

	banID := node.Kick("Bob", false)
	require.NotEmpty(t, banID)
	assert.Empty(t, node.Connections())
	assert.False(t, bob.closed(), "kicked peer gets a grace period to read the notice")
	mock.Add(DefaultRefuseGrace)
	waitClosed(t, bob)

	bans := node.Bans()
	require.Len(t, bans, 1)
	assert.Equal(t, "192.168.1.7", bans[0].Address)
	assert.Equal(t, banID, bans[0].BanID)
	assert.Equal(t, mock.Now().Add(DefaultKickBanDuration-DefaultRefuseGrace), bans[0].Expires)

	again := newFakeConn("bob2", "", "192.168.1.7:40001", false)
	err := node.AddConnection(again)
	require.ErrorIs(t, err, ErrBanned)
	sent := again.messages()
	require.Len(t, sent, 1)
	assert.True(t, sent[0].IsSystem)
	assert.Equal(t, proto.Authority, sent[0].Sender)
	assert.Equal(t, proto.Everybody, sent[0].Receiver)
	assert.Contains(t, sent[0].Text, "banned until 2024-03-01 12:05:00 UTC")
	assert.False(t, again.closed())
	mock.Add(DefaultRefuseGrace)
	waitClosed(t, again)

	mock.Add(DefaultKickBanDuration)
	later := newFakeConn("bob3", "", "192.168.1.7:40002", false)
	require.NoError(t, node.AddConnection(later))
	ev := mustEvent(t, events, EventUnbanned)
	require.NotNil(t, ev.Ban)
	assert.Equal(t, banID, ev.Ban.BanID)
	assert.Empty(t, node.Bans())
}

func TestPermanentKickRefusalText(t *testing.T) {
	node, _ := newMockedPrimary(t, nil)
	require.NoError(t, node.AddConnection(newFakeConn("c", "Cheater", "10.1.1.1:1", true, "Cheater")))

	require.NotEmpty(t, node.Kick("Cheater", true))
	require.True(t, node.Bans()[0].Permanent())

	retry := newFakeConn("r", "", "10.1.1.1:2", false)
	require.ErrorIs(t, node.AddConnection(retry), ErrBanned)
	require.Len(t, retry.messages(), 1)
	assert.Equal(t, "Connection refused: you are banned from this game", retry.messages()[0].Text)
}

func TestKickWithoutResolvableAddress(t *testing.T) {
	node, mock := newMockedPrimary(t, nil)
	piped := newFakeConn("p", "Pipe", "pipe", true, "Pipe")
	require.NoError(t, node.AddConnection(piped))

	assert.Empty(t, node.Kick("Pipe", false))
	mock.Add(DefaultRefuseGrace)
	waitClosed(t, piped)
	assert.Empty(t, node.Bans())

	assert.Empty(t, node.Kick("nobody", true))
}

func TestUnban(t *testing.T) {
	node, _ := newMockedPrimary(t, nil)
	events, unsubscribe := node.Subscribe(16)
	defer unsubscribe()
	require.NoError(t, node.AddConnection(newFakeConn("c", "Carl", "10.2.2.2:1", true, "Carl")))
	banID := node.Kick("Carl", true)

	assert.True(t, node.Unban(banID))
	ev := mustEvent(t, events, EventUnbanned)
	assert.Equal(t, "10.2.2.2", ev.RemoteAddress)
	assert.False(t, node.Unban(banID))
	require.NoError(t, node.AddConnection(newFakeConn("c2", "", "10.2.2.2:2", false)))
}

func TestBansArePersisted(t *testing.T) {
	st := newMemoryBanStore(store.Ban{Address: "10.9.9.9", UserName: "Old", BanID: "old-ban"})
	node, _ := newMockedPrimary(t, st)

	require.Len(t, node.Bans(), 1)
	require.ErrorIs(t, node.AddConnection(newFakeConn("o", "", "10.9.9.9:1", false)), ErrBanned)

	require.NoError(t, node.AddConnection(newFakeConn("n", "New", "10.8.8.8:1", true, "New")))
	node.Kick("New", false)
	assert.True(t, st.has("10.8.8.8"))

	require.True(t, node.Unban("old-ban"))
	assert.False(t, st.has("10.9.9.9"))
}

func TestLocalizedRefusal(t *testing.T) {
	mock := clock.NewMock()
	node, err := NewPrimaryNode(context.Background(), Options{Clock: mock, Localizer: NewLocalizer("ru")})
	require.NoError(t, err)
	defer node.Dispose()
	require.NoError(t, node.AddConnection(newFakeConn("c", "Ivan", "10.3.3.3:1", true, "Ivan")))
	node.Kick("Ivan", true)

	retry := newFakeConn("r", "", "10.3.3.3:2", false)
	require.Error(t, node.AddConnection(retry))
	require.Len(t, retry.messages(), 1)
	assert.True(t, strings.HasPrefix(retry.messages()[0].Text, "Подключение отклонено"))
}

func TestLocalizerFallsBackToEnglish(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "You have been removed from the game", NewLocalizer("not a tag!").Text(TextKicked))
	assert.Equal(t, "You have been removed from the game", NewLocalizer("de").Text(TextKicked))
	assert.Equal(t, "Вас удалили из игры", NewLocalizer("ru-RU").Text(TextKicked))
}

func TestLocalNodeRoutesBetweenParticipants(t *testing.T) {
	node, err := NewLocalNode(context.Background(), Options{})
	require.NoError(t, err)
	defer node.Dispose()

	host := NewClient("h", "Showman")
	player := NewClient("p", "Player")
	require.NoError(t, node.AddClient(host))
	require.NoError(t, node.AddClient(player))

	host.Outgoing <- proto.NewSystem("", "Player", "QUESTION")

	got := mustMessage(t, player)
	assert.Equal(t, "Showman", got.Sender)
	assert.True(t, node.IsServer())
	assert.Empty(t, node.Connections())
}
