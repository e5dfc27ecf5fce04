package app

import (
	"bytes"
	"context"
	"io"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/quizwire/internal/config"
	"github.com/vovakirdan/quizwire/internal/core"
	"github.com/vovakirdan/quizwire/internal/proto"
	"github.com/vovakirdan/quizwire/internal/store"
	"github.com/vovakirdan/quizwire/internal/store/sqlite"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.AdminAddr = ""
	cfg.BanDBPath = filepath.Join(t.TempDir(), "bans.db")
	cfg.Keepalive = false
	cfg.AutoReconnect = false
	cfg.DisposeTimeout = time.Second
	cfg.ShutdownTimeout = time.Second
	return cfg
}

func TestHostAndJoinerExchange(t *testing.T) {
	logger := zerolog.Nop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig(t)
	a, err := New(ctx, &cfg, &logger)
	require.NoError(t, err)
	require.NoError(t, a.Listen())

	quizmaster := core.NewClient("qm", "quizmaster")
	require.NoError(t, a.Host().AddClient(quizmaster))

	appDone := make(chan error, 1)
	go func() { appDone <- a.Run(ctx) }()

	joinCfg := cfg
	joinCfg.ConnectPort = a.Addr().(*net.TCPAddr).Port
	joinCfg.UserName = "alice"
	in, input := io.Pipe()
	defer input.Close()
	out := &syncBuffer{}

	j, err := NewJoiner(&joinCfg, in, out, &logger)
	require.NoError(t, err)
	joinDone := make(chan error, 1)
	go func() { joinDone <- j.Run(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "WELCOME alice")
	}, 3*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, j.Node().AddClient(core.NewClient("dup", "alice")), core.ErrNameExists)

	conns := a.Host().Connections()
	require.Len(t, conns, 1)
	assert.Equal(t, "alice", conns[0].UserName)
	assert.True(t, conns[0].Authenticated)
	assert.Equal(t, []string{"alice"}, conns[0].Clients)

	_, err = io.WriteString(input, "hello everyone\n")
	require.NoError(t, err)
	select {
	case m := <-quizmaster.Incoming:
		assert.Equal(t, proto.NewChat("alice", proto.Everybody, "hello everyone"), m)
	case <-time.After(3 * time.Second):
		t.Fatal("quizmaster got nothing")
	}

	quizmaster.Outgoing <- proto.NewChat("", proto.Everybody, "welcome alice")
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "quizmaster: welcome alice")
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-joinDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("joiner did not stop")
	}
	select {
	case err := <-appDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("host did not stop")
	}
}

func TestJoinerRequiresUserName(t *testing.T) {
	logger := zerolog.Nop()
	cfg := testConfig(t)
	_, err := NewJoiner(&cfg, strings.NewReader(""), io.Discard, &logger)
	assert.ErrorIs(t, err, ErrNoUserName)
}

func TestHostLoadsPersistedBans(t *testing.T) {
	logger := zerolog.Nop()
	cfg := testConfig(t)

	st, err := sqlite.New(cfg.BanDBPath)
	require.NoError(t, err)
	ban := store.Ban{Address: "10.1.2.3", UserName: "mallory", BanID: "ban-1"}
	require.NoError(t, st.SaveBan(context.Background(), ban))
	require.NoError(t, st.Close())

	a, err := New(context.Background(), &cfg, &logger)
	require.NoError(t, err)
	assert.Equal(t, []store.Ban{ban}, a.Host().Bans())
	assert.Equal(t, []string{proto.Authority}, a.Host().Participants())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, a.Run(ctx))
}
