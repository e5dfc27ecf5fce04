package core

import (
	"net"
	"slices"
	"sync"

	"github.com/vovakirdan/quizwire/internal/proto"
)

// Connection is one remote peer as seen by a node. Implementations own a
// socket and serialize their own writes; Send never blocks and Close is
// idempotent.
type Connection interface {
	// ID is the opaque per-process identifier.
	ID() string
	// ConnectionID is the session-resumption token negotiated at handshake.
	ConnectionID() string
	RemoteAddress() string

	UserName() string
	SetUserName(name string)
	GameID() string
	SetGameID(id string)
	IsAuthenticated() bool
	SetAuthenticated(v bool)

	// Clients returns the declared participant names multiplexed over this
	// connection, in declaration order.
	Clients() []string
	AddClient(name string)
	RemoveClient(name string)
	HasClient(name string) bool

	Send(m proto.Message)
	Close()
	Done() <-chan struct{}
}

// Sink receives the callbacks of a connection's reader and writer.
type Sink interface {
	OnConnectionMessage(c Connection, m proto.Message)
	OnConnectionClosed(c Connection, withError bool)
	OnSerializationError(c Connection, err error)
	OnConnectionError(c Connection, err error, isWarning bool)
}

// Identity holds the mutable identity part of a connection. Transports
// embed it to satisfy the identity half of Connection.
type Identity struct {
	mu            sync.RWMutex
	userName      string
	gameID        string
	authenticated bool
	clients       []string
}

func (i *Identity) UserName() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.userName
}

func (i *Identity) SetUserName(name string) {
	i.mu.Lock()
	i.userName = name
	i.mu.Unlock()
}

func (i *Identity) GameID() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.gameID
}

func (i *Identity) SetGameID(id string) {
	i.mu.Lock()
	i.gameID = id
	i.mu.Unlock()
}

func (i *Identity) IsAuthenticated() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.authenticated
}

func (i *Identity) SetAuthenticated(v bool) {
	i.mu.Lock()
	i.authenticated = v
	i.mu.Unlock()
}

func (i *Identity) Clients() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return slices.Clone(i.clients)
}

// AddClient appends name unless it is already declared.
func (i *Identity) AddClient(name string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !slices.Contains(i.clients, name) {
		i.clients = append(i.clients, name)
	}
}

func (i *Identity) RemoveClient(name string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if idx := slices.Index(i.clients, name); idx >= 0 {
		i.clients = slices.Delete(i.clients, idx, idx+1)
	}
}

func (i *Identity) HasClient(name string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return slices.Contains(i.clients, name)
}

// ConnectionInfo is a point-in-time view of a connection.
type ConnectionInfo struct {
	ID            string   `json:"id"`
	ConnectionID  string   `json:"connection_id"`
	RemoteAddress string   `json:"remote_address"`
	UserName      string   `json:"user_name"`
	GameID        string   `json:"game_id,omitempty"`
	Authenticated bool     `json:"authenticated"`
	Clients       []string `json:"clients"`
}

func describe(c Connection) ConnectionInfo {
	return ConnectionInfo{
		ID:            c.ID(),
		ConnectionID:  c.ConnectionID(),
		RemoteAddress: c.RemoteAddress(),
		UserName:      c.UserName(),
		GameID:        c.GameID(),
		Authenticated: c.IsAuthenticated(),
		Clients:       c.Clients(),
	}
}

// hostOf extracts the host part used as ban identity. It returns "" when
// the address cannot be resolved.
func hostOf(addr string) string {
	if addr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return ""
	}
	return host
}
