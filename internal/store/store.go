package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Ban represents an address refused by the hosting node.
type Ban struct {
	Address  string    `json:"address"`
	UserName string    `json:"user_name"`
	BanID    string    `json:"ban_id"`
	Expires  time.Time `json:"expires,omitzero"` // zero for permanent bans
}

// Permanent reports whether the ban never expires.
func (b Ban) Permanent() bool {
	return b.Expires.IsZero()
}

// Active reports whether the ban still applies at now.
func (b Ban) Active(now time.Time) bool {
	return b.Permanent() || now.Before(b.Expires)
}

// BanStore persists the ban table across restarts.
type BanStore interface {
	// LoadBans returns every stored ban, expired ones included.
	LoadBans(ctx context.Context) ([]Ban, error)
	// SaveBan inserts or replaces the ban for b.Address.
	SaveBan(ctx context.Context, b Ban) error
	// DeleteBan removes the ban for address. Deleting a missing ban is not an error.
	DeleteBan(ctx context.Context, address string) error
	Close() error
}
