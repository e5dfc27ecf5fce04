package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/quizwire/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS bans (
	address    TEXT PRIMARY KEY,
	user_name  TEXT NOT NULL DEFAULT '',
	ban_id     TEXT NOT NULL UNIQUE,
	expires_at INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteStore implements store.BanStore for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.BanStore = (*SQLiteStore)(nil)

// New opens the database at dbPath and creates the schema if needed.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, Migrate)
}

// NewWithSetup opens the database and runs setup on it. Tests pass their
// own setup to control the schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; :memory: requires it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Migrate creates the tables used by the store.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LoadBans returns every stored ban ordered by address.
func (s *SQLiteStore) LoadBans(ctx context.Context) ([]store.Ban, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, user_name, ban_id, expires_at
		FROM bans
		ORDER BY address
	`)
	if err != nil {
		return nil, fmt.Errorf("query bans: %w", err)
	}
	defer rows.Close()

	var bans []store.Ban
	for rows.Next() {
		var (
			b       store.Ban
			expires int64
		)
		if err := rows.Scan(&b.Address, &b.UserName, &b.BanID, &expires); err != nil {
			return nil, fmt.Errorf("scan ban: %w", err)
		}
		if expires != 0 {
			b.Expires = time.UnixMilli(expires).UTC()
		}
		bans = append(bans, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bans: %w", err)
	}
	return bans, nil
}

// SaveBan inserts the ban or replaces the one for the same address.
func (s *SQLiteStore) SaveBan(ctx context.Context, b store.Ban) error {
	var expires int64
	if !b.Permanent() {
		expires = b.Expires.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bans (address, user_name, ban_id, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			user_name = excluded.user_name,
			ban_id = excluded.ban_id,
			expires_at = excluded.expires_at
	`, b.Address, b.UserName, b.BanID, expires)
	if err != nil {
		return fmt.Errorf("save ban: %w", err)
	}
	return nil
}

// DeleteBan removes the ban for address.
func (s *SQLiteStore) DeleteBan(ctx context.Context, address string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM bans WHERE address = ?`, address); err != nil {
		return fmt.Errorf("delete ban: %w", err)
	}
	return nil
}

// GetBan returns the ban for address or store.ErrNotFound.
func (s *SQLiteStore) GetBan(ctx context.Context, address string) (*store.Ban, error) {
	var (
		b       store.Ban
		expires int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT address, user_name, ban_id, expires_at
		FROM bans
		WHERE address = ?
	`, address).Scan(&b.Address, &b.UserName, &b.BanID, &expires)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ban: %w", err)
	}
	if expires != 0 {
		b.Expires = time.UnixMilli(expires).UTC()
	}
	return &b, nil
}
