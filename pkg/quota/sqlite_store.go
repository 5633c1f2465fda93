package quota

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	timeArg: func(t time.Time) any { return t.UTC().UnixNano() },
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS entitlements (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	product TEXT NOT NULL,
	order_id TEXT UNIQUE,
	status TEXT NOT NULL,
	quota_total INTEGER NOT NULL,
	quota_left INTEGER NOT NULL,
	expires_at INTEGER,
	fair_daily_cap INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entitlements_user ON entitlements(user_id, status, created_at);
CREATE TABLE IF NOT EXISTS usage_records (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	expert TEXT NOT NULL,
	cost INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_records_user_time ON usage_records(user_id, created_at);
`

// SQLiteStore implements Store on SQLite. Times are stored as unix
// nanoseconds. The pool is limited to one connection, which serializes
// transactions.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore migrates the schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLite opens a database file (or ":memory:") and migrates it.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	s, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.ExecContext(context.Background(), sqliteSchema); err != nil {
		return fmt.Errorf("failed to migrate quota schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(Tx) error) error {
	return withinTx(ctx, s.db, sqliteDialect, fn)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
