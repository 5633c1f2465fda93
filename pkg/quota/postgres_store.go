package quota

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

var postgresDialect = dialect{
	dollarParams: true,
	forUpdate:    " FOR UPDATE",
	timeArg:      func(t time.Time) any { return t.UTC() },
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS entitlements (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	product TEXT NOT NULL,
	order_id TEXT UNIQUE,
	status TEXT NOT NULL,
	quota_total INTEGER NOT NULL,
	quota_left INTEGER NOT NULL,
	expires_at TIMESTAMPTZ,
	fair_daily_cap INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entitlements_user ON entitlements(user_id, status, created_at DESC);
CREATE TABLE IF NOT EXISTS usage_records (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	expert TEXT NOT NULL,
	cost INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_records_user_time ON usage_records(user_id, created_at DESC);
`

// PostgresStore implements Store on PostgreSQL. Consume locks the selected
// entitlement row with SELECT ... FOR UPDATE, so racing consumes for one
// user serialize while other users proceed.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Init creates the tables.
func (s *PostgresStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to migrate quota schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(Tx) error) error {
	return withinTx(ctx, s.db, postgresDialect, fn)
}
