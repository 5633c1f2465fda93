package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// dialect captures the differences between the SQL engines.
type dialect struct {
	dollarParams bool
	forUpdate    string
	timeArg      func(time.Time) any
}

func (d dialect) bind(query string) string {
	if !d.dollarParams {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// withinTx is shared by the SQL stores.
func withinTx(ctx context.Context, db *sql.DB, d dialect, fn func(Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqlTx{tx: tx, d: d}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type sqlTx struct {
	tx *sql.Tx
	d  dialect
}

const entitlementColumns = "id, user_id, product, order_id, status, quota_total, quota_left, expires_at, fair_daily_cap, created_at"

func scanEntitlement(row *sql.Row) (*Entitlement, error) {
	var (
		e       Entitlement
		orderID sql.NullString
		status  string
		expires timeValue
		created timeValue
	)
	err := row.Scan(&e.ID, &e.UserID, &e.Product, &orderID, &status, &e.QuotaTotal, &e.QuotaLeft, &expires, &e.FairDailyCap, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.OrderID = orderID.String
	e.Status = Status(status)
	if expires.Valid {
		t := expires.Time
		e.ExpiresAt = &t
	}
	e.CreatedAt = created.Time
	return &e, nil
}

func (t *sqlTx) LatestActiveEntitlement(ctx context.Context, userID string, now time.Time) (*Entitlement, error) {
	q := t.d.bind("SELECT " + entitlementColumns + " FROM entitlements" +
		" WHERE user_id = ? AND status = 'active' AND (expires_at IS NULL OR expires_at > ?)" +
		" ORDER BY created_at DESC LIMIT 1" + t.d.forUpdate)
	e, err := scanEntitlement(t.tx.QueryRowContext(ctx, q, userID, t.d.timeArg(now)))
	if err != nil {
		return nil, fmt.Errorf("failed to load entitlement: %w", err)
	}
	return e, nil
}

func (t *sqlTx) LastUsage(ctx context.Context, userID string) (*UsageRecord, error) {
	q := t.d.bind("SELECT id, user_id, expert, cost, created_at FROM usage_records WHERE user_id = ? ORDER BY created_at DESC LIMIT 1")
	var (
		u       UsageRecord
		created timeValue
	)
	err := t.tx.QueryRowContext(ctx, q, userID).Scan(&u.ID, &u.UserID, &u.Expert, &u.Cost, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load last usage: %w", err)
	}
	u.CreatedAt = created.Time
	return &u, nil
}

func (t *sqlTx) CountUsageSince(ctx context.Context, userID string, since time.Time) (int, error) {
	q := t.d.bind("SELECT COUNT(*) FROM usage_records WHERE user_id = ? AND created_at >= ?")
	var n int
	if err := t.tx.QueryRowContext(ctx, q, userID, t.d.timeArg(since)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count usage: %w", err)
	}
	return n, nil
}

func (t *sqlTx) UpdateQuotaLeft(ctx context.Context, entitlementID string, quotaLeft int) error {
	q := t.d.bind("UPDATE entitlements SET quota_left = ? WHERE id = ?")
	res, err := t.tx.ExecContext(ctx, q, quotaLeft, entitlementID)
	if err != nil {
		return fmt.Errorf("failed to update quota: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n != 1 {
		return fmt.Errorf("failed to update quota: entitlement %s not found", entitlementID)
	}
	return nil
}

func (t *sqlTx) AppendUsage(ctx context.Context, u *UsageRecord) error {
	q := t.d.bind("INSERT INTO usage_records (id, user_id, expert, cost, created_at) VALUES (?, ?, ?, ?, ?)")
	if _, err := t.tx.ExecContext(ctx, q, u.ID, u.UserID, u.Expert, u.Cost, t.d.timeArg(u.CreatedAt)); err != nil {
		return fmt.Errorf("failed to append usage: %w", err)
	}
	return nil
}

func (t *sqlTx) EntitlementByOrder(ctx context.Context, orderID string) (*Entitlement, error) {
	if orderID == "" {
		return nil, nil
	}
	q := t.d.bind("SELECT " + entitlementColumns + " FROM entitlements WHERE order_id = ?")
	e, err := scanEntitlement(t.tx.QueryRowContext(ctx, q, orderID))
	if err != nil {
		return nil, fmt.Errorf("failed to load entitlement by order: %w", err)
	}
	return e, nil
}

func (t *sqlTx) InsertEntitlement(ctx context.Context, e *Entitlement) error {
	q := t.d.bind("INSERT INTO entitlements (" + entitlementColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	var orderID sql.NullString
	if e.OrderID != "" {
		orderID = sql.NullString{String: e.OrderID, Valid: true}
	}
	var expires any
	if e.ExpiresAt != nil {
		expires = t.d.timeArg(*e.ExpiresAt)
	}
	_, err := t.tx.ExecContext(ctx, q,
		e.ID, e.UserID, e.Product, orderID, string(e.Status), e.QuotaTotal, e.QuotaLeft, expires, e.FairDailyCap, t.d.timeArg(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert entitlement: %w", err)
	}
	return nil
}

func (t *sqlTx) CancelEntitlements(ctx context.Context, userID, product string) (int, error) {
	q := t.d.bind("UPDATE entitlements SET status = 'cancelled' WHERE user_id = ? AND product = ? AND status = 'active'")
	res, err := t.tx.ExecContext(ctx, q, userID, product)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel entitlements: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to cancel entitlements: %w", err)
	}
	return int(n), nil
}

// timeValue scans TIMESTAMPTZ values and integer unix nanoseconds.
type timeValue struct {
	Time  time.Time
	Valid bool
}

func (v *timeValue) Scan(src any) error {
	switch x := src.(type) {
	case nil:
		v.Time, v.Valid = time.Time{}, false
	case time.Time:
		v.Time, v.Valid = x.UTC(), true
	case int64:
		v.Time, v.Valid = time.Unix(0, x).UTC(), true
	case []byte:
		return v.parse(string(x))
	case string:
		return v.parse(x)
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
	return nil
}

func (v *timeValue) parse(s string) error {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("invalid time value %q: %w", s, err)
	}
	v.Time, v.Valid = t.UTC(), true
	return nil
}
