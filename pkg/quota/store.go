package quota

import (
	"context"
	"time"
)

// Tx is the view of the store inside one transaction.
type Tx interface {
	// LatestActiveEntitlement returns the most recently created entitlement
	// that is active and unexpired at now, or nil. Implementations lock the
	// row for the rest of the transaction where the engine allows it.
	LatestActiveEntitlement(ctx context.Context, userID string, now time.Time) (*Entitlement, error)
	// LastUsage returns the user's most recent usage record, or nil.
	LastUsage(ctx context.Context, userID string) (*UsageRecord, error)
	CountUsageSince(ctx context.Context, userID string, since time.Time) (int, error)
	UpdateQuotaLeft(ctx context.Context, entitlementID string, quotaLeft int) error
	AppendUsage(ctx context.Context, u *UsageRecord) error

	// EntitlementByOrder returns the entitlement granted for an order, or nil.
	EntitlementByOrder(ctx context.Context, orderID string) (*Entitlement, error)
	InsertEntitlement(ctx context.Context, e *Entitlement) error
	// CancelEntitlements cancels the user's active entitlements for a
	// product and returns how many changed.
	CancelEntitlements(ctx context.Context, userID, product string) (int, error)
}

// Store runs fn in one atomic transaction. If fn returns an error nothing
// is applied.
type Store interface {
	WithinTx(ctx context.Context, fn func(Tx) error) error
}
