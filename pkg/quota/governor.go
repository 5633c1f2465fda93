package quota

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultParallelLimit = 2
	DefaultMinInterval   = 3 * time.Second
	// NoMinInterval as Options.MinInterval turns the flood guard off.
	NoMinInterval time.Duration = -1
)

// Options configure a Governor. Zero values take defaults.
type Options struct {
	ParallelLimit int
	// MinInterval is the flood guard spacing between two consumes of a
	// user. Any negative value, such as NoMinInterval, disables the guard.
	MinInterval time.Duration
	// Location defines local midnight for the daily cap.
	Location *time.Location
	Clock    Clock
	Catalog  Catalog
	Logger   *slog.Logger
}

// Governor admits or rejects usage per user. The in-flight counters belong
// to the instance and are not shared across processes.
type Governor struct {
	store  Store
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	inflight map[string]int
}

func NewGovernor(store Store, opts Options) *Governor {
	if opts.ParallelLimit <= 0 {
		opts.ParallelLimit = DefaultParallelLimit
	}
	if opts.MinInterval < 0 {
		opts.MinInterval = 0
	} else if opts.MinInterval == 0 {
		opts.MinInterval = DefaultMinInterval
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.Catalog == nil {
		opts.Catalog = DefaultCatalog()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Governor{
		store:    store,
		opts:     opts,
		logger:   logger.With("component", "quota"),
		inflight: make(map[string]int),
	}
}

// Catalog returns the product catalog used by Grant.
func (g *Governor) Catalog() Catalog { return g.opts.Catalog }

func (g *Governor) acquire(userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inflight[userID] >= g.opts.ParallelLimit {
		return ErrParallelismExceeded
	}
	g.inflight[userID]++
	return nil
}

func (g *Governor) release(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inflight[userID] <= 1 {
		delete(g.inflight, userID)
		return
	}
	g.inflight[userID]--
}

// InFlight returns the number of open Consume calls for a user.
func (g *Governor) InFlight(userID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inflight[userID]
}

func (g *Governor) midnight(now time.Time) time.Time {
	local := now.In(g.opts.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, g.opts.Location)
}

// Consume runs the parallelism, entitlement, flood and daily cap guards in
// that order and, when all pass, decrements finite quota and appends a
// usage record in one transaction. Any failure leaves the store unchanged.
func (g *Governor) Consume(ctx context.Context, userID, expert string, cost int) (*Receipt, error) {
	if cost < 0 {
		return nil, ErrInvalidCost
	}
	if err := g.acquire(userID); err != nil {
		g.logger.InfoContext(ctx, "consume rejected", "user_id", userID, "expert", expert, "reason", err)
		return nil, err
	}
	defer g.release(userID)

	var receipt *Receipt
	err := g.store.WithinTx(ctx, func(tx Tx) error {
		now := g.opts.Clock.Now()

		ent, err := tx.LatestActiveEntitlement(ctx, userID, now)
		if err != nil {
			return err
		}
		if ent == nil {
			return ErrNoEntitlement
		}
		if !ent.Unlimited() && ent.QuotaLeft < cost {
			return fmt.Errorf("%w: %d left, cost %d", ErrInsufficientQuota, ent.QuotaLeft, cost)
		}

		last, err := tx.LastUsage(ctx, userID)
		if err != nil {
			return err
		}
		if last != nil {
			if elapsed := now.Sub(last.CreatedAt); elapsed < g.opts.MinInterval {
				return &FloodError{RetryAfter: g.opts.MinInterval - elapsed}
			}
		}

		if ent.FairDailyCap > 0 {
			used, err := tx.CountUsageSince(ctx, userID, g.midnight(now))
			if err != nil {
				return err
			}
			if used >= ent.FairDailyCap {
				return fmt.Errorf("%w: %d of %d", ErrDailyCapExceeded, used, ent.FairDailyCap)
			}
		}

		if !ent.Unlimited() {
			ent.QuotaLeft -= cost
			if err := tx.UpdateQuotaLeft(ctx, ent.ID, ent.QuotaLeft); err != nil {
				return err
			}
		}
		usage := UsageRecord{
			ID:        uuid.NewString(),
			UserID:    userID,
			Expert:    expert,
			Cost:      cost,
			CreatedAt: now,
		}
		if err := tx.AppendUsage(ctx, &usage); err != nil {
			return err
		}
		receipt = &Receipt{
			Usage:         usage,
			EntitlementID: ent.ID,
			QuotaLeft:     ent.QuotaLeft,
			Unlimited:     ent.Unlimited(),
		}
		return nil
	})
	if err != nil {
		if IsRejection(err) {
			g.logger.InfoContext(ctx, "consume rejected", "user_id", userID, "expert", expert, "reason", err)
		} else {
			g.logger.ErrorContext(ctx, "consume failed", "user_id", userID, "expert", expert, "error", err)
		}
		return nil, err
	}
	g.logger.DebugContext(ctx, "quota spent", "user_id", userID, "expert", expert, "cost", cost, "quota_left", receipt.QuotaLeft)
	return receipt, nil
}

// Grant creates the entitlement bought by an order. Repeating a grant for
// the same order returns the existing entitlement.
func (g *Governor) Grant(ctx context.Context, userID, productID, orderID string) (*Entitlement, error) {
	product, err := g.opts.Catalog.Lookup(productID)
	if err != nil {
		return nil, err
	}

	var out *Entitlement
	err = g.store.WithinTx(ctx, func(tx Tx) error {
		existing, err := tx.EntitlementByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if existing != nil {
			out = existing
			return nil
		}

		now := g.opts.Clock.Now()
		ent := &Entitlement{
			ID:           uuid.NewString(),
			UserID:       userID,
			Product:      product.ID,
			OrderID:      orderID,
			Status:       StatusActive,
			QuotaTotal:   product.Quota,
			QuotaLeft:    product.Quota,
			FairDailyCap: product.FairDailyCap,
			CreatedAt:    now,
		}
		if d := product.Duration(); d > 0 {
			exp := now.Add(d)
			ent.ExpiresAt = &exp
		}
		if err := tx.InsertEntitlement(ctx, ent); err != nil {
			return err
		}
		out = ent
		return nil
	})
	if err != nil {
		return nil, err
	}
	g.logger.InfoContext(ctx, "entitlement granted", "user_id", userID, "product", productID, "order_id", orderID, "entitlement_id", out.ID)
	return out, nil
}

// Refund cancels the user's active entitlements for a product.
func (g *Governor) Refund(ctx context.Context, userID, productID string) (int, error) {
	if _, err := g.opts.Catalog.Lookup(productID); err != nil {
		return 0, err
	}
	var n int
	err := g.store.WithinTx(ctx, func(tx Tx) error {
		var err error
		n, err = tx.CancelEntitlements(ctx, userID, productID)
		return err
	})
	if err != nil {
		return 0, err
	}
	g.logger.InfoContext(ctx, "entitlements cancelled", "user_id", userID, "product", productID, "count", n)
	return n, nil
}

// Balance reports the usable entitlement and today's usage.
func (g *Governor) Balance(ctx context.Context, userID string) (*Balance, error) {
	b := &Balance{UserID: userID}
	err := g.store.WithinTx(ctx, func(tx Tx) error {
		now := g.opts.Clock.Now()
		ent, err := tx.LatestActiveEntitlement(ctx, userID, now)
		if err != nil {
			return err
		}
		used, err := tx.CountUsageSince(ctx, userID, g.midnight(now))
		if err != nil {
			return err
		}
		b.Entitlement = ent
		b.UsedToday = used
		switch {
		case ent == nil:
			b.Remaining = 0
		case ent.Unlimited():
			b.Remaining = -1
		default:
			b.Remaining = ent.QuotaLeft
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}
