// Package quota implements per-user admission control: a parallelism limit,
// entitlement and balance checks, flood control and a fair daily cap, with
// the usage commit applied atomically.
package quota

import (
	"time"
)

// Status of an entitlement.
type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
)

// Entitlement is a user's purchased allowance.
//
// QuotaTotal == 0 marks an unlimited entitlement, valid until ExpiresAt.
// A finite entitlement whose QuotaLeft reaches zero is exhausted, not
// unlimited.
type Entitlement struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Product      string     `json:"product"`
	OrderID      string     `json:"order_id,omitempty"`
	Status       Status     `json:"status"`
	QuotaTotal   int        `json:"quota_total"`
	QuotaLeft    int        `json:"quota_left"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	FairDailyCap int        `json:"fair_daily_cap"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Unlimited reports whether the entitlement has no use count.
func (e *Entitlement) Unlimited() bool {
	return e.QuotaTotal == 0
}

// Usable reports whether the entitlement is active and unexpired at now.
func (e *Entitlement) Usable(now time.Time) bool {
	return e.Status == StatusActive && (e.ExpiresAt == nil || e.ExpiresAt.After(now))
}

// UsageRecord is one committed consumption. Records are append-only.
type UsageRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Expert    string    `json:"expert"`
	Cost      int       `json:"cost"`
	CreatedAt time.Time `json:"created_at"`
}

// Receipt is returned by a successful Consume.
type Receipt struct {
	Usage         UsageRecord `json:"usage"`
	EntitlementID string      `json:"entitlement_id"`
	QuotaLeft     int         `json:"quota_left"`
	Unlimited     bool        `json:"unlimited"`
}

// Balance summarizes a user's allowance.
type Balance struct {
	UserID      string       `json:"user_id"`
	Entitlement *Entitlement `json:"entitlement,omitempty"`
	UsedToday   int          `json:"used_today"`
	// Remaining is -1 for unlimited entitlements.
	Remaining int `json:"remaining"`
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}
