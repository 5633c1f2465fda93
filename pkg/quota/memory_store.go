package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Data is sharded per user and a
// transaction locks only the users and order ids it touches, so distinct
// users never wait on each other. Writes are staged until commit.
//
// The first lock a transaction takes blocks. Further locks are tried
// without waiting; when one is busy the transaction is discarded and run
// again from the start.
type MemoryStore struct {
	mu     sync.Mutex // guards shards, orders and owners
	shards map[string]*memoryShard
	orders map[string]string // order id → user id
	owners map[string]string // entitlement id → user id
}

type memoryShard struct {
	mu           sync.Mutex
	entitlements []*Entitlement
	usage        []UsageRecord
}

var errLockBusy = errors.New("quota: memory store lock busy")

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		shards: make(map[string]*memoryShard),
		orders: make(map[string]string),
		owners: make(map[string]string),
	}
}

func userKey(id string) string  { return "user:" + id }
func orderKey(id string) string { return "order:" + id }

func (s *MemoryStore) shard(key string) *memoryShard {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shards[key]
	if !ok {
		sh = &memoryShard{}
		s.shards[key] = sh
	}
	return sh
}

func (s *MemoryStore) orderOwner(orderID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.orders[orderID]
	return u, ok
}

func (s *MemoryStore) entitlementOwner(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.owners[id]
	return u, ok
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(Tx) error) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := &memoryTx{store: s, held: make(map[string]*memoryShard), quota: make(map[string]int)}
		err := fn(tx)
		if err == nil && !tx.busy {
			if err = ctx.Err(); err == nil {
				tx.commit()
			}
		}
		tx.release()
		if !tx.busy {
			return err
		}

		wait := time.Duration(min(attempt, 20)) * 100 * time.Microsecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Entitlements returns copies of all entitlements of a user.
func (s *MemoryStore) Entitlements(userID string) []Entitlement {
	sh := s.shard(userKey(userID))
	sh.mu.Lock()
	defer sh.mu.Unlock()
	out := make([]Entitlement, 0, len(sh.entitlements))
	for _, e := range sh.entitlements {
		out = append(out, *e)
	}
	return out
}

// Usage returns copies of all usage records of a user.
func (s *MemoryStore) Usage(userID string) []UsageRecord {
	sh := s.shard(userKey(userID))
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return append([]UsageRecord(nil), sh.usage...)
}

type cancellation struct{ userID, product string }

type memoryTx struct {
	store *MemoryStore
	held  map[string]*memoryShard
	busy  bool

	quota    map[string]int // entitlement id → staged quota_left
	usage    []UsageRecord
	inserted []*Entitlement
	cancels  []cancellation
}

func (tx *memoryTx) lock(key string) (*memoryShard, error) {
	if sh, ok := tx.held[key]; ok {
		return sh, nil
	}
	sh := tx.store.shard(key)
	if len(tx.held) == 0 {
		sh.mu.Lock()
	} else if !sh.mu.TryLock() {
		tx.busy = true
		return nil, errLockBusy
	}
	tx.held[key] = sh
	return sh, nil
}

func (tx *memoryTx) release() {
	for _, sh := range tx.held {
		sh.mu.Unlock()
	}
	tx.held = nil
}

func (tx *memoryTx) view(e *Entitlement) *Entitlement {
	c := *e
	if left, ok := tx.quota[e.ID]; ok {
		c.QuotaLeft = left
	}
	for _, cn := range tx.cancels {
		if c.UserID == cn.userID && c.Product == cn.product && c.Status == StatusActive {
			c.Status = StatusCancelled
		}
	}
	return &c
}

// entitlementsOf locks the user and returns views of committed and staged
// entitlements.
func (tx *memoryTx) entitlementsOf(userID string) ([]*Entitlement, error) {
	sh, err := tx.lock(userKey(userID))
	if err != nil {
		return nil, err
	}
	out := make([]*Entitlement, 0, len(sh.entitlements)+len(tx.inserted))
	for _, e := range sh.entitlements {
		out = append(out, tx.view(e))
	}
	for _, e := range tx.inserted {
		if e.UserID == userID {
			out = append(out, tx.view(e))
		}
	}
	return out, nil
}

func (tx *memoryTx) usageOf(userID string) ([]UsageRecord, error) {
	sh, err := tx.lock(userKey(userID))
	if err != nil {
		return nil, err
	}
	out := append([]UsageRecord(nil), sh.usage...)
	for _, u := range tx.usage {
		if u.UserID == userID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (tx *memoryTx) LatestActiveEntitlement(ctx context.Context, userID string, now time.Time) (*Entitlement, error) {
	ents, err := tx.entitlementsOf(userID)
	if err != nil {
		return nil, err
	}
	var best *Entitlement
	for _, e := range ents {
		if !e.Usable(now) {
			continue
		}
		if best == nil || e.CreatedAt.After(best.CreatedAt) {
			best = e
		}
	}
	return best, nil
}

func (tx *memoryTx) LastUsage(ctx context.Context, userID string) (*UsageRecord, error) {
	usage, err := tx.usageOf(userID)
	if err != nil {
		return nil, err
	}
	var last *UsageRecord
	for i := range usage {
		if last == nil || usage[i].CreatedAt.After(last.CreatedAt) {
			last = &usage[i]
		}
	}
	return last, nil
}

func (tx *memoryTx) CountUsageSince(ctx context.Context, userID string, since time.Time) (int, error) {
	usage, err := tx.usageOf(userID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, u := range usage {
		if !u.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (tx *memoryTx) UpdateQuotaLeft(ctx context.Context, entitlementID string, quotaLeft int) error {
	owner, ok := tx.store.entitlementOwner(entitlementID)
	for _, e := range tx.inserted {
		if e.ID == entitlementID {
			owner, ok = e.UserID, true
		}
	}
	if !ok {
		return fmt.Errorf("failed to update quota: entitlement %s not found", entitlementID)
	}
	if _, err := tx.lock(userKey(owner)); err != nil {
		return err
	}
	tx.quota[entitlementID] = quotaLeft
	return nil
}

func (tx *memoryTx) AppendUsage(ctx context.Context, u *UsageRecord) error {
	usage, err := tx.usageOf(u.UserID)
	if err != nil {
		return err
	}
	for _, existing := range usage {
		if existing.ID == u.ID {
			return fmt.Errorf("failed to append usage: duplicate id %s", u.ID)
		}
	}
	tx.usage = append(tx.usage, *u)
	return nil
}

func (tx *memoryTx) EntitlementByOrder(ctx context.Context, orderID string) (*Entitlement, error) {
	if orderID == "" {
		return nil, nil
	}
	if _, err := tx.lock(orderKey(orderID)); err != nil {
		return nil, err
	}
	for _, e := range tx.inserted {
		if e.OrderID == orderID {
			return tx.view(e), nil
		}
	}
	owner, ok := tx.store.orderOwner(orderID)
	if !ok {
		return nil, nil
	}
	ents, err := tx.entitlementsOf(owner)
	if err != nil {
		return nil, err
	}
	for _, e := range ents {
		if e.OrderID == orderID {
			return e, nil
		}
	}
	return nil, nil
}

func (tx *memoryTx) InsertEntitlement(ctx context.Context, e *Entitlement) error {
	if e.OrderID != "" {
		if _, err := tx.lock(orderKey(e.OrderID)); err != nil {
			return err
		}
		if _, dup := tx.store.orderOwner(e.OrderID); dup {
			return fmt.Errorf("failed to insert entitlement: duplicate order %s", e.OrderID)
		}
	}
	if _, err := tx.lock(userKey(e.UserID)); err != nil {
		return err
	}
	if _, dup := tx.store.entitlementOwner(e.ID); dup {
		return fmt.Errorf("failed to insert entitlement: duplicate id %s", e.ID)
	}
	for _, staged := range tx.inserted {
		if staged.ID == e.ID || (e.OrderID != "" && staged.OrderID == e.OrderID) {
			return fmt.Errorf("failed to insert entitlement: duplicate id or order %s", e.ID)
		}
	}
	c := *e
	tx.inserted = append(tx.inserted, &c)
	return nil
}

func (tx *memoryTx) CancelEntitlements(ctx context.Context, userID, product string) (int, error) {
	ents, err := tx.entitlementsOf(userID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range ents {
		if e.Product == product && e.Status == StatusActive {
			n++
		}
	}
	tx.cancels = append(tx.cancels, cancellation{userID: userID, product: product})
	return n, nil
}

// commit applies staged writes. Every touched user is locked by tx.
func (tx *memoryTx) commit() {
	s := tx.store
	s.mu.Lock()
	for _, e := range tx.inserted {
		s.owners[e.ID] = e.UserID
		if e.OrderID != "" {
			s.orders[e.OrderID] = e.UserID
		}
	}
	s.mu.Unlock()

	for _, e := range tx.inserted {
		sh := tx.held[userKey(e.UserID)]
		sh.entitlements = append(sh.entitlements, e)
	}
	for _, sh := range tx.held {
		for i, e := range sh.entitlements {
			sh.entitlements[i] = tx.view(e)
		}
	}
	for _, u := range tx.usage {
		sh := tx.held[userKey(u.UserID)]
		sh.usage = append(sh.usage, u)
	}
}
