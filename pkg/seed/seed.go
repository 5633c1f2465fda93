// Package seed derives reproducible seeds for expert draws and samples unique
// items from asset pools.
//
// # Algorithm v1
//
// The seed string is "user|expert|spread|YYYYMMDD|nonce" encoded as UTF-8.
// Its SHA-256 digest is both the seed (read as a big-endian unsigned integer)
// and the 32-byte ChaCha20 key (RFC 8439) of the draw stream. The ChaCha20
// nonce is twelve zero bytes and the block counter starts at zero. The
// keystream is consumed as consecutive little-endian uint64 words.
//
// Bounded integers use Lemire's multiply-shift reduction with rejection.
// Unit floats take the top 53 bits of a word. Selection is a forward partial
// Fisher-Yates shuffle over a copy of the pool: position i swaps with
// i+Uintn(len-i) and the element now at i is emitted. When reversal is
// allowed the reversal coin for an item is flipped immediately after that
// item is selected, before the next selection.
//
// Changing any of these steps changes every stored reading and requires a new
// AlgorithmVersion.
package seed

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// AlgorithmVersion identifies the pinned draw algorithm.
const AlgorithmVersion = "v1"

var (
	ErrInsufficientPool = errors.New("seed: not enough unique items to draw")
	ErrInvalidCount     = errors.New("seed: draw count must not be negative")
	ErrDuplicateKey     = errors.New("seed: pool contains duplicate key")
)

// InsufficientPoolError is returned when a draw asks for more items than the
// pool holds.
type InsufficientPoolError struct {
	Requested int
	Available int
}

func (e *InsufficientPoolError) Error() string {
	return fmt.Sprintf("%s: requested %d, pool has %d", ErrInsufficientPool, e.Requested, e.Available)
}

func (e *InsufficientPoolError) Is(target error) bool {
	return target == ErrInsufficientPool
}

// Request is the full key of a deterministic draw.
type Request struct {
	UserID   string
	Expert   string
	SpreadID string
	Date     time.Time
	Nonce    int
}

// Key renders the seed string. Only the calendar date of Date is used.
func (r Request) Key() string {
	var b strings.Builder
	b.WriteString(r.UserID)
	b.WriteByte('|')
	b.WriteString(r.Expert)
	b.WriteByte('|')
	b.WriteString(r.SpreadID)
	b.WriteByte('|')
	b.WriteString(r.Date.Format("20060102"))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(r.Nonce))
	return b.String()
}

// Digest returns the SHA-256 digest of the seed string.
func Digest(r Request) [32]byte {
	return sha256.Sum256([]byte(r.Key()))
}

// Generate returns the seed for r as a non-negative integer.
func Generate(r Request) *big.Int {
	d := Digest(r)
	return new(big.Int).SetBytes(d[:])
}

// Item is one drawn element.
type Item struct {
	Key      string `json:"key"`
	Reversed bool   `json:"reversed"`
}

// Options controls orientation flags.
type Options struct {
	AllowReversed bool
	// PReversed is the probability that an item is reversed.
	PReversed float64
}

// DrawUnique selects count distinct keys from pool in stream order.
//
// Identical pool, count, request and options always yield the identical
// slice, reversal flags included. The pool order is significant.
func DrawUnique(pool []string, count int, r Request, opts Options) ([]Item, error) {
	if count < 0 {
		return nil, ErrInvalidCount
	}
	if count > len(pool) {
		return nil, &InsufficientPoolError{Requested: count, Available: len(pool)}
	}

	seen := make(map[string]struct{}, len(pool))
	for _, k := range pool {
		if _, dup := seen[k]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateKey, k)
		}
		seen[k] = struct{}{}
	}

	s := NewStream(Digest(r))
	work := make([]string, len(pool))
	copy(work, pool)

	items := make([]Item, 0, count)
	for i := 0; i < count; i++ {
		j := i + int(s.Uintn(uint64(len(work)-i)))
		work[i], work[j] = work[j], work[i]

		item := Item{Key: work[i]}
		if opts.AllowReversed {
			item.Reversed = s.Float64() < opts.PReversed
		}
		items = append(items, item)
	}
	return items, nil
}

// Keys returns the keys of items in order.
func Keys(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Key
	}
	return out
}
