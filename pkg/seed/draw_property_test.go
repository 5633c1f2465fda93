//go:build property
// +build property

// Package seed_test contains property-based tests for draw determinism.
package seed_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/WENOTFLY/TGP-ASTRO/pkg/seed"
)

func poolOf(n int) []string {
	pool := make([]string, n)
	for i := range pool {
		pool[i] = fmt.Sprintf("item-%02d", i)
	}
	return pool
}

// Property: DrawUnique(x) == DrawUnique(x) for any request.
func TestDrawDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("identical inputs give identical draws", prop.ForAll(
		func(user string, nonce int, size int, p float64) bool {
			req := seed.Request{UserID: user, Expert: "runes", SpreadID: "runes_three_ppf", Date: time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), Nonce: nonce}
			opts := seed.Options{AllowReversed: true, PReversed: p}
			a, errA := seed.DrawUnique(poolOf(size), size/2, req, opts)
			b, errB := seed.DrawUnique(poolOf(size), size/2, req, opts)
			if errA != nil || errB != nil {
				return false
			}
			if len(a) != len(b) {
				return false
			}
			for i := range a {
				if a[i] != b[i] {
					return false
				}
			}
			return true
		},
		gen.AlphaString(),
		gen.IntRange(0, 1000),
		gen.IntRange(1, 40),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}

// Property: no key repeats and every key comes from the pool.
func TestDrawUniqueness(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("draws never repeat a key", prop.ForAll(
		func(user string, nonce int, size int, count int) bool {
			if count > size {
				count = size
			}
			req := seed.Request{UserID: user, Expert: "lenormand", SpreadID: "leno_grand_tableau_36", Date: time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC), Nonce: nonce}
			pool := poolOf(size)
			items, err := seed.DrawUnique(pool, count, req, seed.Options{})
			if err != nil || len(items) != count {
				return false
			}
			inPool := make(map[string]bool, len(pool))
			for _, k := range pool {
				inPool[k] = true
			}
			seen := make(map[string]bool, count)
			for _, it := range items {
				if seen[it.Key] || !inPool[it.Key] {
					return false
				}
				seen[it.Key] = true
			}
			return true
		},
		gen.AlphaString(),
		gen.IntRange(0, 1000),
		gen.IntRange(0, 36),
		gen.IntRange(0, 36),
	))

	properties.Property("oversized draws fail", prop.ForAll(
		func(size int, extra int) bool {
			_, err := seed.DrawUnique(poolOf(size), size+extra, seed.Request{UserID: "u"}, seed.Options{})
			return err != nil
		},
		gen.IntRange(0, 30),
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}
