package seed_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WENOTFLY/TGP-ASTRO/pkg/seed"
)

func fixedRequest(nonce int) seed.Request {
	return seed.Request{
		UserID:   "42",
		Expert:   "tarot",
		SpreadID: "three",
		Date:     time.Date(2024, 1, 1, 15, 30, 0, 0, time.UTC),
		Nonce:    nonce,
	}
}

func tenKeys() []string {
	pool := make([]string, 10)
	for i := range pool {
		pool[i] = fmt.Sprintf("k%d", i)
	}
	return pool
}

func TestRequestKey(t *testing.T) {
	assert.Equal(t, "42|tarot|three|20240101|0", fixedRequest(0).Key())
	assert.Equal(t, "42|tarot|three|20240101|17", fixedRequest(17).Key())
}

func TestGenerate(t *testing.T) {
	got := seed.Generate(fixedRequest(0))
	assert.Equal(t, "87264282600335831362416879202759445598742944358734664768125016849026169585980", got.String())
	assert.Equal(t, 0, got.Cmp(seed.Generate(fixedRequest(0))))
	assert.NotEqual(t, 0, got.Cmp(seed.Generate(fixedRequest(1))))
}

func TestStream_KnownAnswer(t *testing.T) {
	// RFC 8439 A.1 vector #1: all-zero key, nonce and counter.
	var zero [32]byte
	assert.Equal(t, uint64(0x903df1a0ade0b876), seed.NewStream(zero).Uint64())

	s := seed.NewStream(seed.Digest(fixedRequest(0)))
	assert.Equal(t, uint64(0x83fa9cb88ec02ba4), s.Uint64())
	assert.Equal(t, uint64(0x013ea5ec65b426be), s.Uint64())
	assert.Equal(t, uint64(0x1f86277d3e90396e), s.Uint64())
}

func TestStream_Bounds(t *testing.T) {
	s := seed.NewStream(seed.Digest(fixedRequest(3)))
	for i := 0; i < 1000; i++ {
		n := uint64(i%37 + 1)
		require.Less(t, s.Uintn(n), n)
		f := s.Float64()
		require.GreaterOrEqual(t, f, 0.0)
		require.Less(t, f, 1.0)
	}
}

func TestDrawUnique_EndToEnd(t *testing.T) {
	items, err := seed.DrawUnique(tenKeys(), 3, fixedRequest(0), seed.Options{})
	require.NoError(t, err)
	assert.Equal(t, []seed.Item{{Key: "k5"}, {Key: "k1"}, {Key: "k2"}}, items)

	again, err := seed.DrawUnique(tenKeys(), 3, fixedRequest(0), seed.Options{})
	require.NoError(t, err)
	assert.Equal(t, items, again)
}

func TestDrawUnique_ReversalInterleaved(t *testing.T) {
	opts := seed.Options{AllowReversed: true, PReversed: 0.5}
	items, err := seed.DrawUnique(tenKeys(), 3, fixedRequest(0), opts)
	require.NoError(t, err)

	// Coins share the stream with selection, so the second pick differs from
	// the draw without reversal.
	assert.Equal(t, []seed.Item{
		{Key: "k5", Reversed: true},
		{Key: "k2", Reversed: true},
		{Key: "k1", Reversed: false},
	}, items)
}

func TestDrawUnique_ReversalExtremes(t *testing.T) {
	never, err := seed.DrawUnique(tenKeys(), 10, fixedRequest(0), seed.Options{AllowReversed: true, PReversed: 0})
	require.NoError(t, err)
	always, err := seed.DrawUnique(tenKeys(), 10, fixedRequest(0), seed.Options{AllowReversed: true, PReversed: 1})
	require.NoError(t, err)

	for i := range never {
		assert.False(t, never[i].Reversed)
		assert.True(t, always[i].Reversed)
	}
}

func TestDrawUnique_NonceSensitivity(t *testing.T) {
	base, err := seed.DrawUnique(tenKeys(), 3, fixedRequest(0), seed.Options{})
	require.NoError(t, err)
	redraw, err := seed.DrawUnique(tenKeys(), 3, fixedRequest(1), seed.Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"k0", "k8", "k2"}, seed.Keys(redraw))
	assert.NotEqual(t, seed.Keys(base), seed.Keys(redraw))

	distinct := map[string]bool{}
	for nonce := 0; nonce < 50; nonce++ {
		items, err := seed.DrawUnique(tenKeys(), 3, fixedRequest(nonce), seed.Options{})
		require.NoError(t, err)
		distinct[fmt.Sprint(seed.Keys(items))] = true
	}
	assert.Greater(t, len(distinct), 40)
}

func TestDrawUnique_Uniqueness(t *testing.T) {
	items, err := seed.DrawUnique(tenKeys(), 10, fixedRequest(9), seed.Options{AllowReversed: true, PReversed: 0.3})
	require.NoError(t, err)
	require.Len(t, items, 10)
	assert.ElementsMatch(t, tenKeys(), seed.Keys(items))
}

func TestDrawUnique_Errors(t *testing.T) {
	tests := []struct {
		name  string
		pool  []string
		count int
		want  error
	}{
		{"count exceeds pool", tenKeys(), 11, seed.ErrInsufficientPool},
		{"empty pool", nil, 1, seed.ErrInsufficientPool},
		{"negative count", tenKeys(), -1, seed.ErrInvalidCount},
		{"duplicate keys", []string{"a", "b", "a"}, 2, seed.ErrDuplicateKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := seed.DrawUnique(tt.pool, tt.count, fixedRequest(0), seed.Options{})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := seed.DrawUnique(tenKeys(), 12, fixedRequest(0), seed.Options{})
	var poolErr *seed.InsufficientPoolError
	require.True(t, errors.As(err, &poolErr))
	assert.Equal(t, 12, poolErr.Requested)
	assert.Equal(t, 10, poolErr.Available)
}

func TestDrawUnique_ZeroCount(t *testing.T) {
	items, err := seed.DrawUnique(tenKeys(), 0, fixedRequest(0), seed.Options{})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDrawUnique_DoesNotMutatePool(t *testing.T) {
	pool := tenKeys()
	_, err := seed.DrawUnique(pool, 5, fixedRequest(4), seed.Options{})
	require.NoError(t, err)
	assert.Equal(t, tenKeys(), pool)
}
