package assets_test

import (
	"errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WENOTFLY/TGP-ASTRO/pkg/assets"
)

func TestDefault(t *testing.T) {
	c, err := assets.Default()
	require.NoError(t, err)

	tarot, err := c.Deck("major")
	require.NoError(t, err)
	assert.Equal(t, "tarot", tarot.Type)
	assert.True(t, tarot.AllowReversed)
	assert.Len(t, tarot.Keys(), 22)
	fool, ok := tarot.Item("major_0")
	require.True(t, ok)
	assert.Equal(t, "The Fool", fool.Name("en"))
	assert.Equal(t, "Шут", fool.Name("ru"))
	assert.Equal(t, "The Fool", fool.Name("de"))

	runes, err := c.Deck("elder_futhark")
	require.NoError(t, err)
	assert.Len(t, runes.Items, 24)
	gebo, _ := runes.Item("gebo")
	fehu, _ := runes.Item("fehu")
	assert.False(t, gebo.Reversible())
	assert.True(t, fehu.Reversible())

	leno, err := c.Deck("classic")
	require.NoError(t, err)
	assert.Len(t, leno.Items, 36)
	assert.False(t, leno.AllowReversed)

	assert.Len(t, c.Decks(""), 3)
	assert.Len(t, c.Decks("runes"), 1)
	assert.NotEmpty(t, c.Pool(assets.PoolBanner))
	assert.NotEmpty(t, c.Pool(assets.PoolPoster))

	_, err = c.Deck("missing")
	assert.ErrorIs(t, err, assets.ErrDeckNotFound)
}

func TestLexiconMatch(t *testing.T) {
	c, err := assets.Default()
	require.NoError(t, err)
	lex := c.Lexicon()

	keys := func(symbols []assets.Symbol) []string {
		out := make([]string, len(symbols))
		for i, s := range symbols {
			out[i] = s.Key
		}
		return out
	}

	assert.Equal(t, []string{"water", "flying"}, keys(lex.Match("I was FLYING over the sea")))
	assert.Equal(t, []string{"snake", "house"}, keys(lex.Match("Мне снилась змея у дома.")))
	assert.Empty(t, lex.Match("a butterfly in the seaside town"))
	assert.Empty(t, lex.Match(""))
}

const sampleDeck = `{
  "deck_id": "sample",
  "name": {"en": "Sample", "ru": "Пример"},
  "type": "tarot",
  "image": {"aspect_ratio": "3:5", "allow_reversed": true, "default_back": "back.png"},
  "cards": [
    {"key": "major_0", "display": {"en": "Zero", "ru": "Ноль"}, "file": "0.png"},
    {"key": "major_1", "display": {"en": "One"}, "file": "1.png"}
  ]
}`

func TestLoadFS(t *testing.T) {
	fsys := fstest.MapFS{
		"tarot/sample/deck.json":   {Data: []byte(sampleDeck)},
		"tarot/sample/cards/0.png": {Data: []byte{}},
		"banners/b.png":            {Data: []byte{}},
		"banners/a.webp":           {Data: []byte{}},
		"banners/readme.txt":       {Data: []byte("x")},
		"pools.yaml":               {Data: []byte("banner: [c.png, a.webp]\nposter: [p.png]\n")},
		"dreams/lexicon.yaml":      {Data: []byte("symbols:\n  - key: cat\n    synonyms: [kitten]\n")},
		"runes/empty/.keep":        {Data: []byte{}},
		"runes/empty/set.yaml":     {Data: []byte("set_id: empty\ntype: runes\nname: {en: E}\nimage: {aspect_ratio: \"1:1\"}\nrunes:\n  - {key: a, display: {en: A}, file: a.png}\n")},
	}
	c, err := assets.LoadFS(fsys)
	require.NoError(t, err)

	d, err := c.Deck("sample")
	require.NoError(t, err)
	assert.Equal(t, []string{"major_0", "major_1"}, d.Keys())
	assert.Equal(t, "tarot/sample", d.Dir)
	assert.Equal(t, "Sample", d.Name.Get("de"))

	assert.Equal(t, []string{"a.webp", "b.png", "c.png"}, c.Pool(assets.PoolBanner))
	assert.Equal(t, []string{"p.png"}, c.Pool(assets.PoolPoster))
	require.Len(t, c.Lexicon().Match("my kitten"), 1)
	assert.Equal(t, "Cat", c.Lexicon().Match("a cat")[0].Name("en"))
}

func TestLoadFS_Invalid(t *testing.T) {
	tests := []struct {
		name string
		fs   fstest.MapFS
	}{
		{"missing manifest", fstest.MapFS{"tarot/x/cards/0.png": {}}},
		{"type mismatch", fstest.MapFS{"runes/sample/deck.json": {Data: []byte(sampleDeck)}}},
		{"missing id", fstest.MapFS{"tarot/x/deck.yaml": {Data: []byte("type: tarot\nname: {en: X}\nimage: {aspect_ratio: \"3:5\"}\ncards: [{key: a, display: {en: A}, file: a.png}]\n")}}},
		{"missing name", fstest.MapFS{"tarot/x/deck.yaml": {Data: []byte("deck_id: x\ntype: tarot\nimage: {aspect_ratio: \"3:5\"}\ncards: [{key: a, display: {en: A}, file: a.png}]\n")}}},
		{"bad aspect ratio", fstest.MapFS{"tarot/x/deck.yaml": {Data: []byte("deck_id: x\ntype: tarot\nname: {en: X}\nimage: {aspect_ratio: \"wide\"}\ncards: [{key: a, display: {en: A}, file: a.png}]\n")}}},
		{"no items", fstest.MapFS{"tarot/x/deck.yaml": {Data: []byte("deck_id: x\ntype: tarot\nname: {en: X}\nimage: {aspect_ratio: \"3:5\"}\ncards: []\n")}}},
		{"item without file", fstest.MapFS{"tarot/x/deck.yaml": {Data: []byte("deck_id: x\ntype: tarot\nname: {en: X}\nimage: {aspect_ratio: \"3:5\"}\ncards: [{key: a, display: {en: A}}]\n")}}},
		{"duplicate key", fstest.MapFS{"tarot/x/deck.yaml": {Data: []byte("deck_id: x\ntype: tarot\nname: {en: X}\nimage: {aspect_ratio: \"3:5\"}\ncards: [{key: a, display: {en: A}, file: a.png}, {key: a, display: {en: B}, file: b.png}]\n")}}},
		{"duplicate deck id", fstest.MapFS{
			"tarot/sample/deck.json":     {Data: []byte(sampleDeck)},
			"tarot/sample_two/deck.json": {Data: []byte(sampleDeck)},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := assets.LoadFS(tt.fs)
			require.Error(t, err)
			assert.ErrorIs(t, err, assets.ErrInvalidManifest)

			var me *assets.ManifestError
			assert.True(t, errors.As(err, &me))
		})
	}
}

func TestImageConfigRatio(t *testing.T) {
	w, h, err := assets.ImageConfig{AspectRatio: "3:5"}.Ratio()
	require.NoError(t, err)
	assert.Equal(t, 3, w)
	assert.Equal(t, 5, h)

	for _, bad := range []string{"", "3", "0:5", "3:x"} {
		_, _, err := assets.ImageConfig{AspectRatio: bad}.Ratio()
		assert.Error(t, err, bad)
	}
}
