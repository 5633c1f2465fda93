// Package assets holds the deck, rune set, dream lexicon and banner pools
// that experts draw from.
package assets

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrInvalidManifest = errors.New("assets: invalid manifest")
	ErrDeckNotFound    = errors.New("assets: deck not found")
)

// ManifestError reports a manifest that failed validation.
type ManifestError struct {
	Path   string
	Reason string
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidManifest, e.Path, e.Reason)
}

func (e *ManifestError) Is(target error) bool { return target == ErrInvalidManifest }

// Localized maps a locale to a string.
type Localized map[string]string

// Get returns the value for locale, then "en", then the first value in key
// order, then "".
func (l Localized) Get(locale string) string {
	if s := l[locale]; s != "" {
		return s
	}
	if s := l["en"]; s != "" {
		return s
	}
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if l[k] != "" {
			return l[k]
		}
	}
	return ""
}

// ImageConfig describes the artwork of a deck.
type ImageConfig struct {
	AspectRatio   string `yaml:"aspect_ratio" json:"aspect_ratio"`
	AllowReversed bool   `yaml:"allow_reversed" json:"allow_reversed"`
	DefaultBack   string `yaml:"default_back,omitempty" json:"default_back,omitempty"`
}

// Ratio parses AspectRatio ("W:H").
func (c ImageConfig) Ratio() (w, h int, err error) {
	a, b, ok := strings.Cut(c.AspectRatio, ":")
	if !ok {
		return 0, 0, fmt.Errorf("aspect ratio %q is not W:H", c.AspectRatio)
	}
	if w, err = strconv.Atoi(strings.TrimSpace(a)); err != nil || w <= 0 {
		return 0, 0, fmt.Errorf("aspect ratio %q has a bad width", c.AspectRatio)
	}
	if h, err = strconv.Atoi(strings.TrimSpace(b)); err != nil || h <= 0 {
		return 0, 0, fmt.Errorf("aspect ratio %q has a bad height", c.AspectRatio)
	}
	return w, h, nil
}

// Item is one card or rune.
type Item struct {
	Key     string    `yaml:"key" json:"key"`
	Display Localized `yaml:"display" json:"display"`
	File    string    `yaml:"file" json:"file"`
	// CanReverse defaults to true; symmetrical runes set it to false.
	CanReverse *bool     `yaml:"can_reverse,omitempty" json:"can_reverse,omitempty"`
	Meaning    Localized `yaml:"meaning,omitempty" json:"meaning,omitempty"`
}

// Name returns the display name for locale, falling back to the key.
func (it Item) Name(locale string) string {
	if s := it.Display.Get(locale); s != "" {
		return s
	}
	return it.Key
}

// Reversible reports whether the item may be drawn reversed.
func (it Item) Reversible() bool {
	return it.CanReverse == nil || *it.CanReverse
}

// Manifest is the on-disk description of a deck (deck_id, cards) or rune set
// (set_id, runes).
type Manifest struct {
	DeckID string      `yaml:"deck_id,omitempty"`
	SetID  string      `yaml:"set_id,omitempty"`
	Type   string      `yaml:"type"`
	Name   Localized   `yaml:"name"`
	Image  ImageConfig `yaml:"image"`
	Cards  []Item      `yaml:"cards,omitempty"`
	Runes  []Item      `yaml:"runes,omitempty"`
}

// Validate checks the manifest against the type implied by its directory.
func (m *Manifest) Validate(path, dirType string) error {
	fail := func(format string, args ...any) error {
		return &ManifestError{Path: path, Reason: fmt.Sprintf(format, args...)}
	}
	if m.DeckID == "" && m.SetID == "" {
		return fail("missing deck_id or set_id")
	}
	if m.Type != dirType {
		return fail("type mismatch for %s: %q != %q", m.id(), m.Type, dirType)
	}
	if len(m.Name) == 0 {
		return fail("missing name")
	}
	if m.Image.AspectRatio == "" {
		return fail("missing image.aspect_ratio")
	}
	if _, _, err := m.Image.Ratio(); err != nil {
		return fail("%v", err)
	}
	items := m.items()
	if len(items) == 0 {
		return fail("no cards or runes")
	}
	seen := make(map[string]struct{}, len(items))
	for i, it := range items {
		switch {
		case it.Key == "":
			return fail("item %d: missing key", i)
		case len(it.Display) == 0:
			return fail("item %q: missing display", it.Key)
		case it.File == "":
			return fail("item %q: missing file", it.Key)
		}
		if _, dup := seen[it.Key]; dup {
			return fail("duplicate key %q", it.Key)
		}
		seen[it.Key] = struct{}{}
	}
	return nil
}

func (m *Manifest) id() string {
	if m.DeckID != "" {
		return m.DeckID
	}
	return m.SetID
}

func (m *Manifest) items() []Item {
	if len(m.Cards) > 0 {
		return m.Cards
	}
	return m.Runes
}

// Deck is a validated, indexed manifest.
type Deck struct {
	ID            string      `json:"id"`
	Type          string      `json:"type"`
	Name          Localized   `json:"name"`
	Image         ImageConfig `json:"image"`
	AllowReversed bool        `json:"allow_reversed"`
	Items         []Item      `json:"items"`
	// Dir is the deck directory relative to the catalog root.
	Dir string `json:"-"`

	byKey map[string]int
}

// NewDeck indexes a validated manifest.
func NewDeck(m *Manifest, dir string) *Deck {
	d := &Deck{
		ID:            m.id(),
		Type:          m.Type,
		Name:          m.Name,
		Image:         m.Image,
		AllowReversed: m.Image.AllowReversed,
		Items:         append([]Item(nil), m.items()...),
		Dir:           dir,
	}
	d.index()
	return d
}

func (d *Deck) index() {
	d.byKey = make(map[string]int, len(d.Items))
	for i, it := range d.Items {
		d.byKey[it.Key] = i
	}
}

// Keys returns the draw pool in manifest order.
func (d *Deck) Keys() []string {
	keys := make([]string, len(d.Items))
	for i, it := range d.Items {
		keys[i] = it.Key
	}
	return keys
}

// Item looks up an item by key.
func (d *Deck) Item(key string) (Item, bool) {
	i, ok := d.byKey[key]
	if !ok {
		return Item{}, false
	}
	return d.Items[i], true
}
