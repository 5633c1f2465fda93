package assets

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed defaults
var defaultFS embed.FS

// Pool names used by the text experts.
const (
	PoolBanner = "banner"
	PoolPoster = "poster"
)

var manifestNames = []string{"deck.yaml", "deck.yml", "deck.json", "set.yaml", "set.yml", "set.json"}

var imageExt = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true}

// Catalog indexes decks, the dream lexicon and image pools. It is safe for
// concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	decks   map[string]*Deck
	lexicon *Lexicon
	pools   map[string][]string
}

func NewCatalog() *Catalog {
	return &Catalog{
		decks:   make(map[string]*Deck),
		lexicon: &Lexicon{},
		pools:   make(map[string][]string),
	}
}

// Default returns a catalog built from the embedded decks.
func Default() (*Catalog, error) {
	sub, err := fs.Sub(defaultFS, "defaults")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded assets: %w", err)
	}
	return LoadFS(sub)
}

// LoadDir loads a catalog from an asset directory.
func LoadDir(root string) (*Catalog, error) {
	return LoadFS(os.DirFS(root))
}

// LoadFS loads a catalog laid out as:
//
//	<type>/<id>/deck.{yaml,json} or set.{yaml,json}
//	dreams/lexicon.{yaml,json}
//	banners/*.{png,jpg,webp}, posters/*
//	pools.yaml
func LoadFS(fsys fs.FS) (*Catalog, error) {
	c := NewCatalog()
	logger := slog.Default().With("component", "assets")

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read asset root: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		switch e.Name() {
		case "dreams":
			if err := c.loadLexicon(fsys, "dreams"); err != nil {
				return nil, err
			}
		case "banners":
			c.pools[PoolBanner] = append(c.pools[PoolBanner], imageFiles(fsys, "banners")...)
		case "posters":
			c.pools[PoolPoster] = append(c.pools[PoolPoster], imageFiles(fsys, "posters")...)
		default:
			if err := c.loadType(fsys, e.Name()); err != nil {
				return nil, err
			}
		}
	}

	if data, err := fs.ReadFile(fsys, "pools.yaml"); err == nil {
		var pools map[string][]string
		if err := yaml.Unmarshal(data, &pools); err != nil {
			return nil, fmt.Errorf("failed to parse pools.yaml: %w", err)
		}
		for name, files := range pools {
			c.pools[name] = append(c.pools[name], files...)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read pools.yaml: %w", err)
	}
	for name, files := range c.pools {
		c.pools[name] = dedupe(files)
	}

	logger.Debug("asset catalog loaded", "decks", len(c.decks), "symbols", len(c.lexicon.Symbols))
	return c, nil
}

func (c *Catalog) loadType(fsys fs.FS, dirType string) error {
	decks, err := fs.ReadDir(fsys, dirType)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", dirType, err)
	}
	for _, d := range decks {
		if !d.IsDir() {
			continue
		}
		dir := path.Join(dirType, d.Name())
		m, file, err := readManifest(fsys, dir)
		if err != nil {
			return err
		}
		if err := m.Validate(file, dirType); err != nil {
			return err
		}
		if err := c.Add(NewDeck(m, dir)); err != nil {
			return err
		}
	}
	return nil
}

func readManifest(fsys fs.FS, dir string) (*Manifest, string, error) {
	for _, name := range manifestNames {
		file := path.Join(dir, name)
		data, err := fs.ReadFile(fsys, file)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, file, fmt.Errorf("failed to read manifest %s: %w", file, err)
		}
		var m Manifest
		// JSON manifests parse as YAML.
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, file, &ManifestError{Path: file, Reason: err.Error()}
		}
		return &m, file, nil
	}
	return nil, dir, &ManifestError{Path: dir, Reason: "missing manifest"}
}

func (c *Catalog) loadLexicon(fsys fs.FS, dir string) error {
	for _, name := range []string{"lexicon.yaml", "lexicon.yml", "lexicon.json"} {
		file := path.Join(dir, name)
		data, err := fs.ReadFile(fsys, file)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read lexicon: %w", err)
		}
		var lex Lexicon
		if err := yaml.Unmarshal(data, &lex); err != nil {
			return &ManifestError{Path: file, Reason: err.Error()}
		}
		for i, s := range lex.Symbols {
			if s.Key == "" {
				return &ManifestError{Path: file, Reason: fmt.Sprintf("symbol %d: missing key", i)}
			}
		}
		c.lexicon = &Lexicon{Symbols: lex.Symbols}
		return nil
	}
	return nil
}

func imageFiles(fsys fs.FS, dir string) []string {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && imageExt[strings.ToLower(path.Ext(e.Name()))] {
			out = append(out, e.Name())
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Add registers a deck. Deck ids are unique across types.
func (c *Catalog) Add(d *Deck) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.decks[d.ID]; exists {
		return &ManifestError{Path: d.Dir, Reason: fmt.Sprintf("duplicate deck id %q", d.ID)}
	}
	if d.byKey == nil {
		d.index()
	}
	c.decks[d.ID] = d
	return nil
}

// Deck returns a deck by id.
func (c *Catalog) Deck(id string) (*Deck, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.decks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeckNotFound, id)
	}
	return d, nil
}

// Decks lists decks of a type ("" for all) sorted by id.
func (c *Catalog) Decks(deckType string) []*Deck {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*Deck
	for _, d := range c.decks {
		if deckType == "" || d.Type == deckType {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Lexicon returns the dream lexicon.
func (c *Catalog) Lexicon() *Lexicon {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lexicon
}

// Pool returns a copy of a named image pool in load order.
func (c *Catalog) Pool(name string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.pools[name]...)
}

// SetPool replaces a named image pool.
func (c *Catalog) SetPool(name string, files []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pools[name] = dedupe(append([]string(nil), files...))
}
