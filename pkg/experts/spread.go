package experts

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/WENOTFLY/TGP-ASTRO/pkg/assets"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/compose"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/facts"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/form"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/seed"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/writer"
)

// Spread is a named arrangement. The number of captions is the number of
// items drawn.
type Spread struct {
	ID       string         `json:"id"`
	Layout   compose.Layout `json:"layout"`
	Captions []string       `json:"captions"`
}

// Count is the number of items the spread draws.
func (s *Spread) Count() int { return len(s.Captions) }

func numbered(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = strconv.Itoa(i + 1)
	}
	return out
}

// deckReader is the shared implementation of tarot, runes and lenormand.
type deckReader struct {
	base
	deckType string
	spreads  []*Spread
	// pReversed is zero for decks that are never read reversed.
	pReversed float64
	// factPrefix names the per-item facts: card_1, rune_1, ...
	factPrefix string
	// sentence renders one section body; nil puts all items in a single
	// numbered details block.
	sentence func(d Draw, orientation string) string
}

func (r *deckReader) spread(id string) (*Spread, error) {
	for _, s := range r.spreads {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, &ValidationError{Field: "spread_id", Reason: fmt.Sprintf("unknown spread %q", id), Err: ErrUnknownSpread}
}

// Spreads lists the supported spreads.
func (r *deckReader) Spreads() []*Spread {
	return append([]*Spread(nil), r.spreads...)
}

func (r *deckReader) Form(locale string) []form.Field {
	spreadIDs := make([]string, len(r.spreads))
	for i, s := range r.spreads {
		spreadIDs[i] = s.ID
	}
	var deckIDs []string
	for _, d := range r.env.Assets.Decks(r.deckType) {
		deckIDs = append(deckIDs, d.ID)
	}
	return []form.Field{
		{ID: "deck_id", Type: form.TypeString, Optional: true, Choices: deckIDs, Tip: r.tip("intro", locale)},
		{ID: "spread_id", Type: form.TypeString, Choices: spreadIDs, Tip: r.tip("shuffle", locale)},
		{ID: "question", Type: form.TypeText, Optional: true, Constraint: "size(value) <= 500"},
	}
}

func (r *deckReader) deck(id string) (*assets.Deck, error) {
	if id == "" {
		decks := r.env.Assets.Decks(r.deckType)
		if len(decks) == 0 {
			return nil, fmt.Errorf("%w: no %s decks installed", assets.ErrDeckNotFound, r.deckType)
		}
		return decks[0], nil
	}
	d, err := r.env.Assets.Deck(id)
	if err != nil {
		return nil, &ValidationError{Field: "deck_id", Reason: fmt.Sprintf("unknown deck %q", id), Err: err}
	}
	if d.Type != r.deckType {
		return nil, form.Invalid("deck_id", "deck %q is not a %s deck", id, r.deckType)
	}
	return d, nil
}

func (r *deckReader) Prepare(ctx context.Context, in Input) (*Prepared, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sp, err := r.spread(in.String("spread_id"))
	if err != nil {
		return nil, err
	}
	deck, err := r.deck(in.String("deck_id"))
	if err != nil {
		return nil, err
	}

	req := r.request(in, sp.ID)
	opts := seed.Options{AllowReversed: deck.AllowReversed && r.pReversed > 0, PReversed: r.pReversed}
	items, err := seed.DrawUnique(deck.Keys(), sp.Count(), req, opts)
	if err != nil {
		if errors.Is(err, seed.ErrInsufficientPool) {
			return nil, &ValidationError{Field: "spread_id", Reason: "deck is too small for this spread", Err: err}
		}
		return nil, fmt.Errorf("draw %s: %w", r.kind, err)
	}

	draws := make([]Draw, len(items))
	for i, it := range items {
		item, _ := deck.Item(it.Key)
		draws[i] = Draw{
			Key:      it.Key,
			Name:     item.Name(in.Locale),
			File:     item.File,
			Caption:  sp.Captions[i],
			Reversed: it.Reversed && item.Reversible(),
			Meaning:  item.Meaning.Get(in.Locale),
		}
	}
	return &Prepared{Input: in, Request: req, Spread: sp, Deck: deck, Draws: draws}, nil
}

func orientation(d Draw) string {
	if d.Reversed {
		return "reversed"
	}
	return "upright"
}

func (r *deckReader) Compose(ctx context.Context, p *Prepared) (*Composition, error) {
	cards := make([]compose.Card, len(p.Draws))
	for i, d := range p.Draws {
		cards[i] = compose.Card{Key: d.Key, File: d.File, Caption: d.Caption + ": " + d.Name, Reversed: d.Reversed}
	}
	opts := compose.Options{Base: p.Deck.Dir, Title: p.Spread.ID}
	if w, h, err := p.Deck.Image.Ratio(); err == nil {
		opts.CardWidth = compose.DefaultCardWidth
		opts.CardHeight = compose.DefaultCardWidth * h / w
	}
	plan, err := compose.Arrange(cards, p.Spread.Layout, opts)
	if err != nil {
		return nil, fmt.Errorf("arrange %s: %w", p.Spread.ID, err)
	}
	media, err := r.render(ctx, plan)
	if err != nil {
		return nil, err
	}

	var fb facts.Builder
	names := make([]string, len(p.Draws))
	for i, d := range p.Draws {
		key := fmt.Sprintf("%s_%d", r.factPrefix, i+1)
		fb.Set(key, d.Name)
		if r.pReversed > 0 {
			fb.Set(key+"_orientation", orientation(d))
		}
		names[i] = d.Name
	}

	locale := p.Input.Locale
	draft := writer.Draft{
		Summary:     strings.Join(names, ", "),
		Actions:     r.env.Localizer.Actions(string(r.kind), locale),
		Disclaimers: r.disclaimers(locale, r.env.Localizer.ExpertDisclaimers(string(r.kind), locale)...),
	}
	if r.sentence == nil {
		lines := make([]string, len(p.Draws))
		for i, d := range p.Draws {
			lines[i] = fmt.Sprintf("%d. %s", i+1, d.Name)
		}
		draft.Details = strings.Join(lines, "\n")
	} else {
		for _, d := range p.Draws {
			draft.Sections = append(draft.Sections, writer.Section{
				Title: d.Caption + ": " + d.Name,
				Body:  r.sentence(d, orientation(d)),
			})
		}
	}

	return &Composition{Prepared: p, Plan: plan, Media: media, Facts: fb.Build(), Draft: draft}, nil
}
