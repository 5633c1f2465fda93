package experts

import (
	"context"
	"fmt"
	"strings"

	"github.com/WENOTFLY/TGP-ASTRO/pkg/compose"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/facts"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/form"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/writer"
)

// Dreams interprets a dream by the lexicon symbols it mentions.
type Dreams struct{ base }

func (e *Dreams) Form(locale string) []form.Field {
	return []form.Field{
		{ID: "dream", Type: form.TypeText, Constraint: "size(value) >= 3 && size(value) <= 2000"},
	}
}

func (e *Dreams) Prepare(ctx context.Context, in Input) (*Prepared, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text := in.String("dream")
	if text == "" {
		return nil, form.Invalid("dream", "is required")
	}
	var draws []Draw
	if lex := e.env.Assets.Lexicon(); lex != nil {
		for _, s := range lex.Match(text) {
			draws = append(draws, Draw{
				Key:     s.Key,
				Name:    s.Name(in.Locale),
				File:    s.File,
				Meaning: s.Meaning.Get(in.Locale),
			})
		}
	}
	return &Prepared{Input: in, Request: e.request(in, string(e.kind)), Draws: draws}, nil
}

func (e *Dreams) Compose(ctx context.Context, p *Prepared) (*Composition, error) {
	opts := compose.Options{Base: "dreams", Title: "dream"}
	plan := compose.Blank(opts)
	if len(p.Draws) > 0 {
		cards := make([]compose.Card, len(p.Draws))
		for i, d := range p.Draws {
			cards[i] = compose.Card{Key: d.Key, File: d.File, Caption: d.Name}
		}
		var err error
		if plan, err = compose.Arrange(cards, compose.LayoutRow, opts); err != nil {
			return nil, fmt.Errorf("arrange symbols: %w", err)
		}
	}
	media, err := e.render(ctx, plan)
	if err != nil {
		return nil, err
	}

	locale := p.Input.Locale
	var fb facts.Builder
	draft := writer.Draft{
		Actions:     e.env.Localizer.Actions(string(e.kind), locale),
		Disclaimers: e.disclaimers(locale, e.env.Localizer.ExpertDisclaimers(string(e.kind), locale)...),
	}
	names := make([]string, len(p.Draws))
	for i, d := range p.Draws {
		fb.Set(fmt.Sprintf("symbol_%d", i+1), d.Name)
		fb.Set(fmt.Sprintf("symbol_%d_meaning", i+1), d.Meaning)
		names[i] = d.Name
		draft.Sections = append(draft.Sections, writer.Section{Title: d.Name, Body: d.Name + ": " + d.Meaning})
	}
	if len(names) > 0 {
		draft.Summary = strings.Join(names, ", ")
	} else {
		draft.Summary = e.env.Localizer.UI("no_symbols", locale)
		draft.Details = draft.Summary
	}
	return &Composition{Prepared: p, Plan: plan, Media: media, Facts: fb.Build(), Draft: draft}, nil
}
