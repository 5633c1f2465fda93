package experts

import (
	"context"
	"fmt"

	"github.com/WENOTFLY/TGP-ASTRO/pkg/assets"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/compose"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/facts"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/form"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/seed"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/writer"
)

// briefWriter is the shared implementation of the copywriter and the
// assistant: a theme, an optional brief and one illustration drawn from an
// image pool.
type briefWriter struct {
	base
	pool    string
	baseDir string
	layout  compose.Layout
	// section keys for the theme and the brief
	themeSection, briefSection string
}

// Copywriter drafts marketing copy around a theme with a banner image.
type Copywriter struct{ briefWriter }

func newCopywriter(b base) *Copywriter {
	return &Copywriter{briefWriter{
		base:         b,
		pool:         assets.PoolBanner,
		baseDir:      "banners",
		layout:       compose.LayoutBanner,
		themeSection: "theme",
		briefSection: "brief",
	}}
}

// Assistant answers a free-form request with a poster image.
type Assistant struct{ briefWriter }

func newAssistant(b base) *Assistant {
	return &Assistant{briefWriter{
		base:         b,
		pool:         assets.PoolPoster,
		baseDir:      "posters",
		layout:       compose.LayoutRow,
		themeSection: "request",
		briefSection: "details",
	}}
}

func (e *briefWriter) Form(locale string) []form.Field {
	return []form.Field{
		{ID: "theme", Type: form.TypeString, Constraint: "size(value) <= 200"},
		{ID: "brief", Type: form.TypeText, Optional: true, Constraint: "size(value) <= 2000"},
	}
}

func (e *briefWriter) Prepare(ctx context.Context, in Input) (*Prepared, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	theme := in.String("theme")
	if theme == "" {
		return nil, form.Invalid("theme", "is required")
	}
	req := e.request(in, e.pool)
	p := &Prepared{Input: in, Request: req}

	pool := e.env.Assets.Pool(e.pool)
	if len(pool) == 0 {
		return p, nil
	}
	items, err := seed.DrawUnique(pool, 1, req, seed.Options{})
	if err != nil {
		return nil, fmt.Errorf("draw %s: %w", e.pool, err)
	}
	p.Draws = []Draw{{Key: items[0].Key, File: items[0].Key, Name: theme}}
	return p, nil
}

func (e *briefWriter) Compose(ctx context.Context, p *Prepared) (*Composition, error) {
	theme := p.Input.String("theme")
	brief := p.Input.String("brief")

	opts := compose.Options{Base: e.baseDir, Title: theme}
	plan := compose.Blank(opts)
	if len(p.Draws) > 0 {
		d := p.Draws[0]
		var err error
		plan, err = compose.Arrange([]compose.Card{{Key: d.Key, File: d.File, Caption: theme}}, e.layout, opts)
		if err != nil {
			return nil, fmt.Errorf("arrange %s: %w", e.pool, err)
		}
	}
	media, err := e.render(ctx, plan)
	if err != nil {
		return nil, err
	}

	locale := p.Input.Locale
	title := func(section string) string {
		return e.env.Localizer.SectionTitle(string(e.kind), section, locale)
	}
	var fb facts.Builder
	fb.Set("theme", theme)
	draft := writer.Draft{
		Summary:     theme,
		Sections:    []writer.Section{{Title: title(e.themeSection), Body: theme}},
		Actions:     e.env.Localizer.Actions(string(e.kind), locale),
		Disclaimers: e.disclaimers(locale),
	}
	if brief != "" {
		fb.Set("brief", brief)
		draft.Summary = theme + ": " + brief
		draft.Sections = append(draft.Sections, writer.Section{Title: title(e.briefSection), Body: brief})
	}
	return &Composition{Prepared: p, Plan: plan, Media: media, Facts: fb.Build(), Draft: draft}, nil
}
