package writer

import (
	"context"

	"github.com/WENOTFLY/TGP-ASTRO/pkg/facts"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/i18n"
)

// Draft is what an expert wants to say, before phrasing.
type Draft struct {
	Summary  string
	Sections []Section
	// Details becomes a single localized "Details" section when Sections is
	// empty.
	Details     string
	Actions     []string
	Disclaimers []string
}

// Phraser turns a draft into candidate outputs. Equal seeds give equal
// candidate sequences.
type Phraser interface {
	Phrase(d Draft, seed int64) GenerateFunc
}

// Composer renders drafts without a language model.
type Composer struct {
	loc *i18n.Localizer
}

func NewComposer(loc *i18n.Localizer) *Composer {
	if loc == nil {
		loc = i18n.Default()
	}
	return &Composer{loc: loc}
}

// Compose builds an Output from d. Missing disclaimers default to the
// service-wide ones for the locale.
func (c *Composer) Compose(d Draft, locale string) *Output {
	sections := append([]Section(nil), d.Sections...)
	if len(sections) == 0 {
		sections = []Section{{Title: c.loc.UI("details", locale), Body: d.Details}}
	}
	disclaimers := append([]string(nil), d.Disclaimers...)
	if len(disclaimers) == 0 {
		disclaimers = c.loc.Disclaimers(locale)
	}
	actions := append([]string{}, d.Actions...)
	return &Output{
		TLDR:        TruncateTLDR(d.Summary),
		Sections:    sections,
		Actions:     actions,
		Disclaimers: disclaimers,
	}
}

// Generator adapts Compose to the EnsureVerified loop.
func (c *Composer) Generator(d Draft) GenerateFunc {
	return func(_ context.Context, _ facts.Facts, locale string) (*Output, error) {
		return c.Compose(d, locale), nil
	}
}

// Phrase implements Phraser. Templates are deterministic, so seed is unused.
func (c *Composer) Phrase(d Draft, _ int64) GenerateFunc {
	return c.Generator(d)
}
