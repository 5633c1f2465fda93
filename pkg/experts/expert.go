// Package experts implements the closed set of expert pipelines. Every
// expert runs the same stages: form, prepare, compose, write and verify.
package experts

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/WENOTFLY/TGP-ASTRO/pkg/assets"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/compose"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/facts"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/form"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/i18n"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/seed"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/writer"
)

// Kind identifies an expert.
type Kind string

const (
	KindTarot      Kind = "tarot"
	KindRunes      Kind = "runes"
	KindLenormand  Kind = "lenormand"
	KindAstrology  Kind = "astrology"
	KindNumerology Kind = "numerology"
	KindDreams     Kind = "dreams"
	KindCopywriter Kind = "copywriter"
	KindAssistant  Kind = "assistant"
)

// Kinds lists every expert in menu order.
var Kinds = []Kind{
	KindTarot, KindRunes, KindLenormand, KindAstrology,
	KindNumerology, KindDreams, KindCopywriter, KindAssistant,
}

// ParseKind validates an expert id.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownExpert, s)
}

// ValidationError reports input an expert cannot work with.
type ValidationError = form.ValidationError

// Version is the default version of the built-in experts.
const Version = "1.0.0"

// DefaultProducts are the catalog products that pay for an expert.
var DefaultProducts = []string{"pack_3", "pack_10", "sub_30d", "unlimited_30d"}

// Expert is one pipeline variant. The interface is sealed: only this
// package provides implementations.
type Expert interface {
	ID() Kind
	Version() string
	Form(locale string) []form.Field
	Prepare(ctx context.Context, in Input) (*Prepared, error)
	Compose(ctx context.Context, p *Prepared) (*Composition, error)
	Write(ctx context.Context, c *Composition) (*writer.Output, error)
	Verify(c *Composition, out *writer.Output) writer.Result
	Cost() int
	CTA(locale string) []string
	Products() []string

	sealed()
}

// Input is validated form data plus the request context.
type Input struct {
	UserID string
	// Date is the logical date of the request; only the calendar day is
	// used for seeding.
	Date   time.Time
	Nonce  int
	Locale string
	Values map[string]any
}

// String returns a string value, or "" when absent.
func (in Input) String(key string) string {
	switch v := in.Values[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Float returns a numeric value.
func (in Input) Float(key string) (float64, error) {
	switch v := in.Values[key].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case nil:
		return 0, form.Invalid(key, "is required")
	default:
		return 0, form.Invalid(key, "must be a number")
	}
}

// DateValue parses a YYYY-MM-DD value.
func (in Input) DateValue(key string) (time.Time, error) {
	s := in.String(key)
	if s == "" {
		return time.Time{}, form.Invalid(key, "is required")
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, &ValidationError{Field: key, Reason: "must be a date in YYYY-MM-DD format", Err: err}
	}
	return t, nil
}

// Draw is one drawn card, rune or asset.
type Draw struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	File     string `json:"file,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Reversed bool   `json:"reversed"`
	Meaning  string `json:"meaning,omitempty"`
}

// Prepared is the output of the prepare stage.
type Prepared struct {
	Input   Input
	Request seed.Request
	Spread  *Spread
	Deck    *assets.Deck
	Draws   []Draw
	// Data carries expert-specific results such as a chart or numbers.
	Data any
}

// SamplingSeed derives a non-negative int64 from the draw seed.
func (p *Prepared) SamplingSeed() int64 {
	d := seed.Digest(p.Request)
	return int64(binary.BigEndian.Uint64(d[:8]) >> 1)
}

// Composition is the output of the compose stage. Facts are the values the
// written text must contain; Draft is what the expert would like to say.
type Composition struct {
	Prepared *Prepared
	Plan     *compose.Plan
	Media    *compose.Media
	Facts    facts.Facts
	Draft    writer.Draft
}

// Env holds what experts share.
type Env struct {
	Assets    *assets.Catalog
	Localizer *i18n.Localizer
	Renderer  compose.Renderer
	// Phraser defaults to the template composer.
	Phraser     writer.Phraser
	MaxAttempts int
	// Version overrides the reported version, e.g. for a canary build.
	Version string
}

func (e Env) withDefaults() (Env, error) {
	if e.Localizer == nil {
		e.Localizer = i18n.Default()
	}
	if e.Assets == nil {
		cat, err := assets.Default()
		if err != nil {
			return e, fmt.Errorf("load default assets: %w", err)
		}
		e.Assets = cat
	}
	if e.Renderer == nil {
		e.Renderer = compose.PlanRenderer{}
	}
	if e.Phraser == nil {
		e.Phraser = writer.NewComposer(e.Localizer)
	}
	if e.MaxAttempts <= 0 {
		e.MaxAttempts = writer.DefaultMaxAttempts
	}
	if e.Version == "" {
		e.Version = Version
	}
	return e, nil
}

// All builds every expert in Kinds order.
func All(env Env) ([]Expert, error) {
	env, err := env.withDefaults()
	if err != nil {
		return nil, err
	}
	out := make([]Expert, 0, len(Kinds))
	for _, k := range Kinds {
		out = append(out, build(k, &env))
	}
	return out, nil
}

// New builds a single expert.
func New(kind Kind, env Env) (Expert, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}
	env, err := env.withDefaults()
	if err != nil {
		return nil, err
	}
	return build(kind, &env), nil
}

func build(kind Kind, env *Env) Expert {
	b := base{kind: kind, env: env}
	switch kind {
	case KindTarot:
		return newTarot(b)
	case KindRunes:
		return newRunes(b)
	case KindLenormand:
		return newLenormand(b)
	case KindAstrology:
		return &Astrology{base: b}
	case KindNumerology:
		return &Numerology{base: b}
	case KindDreams:
		return &Dreams{base: b}
	case KindCopywriter:
		return newCopywriter(b)
	case KindAssistant:
		return newAssistant(b)
	}
	panic("experts: unhandled kind " + string(kind))
}

// base implements the stages every expert shares.
type base struct {
	kind Kind
	env  *Env
}

func (b *base) sealed() {}

func (b *base) ID() Kind { return b.kind }

func (b *base) Version() string { return b.env.Version }

func (b *base) Cost() int { return 1 }

func (b *base) Products() []string { return append([]string(nil), DefaultProducts...) }

func (b *base) CTA(locale string) []string {
	return b.env.Localizer.CTA(string(b.kind), locale)
}

// Write phrases the draft and retries until the facts are covered.
func (b *base) Write(ctx context.Context, c *Composition) (*writer.Output, error) {
	gen := b.env.Phraser.Phrase(c.Draft, c.Prepared.SamplingSeed())
	return writer.EnsureVerified(ctx, gen, c.Facts, c.Prepared.Input.Locale, b.env.MaxAttempts)
}

func (b *base) Verify(c *Composition, out *writer.Output) writer.Result {
	return writer.VerifyOutput(c.Facts, out)
}

func (b *base) request(in Input, spreadID string) seed.Request {
	return seed.Request{
		UserID:   in.UserID,
		Expert:   string(b.kind),
		SpreadID: spreadID,
		Date:     in.Date,
		Nonce:    in.Nonce,
	}
}

func (b *base) tip(step, locale string) string {
	return b.env.Localizer.Tip(string(b.kind), step, locale)
}

// disclaimers merges the service-wide and expert disclaimers.
func (b *base) disclaimers(locale string, extra ...string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(items []string) {
		for _, s := range items {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	add(b.env.Localizer.Disclaimers(locale))
	add(extra)
	return out
}

func (b *base) render(ctx context.Context, plan *compose.Plan) (*compose.Media, error) {
	media, err := b.env.Renderer.Render(ctx, plan)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", b.kind, err)
	}
	return media, nil
}
