package experts_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WENOTFLY/TGP-ASTRO/pkg/compose"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/experts"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/facts"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/form"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/seed"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/writer"
)

var newYear = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func expert(t *testing.T, kind experts.Kind) experts.Expert {
	t.Helper()
	e, err := experts.New(kind, experts.Env{})
	require.NoError(t, err)
	return e
}

func input(values map[string]any) experts.Input {
	return experts.Input{UserID: "42", Date: newYear, Locale: "en", Values: values}
}

// run drives the stages after FORM and returns the composition and output.
func run(t *testing.T, e experts.Expert, in experts.Input) (*experts.Composition, *writer.Output) {
	t.Helper()
	ctx := context.Background()
	p, err := e.Prepare(ctx, in)
	require.NoError(t, err)
	c, err := e.Compose(ctx, p)
	require.NoError(t, err)
	out, err := e.Write(ctx, c)
	require.NoError(t, err)
	require.NoError(t, out.Validate())
	return c, out
}

func TestAll(t *testing.T) {
	all, err := experts.All(experts.Env{})
	require.NoError(t, err)
	require.Len(t, all, len(experts.Kinds))
	for i, e := range all {
		assert.Equal(t, experts.Kinds[i], e.ID())
		assert.Equal(t, experts.Version, e.Version())
		assert.Equal(t, 1, e.Cost())
		assert.NotEmpty(t, e.Form("en"), e.ID())
		assert.NotEmpty(t, e.CTA("ru"), e.ID())
		assert.Contains(t, e.Products(), "pack_3")
	}
}

func TestParseKind(t *testing.T) {
	k, err := experts.ParseKind("runes")
	require.NoError(t, err)
	assert.Equal(t, experts.KindRunes, k)

	_, err = experts.ParseKind("palmistry")
	assert.ErrorIs(t, err, experts.ErrUnknownExpert)

	_, err = experts.New("palmistry", experts.Env{})
	assert.ErrorIs(t, err, experts.ErrUnknownExpert)
}

func TestForms_ValidateSampleInput(t *testing.T) {
	v, err := form.NewValidator()
	require.NoError(t, err)

	samples := map[experts.Kind]map[string]any{
		experts.KindTarot:      {"spread_id": "tarot_three_ppf", "question": "What next?"},
		experts.KindRunes:      {"spread_id": "runes_one", "deck_id": "elder_futhark"},
		experts.KindLenormand:  {"spread_id": "leno_nine_square"},
		experts.KindAstrology:  {"birth_date": "1990-12-25", "lat": 55.75, "lon": 37.62},
		experts.KindNumerology: {"full_name": "John Doe", "birth_date": "1990-12-25"},
		experts.KindDreams:     {"dream": "I was flying over the sea"},
		experts.KindCopywriter: {"theme": "Spring sale"},
		experts.KindAssistant:  {"theme": "Plan my week", "brief": "three meetings"},
	}
	for kind, values := range samples {
		t.Run(string(kind), func(t *testing.T) {
			_, err := v.Validate(string(kind), expert(t, kind).Form("en"), values)
			assert.NoError(t, err)
		})
	}

	_, err = v.Validate("tarot-bad", expert(t, experts.KindTarot).Form("en"), map[string]any{"spread_id": "celtic"})
	assert.ErrorIs(t, err, form.ErrValidation)
}

func TestTarot_EndToEnd(t *testing.T) {
	e := expert(t, experts.KindTarot)
	in := input(map[string]any{"spread_id": "tarot_three_ppf"})

	c, out := run(t, e, in)
	p := c.Prepared

	assert.Equal(t, seed.Request{UserID: "42", Expert: "tarot", SpreadID: "tarot_three_ppf", Date: newYear}, p.Request)
	require.Len(t, p.Draws, 3)
	assert.Equal(t, []string{"Past", "Present", "Future"}, []string{p.Draws[0].Caption, p.Draws[1].Caption, p.Draws[2].Caption})

	again, err := e.Prepare(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, p.Draws, again.Draws)

	assert.Equal(t, []string{"card_1", "card_1_orientation", "card_2", "card_2_orientation", "card_3", "card_3_orientation"}, c.Facts.Keys())
	for i, d := range p.Draws {
		assert.Equal(t, d.Name, c.Facts.String(fmt.Sprintf("card_%d", i+1)))
	}

	assert.Equal(t, compose.PlanContentType, c.Media.ContentType)
	assert.Equal(t, compose.LayoutRow, c.Plan.Layout)
	require.Len(t, c.Plan.Cells, 3)
	assert.Equal(t, "Past: "+p.Draws[0].Name, c.Plan.Cells[0].Caption)
	assert.Equal(t, 500, c.Plan.CardHeight)
	assert.Equal(t, "tarot/major", c.Plan.Base)

	assert.True(t, e.Verify(c, out).OK)
	assert.Equal(t, p.Draws[0].Name+", "+p.Draws[1].Name+", "+p.Draws[2].Name, out.TLDR)
	assert.Len(t, out.Sections, 3)
	assert.Equal(t, []string{"For entertainment purposes only."}, out.Disclaimers)
}

func TestTarot_NonceRedraws(t *testing.T) {
	e := expert(t, experts.KindTarot)
	distinct := map[string]bool{}
	for nonce := 0; nonce < 10; nonce++ {
		in := input(map[string]any{"spread_id": "tarot_five_cross"})
		in.Nonce = nonce
		p, err := e.Prepare(context.Background(), in)
		require.NoError(t, err)
		keys := make([]string, len(p.Draws))
		for i, d := range p.Draws {
			keys[i] = d.Key
		}
		distinct[strings.Join(keys, ",")] = true
	}
	assert.Greater(t, len(distinct), 5)
}

func TestRunes_SymmetricRunesStayUpright(t *testing.T) {
	symmetric := map[string]bool{
		"gebo": true, "hagalaz": true, "nauthiz": true, "isa": true, "jera": true,
		"eihwaz": true, "sowilo": true, "ingwaz": true, "dagaz": true,
	}
	e := expert(t, experts.KindRunes)
	reversed := 0
	for nonce := 0; nonce < 100; nonce++ {
		in := input(map[string]any{"spread_id": "runes_five_cross"})
		in.Nonce = nonce
		p, err := e.Prepare(context.Background(), in)
		require.NoError(t, err)
		for _, d := range p.Draws {
			if symmetric[d.Key] {
				require.False(t, d.Reversed, d.Key)
			}
			if d.Reversed {
				reversed++
			}
		}
	}
	assert.Greater(t, reversed, 0)
}

func TestRunes_Output(t *testing.T) {
	c, out := run(t, expert(t, experts.KindRunes), input(map[string]any{"spread_id": "runes_one"}))
	require.Len(t, c.Prepared.Draws, 1)
	d := c.Prepared.Draws[0]

	orientation := "upright"
	if d.Reversed {
		orientation = "reversed"
	}
	assert.Equal(t, orientation, c.Facts.String("rune_1_orientation"))
	assert.Equal(t, fmt.Sprintf("The %s rune appears %s.", d.Name, orientation), out.Sections[0].Body)
	assert.Equal(t, "Rune: "+d.Name, out.Sections[0].Title)
}

func TestLenormand_GrandTableau(t *testing.T) {
	e := expert(t, experts.KindLenormand)
	c, out := run(t, e, input(map[string]any{"spread_id": "leno_grand_tableau_36"}))

	keys := make([]string, 0, 36)
	for _, d := range c.Prepared.Draws {
		assert.False(t, d.Reversed)
		keys = append(keys, d.Key)
	}
	assert.ElementsMatch(t, c.Prepared.Deck.Keys(), keys)
	assert.Equal(t, 36, c.Facts.Len())
	_, hasOrientation := c.Facts.Get("card_1_orientation")
	assert.False(t, hasOrientation)

	assert.Equal(t, compose.LayoutGrandTableau, c.Plan.Layout)
	assert.Len(t, c.Plan.Cells, 36)

	require.Len(t, out.Sections, 1)
	assert.Equal(t, "Details", out.Sections[0].Title)
	assert.True(t, strings.HasPrefix(out.Sections[0].Body, "1. "+c.Prepared.Draws[0].Name+"\n"))
	assert.True(t, e.Verify(c, out).OK)
}

func TestDeckReader_InvalidInput(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		kind   experts.Kind
		values map[string]any
		field  string
	}{
		{"unknown spread", experts.KindTarot, map[string]any{"spread_id": "celtic_cross"}, "spread_id"},
		{"unknown deck", experts.KindRunes, map[string]any{"spread_id": "runes_one", "deck_id": "younger"}, "deck_id"},
		{"deck of another type", experts.KindTarot, map[string]any{"spread_id": "tarot_one", "deck_id": "elder_futhark"}, "deck_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := expert(t, tt.kind).Prepare(ctx, input(tt.values))
			var verr *experts.ValidationError
			require.True(t, errors.As(err, &verr), "%v", err)
			assert.Equal(t, tt.field, verr.Field)
			assert.ErrorIs(t, err, form.ErrValidation)
		})
	}

	_, err := expert(t, experts.KindTarot).Prepare(ctx, input(map[string]any{"spread_id": "nope"}))
	assert.ErrorIs(t, err, experts.ErrUnknownSpread)
}

func TestAstrology(t *testing.T) {
	e := expert(t, experts.KindAstrology)

	c, out := run(t, e, input(map[string]any{"birth_date": "2000-01-01", "birth_time": "12:00", "lat": 51.5, "lon": 0.0}))
	assert.True(t, strings.HasPrefix(c.Facts.String("Sun"), "Capricorn "))
	assert.True(t, strings.HasSuffix(c.Facts.String("Sun"), "°"))
	assert.NotEmpty(t, c.Facts.String("Ascendant"))
	assert.Equal(t, 11, c.Facts.Len())
	assert.True(t, strings.HasPrefix(out.TLDR, "Sun in Capricorn, Moon in "))
	assert.True(t, e.Verify(c, out).OK)
	assert.Equal(t, compose.LayoutWheel, c.Plan.Layout)
	for _, d := range out.Disclaimers {
		assert.NotContains(t, d, "time")
	}

	c, out = run(t, e, input(map[string]any{"birth_date": "2000-01-01", "lat": 0.0, "lon": 0.0}))
	assert.Equal(t, 10, c.Facts.Len())
	natal := c.Prepared.Data.(*experts.Natal)
	assert.True(t, natal.SolarNoon)
	assert.Nil(t, natal.Chart.Houses)
	assert.Contains(t, strings.Join(out.Disclaimers, " "), "time")
}

func TestAstrology_InvalidInput(t *testing.T) {
	e := expert(t, experts.KindAstrology)
	bad := []map[string]any{
		{"birth_date": "01.01.2000", "lat": 0.0, "lon": 0.0},
		{"birth_date": "2000-01-01", "birth_time": "25:00", "lat": 0.0, "lon": 0.0},
		{"birth_date": "2000-01-01", "lat": 91.0, "lon": 0.0},
		{"birth_date": "2000-01-01", "lat": 0.0},
	}
	for _, values := range bad {
		_, err := e.Prepare(context.Background(), input(values))
		assert.ErrorIs(t, err, form.ErrValidation, "%v", values)
	}
}

func TestDreams(t *testing.T) {
	e := expert(t, experts.KindDreams)

	c, out := run(t, e, input(map[string]any{"dream": "I swam in the Sea and then a snake appeared"}))
	require.Len(t, c.Prepared.Draws, 2)
	assert.Equal(t, "Water", c.Facts.String("symbol_1"))
	assert.Equal(t, "emotions and the flow of life", c.Facts.String("symbol_1_meaning"))
	assert.Equal(t, "Snake", c.Facts.String("symbol_2"))
	assert.Equal(t, "Water: emotions and the flow of life", out.Sections[0].Body)
	assert.Equal(t, "Water, Snake", out.TLDR)
	assert.True(t, e.Verify(c, out).OK)
	assert.Contains(t, out.Disclaimers, "This interpretation is for entertainment and not medical advice.")

	ru := input(map[string]any{"dream": "Мне снились змея и дождь"})
	ru.Locale = "ru"
	c, _ = run(t, e, ru)
	assert.Equal(t, []string{"Вода", "Змея"}, []string{c.Prepared.Draws[0].Name, c.Prepared.Draws[1].Name})

	c, out = run(t, e, input(map[string]any{"dream": "nothing memorable happened"}))
	assert.Empty(t, c.Prepared.Draws)
	assert.Equal(t, 0, c.Facts.Len())
	assert.Empty(t, c.Plan.Cells)
	assert.Equal(t, "No familiar symbols were found in this dream.", out.TLDR)
}

func TestCopywriterAndAssistant(t *testing.T) {
	cw := expert(t, experts.KindCopywriter)
	c, out := run(t, cw, input(map[string]any{"theme": "Spring sale", "brief": "20% off everything"}))
	require.Len(t, c.Prepared.Draws, 1)
	assert.Equal(t, "banner", c.Prepared.Request.SpreadID)
	assert.Equal(t, compose.LayoutBanner, c.Plan.Layout)
	assert.Equal(t, "Spring sale: 20% off everything", out.TLDR)
	assert.Equal(t, []string{"theme", "brief"}, c.Facts.Keys())
	assert.Equal(t, "Theme", out.Sections[0].Title)
	assert.Equal(t, "Brief", out.Sections[1].Title)

	again, err := cw.Prepare(context.Background(), input(map[string]any{"theme": "Spring sale"}))
	require.NoError(t, err)
	assert.Equal(t, c.Prepared.Draws[0].File, again.Draws[0].File)

	as := expert(t, experts.KindAssistant)
	c, out = run(t, as, input(map[string]any{"theme": "Plan my week"}))
	assert.Equal(t, "poster", c.Prepared.Request.SpreadID)
	assert.Equal(t, "posters", c.Plan.Base)
	assert.Equal(t, []string{"theme"}, c.Facts.Keys())
	require.Len(t, out.Sections, 1)
	assert.Equal(t, "Request", out.Sections[0].Title)

	_, err = as.Prepare(context.Background(), input(map[string]any{"theme": "  "}))
	assert.ErrorIs(t, err, form.ErrValidation)
}

// forgetfulPhraser never mentions any fact.
type forgetfulPhraser struct{ calls int }

func (p *forgetfulPhraser) Phrase(d writer.Draft, _ int64) writer.GenerateFunc {
	return func(_ context.Context, _ facts.Facts, _ string) (*writer.Output, error) {
		p.calls++
		return &writer.Output{TLDR: "hm", Sections: []writer.Section{{Title: "x", Body: "nothing"}}}, nil
	}
}

func TestWrite_SoftFailsAfterAttempts(t *testing.T) {
	phraser := &forgetfulPhraser{}
	e, err := experts.New(experts.KindTarot, experts.Env{Phraser: phraser, MaxAttempts: 3})
	require.NoError(t, err)

	ctx := context.Background()
	p, err := e.Prepare(ctx, input(map[string]any{"spread_id": "tarot_one"}))
	require.NoError(t, err)
	c, err := e.Compose(ctx, p)
	require.NoError(t, err)

	out, err := e.Write(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, 3, phraser.calls)
	res := e.Verify(c, out)
	assert.False(t, res.OK)
	assert.Len(t, res.Diffs, 2)
}

func TestPrepared_SamplingSeed(t *testing.T) {
	p := &experts.Prepared{Request: seed.Request{UserID: "42", Expert: "tarot", SpreadID: "three", Date: newYear}}
	s := p.SamplingSeed()
	assert.GreaterOrEqual(t, s, int64(0))
	assert.Equal(t, s, p.SamplingSeed())

	p.Request.Nonce = 1
	assert.NotEqual(t, s, p.SamplingSeed())
}
