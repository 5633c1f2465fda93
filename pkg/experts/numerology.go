package experts

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/WENOTFLY/TGP-ASTRO/pkg/compose"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/facts"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/form"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/writer"
)

// Numerology computes Pythagorean numbers from a name and birth date.
type Numerology struct{ base }

func (e *Numerology) Form(locale string) []form.Field {
	return []form.Field{
		{ID: "full_name", Type: form.TypeString, Constraint: "size(value) <= 100"},
		{ID: "birth_date", Type: form.TypeDate},
		{ID: "target_date", Type: form.TypeDate, Optional: true},
	}
}

func (e *Numerology) Prepare(ctx context.Context, in Input) (*Prepared, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	birth, err := in.DateValue("birth_date")
	if err != nil {
		return nil, err
	}
	target := in.Date
	if in.String("target_date") != "" {
		if target, err = in.DateValue("target_date"); err != nil {
			return nil, err
		}
	}
	if target.Before(birth) {
		return nil, form.Invalid("target_date", "must not be before the birth date")
	}
	nums, ok := CalculateNumbers(in.String("full_name"), birth, target)
	if !ok {
		return nil, form.Invalid("full_name", "must contain Latin or Cyrillic letters")
	}
	return &Prepared{Input: in, Request: e.request(in, string(e.kind)), Data: nums}, nil
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ", ")
}

func (e *Numerology) Compose(ctx context.Context, p *Prepared) (*Composition, error) {
	nums, ok := p.Data.(*Numbers)
	if !ok {
		return nil, fmt.Errorf("compose numerology: unexpected prepared data %T", p.Data)
	}

	cells := make([]compose.Card, 9)
	matrixLines := make([]string, 9)
	for i := 1; i <= 9; i++ {
		v := nums.Matrix[i]
		if v == "" {
			v = "-"
		}
		cells[i-1] = compose.Card{Key: strconv.Itoa(i), Caption: v}
		matrixLines[i-1] = fmt.Sprintf("%d: %s", i, v)
	}
	plan, err := compose.Arrange(cells, compose.LayoutGrid3x3, compose.Options{CardWidth: 100, CardHeight: 100, Title: "matrix"})
	if err != nil {
		return nil, fmt.Errorf("arrange matrix: %w", err)
	}
	media, err := e.render(ctx, plan)
	if err != nil {
		return nil, err
	}

	f := facts.New(
		facts.Fact{Key: "life_path", Value: nums.LifePath},
		facts.Fact{Key: "expression", Value: nums.Expression},
		facts.Fact{Key: "soul_urge", Value: nums.SoulUrge},
		facts.Fact{Key: "personality", Value: nums.Personality},
		facts.Fact{Key: "birthday", Value: nums.Birthday},
		facts.Fact{Key: "maturity", Value: nums.Maturity},
		facts.Fact{Key: "personal_year", Value: nums.PersonalYear},
		facts.Fact{Key: "personal_month", Value: nums.PersonalMonth},
		facts.Fact{Key: "personal_day", Value: nums.PersonalDay},
	)

	locale := p.Input.Locale
	title := func(section string) string {
		return e.env.Localizer.SectionTitle(string(e.kind), section, locale)
	}
	core := fmt.Sprintf("Life Path: %d\nExpression: %d\nSoul Urge: %d\nPersonality: %d\nBirthday: %d\nMaturity: %d",
		nums.LifePath, nums.Expression, nums.SoulUrge, nums.Personality, nums.Birthday, nums.Maturity)
	cycles := fmt.Sprintf("Personal Year: %d\nPersonal Month: %d\nPersonal Day: %d\nPinnacles: %s\nChallenges: %s",
		nums.PersonalYear, nums.PersonalMonth, nums.PersonalDay, joinInts(nums.Pinnacles[:]), joinInts(nums.Challenges[:]))

	draft := writer.Draft{
		Summary: fmt.Sprintf("Life Path %d, Expression %d, Soul Urge %d, Personality %d",
			nums.LifePath, nums.Expression, nums.SoulUrge, nums.Personality),
		Sections: []writer.Section{
			{Title: title("core"), Body: core},
			{Title: title("cycles"), Body: cycles},
			{Title: title("matrix"), Body: strings.Join(matrixLines, "\n")},
		},
		Actions:     e.env.Localizer.Actions(string(e.kind), locale),
		Disclaimers: e.disclaimers(locale),
	}
	return &Composition{Prepared: p, Plan: plan, Media: media, Facts: f, Draft: draft}, nil
}
