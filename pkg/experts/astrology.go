package experts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/WENOTFLY/TGP-ASTRO/pkg/compose"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/ephemeris"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/facts"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/form"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/writer"
)

// Astrology computes a natal chart. Birth times are read as UTC.
type Astrology struct{ base }

// Natal is the prepared chart.
type Natal struct {
	Chart *ephemeris.Chart `json:"chart"`
	// SolarNoon is set when no birth time was given.
	SolarNoon bool    `json:"solar_noon"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
}

func (e *Astrology) Form(locale string) []form.Field {
	return []form.Field{
		{ID: "birth_date", Type: form.TypeDate},
		{ID: "birth_time", Type: form.TypeTime, Optional: true},
		{ID: "lat", Type: form.TypeNumber, Constraint: "value >= -90.0 && value <= 90.0"},
		{ID: "lon", Type: form.TypeNumber, Constraint: "value >= -180.0 && value <= 180.0"},
	}
}

func (e *Astrology) Prepare(ctx context.Context, in Input) (*Prepared, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	day, err := in.DateValue("birth_date")
	if err != nil {
		return nil, err
	}
	lat, err := in.Float("lat")
	if err != nil {
		return nil, err
	}
	lon, err := in.Float("lon")
	if err != nil {
		return nil, err
	}
	if lat < -90 || lat > 90 {
		return nil, form.Invalid("lat", "must be between -90 and 90")
	}
	if lon < -180 || lon > 180 {
		return nil, form.Invalid("lon", "must be between -180 and 180")
	}

	at := day.Add(12 * time.Hour)
	solar := true
	if s := in.String("birth_time"); s != "" {
		clock, err := time.Parse("15:04", s)
		if err != nil {
			return nil, &ValidationError{Field: "birth_time", Reason: "must be a time in HH:MM format", Err: err}
		}
		at = day.Add(time.Duration(clock.Hour())*time.Hour + time.Duration(clock.Minute())*time.Minute)
		solar = false
	}

	natal := &Natal{
		Chart:     ephemeris.NewChart(at, lat, lon, !solar),
		SolarNoon: solar,
		Lat:       lat,
		Lon:       lon,
	}
	return &Prepared{Input: in, Request: e.request(in, string(e.kind)), Data: natal}, nil
}

func formatPosition(lon float64) string {
	return fmt.Sprintf("%s %.2f°", ephemeris.Sign(lon), ephemeris.Degree(lon))
}

func (e *Astrology) Compose(ctx context.Context, p *Prepared) (*Composition, error) {
	natal, ok := p.Data.(*Natal)
	if !ok {
		return nil, fmt.Errorf("compose astrology: unexpected prepared data %T", p.Data)
	}
	chart := natal.Chart

	cards := make([]compose.Card, len(chart.Positions))
	var fb facts.Builder
	lines := make([]string, 0, len(chart.Positions)+1)
	for i, pos := range chart.Positions {
		name := pos.Body.String()
		cards[i] = compose.Card{Key: name, Caption: name[:2], Angle: pos.Longitude}
		fb.Set(name, formatPosition(pos.Longitude))
		lines = append(lines, fmt.Sprintf("%s: %s", name, formatPosition(pos.Longitude)))
	}
	if len(chart.Houses) > 0 {
		fb.Set("Ascendant", formatPosition(chart.Ascendant))
		lines = append(lines, fmt.Sprintf("Ascendant: %s", formatPosition(chart.Ascendant)))
	}

	plan, err := compose.Arrange(cards, compose.LayoutWheel, compose.Options{CardWidth: 400, Title: "natal"})
	if err != nil {
		return nil, fmt.Errorf("arrange chart: %w", err)
	}
	media, err := e.render(ctx, plan)
	if err != nil {
		return nil, err
	}

	locale := p.Input.Locale
	title := func(section string) string {
		return e.env.Localizer.SectionTitle(string(e.kind), section, locale)
	}
	sun, _ := chart.Position(ephemeris.Sun)
	moon, _ := chart.Position(ephemeris.Moon)
	draft := writer.Draft{
		Summary:  fmt.Sprintf("Sun in %s, Moon in %s", ephemeris.Sign(sun), ephemeris.Sign(moon)),
		Sections: []writer.Section{{Title: title("planets"), Body: strings.Join(lines, "\n")}},
		Actions:  e.env.Localizer.Actions(string(e.kind), locale),
	}
	if len(chart.Aspects) > 0 {
		aspects := make([]string, len(chart.Aspects))
		for i, a := range chart.Aspects {
			aspects[i] = fmt.Sprintf("%s %s %s (orb %.2f°)", a.A, a.Kind, a.B, a.Orb)
		}
		draft.Sections = append(draft.Sections, writer.Section{Title: title("aspects"), Body: strings.Join(aspects, "\n")})
	}
	if natal.SolarNoon {
		draft.Disclaimers = e.disclaimers(locale, e.env.Localizer.ExpertDisclaimers(string(e.kind), locale)...)
	} else {
		draft.Disclaimers = e.disclaimers(locale)
	}
	return &Composition{Prepared: p, Plan: plan, Media: media, Facts: fb.Build(), Draft: draft}, nil
}
