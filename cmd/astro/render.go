package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/WENOTFLY/TGP-ASTRO/pkg/pipeline"
)

type styles struct {
	title   lipgloss.Style
	meta    lipgloss.Style
	section lipgloss.Style
	heading lipgloss.Style
	faint   lipgloss.Style
	warning lipgloss.Style
	header  lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		meta:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		section: lipgloss.NewStyle().MarginTop(1),
		heading: lipgloss.NewStyle().Bold(true),
		faint:   lipgloss.NewStyle().Faint(true),
		warning: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("241")),
	}
}

func renderTable(headers []string, rows [][]string) string {
	s := newStyles()
	return table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return s.header.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers(headers...).
		Rows(rows...).
		String()
}

// renderReading formats a reading for the terminal.
func renderReading(res *pipeline.Result) string {
	s := newStyles()
	lines := []string{
		s.title.Render(fmt.Sprintf("%s %s", res.Expert, res.Version)),
		s.meta.Render(fmt.Sprintf("locale: %s  fingerprint: %s", res.Locale, res.Fingerprint)),
	}
	if len(res.Draws) > 0 {
		keys := make([]string, 0, len(res.Draws))
		for _, d := range res.Draws {
			k := d.Key
			if d.Reversed {
				k += " (R)"
			}
			keys = append(keys, k)
		}
		lines = append(lines, s.meta.Render("draws: "+strings.Join(keys, ", ")))
	}
	if !res.Verification.OK {
		missing := make([]string, len(res.Verification.Diffs))
		for i, d := range res.Verification.Diffs {
			missing[i] = fmt.Sprintf("%s=%q", d.Path, d.Expected)
		}
		lines = append(lines, s.warning.Render("unverified: "+strings.Join(missing, "; ")))
	}
	if out := res.Output; out != nil {
		lines = append(lines, s.section.Render(out.TLDR))
		for _, sec := range out.Sections {
			lines = append(lines, s.section.Render(lipgloss.JoinVertical(lipgloss.Left, s.heading.Render(sec.Title), sec.Body)))
		}
		if len(out.Actions) > 0 {
			items := make([]string, len(out.Actions))
			for i, a := range out.Actions {
				items[i] = "- " + a
			}
			lines = append(lines, s.section.Render(strings.Join(items, "\n")))
		}
		for _, d := range out.Disclaimers {
			lines = append(lines, s.faint.Render(d))
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
