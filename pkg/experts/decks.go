package experts

import (
	"fmt"

	"github.com/WENOTFLY/TGP-ASTRO/pkg/compose"
)

var crossCaptions = []string{"Situation", "Challenge", "Advice", "Outcome", "Root"}

// Tarot reads tarot spreads. Cards may be reversed when the deck allows it.
type Tarot struct{ deckReader }

func newTarot(b base) *Tarot {
	return &Tarot{deckReader{
		base:     b,
		deckType: "tarot",
		spreads: []*Spread{
			{ID: "tarot_one", Layout: compose.LayoutRow, Captions: []string{"Card"}},
			{ID: "tarot_three_ppf", Layout: compose.LayoutRow, Captions: []string{"Past", "Present", "Future"}},
			{ID: "tarot_five_cross", Layout: compose.LayoutCross, Captions: crossCaptions},
		},
		pReversed:  0.5,
		factPrefix: "card",
		sentence: func(d Draw, orientation string) string {
			if d.Meaning == "" {
				return fmt.Sprintf("%s appears %s.", d.Name, orientation)
			}
			return fmt.Sprintf("%s appears %s: %s.", d.Name, orientation, d.Meaning)
		},
	}}
}

// Runes reads rune sets. Symmetrical runes are never reversed.
type Runes struct{ deckReader }

func newRunes(b base) *Runes {
	return &Runes{deckReader{
		base:     b,
		deckType: "runes",
		spreads: []*Spread{
			{ID: "runes_one", Layout: compose.LayoutRow, Captions: []string{"Rune"}},
			{ID: "runes_three_ppf", Layout: compose.LayoutRow, Captions: []string{"Past", "Present", "Future"}},
			{ID: "runes_five_cross", Layout: compose.LayoutCross, Captions: crossCaptions},
		},
		pReversed:  0.33,
		factPrefix: "rune",
		sentence: func(d Draw, orientation string) string {
			return fmt.Sprintf("The %s rune appears %s.", d.Name, orientation)
		},
	}}
}

// Lenormand reads Lenormand spreads. Cards are never reversed.
type Lenormand struct{ deckReader }

func newLenormand(b base) *Lenormand {
	return &Lenormand{deckReader{
		base:     b,
		deckType: "lenormand",
		spreads: []*Spread{
			{ID: "leno_three_line", Layout: compose.LayoutRow, Captions: numbered(3)},
			{ID: "leno_five_line", Layout: compose.LayoutRow, Captions: numbered(5)},
			{ID: "leno_nine_square", Layout: compose.LayoutGrid3x3, Captions: numbered(9)},
			{ID: "leno_grand_tableau_36", Layout: compose.LayoutGrandTableau, Captions: numbered(36)},
		},
		factPrefix: "card",
	}}
}
