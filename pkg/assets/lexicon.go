package assets

import (
	"regexp"
	"strings"
	"sync"
)

// Symbol is a dream lexicon entry.
type Symbol struct {
	Key      string    `yaml:"key" json:"key"`
	Synonyms []string  `yaml:"synonyms,omitempty" json:"synonyms,omitempty"`
	Display  Localized `yaml:"display" json:"display"`
	Meaning  Localized `yaml:"meaning" json:"meaning"`
	File     string    `yaml:"file,omitempty" json:"file,omitempty"`
}

// Name returns the display name for locale. Unnamed symbols use the key with
// an upper-case first letter.
func (s Symbol) Name(locale string) string {
	if n := s.Display.Get(locale); n != "" {
		return n
	}
	if s.Key == "" {
		return ""
	}
	return strings.ToUpper(s.Key[:1]) + s.Key[1:]
}

// Lexicon is an ordered list of symbols; match order follows it. A Lexicon
// must not be copied after first use.
type Lexicon struct {
	Symbols []Symbol `yaml:"symbols" json:"symbols"`

	once     sync.Once
	patterns [][]*regexp.Regexp
}

// Letters, digits and underscore form words; this keeps matching correct
// for Cyrillic text where \b does not apply.
const wordEdge = `[^\p{L}\p{N}_]`

func (l *Lexicon) compile() {
	l.patterns = make([][]*regexp.Regexp, len(l.Symbols))
	for i, s := range l.Symbols {
		terms := append([]string{s.Key}, s.Synonyms...)
		for _, term := range terms {
			term = strings.ToLower(strings.TrimSpace(term))
			if term == "" {
				continue
			}
			re := regexp.MustCompile(`(?:^|` + wordEdge + `)` + regexp.QuoteMeta(term) + `(?:$|` + wordEdge + `)`)
			l.patterns[i] = append(l.patterns[i], re)
		}
	}
}

// Match returns the symbols whose key or any synonym occurs in text as a
// whole word, case-insensitively, each at most once.
func (l *Lexicon) Match(text string) []Symbol {
	l.once.Do(l.compile)
	text = strings.ToLower(text)
	var out []Symbol
	for i, s := range l.Symbols {
		for _, re := range l.patterns[i] {
			if re.MatchString(text) {
				out = append(out, s)
				break
			}
		}
	}
	return out
}
