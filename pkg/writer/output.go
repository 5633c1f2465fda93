// Package writer assembles structured answers and checks them against the
// facts a pipeline computed.
package writer

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxTLDRRunes bounds Output.TLDR.
const MaxTLDRRunes = 280

var ErrTLDRTooLong = errors.New("writer: tldr exceeds 280 characters")

// Section is one titled block of the answer body.
type Section struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Output is the fixed answer shape every presentation layer renders.
type Output struct {
	TLDR        string    `json:"tldr"`
	Sections    []Section `json:"sections"`
	Actions     []string  `json:"actions"`
	Disclaimers []string  `json:"disclaimers"`
}

// Text joins the section bodies with newlines. This is the text facts are
// verified against.
func (o *Output) Text() string {
	if o == nil {
		return ""
	}
	bodies := make([]string, len(o.Sections))
	for i, s := range o.Sections {
		bodies[i] = s.Body
	}
	return strings.Join(bodies, "\n")
}

// Validate checks the shape invariants.
func (o *Output) Validate() error {
	if o == nil {
		return errors.New("writer: nil output")
	}
	if n := utf8.RuneCountInString(o.TLDR); n > MaxTLDRRunes {
		return fmt.Errorf("%w: %d", ErrTLDRTooLong, n)
	}
	return nil
}

// TruncateTLDR shortens s to at most MaxTLDRRunes runes, ending with an
// ellipsis when cut.
func TruncateTLDR(s string) string {
	if utf8.RuneCountInString(s) <= MaxTLDRRunes {
		return s
	}
	runes := []rune(s)
	return strings.TrimRightFunc(string(runes[:MaxTLDRRunes-1]), func(r rune) bool { return r == ' ' }) + "…"
}
