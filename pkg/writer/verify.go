package writer

import (
	"strings"

	"github.com/WENOTFLY/TGP-ASTRO/pkg/facts"
)

// Diff reports a fact missing from the text.
type Diff struct {
	Path     string `json:"path"`
	Expected string `json:"expected"`
	Found    string `json:"found"`
}

// Result is the outcome of a verification pass.
type Result struct {
	OK    bool   `json:"ok"`
	Diffs []Diff `json:"diffs,omitempty"`
}

// Verify checks that every fact's rendering occurs verbatim in text.
// It is a literal substring test, not a semantic one.
func Verify(f facts.Facts, text string) Result {
	var diffs []Diff
	for key, value := range f.All() {
		expected := facts.Render(value)
		if !strings.Contains(text, expected) {
			diffs = append(diffs, Diff{Path: key, Expected: expected, Found: ""})
		}
	}
	return Result{OK: len(diffs) == 0, Diffs: diffs}
}

// VerifyOutput verifies the section bodies of o.
func VerifyOutput(f facts.Facts, o *Output) Result {
	return Verify(f, o.Text())
}
