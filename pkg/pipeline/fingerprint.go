package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/WENOTFLY/TGP-ASTRO/pkg/experts"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/facts"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/seed"
)

type fingerprintDoc struct {
	Algorithm string         `json:"algorithm"`
	Expert    experts.Kind   `json:"expert"`
	Version   string         `json:"version"`
	UserID    string         `json:"user_id"`
	Date      string         `json:"date"`
	Nonce     int            `json:"nonce"`
	Locale    string         `json:"locale"`
	Input     map[string]any `json:"input"`
	Draws     []experts.Draw `json:"draws"`
	Facts     facts.Facts    `json:"facts"`
	Media     string         `json:"media,omitempty"`
}

// Fingerprint hashes the logical inputs and computed results of a reading
// in RFC 8785 canonical form. Equal readings have equal fingerprints.
func Fingerprint(e experts.Expert, c *experts.Composition, mediaRef string) (string, error) {
	p := c.Prepared
	doc := fingerprintDoc{
		Algorithm: seed.AlgorithmVersion,
		Expert:    e.ID(),
		Version:   e.Version(),
		UserID:    p.Input.UserID,
		Date:      p.Input.Date.Format(time.DateOnly),
		Nonce:     p.Input.Nonce,
		Locale:    p.Input.Locale,
		Input:     p.Input.Values,
		Draws:     p.Draws,
		Facts:     c.Facts,
		Media:     mediaRef,
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode reading: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize reading: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
