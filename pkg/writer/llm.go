package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/WENOTFLY/TGP-ASTRO/pkg/facts"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/llm"
)

const systemPrompt = `You write short, warm readings for a conversational service.
Reply with one JSON object: {"tldr": string, "sections": [{"title": string, "body": string}]}.
Keep the outline's section titles and order. Every value listed under FACTS must appear verbatim in some section body.
Do not invent facts. The tldr must be under 280 characters.`

// LLMGenerator phrases drafts with a chat model. Malformed replies fall back
// to the template composer.
type LLMGenerator struct {
	client      llm.Client
	composer    *Composer
	temperature float64
	logger      *slog.Logger
}

func NewLLMGenerator(client llm.Client, composer *Composer) *LLMGenerator {
	return &LLMGenerator{
		client:      client,
		composer:    composer,
		temperature: 0.7,
		logger:      slog.Default().With("component", "writer"),
	}
}

type llmReply struct {
	TLDR     string    `json:"tldr"`
	Sections []Section `json:"sections"`
}

// Generator returns a GenerateFunc for d. Attempt n samples with seed+n so a
// retried request repeats the same sequence of candidates.
func (g *LLMGenerator) Generator(d Draft, seed int64) GenerateFunc {
	attempt := int64(0)
	return func(ctx context.Context, f facts.Facts, locale string) (*Output, error) {
		opts := &llm.SamplingOptions{Temperature: g.temperature, Seed: seed + attempt, JSON: true}
		attempt++

		resp, err := g.client.Chat(ctx, buildMessages(d, f, locale), opts)
		if err != nil {
			return nil, fmt.Errorf("generate text: %w", err)
		}

		var reply llmReply
		if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &reply); err != nil || len(reply.Sections) == 0 {
			g.logger.WarnContext(ctx, "malformed model reply, using template", "error", err, "locale", locale)
			return g.composer.Compose(d, locale), nil
		}

		out := g.composer.Compose(d, locale)
		out.Sections = reply.Sections
		if reply.TLDR != "" {
			out.TLDR = TruncateTLDR(reply.TLDR)
		}
		return out, nil
	}
}

// Phrase implements Phraser.
func (g *LLMGenerator) Phrase(d Draft, seed int64) GenerateFunc {
	return g.Generator(d, seed)
}

func buildMessages(d Draft, f facts.Facts, locale string) []llm.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "LOCALE: %s\n", locale)
	b.WriteString("FACTS:\n")
	for key, value := range f.All() {
		fmt.Fprintf(&b, "- %s: %s\n", key, facts.Render(value))
	}
	fmt.Fprintf(&b, "SUMMARY: %s\n", d.Summary)
	b.WriteString("OUTLINE:\n")
	for _, s := range d.Sections {
		fmt.Fprintf(&b, "## %s\n%s\n", s.Title, s.Body)
	}
	if len(d.Sections) == 0 && d.Details != "" {
		fmt.Fprintf(&b, "%s\n", d.Details)
	}
	return []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: b.String()},
	}
}

// extractJSON trims code fences some models wrap around JSON.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "{"); i > 0 {
		s = s[i:]
	}
	if i := strings.LastIndex(s, "}"); i >= 0 && i < len(s)-1 {
		s = s[:i+1]
	}
	return s
}
