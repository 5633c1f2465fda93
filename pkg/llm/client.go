// Package llm is a minimal chat-completions client used by the free-text
// writers.
package llm

import (
	"context"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Client interface {
	Chat(ctx context.Context, messages []Message, options *SamplingOptions) (*Response, error)
}

type SamplingOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	Seed        int64   `json:"seed"`
	// JSON asks the model for a single JSON object reply.
	JSON bool `json:"-"`
}

type Response struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}
