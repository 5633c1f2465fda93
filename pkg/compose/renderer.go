package compose

import (
	"context"
	"encoding/json"
	"fmt"
)

// PlanContentType is the media type of an encoded Plan.
const PlanContentType = "application/vnd.astro.render-plan+json"

// Media is a composed artifact.
type Media struct {
	Data        []byte
	ContentType string
}

// Renderer turns a plan into media bytes.
type Renderer interface {
	Render(ctx context.Context, plan *Plan) (*Media, error)
}

// PlanRenderer emits the plan itself as JSON for an external rasteriser.
type PlanRenderer struct{}

func (PlanRenderer) Render(ctx context.Context, plan *Plan) (*Media, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("failed to encode render plan: %w", err)
	}
	return &Media{Data: data, ContentType: PlanContentType}, nil
}
