package writer

import (
	"context"
	"errors"

	"github.com/WENOTFLY/TGP-ASTRO/pkg/facts"
)

// DefaultMaxAttempts is the number of generations tried before the last
// candidate is delivered unverified.
const DefaultMaxAttempts = 2

// GenerateFunc produces one candidate answer.
type GenerateFunc func(ctx context.Context, f facts.Facts, locale string) (*Output, error)

// EnsureVerified calls generate until a candidate passes Verify or
// maxAttempts is reached, then returns the last candidate anyway. Attempts
// run strictly one after another. Errors from generate are returned as is.
// maxAttempts below one is treated as one.
func EnsureVerified(ctx context.Context, generate GenerateFunc, f facts.Facts, locale string, maxAttempts int) (*Output, error) {
	if generate == nil {
		return nil, errors.New("writer: nil generator")
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var last *Output
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := generate(ctx, f, locale)
		if err != nil {
			return nil, err
		}
		last = out
		if VerifyOutput(f, out).OK {
			return out, nil
		}
	}
	return last, nil
}
