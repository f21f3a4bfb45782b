// Package provider wraps the external generative service used by the
// fallback tier: text-to-vector embedding and answer generation.
package provider

import (
	"context"
	"errors"
)

// Provider is the pluggable interface for the generative collaborator.
// Production wiring uses the OpenAI-style HTTP client; tests and dev
// mode substitute the deterministic fake.
type Provider interface {
	// Embed converts text into a fixed-dimension vector.
	Embed(ctx context.Context, text string) ([]float64, error)
	// Complete generates an answer for the question text.
	Complete(ctx context.Context, text string) (string, error)
}

var (
	// ErrRateLimited signals upstream throttling (HTTP 429). Callers may
	// retry later; the resolver surfaces it as-is.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrFailed is any other provider failure.
	ErrFailed = errors.New("provider request failed")
)
