package provider

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
)

// DefaultDimension matches the text-embedding-3-small output size.
const DefaultDimension = 1536

// FakeProvider is a deterministic stand-in for the real API, used when
// no API key is configured and in tests. The embedding for a given text
// is always the same: the PRNG is seeded from the text's hash, so equal
// questions produce equal vectors while different questions diverge.
type FakeProvider struct {
	Dimension int
	Answer    string
}

// NewFakeProvider returns a fake with the default dimension and a
// canned answer.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		Dimension: DefaultDimension,
		Answer:    "This is a simulated answer standing in for the generative model.",
	}
}

func (f *FakeProvider) Embed(_ context.Context, text string) ([]float64, error) {
	dim := f.Dimension
	if dim <= 0 {
		dim = DefaultDimension
	}

	sum := sha256.Sum256([]byte(text))
	seed := int64(binary.BigEndian.Uint64(sum[:8]))
	rng := rand.New(rand.NewSource(seed))

	vec := make([]float64, dim)
	for i := range vec {
		vec[i] = rng.Float64()
	}
	return vec, nil
}

func (f *FakeProvider) Complete(_ context.Context, _ string) (string, error) {
	return f.Answer, nil
}
