package similarity

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"semcache-gateway/internal/metrics"
	"semcache-gateway/internal/store"
)

// DefaultThreshold is the minimum cosine similarity for a stored record
// to count as a match.
const DefaultThreshold = 0.8

// Engine scans all persisted records and returns the first one whose
// embedding is close enough to the query vector.
type Engine struct {
	store  store.Store
	logger *zap.Logger
}

// NewEngine creates a similarity search engine over the given store.
func NewEngine(s store.Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:  s,
		logger: logger.Named("similarity"),
	}
}

// FindMatch linearly scans every stored record in storage order and
// returns the FIRST one whose similarity to query is >= threshold,
// together with its score. This is a first-match policy: the scan stops
// at the first qualifying record even if a later one would score higher.
//
// A match flips the record's reused flag in the store as part of the
// same logical operation. If the flag update fails the match is still
// returned — losing the bookkeeping is better than losing the hit.
//
// Records whose embedding length differs from the query are reported
// (log + metric) and excluded; one corrupted row must not poison the
// whole scan. An empty store returns (nil, 0, nil).
func (e *Engine) FindMatch(ctx context.Context, query []float64, threshold float64) (*store.QARecord, float64, error) {
	records, err := e.store.ListAll(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("similarity scan: %w", err)
	}

	for i := range records {
		rec := &records[i]

		score, err := Cosine(query, rec.Embedding)
		if err != nil {
			var dim *DimensionMismatchError
			if errors.As(err, &dim) {
				metrics.DimensionMismatchTotal.Inc()
				e.logger.Error("stored embedding has wrong dimension",
					zap.Int64("record_id", rec.ID),
					zap.Int("want", dim.Want),
					zap.Int("got", dim.Got),
				)
				continue
			}
			return nil, 0, err
		}

		if score >= threshold {
			if err := e.store.MarkReused(ctx, rec.ID); err != nil {
				e.logger.Error("mark reused failed, returning match anyway",
					zap.Int64("record_id", rec.ID),
					zap.Error(err),
				)
			}
			return rec, score, nil
		}
	}

	return nil, 0, nil
}
