// Package store persists question/answer/embedding records, the corpus
// the similarity tier scans for reuse candidates.
package store

import "context"

// QARecord is one persisted unit of reusable knowledge. Question and
// Answer are immutable once stored; Reused only ever flips false → true.
type QARecord struct {
	ID        int64
	Question  string
	Answer    string
	Embedding []float64
	Reused    bool
}

// Store is the durable record store used by the similarity engine and
// the resolver's fallback path.
type Store interface {
	// ListAll returns every record in storage order (ascending id).
	ListAll(ctx context.Context) ([]QARecord, error)
	// Insert persists a new record and returns its store-assigned id.
	Insert(ctx context.Context, question, answer string, embedding []float64) (int64, error)
	// MarkReused flips the record's reused flag to true. Idempotent.
	MarkReused(ctx context.Context, id int64) error
}
