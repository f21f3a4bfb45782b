package similarity

import (
	"context"
	"errors"
	"math"
	"testing"

	"semcache-gateway/internal/store"
)

type fakeStore struct {
	records []store.QARecord
	listErr error
	markErr error
	marked  []int64
	inserts int
}

func (f *fakeStore) ListAll(_ context.Context) ([]store.QARecord, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.records, nil
}

func (f *fakeStore) Insert(_ context.Context, _, _ string, _ []float64) (int64, error) {
	f.inserts++
	return int64(f.inserts), nil
}

func (f *fakeStore) MarkReused(_ context.Context, id int64) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.marked = append(f.marked, id)
	for i := range f.records {
		if f.records[i].ID == id {
			f.records[i].Reused = true
		}
	}
	return nil
}

// vecWithSimilarity builds a 2D unit-ish vector whose cosine similarity
// to [1, 0] is exactly sim.
func vecWithSimilarity(sim float64) []float64 {
	return []float64{sim, math.Sqrt(1 - sim*sim)}
}

func TestFindMatchEmptyStore(t *testing.T) {
	engine := NewEngine(&fakeStore{}, nil)

	match, _, err := engine.FindMatch(context.Background(), []float64{1, 0}, DefaultThreshold)
	if err != nil {
		t.Fatalf("FindMatch failed: %v", err)
	}
	if match != nil {
		t.Fatalf("expected no match on empty store, got %+v", match)
	}
}

func TestFindMatchThresholdBoundary(t *testing.T) {
	query := []float64{1, 0}
	st := &fakeStore{records: []store.QARecord{
		{ID: 1, Question: "just below", Embedding: vecWithSimilarity(0.79)},
	}}
	engine := NewEngine(st, nil)

	match, _, err := engine.FindMatch(context.Background(), query, 0.8)
	if err != nil {
		t.Fatalf("FindMatch failed: %v", err)
	}
	if match != nil {
		t.Fatalf("similarity below threshold should not match")
	}

	// Exactly at the threshold counts as a match (>=, not >).
	st.records = []store.QARecord{
		{ID: 2, Question: "exactly at", Embedding: vecWithSimilarity(0.8)},
	}
	match, score, err := engine.FindMatch(context.Background(), query, 0.8)
	if err != nil {
		t.Fatalf("FindMatch failed: %v", err)
	}
	if match == nil {
		t.Fatalf("similarity exactly at threshold must match")
	}
	if math.Abs(score-0.8) > 1e-9 {
		t.Fatalf("expected score 0.8, got %v", score)
	}
}

func TestFindMatchFirstMatchPolicy(t *testing.T) {
	query := []float64{1, 0}
	st := &fakeStore{records: []store.QARecord{
		{ID: 1, Question: "first qualifying", Embedding: vecWithSimilarity(0.85)},
		{ID: 2, Question: "better but later", Embedding: vecWithSimilarity(0.99)},
	}}
	engine := NewEngine(st, nil)

	match, score, err := engine.FindMatch(context.Background(), query, 0.8)
	if err != nil {
		t.Fatalf("FindMatch failed: %v", err)
	}
	if match == nil || match.ID != 1 {
		t.Fatalf("expected first qualifying record, got %+v", match)
	}
	if math.Abs(score-0.85) > 1e-9 {
		t.Fatalf("expected first record's score, got %v", score)
	}
}

func TestFindMatchMarksReused(t *testing.T) {
	query := []float64{1, 0}
	st := &fakeStore{records: []store.QARecord{
		{ID: 7, Question: "q", Embedding: vecWithSimilarity(0.9)},
	}}
	engine := NewEngine(st, nil)

	match, _, err := engine.FindMatch(context.Background(), query, 0.8)
	if err != nil {
		t.Fatalf("FindMatch failed: %v", err)
	}
	if match == nil {
		t.Fatalf("expected a match")
	}
	if len(st.marked) != 1 || st.marked[0] != 7 {
		t.Fatalf("expected record 7 marked reused, got %v", st.marked)
	}

	// Matching again re-marks; the flag never reverts.
	_, _, _ = engine.FindMatch(context.Background(), query, 0.8)
	if !st.records[0].Reused {
		t.Fatalf("reused flag must stay true")
	}
}

func TestFindMatchMarkFailureNonFatal(t *testing.T) {
	query := []float64{1, 0}
	st := &fakeStore{
		records: []store.QARecord{{ID: 1, Question: "q", Embedding: vecWithSimilarity(0.9)}},
		markErr: errors.New("db write refused"),
	}
	engine := NewEngine(st, nil)

	match, _, err := engine.FindMatch(context.Background(), query, 0.8)
	if err != nil {
		t.Fatalf("mark failure must not fail the match: %v", err)
	}
	if match == nil {
		t.Fatalf("expected the match to be surfaced despite mark failure")
	}
}

func TestFindMatchSkipsDimensionMismatch(t *testing.T) {
	query := []float64{1, 0}
	st := &fakeStore{records: []store.QARecord{
		{ID: 1, Question: "corrupt", Embedding: []float64{1, 0, 0}}, // wrong dimension
		{ID: 2, Question: "good", Embedding: vecWithSimilarity(0.9)},
	}}
	engine := NewEngine(st, nil)

	match, _, err := engine.FindMatch(context.Background(), query, 0.8)
	if err != nil {
		t.Fatalf("FindMatch failed: %v", err)
	}
	if match == nil || match.ID != 2 {
		t.Fatalf("expected scan to continue past corrupted record, got %+v", match)
	}
}

func TestFindMatchStoreError(t *testing.T) {
	st := &fakeStore{listErr: errors.New("connection refused")}
	engine := NewEngine(st, nil)

	_, _, err := engine.FindMatch(context.Background(), []float64{1, 0}, 0.8)
	if err == nil {
		t.Fatalf("expected store error to surface")
	}
}
