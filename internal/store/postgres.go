package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// PostgresStore implements Store on top of Postgres via sqlx.
// Embeddings are stored as JSON array text, one row per record.
type PostgresStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewPostgresStore creates a Postgres-backed record store.
func NewPostgresStore(db *sqlx.DB, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{
		db:     db,
		logger: logger.Named("store"),
	}
}

// EnsureSchema creates the qa_pairs table if it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS qa_pairs (
			id        BIGSERIAL PRIMARY KEY,
			question  TEXT NOT NULL,
			answer    TEXT NOT NULL,
			embedding TEXT NOT NULL,
			reused    BOOLEAN NOT NULL DEFAULT FALSE
		)`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// qaRow is the raw row shape; embedding stays JSON text until decoded.
type qaRow struct {
	ID        int64  `db:"id"`
	Question  string `db:"question"`
	Answer    string `db:"answer"`
	Embedding string `db:"embedding"`
	Reused    bool   `db:"reused"`
}

// ListAll returns every record ordered by id so the similarity scan is
// deterministic. Rows whose embedding column fails to decode are logged
// and skipped rather than failing the whole scan.
func (s *PostgresStore) ListAll(ctx context.Context) ([]QARecord, error) {
	const query = `SELECT id, question, answer, embedding, reused
		FROM qa_pairs ORDER BY id ASC`

	var rows []qaRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list qa_pairs: %w", err)
	}

	records := make([]QARecord, 0, len(rows))
	for _, row := range rows {
		var embedding []float64
		if err := json.Unmarshal([]byte(row.Embedding), &embedding); err != nil {
			s.logger.Error("undecodable embedding column",
				zap.Int64("id", row.ID),
				zap.Error(err),
			)
			continue
		}
		records = append(records, QARecord{
			ID:        row.ID,
			Question:  row.Question,
			Answer:    row.Answer,
			Embedding: embedding,
			Reused:    row.Reused,
		})
	}

	return records, nil
}

// Insert persists a new record and returns its assigned id.
func (s *PostgresStore) Insert(ctx context.Context, question, answer string, embedding []float64) (int64, error) {
	if question == "" {
		return 0, errors.New("question cannot be empty")
	}
	if len(embedding) == 0 {
		return 0, errors.New("embedding cannot be empty")
	}

	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return 0, fmt.Errorf("marshal embedding: %w", err)
	}

	const query = `INSERT INTO qa_pairs (question, answer, embedding)
		VALUES ($1, $2, $3) RETURNING id`

	var id int64
	if err := s.db.GetContext(ctx, &id, query, question, answer, string(embeddingJSON)); err != nil {
		return 0, fmt.Errorf("insert qa_pair: %w", err)
	}

	return id, nil
}

// MarkReused flips the reused flag. Repeated calls are harmless.
func (s *PostgresStore) MarkReused(ctx context.Context, id int64) error {
	const query = `UPDATE qa_pairs SET reused = TRUE WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark reused: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("mark reused: no record with id %d", id)
	}

	return nil
}
