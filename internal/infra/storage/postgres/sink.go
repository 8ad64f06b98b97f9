package postgres

import (
	"context"
	"fmt"

	"github.com/vietddude/courier/internal/core/domain"
)

// Sink writes record batches into the records table. One call is one
// transaction: either the whole batch lands or none of it does.
type Sink struct {
	db *DB
}

// NewSink creates a PostgreSQL-backed sink.
func NewSink(db *DB) *Sink {
	return &Sink{db: db}
}

// WriteBatch inserts all records of a batch transactionally. Conflicts
// on record ID are ignored: the dedup store makes duplicates rare but a
// crash between sink write and store save can redeliver.
func (s *Sink) WriteBatch(ctx context.Context, category domain.Category, batch domain.Batch) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO records (record_id, category, payload, received_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (record_id) DO NOTHING
	`
	for _, r := range batch {
		if _, err := tx.ExecContext(ctx, query, int64(r.ID), string(r.Category), []byte(r.Payload), r.ReceivedAt); err != nil {
			return fmt.Errorf("insert record %d: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Sink) Close() error {
	return s.db.Close()
}
