package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/courier/internal/core/domain"
)

// wireRecord is the envelope upstream producers push onto the list.
type wireRecord struct {
	ID       uint64          `json:"id"`
	Category string          `json:"category"`
	Payload  json.RawMessage `json:"payload"`
}

// Source reads records from a Redis list populated by upstream producers.
type Source struct {
	client  *Client
	key     string
	timeout time.Duration
	log     *slog.Logger
}

// NewSource creates a record source reading from the given list key.
func NewSource(client *Client, key string, pollTimeout time.Duration) *Source {
	if pollTimeout <= 0 {
		pollTimeout = time.Second
	}
	return &Source{
		client:  client,
		key:     key,
		timeout: pollTimeout,
		log:     slog.With("component", "source", "key", key),
	}
}

// Next pops and decodes the next record. Malformed entries are logged
// and dropped, reported as not found so the caller just polls again.
func (s *Source) Next(ctx context.Context) (domain.Record, bool, error) {
	raw, found, err := s.client.PopRecord(ctx, s.key, s.timeout)
	if err != nil {
		return domain.Record{}, false, err
	}
	if !found {
		return domain.Record{}, false, nil
	}

	var w wireRecord
	if err := json.Unmarshal(raw, &w); err != nil {
		s.log.Warn("dropping malformed record", "error", err, "size", len(raw))
		return domain.Record{}, false, nil
	}
	if w.ID == 0 {
		s.log.Warn("dropping record without id")
		return domain.Record{}, false, nil
	}

	return domain.Record{
		ID:         domain.RecordID(w.ID),
		Category:   domain.Category(w.Category),
		Payload:    w.Payload,
		ReceivedAt: time.Now().UTC(),
	}, true, nil
}

// Pending returns the number of records waiting in the list.
func (s *Source) Pending(ctx context.Context) (int64, error) {
	n, err := s.client.QueueLen(ctx, s.key)
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}
