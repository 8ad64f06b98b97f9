package sink

import (
	"context"

	"github.com/vietddude/courier/internal/core/domain"
)

// Sink is the downstream write target. Implementations surface only a
// terminal result: a nil return means the batch is durably written, a
// non-nil return means the sink exhausted its own retry budget and the
// pipeline must treat the failure as permanent. Transient errors are
// absorbed inside the sink (see Retrying) and never reach the caller.
type Sink interface {
	// WriteBatch persists all records of one category's batch.
	WriteBatch(ctx context.Context, category domain.Category, batch domain.Batch) error

	// Close releases any held resources.
	Close() error
}
