package domain

import (
	"encoding/json"
	"time"
)

// RecordID is the opaque 64-bit identifier of a logical record.
// It is the unit of deduplication.
type RecordID uint64

// Category is the partition key for queueing and failure isolation.
// The set of valid categories is closed and comes from configuration.
type Category string

// Record is a single unit of work flowing through the pipeline.
// The payload is opaque to the pipeline; only the sink interprets it.
type Record struct {
	ID         RecordID        `json:"id"`
	Category   Category        `json:"category"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Batch is an ordered slice of records drawn from one category.
// Order is FIFO relative to enqueue time within that category;
// there is no cross-category ordering guarantee.
type Batch []Record
