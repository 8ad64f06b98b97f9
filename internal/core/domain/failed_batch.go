package domain

import "time"

// FailedBatch is a batch the sink permanently rejected, held in memory
// until it is dumped to disk at shutdown for manual recovery.
type FailedBatch struct {
	ID       string    `json:"id"`
	Category Category  `json:"category"`
	Records  Batch     `json:"records"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}
