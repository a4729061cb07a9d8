// Package event defines the entities of the inbound event pipeline: the
// queued record, its idempotency-cache entry, and the processing statistics
// reported by the status surface.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// State is the processing state recorded in the idempotency cache.
type State int

const (
	// StateProcessing marks an identity whose event is currently in flight.
	StateProcessing State = iota
	// StateCompleted marks an identity whose event finished successfully.
	StateCompleted
	// StateFailed marks an identity whose event ended in a terminal failure.
	StateFailed
)

// String returns the wire representation of a State.
func (s State) String() string {
	switch s {
	case StateProcessing:
		return "processing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Record is a single queued event awaiting the sequential consumer.
// A Record is unique by Identity while it sits in the queue; it is removed on
// terminal resolution (completed or failed-exhausted).
type Record struct {
	Identity   string          `json:"identity"`
	Payload    json.RawMessage `json:"payload"`
	Category   string          `json:"category"`
	Source     string          `json:"source"`
	EnqueuedAt time.Time       `json:"enqueued_at"`

	// Attempt counts completed processing attempts; 0 until the first failure.
	Attempt int `json:"attempt"`
}

// Entry is one idempotency-cache record.  Exactly one Entry exists per
// identity; entries older than the cache TTL are treated as absent.
type Entry struct {
	Identity  string          `json:"identity"`
	Timestamp time.Time       `json:"timestamp"`
	State     State           `json:"state"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Stats aggregates pipeline counters since process start.
type Stats struct {
	Total      int64 `json:"total"`
	Processed  int64 `json:"processed"`
	Duplicates int64 `json:"duplicates"`
	Failed     int64 `json:"failed"`
	Retries    int64 `json:"retries"`
}

// PendingItem is the status-surface projection of a queued Record.
type PendingItem struct {
	Identity   string    `json:"identity"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempt    int       `json:"attempt"`
}

// EntrySnapshot is the status-surface projection of a cache Entry.
type EntrySnapshot struct {
	Identity  string    `json:"identity"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}
