// Package ledger is the durable per-record outcome store: the system's
// source of truth for which (address, chain) pairs have already been
// labeled successfully.
package ledger

import (
	"context"
	"time"

	"github.com/openlabels/sourcify-bridge/internal/candidate"
)

// Status is the submission state of a ledger row.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Attempt is one submission attempt to record. Recording replaces any prior
// row for the key entirely (last write wins, no merge).
type Attempt struct {
	Key          candidate.Key
	Status       Status
	Tags         []byte // canonical tag-set serialization, kept for audit
	TransportRef string // transaction hash or off-chain response id
	ErrorMessage string
}

// FailureRow is one failed submission, as returned by ExportFailures.
type FailureRow struct {
	Address      string
	ChainID      int64
	Timestamp    time.Time
	ErrorMessage string
	TagsJSON     string
}

// Stats summarizes the ledger contents.
type Stats struct {
	Total       int64
	Successful  int64
	Failed      int64
	Pending     int64
	SuccessRate float64 // percent of total
}

// Store records submission outcomes. Implementations must tolerate
// concurrent RecordAttempt calls from the worker pool; every write is a
// single atomic upsert keyed by (address, chain_id).
type Store interface {
	// RecordAttempt upserts the row for the attempt's key. A failed
	// attempt is additionally appended, flushed, to the failure log.
	RecordAttempt(ctx context.Context, a Attempt) error

	// IsSuccessful reports whether the key already has a success row.
	IsSuccessful(ctx context.Context, key candidate.Key) (bool, error)

	// SuccessfulKeys returns every key with a success row, for
	// batch-level deduplication in one bulk lookup.
	SuccessfulKeys(ctx context.Context) (map[candidate.Key]struct{}, error)

	// Stats returns ledger-wide counters.
	Stats(ctx context.Context) (Stats, error)

	// ExportFailures returns failed rows ordered most-recent-first.
	ExportFailures(ctx context.Context) ([]FailureRow, error)

	Close() error
}
