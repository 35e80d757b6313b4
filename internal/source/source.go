// Package source materializes batches of candidate records for submission.
// Two backends exist: a Postgres join over the Sourcify tables, and
// pre-joined parquet exports read from local disk or object storage.
package source

import (
	"context"
	"fmt"

	"github.com/openlabels/sourcify-bridge/internal/candidate"
)

// BatchSource produces candidate batches. Offsets count raw source rows,
// not emitted records: a malformed row is skipped but still consumes its
// position, so the cursor never drifts from the underlying dataset.
// NextBatch is deterministic for a given offset and dataset snapshot; the
// source is exhausted when it reads fewer than batchSize raw rows.
type BatchSource interface {
	// Total estimates how many raw candidate rows the source holds.
	Total(ctx context.Context) (int64, error)

	// NextBatch reads up to batchSize raw rows starting at offset and
	// returns the usable records among them plus the raw count read.
	// len(records) <= read; the difference is skipped rows.
	NextBatch(ctx context.Context, batchSize int, offset int64) (records []candidate.Record, read int, err error)

	Close() error
}

// Config selects and configures the batch source backend.
type Config struct {
	Mode        string // "postgres" | "parquet"
	PostgresDSN string
	ParquetURL  string // gocloud bucket URL: file://, s3://, gs://
}

// New creates a batch source from configuration.
func New(ctx context.Context, cfg Config) (BatchSource, error) {
	switch cfg.Mode {
	case "postgres":
		return NewPostgresSource(ctx, cfg.PostgresDSN)
	case "parquet":
		return NewParquetSource(ctx, cfg.ParquetURL)
	default:
		return nil, fmt.Errorf("unknown source mode %q", cfg.Mode)
	}
}
