package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/parquet-go/parquet-go"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // gs:// driver
	_ "gocloud.dev/blob/s3blob"   // s3:// driver

	"github.com/openlabels/sourcify-bridge/internal/candidate"
	"github.com/openlabels/sourcify-bridge/internal/logging"
)

// candidateRow mirrors the pre-joined parquet export schema.
type candidateRow struct {
	ChainID         int64   `parquet:"chain_id"`
	Address         string  `parquet:"address"`
	DeploymentTx    *string `parquet:"deployment_tx,optional"`
	DeploymentBlock *int64  `parquet:"deployment_block,optional"`
	Deployer        *string `parquet:"deployer_address,optional"`
	Language        *string `parquet:"code_language,optional"`
	Compiler        *string `parquet:"code_compiler,optional"`
	Name            *string `parquet:"contract_name,optional"`
}

// ParquetSource reads pre-joined candidate rows from parquet files in a
// bucket (file://, s3://, or gs://). Files are ordered by key, so the
// concatenation is a stable, deterministic sequence for a fixed snapshot.
type ParquetSource struct {
	bucket *blob.Bucket
	keys   []string
	counts map[string]int64 // per-file row counts, filled lazily
	log    *slog.Logger
}

// NewParquetSource opens the bucket and indexes its parquet files.
func NewParquetSource(ctx context.Context, url string) (*ParquetSource, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", url, err)
	}

	s := &ParquetSource{
		bucket: bucket,
		counts: make(map[string]int64),
		log:    logging.Component("source"),
	}

	iter := bucket.List(nil)
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			bucket.Close()
			return nil, fmt.Errorf("list bucket: %w", err)
		}
		if obj.IsDir || !strings.HasSuffix(obj.Key, ".parquet") {
			continue
		}
		s.keys = append(s.keys, obj.Key)
	}
	sort.Strings(s.keys)

	if len(s.keys) == 0 {
		bucket.Close()
		return nil, fmt.Errorf("no parquet files found at %s", url)
	}

	s.log.Info("indexed parquet source", "url", url, "files", len(s.keys))
	return s, nil
}

// Total sums the row counts of every file, reading footers as needed.
func (s *ParquetSource) Total(ctx context.Context) (int64, error) {
	var total int64
	for _, key := range s.keys {
		n, err := s.rowCount(ctx, key)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// NextBatch reads raw rows [offset, offset+batchSize) of the concatenated
// file sequence, skipping whole files by their footer row counts. The file
// cursor advances in raw rows, so skipped records never shift the window.
func (s *ParquetSource) NextBatch(ctx context.Context, batchSize int, offset int64) ([]candidate.Record, int, error) {
	out := make([]candidate.Record, 0, batchSize)
	read := 0
	var cursor int64

	for _, key := range s.keys {
		if read >= batchSize {
			break
		}

		n, err := s.rowCount(ctx, key)
		if err != nil {
			return nil, 0, err
		}
		if cursor+n <= offset {
			cursor += n
			continue
		}

		rows, err := s.readFile(ctx, key)
		if err != nil {
			return nil, 0, err
		}

		start := offset + int64(read) - cursor
		for _, row := range rows[start:] {
			if read >= batchSize {
				break
			}
			read++
			if rec, ok := s.toRecord(row); ok {
				out = append(out, rec)
			}
		}
		cursor += n
	}

	return out, read, nil
}

// rowCount returns a file's row count from its footer, cached.
func (s *ParquetSource) rowCount(ctx context.Context, key string) (int64, error) {
	if n, ok := s.counts[key]; ok {
		return n, nil
	}

	data, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", key, err)
	}
	f, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("open parquet %s: %w", key, err)
	}

	s.counts[key] = f.NumRows()
	return f.NumRows(), nil
}

func (s *ParquetSource) readFile(ctx context.Context, key string) ([]candidateRow, error) {
	data, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	rows, err := parquet.Read[candidateRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("decode parquet %s: %w", key, err)
	}
	return rows, nil
}

func (s *ParquetSource) toRecord(row candidateRow) (candidate.Record, bool) {
	address, err := candidate.ParseAddress(row.Address)
	if err != nil || candidate.IsZeroAddress(address) {
		s.log.Warn("skipping malformed candidate", "address", row.Address, "chain_id", row.ChainID)
		return candidate.Record{}, false
	}

	return candidate.Record{
		Address:         address,
		ChainID:         row.ChainID,
		DeploymentTx:    deref(row.DeploymentTx),
		DeploymentBlock: row.DeploymentBlock,
		Deployer:        deref(row.Deployer),
		Language:        deref(row.Language),
		Compiler:        deref(row.Compiler),
		Name:            deref(row.Name),
	}, true
}

// Close releases the bucket handle.
func (s *ParquetSource) Close() error {
	return s.bucket.Close()
}
