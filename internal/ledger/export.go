package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// WriteFailureExport writes the full failure export to path as CSV,
// gzip-compressed when the path ends in ".gz". Returns the number of rows
// written.
func WriteFailureExport(path string, rows []FailureRow) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create failure export: %w", err)
	}
	defer f.Close()

	var out io.Writer = f
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(f)
		out = gz
	}

	w := csv.NewWriter(out)
	if err := w.Write([]string{"address", "chain_id", "timestamp", "error_message", "tags_json"}); err != nil {
		return 0, fmt.Errorf("write export header: %w", err)
	}

	for _, r := range rows {
		rec := []string{
			r.Address,
			strconv.FormatInt(r.ChainID, 10),
			r.Timestamp.Format(timeLayout),
			r.ErrorMessage,
			r.TagsJSON,
		}
		if err := w.Write(rec); err != nil {
			return 0, fmt.Errorf("write export row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return 0, fmt.Errorf("flush export: %w", err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return 0, fmt.Errorf("close gzip export: %w", err)
		}
	}
	return len(rows), f.Sync()
}
