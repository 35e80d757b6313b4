package ledger

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/openlabels/sourcify-bridge/internal/candidate"
)

// FailureLog is an append-only CSV of failed submissions, flushed to disk on
// every write. It is deliberately redundant with the structured store: the
// log survives a corrupted database or a process killed mid-write.
type FailureLog struct {
	mu   sync.Mutex
	file *os.File
	w    *csv.Writer
}

// OpenFailureLog opens (creating with a header if absent) the failure log
// at path.
func OpenFailureLog(path string) (*FailureLog, error) {
	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open failure log: %w", err)
	}

	l := &FailureLog{file: f, w: csv.NewWriter(f)}
	if fresh {
		if err := l.writeRow([]string{"timestamp", "address", "chain_id", "error_message", "tags_json"}); err != nil {
			f.Close()
			return nil, fmt.Errorf("write failure log header: %w", err)
		}
	}
	return l, nil
}

// Append writes one failure row and forces it to disk before returning.
func (l *FailureLog) Append(ts time.Time, key candidate.Key, errMsg, tagsJSON string) error {
	return l.writeRow([]string{
		ts.Format(timeLayout),
		key.Address,
		fmt.Sprintf("%d", key.ChainID),
		errMsg,
		tagsJSON,
	})
}

func (l *FailureLog) writeRow(row []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.w.Write(row); err != nil {
		return err
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return err
	}
	return l.file.Sync()
}

// Close flushes and closes the underlying file.
func (l *FailureLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Flush()
	return l.file.Close()
}
