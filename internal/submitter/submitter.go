// Package submitter executes one batch at a time: deduplicate against the
// ledger, fan submissions out to a bounded worker pool, record every outcome,
// and retry a small failed remainder once.
package submitter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openlabels/sourcify-bridge/internal/candidate"
	"github.com/openlabels/sourcify-bridge/internal/ledger"
	"github.com/openlabels/sourcify-bridge/internal/logging"
	"github.com/openlabels/sourcify-bridge/internal/metrics"
	"github.com/openlabels/sourcify-bridge/internal/tags"
	"github.com/openlabels/sourcify-bridge/internal/transport"
)

// retryThreshold caps the retry pass: a failed remainder is retried only
// when it is under a tenth of the records actually submitted. A larger
// failure share points at a systemic problem (service down, bad
// credentials) where hammering the service again would not help.
const retryThreshold = 0.10

// Config controls batch execution.
type Config struct {
	Workers   int           // parallel submissions per batch, default 10
	Delay     time.Duration // pause between sequential submissions
	Onchain   bool          // use the atomic multi-label path
	Namespace string        // chain id namespace, e.g. "eip155"
	Network   string        // metrics label only
}

// BatchResult summarizes one batch execution. Skipped records count toward
// the batch's successes: they are already labeled, which is the goal state.
type BatchResult struct {
	Total     int
	Skipped   int
	Submitted int
	Failed    int
	Retried   int
}

// Successful is the number of records in the goal state after the batch.
func (r BatchResult) Successful() int {
	return r.Skipped + r.Submitted
}

// Submitter runs batches against the ledger and the labeling service.
type Submitter struct {
	store  ledger.Store
	client transport.Client
	cfg    Config
	log    *slog.Logger
}

// New creates a submitter.
func New(store ledger.Store, client transport.Client, cfg Config) *Submitter {
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "eip155"
	}
	return &Submitter{
		store:  store,
		client: client,
		cfg:    cfg,
		log:    logging.Component("submitter"),
	}
}

func (s *Submitter) labels() metrics.Labels {
	mode := "offchain"
	if s.cfg.Onchain {
		mode = "onchain"
	}
	return metrics.Labels{Network: s.cfg.Network, Mode: mode}
}

// FilterSubmitted drops records whose key already has a success row,
// using one bulk ledger lookup for the whole batch.
func (s *Submitter) FilterSubmitted(ctx context.Context, batch []candidate.Record) ([]candidate.Record, int, error) {
	done, err := s.store.SuccessfulKeys(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("load successful keys: %w", err)
	}

	survivors := make([]candidate.Record, 0, len(batch))
	for _, rec := range batch {
		if _, ok := done[rec.Key()]; ok {
			continue
		}
		survivors = append(survivors, rec)
	}
	return survivors, len(batch) - len(survivors), nil
}

// SubmitBatch deduplicates and submits one batch. A returned error means
// the run cannot safely continue (ledger write failure or cancellation);
// per-record transport failures are recorded in the ledger and reported
// through the result instead.
func (s *Submitter) SubmitBatch(ctx context.Context, batch []candidate.Record) (BatchResult, error) {
	start := time.Now()
	res := BatchResult{Total: len(batch)}

	survivors, skipped, err := s.FilterSubmitted(ctx, batch)
	if err != nil {
		return res, err
	}
	res.Skipped = skipped
	if m := metrics.Get(); m != nil {
		m.AddRecordsSkipped(s.labels(), float64(skipped))
	}

	if len(survivors) == 0 {
		s.log.Info("batch already fully submitted", "total", len(batch))
		return res, nil
	}

	var failed []candidate.Record
	if s.cfg.Onchain && len(survivors) > 1 {
		failed, err = s.submitAtomic(ctx, survivors)
	} else {
		failed, err = s.submitParallel(ctx, survivors)
	}
	if err != nil {
		return res, err
	}

	// One sequential retry pass, only for a small remainder. The share is
	// measured against the surviving records: skipped ones never hit the
	// service, so they say nothing about its health.
	if n := len(failed); n > 0 && float64(n) < retryThreshold*float64(len(survivors)) {
		s.log.Info("retrying failed remainder", "failed", n, "submitted", len(survivors))
		res.Retried = n
		failed, err = s.retrySequential(ctx, failed)
		if err != nil {
			return res, err
		}
	}

	res.Failed = len(failed)
	res.Submitted = len(survivors) - len(failed)

	if m := metrics.Get(); m != nil {
		m.AddRecordsSubmitted(s.labels(), float64(res.Submitted))
		m.AddRecordsFailed(s.labels(), float64(res.Failed))
		m.IncBatchesProcessed(s.labels())
		m.ObserveBatchDuration(s.labels(), time.Since(start).Seconds())
	}
	return res, nil
}

// submitParallel fans survivors out to a bounded worker pool and returns
// the records that failed.
func (s *Submitter) submitParallel(ctx context.Context, survivors []candidate.Record) ([]candidate.Record, error) {
	workers := s.cfg.Workers
	if workers > len(survivors) {
		workers = len(survivors)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan candidate.Record)
	var (
		mu     sync.Mutex
		failed []candidate.Record
		fatal  error
		wg     sync.WaitGroup
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			log := logging.WorkerLogger(workerID)
			for rec := range jobs {
				ok, err := s.submitRecord(ctx, rec, log)
				if err != nil {
					mu.Lock()
					if fatal == nil {
						fatal = err
					}
					mu.Unlock()
					cancel()
					return
				}
				if !ok {
					mu.Lock()
					failed = append(failed, rec)
					mu.Unlock()
				}
			}
		}(i)
	}

dispatch:
	for _, rec := range survivors {
		select {
		case jobs <- rec:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	if fatal != nil {
		return nil, fatal
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return failed, nil
}

// submitAtomic tries the service's atomic multi-label call. On a batch-level
// failure nothing is assumed submitted and every record falls back to the
// individual path.
func (s *Submitter) submitAtomic(ctx context.Context, survivors []candidate.Record) ([]candidate.Record, error) {
	valid := make([]candidate.Record, 0, len(survivors))
	labels := make([]transport.Label, 0, len(survivors))
	var failed []candidate.Record

	for _, rec := range survivors {
		label := s.buildLabel(rec)
		ok, err := s.client.Validate(ctx, label)
		if err != nil || !ok {
			msg := "Validation failed"
			if err != nil {
				msg = err.Error()
			}
			if rerr := s.recordFailure(ctx, rec, label, msg); rerr != nil {
				return nil, rerr
			}
			failed = append(failed, rec)
			continue
		}
		valid = append(valid, rec)
		labels = append(labels, label)
	}

	if len(valid) == 0 {
		return failed, nil
	}

	for i, rec := range valid {
		if err := s.recordPending(ctx, rec, labels[i]); err != nil {
			return nil, err
		}
	}

	txHash, _, err := s.client.SubmitMany(ctx, labels)
	if err != nil {
		// Nothing in a failed atomic call can be assumed submitted. The
		// service just rejected a whole batch, so the fallback goes one
		// record at a time with the rate-limit delay, never in parallel.
		s.log.Warn("atomic batch submission failed, falling back to sequential individual path",
			"records", len(valid), "error", err)
		if m := metrics.Get(); m != nil {
			m.IncTransportErrors(s.labels())
		}
		indivFailed, ferr := s.submitSequential(ctx, valid)
		if ferr != nil {
			return nil, ferr
		}
		return append(failed, indivFailed...), nil
	}

	for i, rec := range valid {
		if err := s.store.RecordAttempt(ctx, ledger.Attempt{
			Key:          rec.Key(),
			Status:       ledger.StatusSuccess,
			Tags:         labels[i].Tags.MustCanonical(),
			TransportRef: txHash,
		}); err != nil {
			return nil, fmt.Errorf("record batch success: %w", err)
		}
	}
	s.log.Info("atomic batch submitted", "records", len(valid), "tx_hash", txHash)
	return failed, nil
}

// retrySequential re-submits failed records one at a time with the
// configured delay between attempts.
func (s *Submitter) retrySequential(ctx context.Context, records []candidate.Record) ([]candidate.Record, error) {
	if m := metrics.Get(); m != nil {
		m.IncRetryAttempts(s.labels())
	}
	return s.submitSequential(ctx, records)
}

// submitSequential pushes records through the individual path one at a
// time, pausing the configured delay between calls.
func (s *Submitter) submitSequential(ctx context.Context, records []candidate.Record) ([]candidate.Record, error) {
	var stillFailed []candidate.Record
	for i, rec := range records {
		if i > 0 && s.cfg.Delay > 0 {
			select {
			case <-time.After(s.cfg.Delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		ok, err := s.submitRecord(ctx, rec, s.log)
		if err != nil {
			return nil, err
		}
		if !ok {
			stillFailed = append(stillFailed, rec)
		}
	}
	return stillFailed, nil
}

// submitRecord pushes one record through validate-submit-record. The bool
// reports whether the record ended in the success state; a non-nil error is
// fatal for the run (ledger write failure or cancellation).
func (s *Submitter) submitRecord(ctx context.Context, rec candidate.Record, log *slog.Logger) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	// Once dispatched, the attempt runs to completion even if the run is
	// canceled: aborting a submission mid-flight could leave the service
	// with a label the ledger never reconciled.
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	// A concurrent or earlier attempt may already have landed this key.
	done, err := s.store.IsSuccessful(ctx, rec.Key())
	if err != nil {
		return false, fmt.Errorf("check %s: %w", rec.Key(), err)
	}
	if done {
		return true, nil
	}

	label := s.buildLabel(rec)

	if err := s.recordPending(ctx, rec, label); err != nil {
		return false, err
	}

	ok, err := s.client.Validate(ctx, label)
	if err != nil {
		log.Warn("validation call failed", "key", rec.Key().String(), "error", err)
		return false, s.recordFailure(ctx, rec, label, err.Error())
	}
	if !ok {
		log.Warn("record rejected by validation", "key", rec.Key().String())
		return false, s.recordFailure(ctx, rec, label, "Validation failed")
	}

	ref, err := s.client.SubmitOne(ctx, label)
	if err != nil {
		log.Warn("submission failed", "key", rec.Key().String(), "error", err)
		if m := metrics.Get(); m != nil {
			m.IncTransportErrors(s.labels())
		}
		return false, s.recordFailure(ctx, rec, label, err.Error())
	}

	if err := s.store.RecordAttempt(ctx, ledger.Attempt{
		Key:          rec.Key(),
		Status:       ledger.StatusSuccess,
		Tags:         label.Tags.MustCanonical(),
		TransportRef: ref,
	}); err != nil {
		return false, fmt.Errorf("record success for %s: %w", rec.Key(), err)
	}

	if m := metrics.Get(); m != nil {
		m.ObserveSubmissionDuration(s.labels(), time.Since(start).Seconds())
	}
	log.Debug("record submitted", "key", rec.Key().String(), "ref", ref)
	return true, nil
}

func (s *Submitter) buildLabel(rec candidate.Record) transport.Label {
	return transport.Label{
		Address: rec.ChecksumAddress(),
		ChainID: transport.ChainID(s.cfg.Namespace, rec.ChainID),
		Tags:    tags.Map(rec),
	}
}

func (s *Submitter) recordPending(ctx context.Context, rec candidate.Record, label transport.Label) error {
	if err := s.store.RecordAttempt(ctx, ledger.Attempt{
		Key:    rec.Key(),
		Status: ledger.StatusPending,
		Tags:   label.Tags.MustCanonical(),
	}); err != nil {
		if m := metrics.Get(); m != nil {
			m.IncLedgerErrors(s.labels())
		}
		return fmt.Errorf("record pending for %s: %w", rec.Key(), err)
	}
	return nil
}

func (s *Submitter) recordFailure(ctx context.Context, rec candidate.Record, label transport.Label, msg string) error {
	if err := s.store.RecordAttempt(ctx, ledger.Attempt{
		Key:          rec.Key(),
		Status:       ledger.StatusFailed,
		Tags:         label.Tags.MustCanonical(),
		ErrorMessage: msg,
	}); err != nil {
		if m := metrics.Get(); m != nil {
			m.IncLedgerErrors(s.labels())
		}
		return fmt.Errorf("record failure for %s: %w", rec.Key(), err)
	}
	return nil
}
