// Package runner drives the whole submission job: estimate the workload,
// resume from the last checkpoint, iterate batches through the submitter,
// and export failures when the run ends.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/openlabels/sourcify-bridge/internal/checkpoint"
	"github.com/openlabels/sourcify-bridge/internal/ledger"
	"github.com/openlabels/sourcify-bridge/internal/logging"
	"github.com/openlabels/sourcify-bridge/internal/metrics"
	"github.com/openlabels/sourcify-bridge/internal/source"
	"github.com/openlabels/sourcify-bridge/internal/submitter"
)

// Config controls the batch loop.
type Config struct {
	BatchSize int
	Network   string
	StateDir  string // failure exports land here
}

// Summary is the outcome of one run.
type Summary struct {
	Batches       int
	Records       int
	Submitted     int
	Skipped       int
	Failed        int
	Interrupted   bool
	FailureExport string // path of the gzipped export, empty when none
	Duration      time.Duration
}

// SkipRate is the share of seen records that were already submitted.
func (s Summary) SkipRate() float64 {
	if s.Records == 0 {
		return 0
	}
	return float64(s.Skipped) / float64(s.Records) * 100
}

// Runner owns the batch loop.
type Runner struct {
	src   source.BatchSource
	sub   *submitter.Submitter
	ckpt  checkpoint.Manager
	store ledger.Store
	cfg   Config
	log   *slog.Logger
}

// New creates a runner.
func New(src source.BatchSource, sub *submitter.Submitter, ckpt checkpoint.Manager, store ledger.Store, cfg Config) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	return &Runner{
		src:   src,
		sub:   sub,
		ckpt:  ckpt,
		store: store,
		cfg:   cfg,
		log:   logging.Component("runner"),
	}
}

// Run executes the job until the source is exhausted or ctx is canceled.
// The checkpoint survives an interrupted or failed run and is cleared only
// after a clean completion.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	var sum Summary

	total, err := r.src.Total(ctx)
	if err != nil {
		return sum, fmt.Errorf("estimate workload: %w", err)
	}

	if stats, err := r.store.Stats(ctx); err == nil && stats.Total > 0 {
		r.log.Info("existing ledger state",
			"total", stats.Total,
			"successful", stats.Successful,
			"failed", stats.Failed,
			"success_rate", fmt.Sprintf("%.1f%%", stats.SuccessRate),
		)
	}

	offset := r.resumeOffset(ctx)
	batchSize := r.cfg.BatchSize
	estBatches := int((total + int64(batchSize) - 1) / int64(batchSize))
	batchNum := int(offset/int64(batchSize)) + 1

	r.log.Info("starting run",
		"estimated_total", total,
		"estimated_batches", estBatches,
		"batch_size", batchSize,
		"start_offset", offset,
	)

	correlationID := logging.GenerateCorrelationID()
	ctx = logging.WithCorrelationID(ctx, correlationID)

	for {
		if ctx.Err() != nil {
			sum.Interrupted = true
			break
		}

		// Checkpoint before the batch runs. Offset points past this
		// batch; ResumeOffset rewinds one batch on restart, so an
		// interruption mid-batch never loses coverage.
		cp := &checkpoint.Checkpoint{
			BatchNum:     batchNum,
			TotalBatches: estBatches,
			BatchSize:    batchSize,
			Offset:       offset + int64(batchSize),
			UpdatedAt:    time.Now().UTC(),
		}
		if err := r.ckpt.Save(ctx, cp); err != nil {
			return sum, fmt.Errorf("save checkpoint: %w", err)
		}
		if m := metrics.Get(); m != nil {
			m.SetLastOffset(metrics.Labels{Network: r.cfg.Network}, float64(offset))
		}

		batch, read, err := r.src.NextBatch(ctx, batchSize, offset)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				sum.Interrupted = true
				break
			}
			if m := metrics.Get(); m != nil {
				m.IncSourceErrors(metrics.Labels{Network: r.cfg.Network})
			}
			return sum, fmt.Errorf("fetch batch %d: %w", batchNum, err)
		}
		if read == 0 {
			break
		}
		if len(batch) == 0 {
			// Every raw row in this window was skipped; keep walking.
			offset += int64(read)
			batchNum++
			if read < batchSize {
				break
			}
			continue
		}

		log := logging.BatchLogger(correlationID, r.cfg.Network, batchNum, len(batch))
		res, err := r.sub.SubmitBatch(ctx, batch)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				sum.Interrupted = true
				break
			}
			return sum, fmt.Errorf("batch %d: %w", batchNum, err)
		}

		sum.Batches++
		sum.Records += res.Total
		sum.Submitted += res.Submitted
		sum.Skipped += res.Skipped
		sum.Failed += res.Failed

		elapsed := time.Since(start).Seconds()
		rate := float64(sum.Records) / elapsed
		if m := metrics.Get(); m != nil {
			m.SetRecordsPerSecond(rate)
		}
		log.Info("batch complete",
			"progress", fmt.Sprintf("%d/%d", batchNum, estBatches),
			"submitted", res.Submitted,
			"skipped", res.Skipped,
			"failed", res.Failed,
			"records_per_sec", fmt.Sprintf("%.1f", rate),
		)

		// Advance by raw rows read, not records kept: skipped rows still
		// consume their source positions.
		offset += int64(read)
		batchNum++
		if read < batchSize {
			break
		}
	}

	sum.Duration = time.Since(start)

	if sum.Interrupted {
		r.log.Info("run interrupted, checkpoint retained", "offset", offset)
	} else {
		if err := r.ckpt.Clear(ctx); err != nil {
			r.log.Warn("failed to clear checkpoint", "error", err)
		}
	}

	if path, err := r.exportFailures(); err != nil {
		r.log.Warn("failure export failed", "error", err)
	} else if path != "" {
		sum.FailureExport = path
	}

	r.log.Info("run finished",
		"batches", sum.Batches,
		"records", sum.Records,
		"submitted", sum.Submitted,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
		"skip_rate", fmt.Sprintf("%.1f%%", sum.SkipRate()),
		"interrupted", sum.Interrupted,
		"duration", sum.Duration.Round(time.Second).String(),
	)
	return sum, nil
}

// resumeOffset loads the checkpoint and rewinds one batch. Anything wrong
// with the stored checkpoint means starting over; deduplication makes a
// fresh start cheap.
func (r *Runner) resumeOffset(ctx context.Context) int64 {
	cp, err := r.ckpt.Load(ctx)
	if err != nil {
		if !errors.Is(err, checkpoint.ErrNoCheckpoint) {
			r.log.Warn("unusable checkpoint, starting from the beginning", "error", err)
		}
		return 0
	}

	offset := cp.ResumeOffset()
	r.log.Info("resuming from checkpoint",
		"batch_num", cp.BatchNum,
		"checkpoint_offset", cp.Offset,
		"resume_offset", offset,
		"saved_at", cp.UpdatedAt.Format(time.RFC3339),
	)
	return offset
}

// exportFailures writes a gzipped CSV of all failed rows into the state
// directory. Uses a background context: the export must happen even when
// the run context is already canceled.
func (r *Runner) exportFailures() (string, error) {
	ctx := context.Background()

	stats, err := r.store.Stats(ctx)
	if err != nil {
		return "", fmt.Errorf("ledger stats: %w", err)
	}
	if stats.Failed == 0 {
		return "", nil
	}

	rows, err := r.store.ExportFailures(ctx)
	if err != nil {
		return "", fmt.Errorf("collect failures: %w", err)
	}

	name := fmt.Sprintf("failed_records_%s.csv.gz", time.Now().UTC().Format("20060102_150405"))
	path := filepath.Join(r.cfg.StateDir, name)
	n, err := ledger.WriteFailureExport(path, rows)
	if err != nil {
		return "", err
	}

	r.log.Info("exported failed records", "path", path, "rows", n)
	return path, nil
}
