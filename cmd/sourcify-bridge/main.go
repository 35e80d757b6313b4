package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/openlabels/sourcify-bridge/internal/checkpoint"
	"github.com/openlabels/sourcify-bridge/internal/config"
	"github.com/openlabels/sourcify-bridge/internal/ledger"
	"github.com/openlabels/sourcify-bridge/internal/logging"
	"github.com/openlabels/sourcify-bridge/internal/metrics"
	"github.com/openlabels/sourcify-bridge/internal/runner"
	"github.com/openlabels/sourcify-bridge/internal/source"
	"github.com/openlabels/sourcify-bridge/internal/submitter"
	"github.com/openlabels/sourcify-bridge/internal/transport"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	cfg := config.MustLoad()
	logging.Setup(logging.Config{Format: cfg.Logging.Format, Level: cfg.Logging.Level})
	slog.Info("sourcify bridge starting", "version", Version, "network", cfg.Service.Network)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown handler
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		slog.Info("received signal, finishing current batch", "signal", sig.String())
		cancel()
	}()

	if cfg.Metrics.Enabled {
		metrics.Init("sourcify_bridge")
		go func() {
			slog.Info("metrics server listening", "address", cfg.Metrics.Address)
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				slog.Error("metrics server failed", "error", err)
			}
		}()
	}

	src, err := source.New(ctx, source.Config{
		Mode:        cfg.Source.Mode,
		PostgresDSN: cfg.Source.PostgresDSN,
		ParquetURL:  cfg.Source.ParquetURL,
	})
	if err != nil {
		slog.Error("failed to create source", "error", err)
		os.Exit(1)
	}
	defer src.Close()

	store, err := ledger.OpenSQLite(cfg.State.Dir)
	if err != nil {
		slog.Error("failed to open ledger", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	client := transport.NewHTTPClient(transport.HTTPConfig{
		BaseURL: cfg.Service.BaseURL,
		APIKey:  cfg.Service.APIKey,
		Timeout: cfg.Service.Timeout.Std(),
	})
	defer client.Close()

	ckpt, err := checkpoint.NewManager(checkpoint.Config{
		Enabled: cfg.State.Checkpoint,
		Dir:     cfg.State.Dir,
	})
	if err != nil {
		slog.Error("failed to create checkpoint manager", "error", err)
		os.Exit(1)
	}

	sub := submitter.New(store, client, submitter.Config{
		Workers:   cfg.Batch.Workers,
		Delay:     cfg.Batch.Delay.Std(),
		Onchain:   cfg.Service.Onchain,
		Namespace: cfg.Service.Namespace,
		Network:   cfg.Service.Network,
	})

	r := runner.New(src, sub, ckpt, store, runner.Config{
		BatchSize: cfg.Batch.Size,
		Network:   cfg.Service.Network,
		StateDir:  cfg.State.Dir,
	})

	sum, err := r.Run(ctx)
	if err != nil {
		slog.Error("run failed",
			"error", err,
			"submitted", sum.Submitted,
			"skipped", sum.Skipped,
			"failed", sum.Failed,
		)
		os.Exit(1)
	}
	if sum.Interrupted {
		slog.Info("shutdown complete, resume with the saved checkpoint")
		return
	}
	slog.Info("bridge stopped cleanly",
		"submitted", sum.Submitted,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
	)
}
