package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"hanasu/internal/diskspace"
	"hanasu/internal/download"
	"hanasu/internal/logging"
	"hanasu/internal/paths"
	"hanasu/internal/pipeline"
	"hanasu/internal/queue"
	"hanasu/internal/transcribe"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig(ctx)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}

			layout := paths.NewLayout(cfg.Paths.BulkRoot, cfg.Paths.WorkRoot)
			lock := flock.New(layout.LockFile())
			locked, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire pipeline lock: %w", err)
			}
			if !locked {
				return fmt.Errorf("another hanasu instance already holds %s", layout.LockFile())
			}
			defer func() { _ = lock.Unlock() }()

			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return err
			}

			store, err := queue.Open(cfg)
			if err != nil {
				return fmt.Errorf("open queue store: %w", err)
			}
			defer store.Close()

			monitor := diskspace.NewMonitor(cfg)
			downloadStage := download.NewStage(cfg, store, logger)
			transcribeStage := transcribe.NewStage(cfg, store, logger, monitor.Invalidate)
			p := pipeline.New(cfg, store, monitor, logger, downloadStage, transcribeStage)

			signalCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if usage, err := monitor.Usage(); err == nil {
				logger.Info("initial disk usage",
					logging.Float64("total_gb", usage.TotalGB()),
					logging.Int64("total_bytes", usage.TotalBytes),
				)
			}

			if err := p.Start(signalCtx); err != nil {
				return err
			}
			<-signalCtx.Done()
			logger.Info("shutdown requested")
			p.Stop()
			return nil
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	return cmd
}
