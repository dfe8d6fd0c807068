package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"mira-api/internal/config"
	"mira-api/internal/server"
	"mira-api/internal/services"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "Preview changes without writing to Firestore")
	reextract := flag.Bool("reextract", false, "Re-read stored originals of assets without GPS")
	backfill := flag.Bool("backfill", false, "Import new files from Google Drive before reconciling")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := server.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.Named("update-metadata")
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger, *dryRun, *reextract, *backfill); err != nil {
		logger.Error("metadata update failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger, dryRun, reextract, backfill bool) error {
	if !cfg.UsesFirebase() {
		return fmt.Errorf("FIREBASE_PROJECT_ID is required; in-memory stores have nothing to update")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svcs, err := server.InitServices(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init services: %w", err)
	}
	defer func() {
		if err := svcs.Close(); err != nil {
			logger.Warn("failed to close clients", zap.Error(err))
		}
	}()

	if dryRun {
		logger.Info("dry run, no writes")
	}

	if backfill {
		if svcs.Drive == nil {
			return fmt.Errorf("backfill needs GOOGLE_DRIVE_FOLDER_ID and Drive credentials")
		}
		if dryRun {
			logger.Info("skipping drive backfill in dry run")
		} else {
			report, err := svcs.Drive.Sync(ctx)
			if err != nil {
				return fmt.Errorf("drive backfill: %w", err)
			}
			logReport(logger, "drive backfill", report)
		}
	}

	if reextract {
		report, err := svcs.Upkeep.ReextractMissing(ctx, dryRun)
		if err != nil {
			return fmt.Errorf("re-extract: %w", err)
		}
		logMaintenance(logger, "re-extract", report)
	}

	report, err := svcs.Upkeep.ResolvePending(ctx, dryRun)
	if err != nil {
		return fmt.Errorf("resolve pending: %w", err)
	}
	logMaintenance(logger, "resolve pending", report)
	return nil
}

func logReport(logger *zap.Logger, pass string, report services.SyncReport) {
	logger.Info(pass+" complete",
		zap.Int("listed", report.Listed),
		zap.Int("skipped", report.Skipped),
		zap.Int("imported", report.Imported),
		zap.Int("failed", report.Failed),
	)
}

func logMaintenance(logger *zap.Logger, pass string, report services.MaintenanceReport) {
	logger.Info(pass+" complete",
		zap.Int("scanned", report.Scanned),
		zap.Int("updated", report.Updated),
		zap.Int("skipped", report.Skipped),
		zap.Int("errors", report.Errors),
	)
}
