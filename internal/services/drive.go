package services

import (
	"context"
	"fmt"
	"time"

	"mira-api/internal/models"
	"mira-api/internal/utils"

	"go.uber.org/zap"
	"google.golang.org/api/drive/v3"
)

const defaultDriveBatchSize = 20

// DriveActor is the identity Drive imports are recorded under.
var DriveActor = models.Actor{Id: "drive-sync", Name: "Drive Sync", Role: models.RoleAdmin}

// SyncReport summarizes one pass over the Drive folder.
type SyncReport struct {
	Listed   int `json:"listed"`
	Skipped  int `json:"skipped"`
	Imported int `json:"imported"`
	Failed   int `json:"failed"`
}

// DriveImporter treats a Drive folder as another upload source. New media
// files are downloaded and pushed through IngestBatch in fixed-size batches.
type DriveImporter struct {
	source    DriveSource
	ingest    *IngestService
	store     AssetStore
	folderID  string
	batchSize int
	logger    *zap.Logger
}

func NewDriveImporter(source DriveSource, ingest *IngestService, store AssetStore, folderID string, logger *zap.Logger) *DriveImporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DriveImporter{
		source:    source,
		ingest:    ingest,
		store:     store,
		folderID:  folderID,
		batchSize: defaultDriveBatchSize,
		logger:    logger.Named("drive_sync"),
	}
}

// Sync imports every media file of the folder whose name is not already in
// the asset store. Files that fail to download are counted and skipped.
func (di *DriveImporter) Sync(ctx context.Context) (SyncReport, error) {
	var report SyncReport

	files, err := di.source.ListFilesInFolder(ctx, di.folderID)
	if err != nil {
		return report, err
	}
	report.Listed = len(files)

	known, err := di.knownNames(ctx)
	if err != nil {
		return report, err
	}

	pending := make([]models.UploadFile, 0, di.batchSize)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		result, err := di.ingest.IngestBatch(ctx, DriveActor, pending)
		if err != nil {
			return err
		}
		report.Imported += len(result.Assets)
		pending = pending[:0]
		return nil
	}

	for _, f := range files {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if _, ok := MediaKindOf(f.MimeType); !ok {
			di.logger.Debug("skipping non-media file", zap.String("file", f.Name), zap.String("mime", f.MimeType))
			report.Skipped++
			continue
		}
		if _, seen := known[f.Name]; seen {
			report.Skipped++
			continue
		}

		data, err := di.source.DownloadBytes(ctx, f.Id)
		if err != nil {
			di.logger.Warn("drive download failed", zap.String("file", f.Name), zap.Error(err))
			report.Failed++
			continue
		}
		known[f.Name] = struct{}{}
		pending = append(pending, models.NewMemoryFile(f.Name, f.MimeType, driveModTime(f), data))

		if len(pending) >= di.batchSize {
			if err := flush(); err != nil {
				return report, err
			}
		}
	}
	if err := flush(); err != nil {
		return report, err
	}

	di.logger.Info("drive sync complete",
		zap.Int("listed", report.Listed),
		zap.Int("imported", report.Imported),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// Watch runs Sync every interval until ctx is cancelled. Errors are logged
// and the next tick tries again.
func (di *DriveImporter) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid drive sync interval %v", interval)
	}
	di.logger.Info("starting drive watch", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			di.logger.Info("drive watch stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := di.Sync(ctx); err != nil && ctx.Err() == nil {
				di.logger.Error("drive sync failed", zap.Error(err))
			}
		}
	}
}

func (di *DriveImporter) knownNames(ctx context.Context) (map[string]struct{}, error) {
	assets, err := di.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	names := make(map[string]struct{}, len(assets))
	for _, a := range assets {
		names[a.Name] = struct{}{}
	}
	return names, nil
}

func driveModTime(f *drive.File) time.Time {
	for _, raw := range []string{f.ModifiedTime, f.CreatedTime} {
		if raw == "" {
			continue
		}
		if t, err := utils.ParseTimestamp(raw); err == nil {
			return t
		}
	}
	return time.Time{}
}
