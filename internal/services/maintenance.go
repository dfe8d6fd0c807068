package services

import (
	"context"
	"time"

	"mira-api/internal/models"

	"go.uber.org/zap"
)

// MaintenanceReport counts what a maintenance pass touched.
type MaintenanceReport struct {
	Scanned int
	Updated int
	Skipped int
	Errors  int
}

// MaintenanceService runs offline passes over the stored collection.
type MaintenanceService struct {
	store     AssetStore
	blobs     BlobStore
	extractor GeoExtractor
	reconcile *ReconcileService
	logger    *zap.Logger
	pause     time.Duration
	now       func() time.Time
}

func NewMaintenanceService(store AssetStore, blobs BlobStore, extractor GeoExtractor, reconcile *ReconcileService, logger *zap.Logger) *MaintenanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MaintenanceService{
		store:     store,
		blobs:     blobs,
		extractor: extractor,
		reconcile: reconcile,
		logger:    logger.Named("maintenance"),
		pause:     100 * time.Millisecond,
		now:       time.Now,
	}
}

// ReextractMissing re-reads the stored original of every asset without GPS
// and adopts coordinates the extractor finds now. Assets whose address was
// typed by hand are left alone.
func (m *MaintenanceService) ReextractMissing(ctx context.Context, dryRun bool) (MaintenanceReport, error) {
	var report MaintenanceReport

	assets, err := m.store.List(ctx)
	if err != nil {
		return report, err
	}

	for _, asset := range assets {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if StateOf(asset) != StateUnlocated {
			report.Skipped++
			continue
		}
		report.Scanned++

		data, err := m.blobs.FetchFile(ctx, asset.StoragePath)
		if err != nil {
			m.logger.Warn("failed to fetch original", zap.String("asset", asset.Id), zap.Error(err))
			report.Errors++
			continue
		}

		geo := m.extractor.Extract(ctx, models.NewMemoryFile(asset.Name, asset.ContentType, time.Time{}, data))
		if !geo.HasCoordinates() {
			continue
		}

		if dryRun {
			m.logger.Info("would locate asset",
				zap.String("asset", asset.Id),
				zap.Float64("lat", *geo.Latitude),
				zap.Float64("lng", *geo.Longitude),
			)
			report.Updated++
			continue
		}

		asset.Latitude, asset.Longitude, asset.HasGPS = geo.Latitude, geo.Longitude, true
		if geo.CaptureTimestamp != "" {
			asset.Timestamp = geo.CaptureTimestamp
		}
		asset.UpdatedAt = m.now()
		if err := m.store.Replace(ctx, asset); err != nil {
			m.logger.Error("failed to store coordinates", zap.String("asset", asset.Id), zap.Error(err))
			report.Errors++
			continue
		}
		report.Updated++
	}

	return report, nil
}

// ResolvePending reverse-geocodes every GPS_PENDING asset, pausing between
// lookups to stay inside the geocoder's usage policy.
func (m *MaintenanceService) ResolvePending(ctx context.Context, dryRun bool) (MaintenanceReport, error) {
	var report MaintenanceReport

	assets, err := m.store.List(ctx)
	if err != nil {
		return report, err
	}

	for _, asset := range assets {
		if StateOf(asset) != StateGPSPending {
			report.Skipped++
			continue
		}
		report.Scanned++

		if dryRun {
			m.logger.Info("would resolve address", zap.String("asset", asset.Id), zap.String("name", asset.Name))
			continue
		}

		select {
		case <-ctx.Done():
			return report, ctx.Err()
		case <-time.After(m.pause):
		}

		resolved, err := m.reconcile.OnLoad(ctx, asset.Id)
		if err != nil {
			m.logger.Warn("failed to resolve address", zap.String("asset", asset.Id), zap.Error(err))
			report.Errors++
			continue
		}
		if resolved.AddressLocked() {
			report.Updated++
		}
	}

	return report, nil
}
