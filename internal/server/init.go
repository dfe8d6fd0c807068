package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"mira-api/internal/config"
	"mira-api/internal/handlers"
	"mira-api/internal/middleware"
	"mira-api/internal/models"
	"mira-api/internal/router"
	"mira-api/internal/services"
	"mira-api/internal/utils"
)

// Services holds all initialized services for the application
type Services struct {
	Store     services.AssetStore
	Blobs     services.BlobStore
	Previews  *services.CacheService[models.CacheEntry]
	Geocoder  *services.GeocodingService
	Suggest   *services.SuggestService
	Audit     *services.AuditService
	Reconcile *services.ReconcileService
	Extractor *services.MetadataService
	Ingest    *services.IngestService
	Assets    *services.AssetService
	Upkeep    *services.MaintenanceService
	Drive     *services.DriveImporter // May be nil if Drive sync is disabled
	Logger    *zap.Logger

	closers []func() error
}

// NewLogger builds the production JSON logger at the configured level.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.EncoderConfig.TimeKey = "timestamp"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zcfg.Build()
}

// InitServices initializes all application services based on configuration.
// Without Firebase settings the stores live in memory.
func InitServices(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Services, error) {
	svcs := &Services{Logger: logger}

	var opts []option.ClientOption
	if cfg.FirebaseCredentialsJSON != "" {
		// Use JSON credentials from environment variable (preferred for Vercel)
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.FirebaseCredentialsJSON)))
	} else if cfg.FirebaseCredentialsPath != "" {
		// Use credentials file (for local development)
		opts = append(opts, option.WithCredentialsFile(cfg.FirebaseCredentialsPath))
	}

	var auditStore services.AuditStore
	if cfg.UsesFirebase() {
		storageClient, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("storage client: %w", err)
		}
		svcs.closers = append(svcs.closers, storageClient.Close)

		firestoreClient, err := firestore.NewClient(ctx, cfg.FirebaseProjectID, opts...)
		if err != nil {
			_ = svcs.Close()
			return nil, fmt.Errorf("firestore client: %w", err)
		}
		svcs.closers = append(svcs.closers, firestoreClient.Close)

		svcs.Store = services.NewFirestoreService(firestoreClient, cfg.FirestoreCollection)
		svcs.Blobs = services.NewStorageService(storageClient, cfg.FirebaseBucketName)
		auditStore = services.NewFirestoreAuditService(firestoreClient, cfg.AuditCollection)
		logger.Info("using firebase persistence", zap.String("project", cfg.FirebaseProjectID))
	} else {
		svcs.Store = services.NewMemoryAssetStore()
		svcs.Blobs = services.NewMemoryBlobStore()
		auditStore = services.NewMemoryAuditStore()
		logger.Warn("FIREBASE_PROJECT_ID not set, using in-memory stores")
	}

	svcs.Geocoder = services.NewGeocodingService(services.GeocodingConfig{
		BaseURL:   cfg.NominatimURL,
		Language:  cfg.GeocoderLanguage,
		UserAgent: cfg.GeocoderAgent,
		Timeout:   cfg.GeocoderTimeout,
		CacheTTL:  cfg.CacheTTL,
	}, logger)
	svcs.Suggest = services.NewSuggestService(svcs.Geocoder, cfg.SuggestDebounce, cfg.SuggestMinChars)
	svcs.Previews = services.NewCacheService[models.CacheEntry](cfg.CacheTTL, cfg.CacheCleanupInterval)

	decoder := utils.NewGoexifDecoder()
	svcs.Extractor = services.NewMetadataService(
		utils.NewImageExtractor(decoder, logger),
		utils.NewVideoExtractor(logger),
		logger,
	)

	svcs.Audit = services.NewAuditService(auditStore, logger)
	svcs.Reconcile = services.NewReconcileService(svcs.Store, svcs.Geocoder, logger)
	svcs.Ingest = services.NewIngestService(svcs.Extractor, svcs.Store, svcs.Blobs, svcs.Audit, decoder, services.IngestConfig{
		Concurrency:  cfg.IngestConcurrency,
		MaxFileBytes: cfg.MaxUploadMB << 20,
	}, logger)
	svcs.Assets = services.NewAssetService(svcs.Store, svcs.Blobs, svcs.Reconcile, svcs.Audit, svcs.Previews, logger)
	svcs.Upkeep = services.NewMaintenanceService(svcs.Store, svcs.Blobs, svcs.Extractor, svcs.Reconcile, logger)

	// Initialize Google Drive import if configured
	if cfg.DriveEnabled() {
		driveOpts := opts
		if cfg.GoogleAPIKey != "" {
			driveOpts = []option.ClientOption{option.WithAPIKey(cfg.GoogleAPIKey)}
		}
		driveService, err := drive.NewService(ctx, driveOpts...)
		if err != nil {
			logger.Warn("failed to create Drive API client, Drive import disabled", zap.Error(err))
		} else {
			svcs.Drive = services.NewDriveImporter(
				services.NewDriveClient(driveService, logger),
				svcs.Ingest,
				svcs.Store,
				cfg.GoogleDriveFolderID,
				logger,
			)
		}
	} else if cfg.GoogleDriveFolderID != "" {
		logger.Warn("GOOGLE_DRIVE_FOLDER_ID set but no credentials available, Drive import disabled")
	}

	return svcs, nil
}

// Close stops background janitors and releases cloud clients.
func (s *Services) Close() error {
	if s.Suggest != nil {
		s.Suggest.Close()
	}
	if s.Geocoder != nil {
		s.Geocoder.Close()
	}
	if s.Previews != nil {
		s.Previews.Close()
	}
	var errs []error
	for _, closeFn := range s.closers {
		errs = append(errs, closeFn())
	}
	s.closers = nil
	return errors.Join(errs...)
}

// CreateHandler creates an HTTP handler with all middleware applied
func CreateHandler(svcs *Services, cfg *config.Config) http.Handler {
	logger := svcs.Logger

	h := handlers.New(handlers.Deps{
		Assets:         svcs.Assets,
		Ingest:         svcs.Ingest,
		Suggest:        svcs.Suggest,
		Geocoder:       svcs.Geocoder,
		Audit:          svcs.Audit,
		Drive:          svcs.Drive,
		MaxUploadBytes: cfg.MaxUploadMB << 20,
		Logger:         logger,
	})

	mux := router.Setup(h)
	limiter := middleware.NewRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)

	// Innermost first; the request passes through them in reverse order
	var wrapped http.Handler = mux
	wrapped = middleware.JWTAuth([]byte(cfg.JWTSecret))(wrapped)
	wrapped = limiter.Limit(wrapped)
	wrapped = middleware.CORS(wrapped, cfg.AllowedOrigins)
	wrapped = middleware.Logger(logger.Named("http"), mux)(wrapped)
	wrapped = middleware.RequestID(wrapped)
	wrapped = middleware.Recovery(logger)(wrapped)

	return wrapped
}

// StartDriveSync starts the Google Drive import with optional backfill.
// If backfillOnStartup is true, runs a one-time import before starting the watch.
// Returns a cancel function to stop the sync gracefully.
func StartDriveSync(ctx context.Context, importer *services.DriveImporter, interval time.Duration, backfillOnStartup bool, logger *zap.Logger) context.CancelFunc {
	if importer == nil {
		return func() {}
	}
	if interval <= 0 && !backfillOnStartup {
		return func() {}
	}

	driveCtx, cancel := context.WithCancel(ctx)

	go func() {
		if backfillOnStartup {
			logger.Info("running one-time import from Google Drive")
			report, err := importer.Sync(driveCtx)
			switch {
			case errors.Is(err, context.Canceled):
				return
			case err != nil:
				logger.Warn("drive backfill failed", zap.Error(err))
			default:
				logger.Info("drive backfill complete", zap.Int("imported", report.Imported))
			}
		}

		if interval <= 0 {
			return
		}
		if err := importer.Watch(driveCtx, interval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("drive watch stopped", zap.Error(err))
		}
	}()

	return cancel
}
