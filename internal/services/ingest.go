package services

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"mira-api/internal/errors"
	"mira-api/internal/metrics"
	"mira-api/internal/models"
	"mira-api/internal/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultIngestConcurrency = 4
	sniffLength              = 512

	// MaxBatchFiles keeps a batch inside one Firestore transaction (500 writes).
	MaxBatchFiles = 500
)

// IngestResult is the outcome of one upload batch.
type IngestResult struct {
	Assets []models.MediaAsset `json:"assets"`
	// MapCenter is the last located asset of the batch, if any.
	MapCenter *models.LatLng `json:"mapCenter,omitempty"`
}

type IngestConfig struct {
	Concurrency  int
	MaxFileBytes int64
}

// IngestService turns uploaded files into assets.
type IngestService struct {
	extractor GeoExtractor
	store     AssetStore
	blobs     BlobStore
	audit     *AuditService
	decoder   utils.ExifDecoder
	cfg       IngestConfig
	logger    *zap.Logger
	now       func() time.Time
}

func NewIngestService(
	extractor GeoExtractor,
	store AssetStore,
	blobs BlobStore,
	audit *AuditService,
	decoder utils.ExifDecoder,
	cfg IngestConfig,
	logger *zap.Logger,
) *IngestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultIngestConcurrency
	}
	return &IngestService{
		extractor: extractor,
		store:     store,
		blobs:     blobs,
		audit:     audit,
		decoder:   decoder,
		cfg:       cfg,
		logger:    logger.Named("ingest"),
		now:       time.Now,
	}
}

// IngestBatch processes every file concurrently and then appends all of the
// resulting assets to the store in one step, in submission order. A file that
// cannot be read or parsed still becomes an asset, just without coordinates.
func (s *IngestService) IngestBatch(ctx context.Context, actor models.Actor, files []models.UploadFile) (*IngestResult, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no files in batch: %w", errors.ErrInvalidInput)
	}
	if len(files) > MaxBatchFiles {
		return nil, fmt.Errorf("%d files in batch, at most %d allowed: %w", len(files), MaxBatchFiles, errors.ErrInvalidInput)
	}

	batchTime := s.now()
	assets := make([]models.MediaAsset, len(files))

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, file := range files {
		g.Go(func() error {
			assets[i] = s.buildAsset(ctx, actor, batchTime, i, file)
			return nil
		})
	}
	_ = g.Wait()

	if err := s.store.AppendBatch(ctx, assets); err != nil {
		s.cleanupBlobs(ctx, assets)
		return nil, fmt.Errorf("append batch: %w", err)
	}

	metrics.IngestBatchSize.Observe(float64(len(assets)))
	s.audit.Record(ctx, actor, fmt.Sprintf("IMPORTAÇÃO DE %d ATIVOS", len(assets)), AuditTargetSystem)

	result := &IngestResult{Assets: assets}
	for i := len(assets) - 1; i >= 0; i-- {
		if coords, ok := assets[i].Coordinates(); ok {
			result.MapCenter = &coords
			break
		}
	}

	s.logger.Info("ingested batch",
		zap.String("user", actor.Id),
		zap.Int("files", len(assets)),
	)
	return result, nil
}

func (s *IngestService) buildAsset(ctx context.Context, actor models.Actor, batchTime time.Time, index int, file models.UploadFile) (asset models.MediaAsset) {
	asset = models.MediaAsset{
		Id:          uuid.NewString(),
		OwnerId:     actor.Id,
		Name:        displayName(file.Name, index),
		Kind:        kindOrImage(file.ContentType),
		ContentType: file.ContentType,
		Timestamp:   fallbackTimestamp(file.ModTime, batchTime),
		BatchIndex:  index,
		CreatedAt:   batchTime,
		UpdatedAt:   batchTime,
	}
	asset.StoragePath = path.Join("assets", asset.Id, asset.Name)

	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("panic while ingesting file", zap.String("file", file.Name), zap.Any("panic", rec))
			asset.Latitude, asset.Longitude, asset.HasGPS = nil, nil, false
		}
		metrics.AssetsIngested.WithLabelValues(string(asset.Kind), fmt.Sprint(asset.HasGPS)).Inc()
	}()

	data, err := readUpload(file, s.cfg.MaxFileBytes)
	if err != nil {
		s.logger.Warn("failed to read upload", zap.String("file", file.Name), zap.Error(err))
		return asset
	}

	contentType := utils.ResolveContentType(file.ContentType, data[:min(sniffLength, len(data))])
	asset.ContentType = contentType
	asset.Kind = kindOrImage(contentType)

	geo := s.extractor.Extract(ctx, models.NewMemoryFile(asset.Name, contentType, file.ModTime, data))
	if geo.HasCoordinates() {
		asset.Latitude = geo.Latitude
		asset.Longitude = geo.Longitude
		asset.HasGPS = true
	}
	if geo.CaptureTimestamp != "" {
		asset.Timestamp = geo.CaptureTimestamp
	}

	s.storeBlobs(ctx, &asset, data)
	return asset
}

func (s *IngestService) storeBlobs(ctx context.Context, asset *models.MediaAsset, data []byte) {
	if s.blobs == nil {
		return
	}

	if err := s.blobs.Put(ctx, asset.StoragePath, asset.ContentType, data); err != nil {
		s.logger.Error("failed to store original", zap.String("asset", asset.Id), zap.Error(err))
		return
	}

	download := "/assets/" + asset.Id + "/download"
	if asset.Kind == models.KindVideo {
		asset.VideoRef = download
		return
	}

	preview, err := utils.GeneratePreview(data, asset.ContentType, s.decoder)
	if err != nil {
		s.logger.Debug("no preview generated", zap.String("asset", asset.Id), zap.Error(err))
		asset.PreviewRef = download
		return
	}
	if err := s.blobs.Put(ctx, previewPath(asset.Id), "image/jpeg", preview); err != nil {
		s.logger.Warn("failed to store preview", zap.String("asset", asset.Id), zap.Error(err))
		asset.PreviewRef = download
		return
	}
	asset.PreviewRef = "/assets/" + asset.Id + "/preview"
}

func (s *IngestService) cleanupBlobs(ctx context.Context, assets []models.MediaAsset) {
	if s.blobs == nil {
		return
	}
	for _, a := range assets {
		_ = s.blobs.Delete(ctx, a.StoragePath)
		_ = s.blobs.Delete(ctx, previewPath(a.Id))
	}
}

func readUpload(file models.UploadFile, maxBytes int64) ([]byte, error) {
	if file.Open == nil {
		return nil, fmt.Errorf("upload %q has no content", file.Name)
	}
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	if maxBytes <= 0 {
		return io.ReadAll(rc)
	}
	data, err := io.ReadAll(io.LimitReader(rc, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("upload %q exceeds %d bytes: %w", file.Name, maxBytes, errors.ErrInvalidInput)
	}
	return data, nil
}

func previewPath(id string) string {
	return path.Join("previews", id+".jpg")
}

func kindOrImage(contentType string) models.MediaKind {
	if kind, ok := MediaKindOf(contentType); ok {
		return kind
	}
	return models.KindImage
}

func displayName(name string, index int) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return fmt.Sprintf("arquivo-%d", index+1)
	}
	return name
}

// fallbackTimestamp renders the file's modification time, or the batch time
// when the client sent none.
func fallbackTimestamp(modTime, batchTime time.Time) string {
	if modTime.IsZero() {
		modTime = batchTime
	}
	return utils.FormatLocaleTimestamp(modTime)
}
