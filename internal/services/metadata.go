package services

import (
	"context"
	"strings"
	"time"

	"mira-api/internal/metrics"
	"mira-api/internal/models"
	"mira-api/internal/utils"

	"go.uber.org/zap"
)

// GeoExtractor is the single entry point ingestion uses to recover
// coordinates from an uploaded file.
type GeoExtractor interface {
	Extract(ctx context.Context, file models.UploadFile) models.GeoResult
}

// MetadataService dispatches files to the image or video extractor by
// declared content type.
type MetadataService struct {
	images *utils.ImageExtractor
	videos *utils.VideoExtractor
	logger *zap.Logger
}

func NewMetadataService(images *utils.ImageExtractor, videos *utils.VideoExtractor, logger *zap.Logger) *MetadataService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetadataService{
		images: images,
		videos: videos,
		logger: logger.Named("metadata"),
	}
}

// MediaKindOf classifies a content type. Anything mentioning "image" is an
// image, anything mentioning "video" is a video.
func MediaKindOf(contentType string) (models.MediaKind, bool) {
	t := strings.ToLower(contentType)
	switch {
	case strings.Contains(t, "image"):
		return models.KindImage, true
	case strings.Contains(t, "video"):
		return models.KindVideo, true
	default:
		return "", false
	}
}

// Extract never fails: unsupported types, unreadable files and files without
// geo metadata all produce an empty GeoResult.
func (s *MetadataService) Extract(ctx context.Context, file models.UploadFile) models.GeoResult {
	kind, ok := MediaKindOf(file.ContentType)
	if !ok {
		metrics.ExtractionTotal.WithLabelValues("other", "unsupported").Inc()
		return models.GeoResult{}
	}
	if ctx.Err() != nil {
		return models.GeoResult{}
	}

	start := time.Now()
	result := s.extract(kind, file)
	metrics.ExtractionDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())

	outcome := "unlocated"
	if result.HasCoordinates() {
		outcome = "located"
	}
	metrics.ExtractionTotal.WithLabelValues(string(kind), outcome).Inc()

	s.logger.Debug("extracted geo metadata",
		zap.String("file", file.Name),
		zap.String("kind", string(kind)),
		zap.String("outcome", outcome),
	)
	return result
}

func (s *MetadataService) extract(kind models.MediaKind, file models.UploadFile) models.GeoResult {
	if file.Open == nil {
		return models.GeoResult{}
	}
	rc, err := file.Open()
	if err != nil {
		s.logger.Warn("failed to open upload", zap.String("file", file.Name), zap.Error(err))
		return models.GeoResult{}
	}
	defer rc.Close()

	if kind == models.KindVideo {
		return s.videos.Extract(rc, file.ModTime)
	}
	return s.images.Extract(rc)
}
