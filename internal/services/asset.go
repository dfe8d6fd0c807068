package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	apperrors "mira-api/internal/errors"
	"mira-api/internal/models"

	"go.uber.org/zap"
)

const maxPageSize = 1000

// AssetView is an asset as presented to one actor.
type AssetView struct {
	models.MediaAsset
	State         AddressState `json:"state"`
	AddressLocked bool         `json:"addressLocked"`
	CanEdit       bool         `json:"canEdit"`
}

func NewAssetView(asset models.MediaAsset, actor models.Actor) AssetView {
	return AssetView{
		MediaAsset:    asset,
		State:         StateOf(asset),
		AddressLocked: asset.AddressLocked(),
		CanEdit:       actor.CanEdit(asset),
	}
}

type AssetService struct {
	store     AssetStore
	blobs     BlobStore
	reconcile *ReconcileService
	audit     *AuditService
	cache     *CacheService[models.CacheEntry]
	logger    *zap.Logger
}

func NewAssetService(
	store AssetStore,
	blobs BlobStore,
	reconcile *ReconcileService,
	audit *AuditService,
	cache *CacheService[models.CacheEntry],
	logger *zap.Logger,
) *AssetService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssetService{
		store:     store,
		blobs:     blobs,
		reconcile: reconcile,
		audit:     audit,
		cache:     cache,
		logger:    logger.Named("assets"),
	}
}

// List returns the assets matching filter, one page at a time.
func (s *AssetService) List(ctx context.Context, filter models.AssetFilter) ([]models.MediaAsset, error) {
	// Validate pagination parameters
	if filter.Limit < 0 {
		return nil, fmt.Errorf("limit cannot be negative: %w", apperrors.ErrInvalidInput)
	}
	if filter.Page < 0 {
		return nil, fmt.Errorf("page cannot be negative: %w", apperrors.ErrInvalidInput)
	}

	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]models.MediaAsset, 0, len(all))
	for _, a := range all {
		if matchesFilter(a, filter) {
			matched = append(matched, a)
		}
	}

	if filter.Limit == 0 {
		return matched, nil
	}
	// Cap maximum limit to prevent excessive memory usage
	limit := min(filter.Limit, maxPageSize)
	start := filter.Page * limit
	if start >= len(matched) {
		return []models.MediaAsset{}, nil
	}
	return matched[start:min(start+limit, len(matched))], nil
}

func matchesFilter(a models.MediaAsset, f models.AssetFilter) bool {
	if f.Kind != "" && a.Kind != f.Kind {
		return false
	}
	switch f.GPS {
	case "geolocated":
		if !a.HasGPS {
			return false
		}
	case "none":
		if a.HasGPS {
			return false
		}
	}
	if text := strings.ToLower(strings.TrimSpace(f.Text)); text != "" {
		haystack := strings.ToLower(a.Name + "\n" + a.Address + "\n" + a.Observation)
		if !strings.Contains(haystack, text) {
			return false
		}
	}
	return true
}

func (s *AssetService) Stats(ctx context.Context) (models.AssetStats, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return models.AssetStats{}, err
	}

	stats := models.AssetStats{Total: len(all)}
	for _, a := range all {
		switch a.Kind {
		case models.KindImage:
			stats.Images++
		case models.KindVideo:
			stats.Videos++
		}
		if !a.HasGPS {
			stats.NoGPS++
		}
	}
	return stats, nil
}

// Get loads an asset for display, resolving a pending address on the way.
func (s *AssetService) Get(ctx context.Context, actor models.Actor, id string) (*AssetView, error) {
	asset, err := s.reconcile.OnLoad(ctx, id)
	if err != nil {
		return nil, err
	}
	view := NewAssetView(*asset, actor)
	return &view, nil
}

func (s *AssetService) Update(ctx context.Context, actor models.Actor, id string, edit models.AssetEdit) (*AssetView, error) {
	asset, err := s.reconcile.Save(ctx, actor, id, edit)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, actor, "ATUALIZAÇÃO DE ATIVO: "+asset.Name, asset.Id)

	view := NewAssetView(*asset, actor)
	return &view, nil
}

// Delete removes the subset of ids the actor may delete and returns them.
// Unknown ids are skipped. If nothing is permitted it returns ErrForbidden.
func (s *AssetService) Delete(ctx context.Context, actor models.Actor, ids []string) ([]string, error) {
	var (
		permitted []models.MediaAsset
		sawAsset  bool
	)
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		asset, err := s.store.Get(ctx, id)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				continue
			}
			return nil, err
		}
		sawAsset = true
		if actor.CanEdit(*asset) {
			permitted = append(permitted, *asset)
		}
	}

	if len(permitted) == 0 {
		if !sawAsset {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.ErrForbidden
	}

	removed := make([]string, len(permitted))
	names := make([]string, len(permitted))
	for i, a := range permitted {
		removed[i] = a.Id
		names[i] = a.Name
	}

	if err := s.store.Remove(ctx, removed...); err != nil {
		return nil, err
	}

	for _, a := range permitted {
		s.cache.Delete(a.Id)
		if s.blobs == nil {
			continue
		}
		if err := s.blobs.Delete(ctx, a.StoragePath); err != nil {
			s.logger.Warn("failed to delete original", zap.String("asset", a.Id), zap.Error(err))
		}
		if err := s.blobs.Delete(ctx, previewPath(a.Id)); err != nil {
			s.logger.Warn("failed to delete preview", zap.String("asset", a.Id), zap.Error(err))
		}
	}

	s.audit.Record(ctx, actor,
		fmt.Sprintf("EXCLUSÃO DE %d ATIVOS: %s", len(removed), strings.Join(names, ", ")),
		AuditTargetSystem,
	)
	return removed, nil
}

// Preview returns the generated preview of an image asset.
func (s *AssetService) Preview(ctx context.Context, id string) (*models.CacheEntry, error) {
	// Check cache first
	if entry, ok := s.cache.Get(id); ok {
		s.logger.Debug("preview cache hit", zap.String("asset", id))
		return &entry, nil
	}

	asset, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if asset.Kind != models.KindImage || s.blobs == nil {
		return nil, apperrors.ErrNotFound
	}

	data, err := s.blobs.FetchFile(ctx, previewPath(id))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch preview: %w", err)
	}

	entry := models.CacheEntry{Data: data, ContentType: "image/jpeg", FileName: asset.Name}
	s.cache.Set(id, entry)
	return &entry, nil
}

// Download returns the original file and records the download.
func (s *AssetService) Download(ctx context.Context, actor models.Actor, id string) (*models.CacheEntry, error) {
	asset, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.blobs == nil {
		return nil, apperrors.ErrNotFound
	}

	data, err := s.blobs.FetchFile(ctx, asset.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch file: %w", err)
	}

	s.audit.Record(ctx, actor, "DOWNLOAD DE ATIVO: "+asset.Name, asset.Id)

	return &models.CacheEntry{Data: data, ContentType: asset.ContentType, FileName: asset.Name}, nil
}
