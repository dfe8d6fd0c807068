package services

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"mira-api/internal/errors"
	"mira-api/internal/models"
)

// AssetStore owns the asset collection. Records are replaced whole; there is
// no field-level merge, so concurrent writes to one asset are last-write-wins.
type AssetStore interface {
	// AppendBatch makes every asset of a batch visible at once, or none.
	AppendBatch(ctx context.Context, assets []models.MediaAsset) error
	Get(ctx context.Context, id string) (*models.MediaAsset, error)
	Replace(ctx context.Context, asset models.MediaAsset) error
	Remove(ctx context.Context, ids ...string) error
	// List returns assets in the order their batches were appended, each
	// batch in submission order.
	List(ctx context.Context) ([]models.MediaAsset, error)
}

type AuditStore interface {
	Append(ctx context.Context, entry models.AuditLog) error
	// List returns the most recent entries first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]models.AuditLog, error)
}

// MemoryAssetStore keeps assets in process memory.
type MemoryAssetStore struct {
	mu     sync.RWMutex
	assets []models.MediaAsset
	index  map[string]int
}

func NewMemoryAssetStore() *MemoryAssetStore {
	return &MemoryAssetStore{index: make(map[string]int)}
}

func (s *MemoryAssetStore) AppendBatch(_ context.Context, assets []models.MediaAsset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(assets))
	for _, a := range assets {
		if a.Id == "" {
			return fmt.Errorf("asset without id: %w", errors.ErrInvalidInput)
		}
		if _, dup := s.index[a.Id]; dup {
			return fmt.Errorf("asset %s already exists: %w", a.Id, errors.ErrInvalidInput)
		}
		if _, dup := seen[a.Id]; dup {
			return fmt.Errorf("asset %s repeated in batch: %w", a.Id, errors.ErrInvalidInput)
		}
		seen[a.Id] = struct{}{}
	}

	s.assets = append(s.assets, assets...)
	s.reindex()
	return nil
}

func (s *MemoryAssetStore) Get(_ context.Context, id string) (*models.MediaAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	asset := s.assets[i]
	return &asset, nil
}

func (s *MemoryAssetStore) Replace(_ context.Context, asset models.MediaAsset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[asset.Id]
	if !ok {
		return errors.ErrNotFound
	}
	s.assets[i] = asset
	return nil
}

func (s *MemoryAssetStore) Remove(_ context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	kept := s.assets[:0]
	for _, a := range s.assets {
		if _, ok := drop[a.Id]; !ok {
			kept = append(kept, a)
		}
	}
	s.assets = kept
	s.reindex()
	return nil
}

func (s *MemoryAssetStore) List(_ context.Context) ([]models.MediaAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.MediaAsset, len(s.assets))
	copy(out, s.assets)
	return out, nil
}

func (s *MemoryAssetStore) reindex() {
	s.index = make(map[string]int, len(s.assets))
	for i, a := range s.assets {
		s.index[a.Id] = i
	}
}

// MemoryAuditStore keeps audit entries in process memory.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []models.AuditLog
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (s *MemoryAuditStore) Append(_ context.Context, entry models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryAuditStore) List(_ context.Context, limit int) ([]models.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.AuditLog, len(s.entries))
	copy(out, s.entries)
	slices.Reverse(out)

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
