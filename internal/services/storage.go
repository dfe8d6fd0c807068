package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"cloud.google.com/go/storage"

	apperrors "mira-api/internal/errors"
)

// BlobStore holds original uploads and generated previews.
type BlobStore interface {
	Put(ctx context.Context, path, contentType string, data []byte) error
	FetchFile(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}

type StorageService struct {
	client     *storage.Client
	bucketName string
}

func NewStorageService(client *storage.Client, bucketName string) *StorageService {
	return &StorageService{
		client:     client,
		bucketName: bucketName,
	}
}

// Uploads a file to Google Cloud Storage.
func (s *StorageService) Put(ctx context.Context, path, contentType string, data []byte) error {
	w := s.client.Bucket(s.bucketName).Object(path).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", path, err)
	}
	return nil
}

// Retrieves a file from Google Cloud Storage by its path.
// Returns the file contents as bytes or an error if the file cannot be retrieved.
func (s *StorageService) FetchFile(ctx context.Context, path string) ([]byte, error) {
	bucket := s.client.Bucket(s.bucketName)
	obj := bucket.Object(path)

	reader, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

func (s *StorageService) Delete(ctx context.Context, path string) error {
	err := s.client.Bucket(s.bucketName).Object(path).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// MemoryBlobStore keeps blobs in process memory.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (m *MemoryBlobStore) Put(_ context.Context, path, _ string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blobs[path] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryBlobStore) FetchFile(_ context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[path]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryBlobStore) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.blobs, path)
	return nil
}
