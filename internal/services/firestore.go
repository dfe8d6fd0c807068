package services

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"mira-api/internal/errors"
	"mira-api/internal/models"
)

// FirestoreService persists assets, one document per asset keyed by its id.
type FirestoreService struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreService(client *firestore.Client, collection string) *FirestoreService {
	return &FirestoreService{
		client:     client,
		collection: collection,
	}
}

// Creates every asset of a batch in a single transaction. Firestore caps a
// transaction at 500 writes.
func (fs *FirestoreService) AppendBatch(ctx context.Context, assets []models.MediaAsset) error {
	if len(assets) > MaxBatchFiles {
		return fmt.Errorf("batch of %d exceeds %d writes: %w", len(assets), MaxBatchFiles, errors.ErrInvalidInput)
	}
	col := fs.client.Collection(fs.collection)

	err := fs.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for i := range assets {
			if err := tx.Create(col.Doc(assets[i].Id), &assets[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return fmt.Errorf("failed to append batch: %w", errors.ErrInvalidInput)
		}
		return fmt.Errorf("failed to append batch: %w", err)
	}

	return nil
}

// Retrieves an asset by document ID.
func (fs *FirestoreService) Get(ctx context.Context, id string) (*models.MediaAsset, error) {
	doc, err := fs.client.Collection(fs.collection).Doc(id).Get(ctx)
	if err != nil {
		// Check if document not found
		if status.Code(err) == codes.NotFound {
			return nil, errors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	var asset models.MediaAsset
	if err := doc.DataTo(&asset); err != nil {
		return nil, fmt.Errorf("failed to parse asset: %w", err)
	}

	return &asset, nil
}

// Overwrites an existing asset document.
func (fs *FirestoreService) Replace(ctx context.Context, asset models.MediaAsset) error {
	ref := fs.client.Collection(fs.collection).Doc(asset.Id)

	err := fs.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(ref); err != nil {
			return err
		}
		return tx.Set(ref, &asset)
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return errors.ErrNotFound
		}
		return fmt.Errorf("failed to replace asset: %w", err)
	}

	return nil
}

// Deletes asset documents by ID. Missing documents are ignored.
func (fs *FirestoreService) Remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	col := fs.client.Collection(fs.collection)
	err := fs.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, id := range ids {
			if err := tx.Delete(col.Doc(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete assets: %w", err)
	}

	return nil
}

// Retrieves every asset in upload order.
func (fs *FirestoreService) List(ctx context.Context) ([]models.MediaAsset, error) {
	query := fs.client.Collection(fs.collection).
		OrderBy("createdAt", firestore.Asc).
		OrderBy("batchIndex", firestore.Asc)

	iter := query.Documents(ctx)
	defer iter.Stop()

	var results []models.MediaAsset
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate documents: %w", err)
		}

		var asset models.MediaAsset
		if err := doc.DataTo(&asset); err != nil {
			// Skip individual document parse errors
			continue
		}

		results = append(results, asset)
	}

	return results, nil
}

// FirestoreAuditService persists audit entries.
type FirestoreAuditService struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreAuditService(client *firestore.Client, collection string) *FirestoreAuditService {
	return &FirestoreAuditService{
		client:     client,
		collection: collection,
	}
}

func (fs *FirestoreAuditService) Append(ctx context.Context, entry models.AuditLog) error {
	_, err := fs.client.Collection(fs.collection).Doc(entry.Id).Set(ctx, &entry)
	if err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}

	return nil
}

func (fs *FirestoreAuditService) List(ctx context.Context, limit int) ([]models.AuditLog, error) {
	if limit < 0 {
		return nil, fmt.Errorf("limit cannot be negative: %w", errors.ErrInvalidInput)
	}

	query := fs.client.Collection(fs.collection).OrderBy("createdAt", firestore.Desc)
	if limit > 0 {
		// Cap maximum limit to prevent excessive memory usage
		if limit > 1000 {
			limit = 1000
		}
		query = query.Limit(limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var results []models.AuditLog
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate documents: %w", err)
		}

		var entry models.AuditLog
		if err := doc.DataTo(&entry); err != nil {
			continue
		}

		results = append(results, entry)
	}

	return results, nil
}
