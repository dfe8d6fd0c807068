package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

const (
	driveCallInterval = 3 * time.Second
	driveBackoff      = 5 * time.Second
	driveFileFields   = "id, name, mimeType, size, createdTime, modifiedTime"
)

// DriveSource is the slice of the Drive API the importer needs.
type DriveSource interface {
	ListFilesInFolder(ctx context.Context, folderID string) ([]*drive.File, error)
	DownloadBytes(ctx context.Context, id string) ([]byte, error)
}

// DriveClient wraps the Drive API with a shared call rate and retries on
// quota errors.
type DriveClient struct {
	client  *drive.Service
	limiter *rate.Limiter
	logger  *zap.Logger
	backoff time.Duration
}

func NewDriveClient(client *drive.Service, logger *zap.Logger) *DriveClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DriveClient{
		client:  client,
		limiter: rate.NewLimiter(rate.Every(driveCallInterval), 1),
		logger:  logger.Named("drive"),
		backoff: driveBackoff,
	}
}

// isRateLimited reports whether err is a Drive quota rejection.
func isRateLimited(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) &&
		(apiErr.Code == http.StatusForbidden || apiErr.Code == http.StatusTooManyRequests)
}

// withRetry runs call after waiting for the limiter, retrying quota errors
// with exponential backoff: 5s, 10s, 20s...
func (d *DriveClient) withRetry(ctx context.Context, maxRetries int, call func() error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if werr := d.limiter.Wait(ctx); werr != nil {
			return werr
		}

		err = call()
		if err == nil || !isRateLimited(err) || attempt == maxRetries {
			return err
		}

		sleep := d.backoff * time.Duration(1<<uint(attempt))
		d.logger.Warn("drive rate limited, backing off",
			zap.Int("attempt", attempt+1),
			zap.Duration("sleep", sleep),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
	return err
}

// Downloads the file content from Google Drive.
func (d *DriveClient) DownloadBytes(ctx context.Context, id string) ([]byte, error) {
	if d.client == nil {
		return nil, fmt.Errorf("drive client is nil")
	}

	var data []byte
	err := d.withRetry(ctx, 5, func() error {
		resp, err := d.client.Files.Get(id).Context(ctx).Download()
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", id, err)
	}

	d.logger.Debug("downloaded drive file", zap.String("id", id), zap.Int("bytes", len(data)))
	return data, nil
}

// Lists all files in the specified Drive folder, following page tokens.
func (d *DriveClient) ListFilesInFolder(ctx context.Context, folderID string) ([]*drive.File, error) {
	if d.client == nil {
		return nil, fmt.Errorf("drive client is nil")
	}

	// Escape single quotes in folder ID to prevent query injection
	query := fmt.Sprintf("'%s' in parents and trashed=false", strings.ReplaceAll(folderID, "'", "\\'"))

	var (
		allFiles  []*drive.File
		pageToken string
	)
	for {
		var page *drive.FileList
		err := d.withRetry(ctx, 3, func() error {
			call := d.client.Files.List().
				Context(ctx).
				Q(query).
				Fields(googleapi.Field("nextPageToken, files(" + driveFileFields + ")")).
				PageSize(1000)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}

			var err error
			page, err = call.Do()
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("list files failed: %w", err)
		}

		allFiles = append(allFiles, page.Files...)
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	return allFiles, nil
}
