package services

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"sync/atomic"
	"testing"
	"time"

	apperrors "mira-api/internal/errors"
	"mira-api/internal/models"
	"mira-api/internal/testutil"
	"mira-api/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var uploadTime = time.Date(2024, 5, 17, 9, 30, 12, 0, time.UTC)

type ingestFixture struct {
	svc    *IngestService
	store  *MemoryAssetStore
	blobs  *MemoryBlobStore
	audits *MemoryAuditStore
}

func newIngestFixture(t *testing.T, cfg IngestConfig) ingestFixture {
	t.Helper()
	decoder := utils.NewGoexifDecoder()
	extractor := NewMetadataService(
		utils.NewImageExtractor(decoder, nil),
		utils.NewVideoExtractor(nil),
		nil,
	)
	store := NewMemoryAssetStore()
	blobs := NewMemoryBlobStore()
	audits := NewMemoryAuditStore()

	svc := NewIngestService(extractor, store, blobs, NewAuditService(audits, nil), decoder, cfg, nil)
	svc.now = func() time.Time { return uploadTime }
	return ingestFixture{svc: svc, store: store, blobs: blobs, audits: audits}
}

func fortalezaPhoto() []byte {
	return testutil.ExifFixture{
		Make:             "DJI",
		DateTimeOriginal: "2024:05:17 08:15:00",
		GPS:              testutil.FortalezaGPS(),
	}.Bytes()
}

func pngImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 32))
	for x := range 64 {
		for y := range 32 {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 8), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestIngestBatchMixedFiles(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t, IngestConfig{})

	files := []models.UploadFile{
		models.NewMemoryFile("dji_0001.jpg", "image/jpeg", uploadTime, fortalezaPhoto()),
		models.NewMemoryFile("sem_gps.jpg", "image/jpeg", uploadTime, testutil.ExifFixture{Make: "Canon"}.Bytes()),
		models.NewMemoryFile("voo.mp4", "video/mp4", uploadTime, []byte("\x00\x00\x00\x18ftypmp42 no telemetry here")),
	}

	result, err := f.svc.IngestBatch(ctx, owner, files)
	require.NoError(t, err)
	require.Len(t, result.Assets, 3)

	photo := result.Assets[0]
	assert.Equal(t, "dji_0001.jpg", photo.Name)
	assert.Equal(t, models.KindImage, photo.Kind)
	assert.True(t, photo.HasGPS)
	assert.InDelta(t, -3.71719, *photo.Latitude, 1e-4)
	assert.InDelta(t, -38.52831, *photo.Longitude, 1e-4)
	assert.Equal(t, "2024:05:17 08:15:00", photo.Timestamp)
	assert.Equal(t, StateGPSPending, StateOf(photo))
	assert.Equal(t, owner.Id, photo.OwnerId)

	noGPS := result.Assets[1]
	assert.False(t, noGPS.HasGPS)
	assert.Nil(t, noGPS.Latitude)
	assert.Equal(t, utils.FormatLocaleTimestamp(uploadTime), noGPS.Timestamp)

	clip := result.Assets[2]
	assert.Equal(t, models.KindVideo, clip.Kind)
	assert.False(t, clip.HasGPS)
	assert.Equal(t, "/assets/"+clip.Id+"/download", clip.VideoRef)
	assert.Empty(t, clip.PreviewRef)

	require.NotNil(t, result.MapCenter)
	assert.InDelta(t, -3.71719, result.MapCenter.Lat, 1e-4)

	stored, err := f.store.List(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for i, a := range stored {
		assert.Equal(t, result.Assets[i].Id, a.Id)
		assert.Equal(t, i, a.BatchIndex)
	}

	original, err := f.blobs.FetchFile(ctx, photo.StoragePath)
	require.NoError(t, err)
	assert.Equal(t, fortalezaPhoto(), original)

	entries, _ := f.audits.List(ctx, 0)
	require.Len(t, entries, 1)
	assert.Equal(t, "IMPORTAÇÃO DE 3 ATIVOS", entries[0].Action)
	assert.Equal(t, AuditTargetSystem, entries[0].Target)
	assert.Equal(t, owner.Name, entries[0].UserName)
}

func TestIngestVideoTelemetry(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t, IngestConfig{})

	payload := []byte("ftypmp42 ....[lat : -3.7172][long : -38.5283]....")
	result, err := f.svc.IngestBatch(ctx, owner, []models.UploadFile{
		models.NewMemoryFile("voo.mp4", "video/mp4", uploadTime, payload),
	})
	require.NoError(t, err)

	clip := result.Assets[0]
	require.True(t, clip.HasGPS)
	assert.Equal(t, -3.7172, *clip.Latitude)
	assert.Equal(t, -38.5283, *clip.Longitude)
	assert.Equal(t, utils.FormatISOTimestamp(uploadTime), clip.Timestamp)
	require.NotNil(t, result.MapCenter)
	assert.Equal(t, -38.5283, result.MapCenter.Lng)
}

func TestIngestVideoWithoutModTimeKeepsBatchTimestamp(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t, IngestConfig{})

	result, err := f.svc.IngestBatch(ctx, owner, []models.UploadFile{
		models.NewMemoryFile("clip.mp4", "video/mp4", time.Time{}, []byte("ftyp [lat : 10.5][long : -20.25]")),
	})
	require.NoError(t, err)

	clip := result.Assets[0]
	require.True(t, clip.HasGPS)
	assert.Equal(t, 10.5, *clip.Latitude)
	assert.Equal(t, "17/05/2024, 09:30:12", clip.Timestamp)
}

func TestIngestMapCenterIsLastLocated(t *testing.T) {
	f := newIngestFixture(t, IngestConfig{Concurrency: 2})

	result, err := f.svc.IngestBatch(context.Background(), owner, []models.UploadFile{
		models.NewMemoryFile("a.mp4", "video/mp4", uploadTime, []byte("[lat : 1.5][long : 2.5]")),
		models.NewMemoryFile("b.mp4", "video/mp4", uploadTime, []byte("[lat : 3.5][long : 4.5]")),
		models.NewMemoryFile("c.jpg", "image/jpeg", uploadTime, []byte("not an image")),
	})
	require.NoError(t, err)
	require.NotNil(t, result.MapCenter)
	assert.Equal(t, models.LatLng{Lat: 3.5, Lng: 4.5}, *result.MapCenter)
}

func TestIngestGeneratesImagePreview(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t, IngestConfig{})

	result, err := f.svc.IngestBatch(ctx, owner, []models.UploadFile{
		models.NewMemoryFile("mapa.png", "", uploadTime, pngImage(t)),
	})
	require.NoError(t, err)

	asset := result.Assets[0]
	assert.Equal(t, "image/png", asset.ContentType)
	assert.Equal(t, "/assets/"+asset.Id+"/preview", asset.PreviewRef)

	preview, err := f.blobs.FetchFile(ctx, previewPath(asset.Id))
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", utils.ResolveContentType("", preview))
}

func TestIngestUnreadableFileStillBecomesAsset(t *testing.T) {
	f := newIngestFixture(t, IngestConfig{})

	broken := models.UploadFile{
		Name:        "corrompido.jpg",
		ContentType: "image/jpeg",
		Open:        func() (io.ReadCloser, error) { return nil, errors.New("disk gone") },
	}
	result, err := f.svc.IngestBatch(context.Background(), owner, []models.UploadFile{broken})
	require.NoError(t, err)
	require.Len(t, result.Assets, 1)
	assert.Equal(t, "corrompido.jpg", result.Assets[0].Name)
	assert.False(t, result.Assets[0].HasGPS)
	assert.Nil(t, result.MapCenter)
}

func TestIngestRejectsOversizedFile(t *testing.T) {
	f := newIngestFixture(t, IngestConfig{MaxFileBytes: 4})

	result, err := f.svc.IngestBatch(context.Background(), owner, []models.UploadFile{
		models.NewMemoryFile("grande.mp4", "video/mp4", uploadTime, []byte("[lat : 1.5][long : 2.5]")),
	})
	require.NoError(t, err)
	assert.False(t, result.Assets[0].HasGPS)
}

func TestIngestEmptyBatch(t *testing.T) {
	f := newIngestFixture(t, IngestConfig{})

	_, err := f.svc.IngestBatch(context.Background(), owner, nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	entries, _ := f.audits.List(context.Background(), 0)
	assert.Empty(t, entries)
}

func TestIngestRejectsOversizedBatch(t *testing.T) {
	f := newIngestFixture(t, IngestConfig{})
	files := make([]models.UploadFile, MaxBatchFiles+1)
	for i := range files {
		files[i] = models.NewMemoryFile("foto.jpg", "image/jpeg", uploadTime, []byte("x"))
	}

	_, err := f.svc.IngestBatch(context.Background(), owner, files)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	stored, _ := f.store.List(context.Background())
	assert.Empty(t, stored)
	entries, _ := f.audits.List(context.Background(), 0)
	assert.Empty(t, entries)
}

func TestIngestRespectsConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	slow := func(name string) models.UploadFile {
		return models.UploadFile{
			Name:        name,
			ContentType: "video/mp4",
			Open: func() (io.ReadCloser, error) {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inFlight.Add(-1)
				return io.NopCloser(bytes.NewReader(nil)), nil
			},
		}
	}

	f := newIngestFixture(t, IngestConfig{Concurrency: 2})
	files := make([]models.UploadFile, 8)
	for i := range files {
		files[i] = slow("clip.mp4")
	}

	result, err := f.svc.IngestBatch(context.Background(), owner, files)
	require.NoError(t, err)
	assert.Len(t, result.Assets, 8)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "foto.jpg", displayName(`C:\fotos\foto.jpg`, 0))
	assert.Equal(t, "foto.jpg", displayName("../../foto.jpg", 0))
	assert.Equal(t, "arquivo-3", displayName("  ", 2))
}
