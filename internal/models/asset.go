package models

import (
	"bytes"
	"io"
	"time"
)

type MediaKind string

const (
	KindImage MediaKind = "image"
	KindVideo MediaKind = "video"
)

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// GeoResult is what metadata extraction recovers from a single file.
// Latitude and Longitude are either both set or both nil.
type GeoResult struct {
	Latitude         *float64 `json:"latitude"`
	Longitude        *float64 `json:"longitude"`
	CaptureTimestamp string   `json:"captureTimestamp,omitempty"`
}

// NewGeoResult builds a located result.
func NewGeoResult(lat, lng float64, captureTimestamp string) GeoResult {
	return GeoResult{
		Latitude:         &lat,
		Longitude:        &lng,
		CaptureTimestamp: captureTimestamp,
	}
}

func (g GeoResult) HasCoordinates() bool {
	return g.Latitude != nil && g.Longitude != nil
}

// MediaAsset is one uploaded image or video.
type MediaAsset struct {
	Id          string    `firestore:"id" json:"id"`
	OwnerId     string    `firestore:"ownerId" json:"ownerId"`
	Name        string    `firestore:"name" json:"name"`
	Kind        MediaKind `firestore:"kind" json:"type"`
	ContentType string    `firestore:"contentType" json:"contentType"`
	PreviewRef  string    `firestore:"previewRef,omitempty" json:"previewRef,omitempty"`
	VideoRef    string    `firestore:"videoRef,omitempty" json:"videoRef,omitempty"`
	StoragePath string    `firestore:"storagePath" json:"-"`
	Latitude    *float64  `firestore:"latitude" json:"latitude"`
	Longitude   *float64  `firestore:"longitude" json:"longitude"`
	HasGPS      bool      `firestore:"hasGps" json:"hasGps"`
	Address     string    `firestore:"address" json:"address"`
	Timestamp   string    `firestore:"timestamp" json:"timestamp"` // capture time, or file mtime in pt-BR locale
	Observation string    `firestore:"observation" json:"observation"`
	BatchIndex  int       `firestore:"batchIndex" json:"-"` // submission position within its upload batch
	CreatedAt   time.Time `firestore:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt" json:"updatedAt"`
}

// AddressLocked reports whether the address was resolved from coordinates
// and can no longer be edited.
func (a MediaAsset) AddressLocked() bool {
	return a.HasGPS && a.Address != ""
}

func (a MediaAsset) Coordinates() (LatLng, bool) {
	if a.Latitude == nil || a.Longitude == nil {
		return LatLng{}, false
	}
	return LatLng{Lat: *a.Latitude, Lng: *a.Longitude}, true
}

// UploadFile is a single file handed to the ingestion pipeline.
// Open may be called more than once.
type UploadFile struct {
	Name        string
	ContentType string
	Size        int64
	ModTime     time.Time
	Open        func() (io.ReadCloser, error)
}

// NewMemoryFile wraps an in-memory payload as an UploadFile.
func NewMemoryFile(name, contentType string, modTime time.Time, data []byte) UploadFile {
	return UploadFile{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		ModTime:     modTime,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// AssetFilter narrows an asset listing. Zero values match everything.
type AssetFilter struct {
	Kind  MediaKind
	GPS   string // "geolocated", "none" or ""
	Text  string
	Limit int
	Page  int
}

type AssetStats struct {
	Total  int `json:"total"`
	Images int `json:"images"`
	Videos int `json:"videos"`
	NoGPS  int `json:"noGps"`
}

type CacheEntry struct {
	Data        []byte
	ContentType string
	FileName    string
}

// AssetEdit is a partial update; nil fields are left untouched.
type AssetEdit struct {
	Address     *string `json:"address,omitempty" validate:"omitempty,max=500"`
	Observation *string `json:"observation,omitempty" validate:"omitempty,max=2000"`
}

type BatchDeleteRequest struct {
	Ids []string `json:"ids" validate:"required,min=1,max=500,dive,required"`
}
