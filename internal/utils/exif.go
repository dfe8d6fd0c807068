package utils

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"mira-api/internal/models"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/mknote"
	"github.com/rwcarlsen/goexif/tiff"
	"go.uber.org/zap"
)

// TagReader looks up a single decoded EXIF field. *exif.Exif satisfies it.
type TagReader interface {
	Get(name exif.FieldName) (*tiff.Tag, error)
}

// ExifDecoder turns raw image bytes into a TagReader.
type ExifDecoder interface {
	Decode(r io.Reader) (TagReader, error)
}

var registerMakerNotes sync.Once

// GoexifDecoder decodes JPEG, raw TIFF and raw "Exif" payloads with goexif.
type GoexifDecoder struct{}

func NewGoexifDecoder() *GoexifDecoder {
	registerMakerNotes.Do(func() {
		exif.RegisterParsers(mknote.All...)
	})
	return &GoexifDecoder{}
}

func (d *GoexifDecoder) Decode(r io.Reader) (TagReader, error) {
	x, err := exif.Decode(r)
	if x != nil {
		// Maker note and sub-IFD errors still leave the standard tags usable
		return x, nil
	}
	if err == nil {
		err = errors.New("no EXIF data")
	}
	return nil, fmt.Errorf("failed to decode EXIF: %w", err)
}

// ImageExtractor recovers GPS coordinates and capture time from image EXIF tags.
type ImageExtractor struct {
	decoder ExifDecoder
	logger  *zap.Logger
}

func NewImageExtractor(decoder ExifDecoder, logger *zap.Logger) *ImageExtractor {
	if decoder == nil {
		decoder = NewGoexifDecoder()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImageExtractor{decoder: decoder, logger: logger}
}

// Extract reads the four GPS tags and DateTimeOriginal. It never fails:
// unreadable metadata or a missing GPS tag yields an empty GeoResult.
func (e *ImageExtractor) Extract(r io.Reader) (result models.GeoResult) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Warn("panic while decoding EXIF", zap.Any("panic", rec))
			result = models.GeoResult{}
		}
	}()

	x, err := e.decoder.Decode(r)
	if err != nil {
		e.logger.Debug("image has no readable EXIF", zap.Error(err))
		return models.GeoResult{}
	}

	lat, latOK := dmsTag(x, exif.GPSLatitude)
	latRef, latRefOK := refTag(x, exif.GPSLatitudeRef)
	lng, lngOK := dmsTag(x, exif.GPSLongitude)
	lngRef, lngRefOK := refTag(x, exif.GPSLongitudeRef)

	if !latOK || !latRefOK || !lngOK || !lngRefOK {
		return models.GeoResult{}
	}

	return models.NewGeoResult(
		ToDecimalDegrees(lat[0], lat[1], lat[2], latRef),
		ToDecimalDegrees(lng[0], lng[1], lng[2], lngRef),
		captureTime(x),
	)
}

// dmsTag reads a degrees/minutes/seconds rational triplet.
// A zero denominator counts as zero rather than producing Inf.
func dmsTag(x TagReader, name exif.FieldName) ([3]float64, bool) {
	var dms [3]float64

	tag, err := x.Get(name)
	if err != nil || tag == nil || tag.Count < 3 {
		return dms, false
	}

	for i := range dms {
		num, den, err := tag.Rat2(i)
		if err != nil {
			return dms, false
		}
		if den != 0 {
			dms[i] = float64(num) / float64(den)
		}
	}
	return dms, true
}

func refTag(x TagReader, name exif.FieldName) (string, bool) {
	tag, err := x.Get(name)
	if err != nil || tag == nil {
		return "", false
	}
	ref, err := tag.StringVal()
	if err != nil {
		return "", false
	}
	ref = strings.Trim(ref, "\x00 ")
	if ref == "" {
		return "", false
	}
	return ref, true
}

// captureTime returns DateTimeOriginal exactly as the camera wrote it.
func captureTime(x TagReader) string {
	tag, err := x.Get(exif.DateTimeOriginal)
	if err != nil || tag == nil {
		return ""
	}
	value, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.Trim(value, "\x00 ")
}

// Orientation returns the EXIF orientation (1-8), or 1 when absent.
func Orientation(decoder ExifDecoder, r io.Reader) int {
	x, err := decoder.Decode(r)
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil || tag == nil {
		return 1
	}
	orient, err := tag.Int(0)
	if err != nil || orient < 1 || orient > 8 {
		return 1
	}
	return orient
}
