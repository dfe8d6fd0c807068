package utils

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"time"

	"mira-api/internal/models"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// VideoScanLimit bounds how much of a video is inspected for telemetry text.
const VideoScanLimit = 512 * 1024

var (
	vendorLatPattern  = regexp.MustCompile(`\[lat\s*:\s*([+-]?\d+\.\d+)\]`)
	vendorLongPattern = regexp.MustCompile(`\[long\s*:\s*([+-]?\d+\.\d+)\]`)
	// ISO 6709 style stamp, e.g. "+012.345-098.765"
	signedPairPattern = regexp.MustCompile(`([+-]\d+\.\d+)([+-]\d+\.\d+)`)
)

// VideoExtractor looks for plaintext GPS telemetry near the start of a video.
type VideoExtractor struct {
	logger *zap.Logger
}

func NewVideoExtractor(logger *zap.Logger) *VideoExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VideoExtractor{logger: logger}
}

// Extract scans at most VideoScanLimit bytes of r. Coordinates found there are
// stamped with modTime, left unstamped when modTime is zero; read failures and misses yield an empty GeoResult.
func (e *VideoExtractor) Extract(r io.Reader, modTime time.Time) (result models.GeoResult) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Warn("panic while scanning video telemetry", zap.Any("panic", rec))
			result = models.GeoResult{}
		}
	}()

	prefix, err := io.ReadAll(io.LimitReader(r, VideoScanLimit))
	if err != nil {
		e.logger.Debug("failed to read video prefix", zap.Error(err))
		return models.GeoResult{}
	}

	lat, lng, ok := ScanTelemetry(decodeText(prefix))
	if !ok {
		return models.GeoResult{}
	}
	if modTime.IsZero() {
		return models.NewGeoResult(lat, lng, "")
	}
	return models.NewGeoResult(lat, lng, FormatISOTimestamp(modTime))
}

// ScanTelemetry applies the vendor bracket pattern and then the signed-pair
// pattern. The first pattern that yields both values wins.
func ScanTelemetry(text string) (lat, lng float64, ok bool) {
	latMatch := vendorLatPattern.FindStringSubmatch(text)
	lngMatch := vendorLongPattern.FindStringSubmatch(text)
	if latMatch != nil && lngMatch != nil {
		if lat, lng, err := parsePair(latMatch[1], lngMatch[1]); err == nil {
			return lat, lng, true
		}
	}

	if pair := signedPairPattern.FindStringSubmatch(text); pair != nil {
		if lat, lng, err := parsePair(pair[1], pair[2]); err == nil {
			return lat, lng, true
		}
	}

	return 0, 0, false
}

func parsePair(latText, lngText string) (float64, float64, error) {
	lat, err := strconv.ParseFloat(latText, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse latitude %q: %w", latText, err)
	}
	lng, err := strconv.ParseFloat(lngText, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse longitude %q: %w", lngText, err)
	}
	return lat, lng, nil
}

// decodeText interprets b as UTF-8, replacing invalid sequences with U+FFFD.
func decodeText(b []byte) string {
	out, _, err := transform.Bytes(unicode.UTF8.NewDecoder(), b)
	if err != nil {
		return string(b)
	}
	return string(out)
}
