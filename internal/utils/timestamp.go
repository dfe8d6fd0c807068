package utils

import (
	"fmt"
	"time"
)

const (
	localeLayout = "02/01/2006, 15:04:05"
	isoLayout    = "2006-01-02T15:04:05.000Z"
)

// FormatLocaleTimestamp renders t the way Brazilian Portuguese locales print
// a date and time, e.g. "10/03/2024, 14:22:05".
func FormatLocaleTimestamp(t time.Time) string {
	return t.Format(localeLayout)
}

// FormatISOTimestamp renders t in UTC with millisecond precision.
func FormatISOTimestamp(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// ParseTimestamp accepts every timestamp shape an asset can carry:
// ISO 8601 (with or without zone), raw EXIF and the pt-BR locale form.
func ParseTimestamp(timestamp string) (time.Time, error) {
	var t time.Time
	var err error

	// Try multiple timestamp formats in order of likelihood
	formats := []string{
		"2006:01:02 15:04:05", // EXIF DateTimeOriginal
		localeLayout,
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
	}

	for _, format := range formats {
		t, err = time.Parse(format, timestamp)
		if err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", timestamp, err)
}
