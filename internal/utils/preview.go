package utils

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	"github.com/adrium/goheif"
	"github.com/disintegration/imaging"
)

// PreviewSize is the longest edge of a generated preview, in pixels.
const PreviewSize = 480

// Checks if the MIME type indicates a HEIC or HEIF image format.
func IsHeifLike(mimeType string) bool {
	t := strings.ToLower(mimeType)
	return strings.Contains(t, "heic") || strings.Contains(t, "heif")
}

// GeneratePreview decodes an image, applies its EXIF orientation and returns
// a JPEG no larger than PreviewSize on either edge.
func GeneratePreview(data []byte, contentType string, decoder ExifDecoder) ([]byte, error) {
	var img image.Image
	var err error

	if IsHeifLike(contentType) {
		img, err = decodeHeic(data, decoder)
	} else {
		img, err = imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	}
	if err != nil {
		return nil, err
	}

	thumb := imaging.Fit(img, PreviewSize, PreviewSize, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return nil, fmt.Errorf("failed to encode preview: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeHeic(data []byte, decoder ExifDecoder) (image.Image, error) {
	img, err := goheif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode HEIC: %w", err)
	}

	raw, err := goheif.ExtractExif(bytes.NewReader(data))
	if err != nil || len(raw) == 0 {
		return img, nil
	}
	return applyOrientation(img, Orientation(decoder, bytes.NewReader(raw))), nil
}

// EXIF orientation values: 1=normal, 2=flip-h, 3=180, 4=flip-v, 5=transpose, 6=270, 7=transverse, 8=90
func applyOrientation(img image.Image, orient int) image.Image {
	switch orient {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
