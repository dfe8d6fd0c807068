package utils

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePreviewFitsBounds(t *testing.T) {
	src := imaging.New(1600, 900, color.NRGBA{R: 40, G: 120, B: 60, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	out, err := GeneratePreview(buf.Bytes(), "image/png", NewGoexifDecoder())
	require.NoError(t, err)

	img, format, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, PreviewSize, img.Bounds().Dx())
	assert.Equal(t, 270, img.Bounds().Dy())
}

func TestGeneratePreviewRejectsGarbage(t *testing.T) {
	_, err := GeneratePreview([]byte("nope"), "image/jpeg", NewGoexifDecoder())
	assert.Error(t, err)
}

func TestIsHeifLike(t *testing.T) {
	assert.True(t, IsHeifLike("image/HEIC"))
	assert.True(t, IsHeifLike("image/heif-sequence"))
	assert.False(t, IsHeifLike("image/jpeg"))
}

func TestApplyOrientationSwapsAxes(t *testing.T) {
	img := imaging.New(40, 10, color.Black)

	assert.Equal(t, image.Rect(0, 0, 10, 40), applyOrientation(img, 6).Bounds())
	assert.Equal(t, image.Rect(0, 0, 40, 10), applyOrientation(img, 3).Bounds())
	assert.Equal(t, image.Rect(0, 0, 40, 10), applyOrientation(img, 1).Bounds())
}

func TestResolveContentType(t *testing.T) {
	jpegHead := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}

	assert.Equal(t, "video/mp4", ResolveContentType("video/mp4", jpegHead))
	assert.Equal(t, "image/jpeg", ResolveContentType("", jpegHead))
	assert.Equal(t, "image/jpeg", ResolveContentType("application/octet-stream", jpegHead))
}
