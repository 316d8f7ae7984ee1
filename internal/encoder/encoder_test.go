package encoder

import (
	"bytes"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelforge/image-optimizer/internal/sizes"
)

// drawTestImage renders a filled background with a circle so encoded
// outputs are not degenerate single-color frames.
func drawTestImage(width, height int) image.Image {
	dc := gg.NewContext(width, height)
	dc.SetRGB(0.2, 0.4, 0.8)
	dc.Clear()
	dc.SetRGB(0.9, 0.3, 0.1)
	dc.DrawCircle(float64(width)/2, float64(height)/2, float64(height)/4)
	dc.Fill()
	return dc.Image()
}

func TestResizePreservesAspectRatioExactFit(t *testing.T) {
	src := drawTestImage(1600, 1200) // 4:3

	got := Resize(src, sizes.Preset{Name: "small", TargetWidth: 320, TargetHeight: 240})

	bounds := got.Bounds()
	assert.Equal(t, 320, bounds.Dx())
	assert.Equal(t, 240, bounds.Dy())
}

func TestResizePreservesAspectRatioPortraitTarget(t *testing.T) {
	src := drawTestImage(1600, 1200)

	got := Resize(src, sizes.Preset{Name: "mobile", TargetWidth: 375, TargetHeight: 667})

	bounds := got.Bounds()
	// The width hits its bound exactly, the height stays strictly smaller
	// and the 4:3 ratio survives within rounding.
	assert.Equal(t, 375, bounds.Dx())
	assert.Less(t, bounds.Dy(), 667)
	assert.InDelta(t, 281, bounds.Dy(), 1)
}

func TestResizeNeverUpscales(t *testing.T) {
	src := drawTestImage(100, 75)

	got := Resize(src, sizes.Preset{Name: "small", TargetWidth: 320, TargetHeight: 240})

	bounds := got.Bounds()
	assert.Equal(t, 100, bounds.Dx())
	assert.Equal(t, 75, bounds.Dy())
}

func TestEncodeFormats(t *testing.T) {
	src := drawTestImage(64, 48)

	tests := []struct {
		format string
	}{
		{"jpeg"},
		{"png"},
		{"gif"},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			data, err := Encode(src, sizes.Preset{Name: "t", Format: tt.format})
			require.NoError(t, err)
			require.NotEmpty(t, data)

			decoded, err := imaging.Decode(bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, 64, decoded.Bounds().Dx())
			assert.Equal(t, 48, decoded.Bounds().Dy())
		})
	}
}

func TestEncodeRejectsUnknownFormat(t *testing.T) {
	src := drawTestImage(64, 48)

	_, err := Encode(src, sizes.Preset{Name: "t", Format: "webp"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestProcessResizesAndEncodes(t *testing.T) {
	src := drawTestImage(1600, 1200)

	data, err := Process(src, sizes.Preset{Name: "small", TargetWidth: 320, TargetHeight: 240, Format: "jpeg"})
	require.NoError(t, err)

	decoded, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 320, decoded.Bounds().Dx())
	assert.Equal(t, 240, decoded.Bounds().Dy())
}

func TestDecode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "src.png")
	require.NoError(t, imaging.Save(drawTestImage(80, 60), path))

	img, err := Decode(path)
	require.NoError(t, err)
	assert.Equal(t, 80, img.Bounds().Dx())

	_, err = Decode(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
}

func TestDecodeMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "garbage.jpg")
	require.NoError(t, os.WriteFile(path, []byte("not an image at all"), 0o644))

	_, err := Decode(path)
	assert.Error(t, err)
}
