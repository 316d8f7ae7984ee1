package encoder

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	// Register WebP so sources saved as WebP can still be decoded.
	_ "golang.org/x/image/webp"

	"github.com/pixelforge/image-optimizer/internal/sizes"
)

// Encode quality parameters, fixed per format.
const (
	jpegQuality  = 85
	gifNumColors = 256
)

// ErrUnsupportedFormat is returned when a preset declares an output format
// that no encoder produces. The format field is a contract: nothing is
// silently substituted.
var ErrUnsupportedFormat = errors.New("unsupported output format")

// Decode reads and decodes a source image from disk.
func Decode(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// Resize fits the image into the preset's target box using Lanczos
// resampling. The aspect ratio is always preserved and the image is never
// cropped or upscaled: the axis with the larger deficit determines the scale
// and the other axis is rounded accordingly.
func Resize(img image.Image, p sizes.Preset) image.Image {
	return imaging.Fit(img, p.TargetWidth, p.TargetHeight, imaging.Lanczos)
}

// Encode re-encodes a decoded image in the preset's output format at that
// format's fixed quality parameter. The image is not resized here.
func Encode(img image.Image, p sizes.Preset) ([]byte, error) {
	buf := bytes.NewBuffer(nil)

	var err error
	switch p.Format {
	case "jpeg":
		err = imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality))
	case "png":
		err = imaging.Encode(buf, img, imaging.PNG)
	case "gif":
		err = imaging.Encode(buf, img, imaging.GIF, imaging.GIFNumColors(gifNumColors))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, p.Format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s image: %w", p.Format, err)
	}

	return buf.Bytes(), nil
}

// Process fits the image into the preset's box and encodes the result.
func Process(img image.Image, p sizes.Preset) ([]byte, error) {
	return Encode(Resize(img, p), p)
}
