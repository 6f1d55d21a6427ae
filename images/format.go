package images

import (
	"image"
	"io"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	// Register decoders that image.Decode does not ship with.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ImageFormat represents supported image formats
type ImageFormat string

// ImageFormat constants
const (
	// FormatJPEG is the JPEG image format.
	FormatJPEG ImageFormat = "jpeg"
	// FormatWebP is the WebP image format.
	FormatWebP ImageFormat = "webp"
	// FormatPNG is the PNG image format.
	FormatPNG ImageFormat = "png"
	// FormatBMP is the BMP image format. Decode only.
	FormatBMP ImageFormat = "bmp"
)

// ErrUnsupportedFormat is returned when a file extension maps to no known format.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// FormatFromPath infers the image format from a file extension.
func FormatFromPath(path string) (ImageFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return FormatJPEG, nil
	case ".png":
		return FormatPNG, nil
	case ".webp":
		return FormatWebP, nil
	case ".bmp":
		return FormatBMP, nil
	}
	return "", errors.Wrap(ErrUnsupportedFormat, path)
}

// ContentType returns the MIME type of the format.
func (f ImageFormat) ContentType() string {
	return "image/" + string(f)
}

// Decode reads a still image, honouring the EXIF orientation tag.
//
// Arguments:
//   - r: The encoded image stream (JPEG, PNG, GIF, BMP or WebP).
//
// Returns:
//   - *Frame: The decoded RGB frame.
//   - error: An error if the stream cannot be decoded.
func Decode(r io.Reader) (*Frame, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrap(err, "decode image")
	}

	return FrameFromImage(img)
}

// Open decodes the still image stored at path.
func Open(path string) (*Frame, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "open image %s", path)
	}

	return FrameFromImage(img)
}

// Encode writes img to w in the given format. JPEG, PNG and WebP are writable.
func Encode(w io.Writer, img image.Image, format ImageFormat) error {
	var f imaging.Format
	switch format {
	case FormatJPEG:
		f = imaging.JPEG
	case FormatPNG:
		f = imaging.PNG
	case FormatWebP:
		return errors.Wrap(webp.Encode(w, img, &webp.Options{Quality: 90}), "encode webp")
	default:
		return errors.Wrapf(ErrUnsupportedFormat, "encode %s", format)
	}

	return errors.Wrapf(imaging.Encode(w, img, f, imaging.JPEGQuality(90)), "encode %s", format)
}
