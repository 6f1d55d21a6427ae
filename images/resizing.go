package images

import (
	"bytes"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// Resize scales a frame to exactly width x height, ignoring aspect ratio.
//
// Arguments:
//   - f: The source frame.
//   - width: The target width in pixels.
//   - height: The target height in pixels.
//
// Returns:
//   - *Frame: A new frame. f is returned unchanged when it already has the
//     requested size.
//   - error: An error if f is invalid or a dimension is not positive.
func Resize(f *Frame, width, height int) (*Frame, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, errors.Wrapf(ErrInvalidFrame, "resize to %dx%d", width, height)
	}
	if f.Width == width && f.Height == height {
		return f, nil
	}

	return FrameFromImage(imaging.Resize(f.ToRGBA(), width, height, imaging.Linear))
}

// ResizeEncoded decodes an encoded still image and scales it to
// width x height.
func ResizeEncoded(b []byte, width, height int) (*Frame, error) {
	if len(b) == 0 {
		return nil, errors.Wrap(ErrInvalidFrame, "empty image data")
	}
	if width <= 0 || height <= 0 {
		return nil, errors.Wrapf(ErrInvalidFrame, "resize to %dx%d", width, height)
	}

	f, err := Decode(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	return Resize(f, width, height)
}
