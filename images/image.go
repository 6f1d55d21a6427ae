// Package images - Frame and geometry primitives shared by the capture, inference and render stages.
package images

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/pkg/errors"
)

// Frame is an immutable 8-bit RGB image captured from a source.
//
// Pix holds Height rows of Width*Channels bytes, row-major, with no padding
// between rows. A Frame is owned by the cycle that captured it and must not be
// retained once the cycle completes.
type Frame struct {
	// Width of the frame in pixels.
	Width int `json:"width" yaml:"width"`
	// Height of the frame in pixels.
	Height int `json:"height" yaml:"height"`
	// Channels per pixel. Always 3 (RGB) for frames handed to the pipeline.
	Channels int `json:"channels" yaml:"channels"`
	// Pix is the interleaved pixel buffer.
	Pix []byte `json:"-" yaml:"-"`
}

// ErrInvalidFrame is returned when a frame's dimensions and buffer disagree.
var ErrInvalidFrame = errors.New("invalid frame")

// NewFrame allocates a zeroed RGB frame.
//
// Arguments:
//   - width: The frame width in pixels.
//   - height: The frame height in pixels.
//
// Returns:
//   - *Frame: The allocated frame.
//   - error: An error if either dimension is not positive.
func NewFrame(width, height int) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Wrapf(ErrInvalidFrame, "dimensions %dx%d", width, height)
	}

	return &Frame{
		Width:    width,
		Height:   height,
		Channels: 3,
		Pix:      make([]byte, width*height*3),
	}, nil
}

// FrameFromImage converts any decoded image into an RGB frame, dropping alpha.
//
// Arguments:
//   - img: The source image.
//
// Returns:
//   - *Frame: The converted frame.
//   - error: An error if the image is empty.
func FrameFromImage(img image.Image) (*Frame, error) {
	if img == nil {
		return nil, errors.Wrap(ErrInvalidFrame, "nil image")
	}

	b := img.Bounds()
	frame, err := NewFrame(b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}

	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Rect, img, b.Min, draw.Src)
	}

	for y := 0; y < frame.Height; y++ {
		src := rgba.Pix[y*rgba.Stride : y*rgba.Stride+frame.Width*4]
		dst := frame.Pix[y*frame.Width*3 : (y+1)*frame.Width*3]
		for x := 0; x < frame.Width; x++ {
			dst[x*3] = src[x*4]
			dst[x*3+1] = src[x*4+1]
			dst[x*3+2] = src[x*4+2]
		}
	}

	return frame, nil
}

// Validate reports whether the buffer length matches the declared dimensions.
func (f *Frame) Validate() error {
	if f == nil {
		return errors.Wrap(ErrInvalidFrame, "nil frame")
	}
	if f.Width <= 0 || f.Height <= 0 {
		return errors.Wrapf(ErrInvalidFrame, "dimensions %dx%d", f.Width, f.Height)
	}
	if f.Channels != 3 {
		return errors.Wrapf(ErrInvalidFrame, "expected 3 channels, got %d", f.Channels)
	}
	if want := f.Width * f.Height * f.Channels; len(f.Pix) != want {
		return errors.Wrapf(ErrInvalidFrame, "buffer holds %d bytes, want %d", len(f.Pix), want)
	}

	return nil
}

// Size returns the frame dimensions as a point (X = width, Y = height).
func (f *Frame) Size() image.Point {
	return image.Pt(f.Width, f.Height)
}

// Bounds returns the frame rectangle anchored at the origin.
func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	pix := make([]byte, len(f.Pix))
	copy(pix, f.Pix)

	return &Frame{Width: f.Width, Height: f.Height, Channels: f.Channels, Pix: pix}
}

// ToRGBA expands the frame into an opaque RGBA image.
func (f *Frame) ToRGBA() *image.RGBA {
	dst := image.NewRGBA(f.Bounds())
	for i, j := 0, 0; i < len(f.Pix); i, j = i+3, j+4 {
		dst.Pix[j] = f.Pix[i]
		dst.Pix[j+1] = f.Pix[i+1]
		dst.Pix[j+2] = f.Pix[i+2]
		dst.Pix[j+3] = 0xff
	}

	return dst
}

// String implements fmt.Stringer.
func (f *Frame) String() string {
	return fmt.Sprintf("Frame(%dx%dx%d)", f.Width, f.Height, f.Channels)
}
