package images

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 7, A: 255})
		}
	}
	return img
}

func TestFrameFromImage(t *testing.T) {
	src := gradient(16, 8)

	frame, err := FrameFromImage(src)
	require.NoError(t, err)
	require.NoError(t, frame.Validate())
	assert.Equal(t, image.Pt(16, 8), frame.Size())
	assert.Equal(t, []byte{3, 2, 7}, frame.Pix[(2*16+3)*3:(2*16+3)*3+3])

	assert.Equal(t, src.Pix, frame.ToRGBA().Pix, "RGBA round trip must be lossless for opaque images")
}

func TestFrameFromImage_SubImage(t *testing.T) {
	src := gradient(16, 16).SubImage(image.Rect(4, 4, 12, 12))

	frame, err := FrameFromImage(src)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(8, 8), frame.Size())
	assert.Equal(t, []byte{4, 4, 7}, frame.Pix[:3])
}

func TestFrame_Validate(t *testing.T) {
	tests := []struct {
		name  string
		frame *Frame
	}{
		{"nil", nil},
		{"zero width", &Frame{Width: 0, Height: 2, Channels: 3}},
		{"wrong channels", &Frame{Width: 1, Height: 1, Channels: 4, Pix: make([]byte, 4)}},
		{"short buffer", &Frame{Width: 2, Height: 2, Channels: 3, Pix: make([]byte, 11)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.frame.Validate(), ErrInvalidFrame)
		})
	}
}

func TestFrame_Clone(t *testing.T) {
	frame, err := NewFrame(2, 2)
	require.NoError(t, err)

	clone := frame.Clone()
	clone.Pix[0] = 9
	assert.Equal(t, byte(0), frame.Pix[0], "clone must not share the pixel buffer")
	assert.Equal(t, ComputeFrameChecksum(frame), ComputeFrameChecksum(frame.Clone()))
}

func TestDecode(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, gradient(10, 6)))

	frame, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(10, 6), frame.Size())

	_, err = Decode(bytes.NewReader([]byte("not an image")))
	assert.Error(t, err)
}

func TestEncodeOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.png")
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, gradient(5, 5), FormatPNG))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	frame, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(5, 5), frame.Size())

	assert.ErrorIs(t, Encode(&buf, gradient(1, 1), FormatBMP), ErrUnsupportedFormat)
}

func TestEncodeWebP(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, gradient(12, 9), FormatWebP))

	frame, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(12, 9), frame.Size())
}

func TestFormatFromPath(t *testing.T) {
	f, err := FormatFromPath("/tmp/a/frame-001.JPG")
	require.NoError(t, err)
	assert.Equal(t, FormatJPEG, f)
	assert.Equal(t, "image/jpeg", f.ContentType())

	_, err = FormatFromPath("clip.mp4")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
