package images

import (
	"image"
	"image/color"
	"testing"

	"github.com/nfnt/resize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeLetterbox(t *testing.T) {
	tests := []struct {
		name   string
		src    image.Point
		dst    image.Point
		ratio  float32
		padX   float32
		padY   float32
		scaled image.Point
	}{
		{"landscape 4:3", image.Pt(1280, 960), image.Pt(640, 640), 0.5, 0, 80, image.Pt(640, 480)},
		{"portrait", image.Pt(480, 640), image.Pt(640, 640), 1, 80, 0, image.Pt(480, 640)},
		{"already square", image.Pt(640, 640), image.Pt(640, 640), 1, 0, 0, image.Pt(640, 640)},
		{"upscale", image.Pt(320, 160), image.Pt(640, 640), 2, 0, 160, image.Pt(640, 320)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lb, err := ComputeLetterbox(tt.src, tt.dst)
			require.NoError(t, err)
			assert.InDelta(t, tt.ratio, lb.Ratio, 1e-6)
			assert.Equal(t, tt.padX, lb.PadX)
			assert.Equal(t, tt.padY, lb.PadY)
			assert.Equal(t, tt.scaled, lb.Scaled)
			assert.Equal(t, tt.dst, lb.Target)
		})
	}

	_, err := ComputeLetterbox(image.Pt(0, 10), image.Pt(640, 640))
	assert.Error(t, err)
}

func TestLetterbox_InvertApply(t *testing.T) {
	lb, err := ComputeLetterbox(image.Pt(1280, 960), image.Pt(640, 640))
	require.NoError(t, err)

	full := lb.Invert(Rect{0, 0, 640, 640})
	assert.Equal(t, Rect{0, -160, 1280, 1120}, full)
	assert.Equal(t, Rect{0, 0, 1280, 960}, full.Clip(1280, 960))

	box := Rect{100, 200, 300, 400}
	assert.Equal(t, box, lb.Invert(lb.Apply(box)))
}

func TestLetterboxImage(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 200, 100))
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i], src.Pix[i+1], src.Pix[i+2], src.Pix[i+3] = 255, 0, 0, 255
	}

	lb, err := ComputeLetterbox(src.Bounds().Size(), image.Pt(64, 64))
	require.NoError(t, err)

	out := LetterboxImage(src, lb, LetterboxFill, resize.Bilinear)
	require.Equal(t, image.Rect(0, 0, 64, 64), out.Bounds())

	assert.Equal(t, LetterboxFill, out.RGBAAt(0, 0), "top padding must be fill grey")
	assert.Equal(t, LetterboxFill, out.RGBAAt(63, 63), "bottom padding must be fill grey")
	assert.Equal(t, color.RGBA{255, 0, 0, 255}, out.RGBAAt(32, 32), "content must be centred")
}

// TestLetterboxImage_Interpolation upscales a black|white pair 2x: nearest
// keeps hard edges while bilinear blends the inner columns.
func TestLetterboxImage_Interpolation(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 1))
	src.SetRGBA(0, 0, color.RGBA{A: 255})
	src.SetRGBA(1, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	lb, err := ComputeLetterbox(src.Bounds().Size(), image.Pt(4, 2))
	require.NoError(t, err)
	require.Equal(t, image.Pt(4, 2), lb.Scaled)

	nearest := LetterboxImage(src, lb, LetterboxFill, resize.NearestNeighbor)
	for x := 0; x < 4; x++ {
		r := nearest.RGBAAt(x, 0).R
		assert.True(t, r == 0 || r == 255, "nearest column %d = %d", x, r)
	}
	assert.Equal(t, uint8(0), nearest.RGBAAt(1, 0).R)
	assert.Equal(t, uint8(255), nearest.RGBAAt(2, 0).R)

	bilinear := LetterboxImage(src, lb, LetterboxFill, resize.Bilinear)
	r := bilinear.RGBAAt(1, 0).R
	assert.True(t, r > 0 && r < 255, "bilinear column 1 = %d", r)
}

func TestParseInterpolation(t *testing.T) {
	interp, err := ParseInterpolation(" Nearest ")
	require.NoError(t, err)
	assert.Equal(t, resize.NearestNeighbor, interp)

	interp, err = ParseInterpolation("lanczos3")
	require.NoError(t, err)
	assert.Equal(t, resize.Lanczos3, interp)

	_, err = ParseInterpolation("cubic-ish")
	assert.ErrorContains(t, err, "unknown interpolation")
}
