package images

import (
	"encoding/json"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIoU_Correctness validates the IoU implementation against known test cases
func TestIoU_Correctness(t *testing.T) {
	tests := []struct {
		name     string
		r1       Rect
		r2       Rect
		expected float32
	}{
		{
			name:     "Identical rectangles",
			r1:       Rect{0, 0, 100, 100},
			r2:       Rect{0, 0, 100, 100},
			expected: 1.0,
		},
		{
			name:     "No overlap",
			r1:       Rect{0, 0, 100, 100},
			r2:       Rect{200, 200, 300, 300},
			expected: 0.0,
		},
		{
			name:     "Touching edges",
			r1:       Rect{0, 0, 100, 100},
			r2:       Rect{100, 0, 200, 100},
			expected: 0.0,
		},
		{
			name:     "Half overlap",
			r1:       Rect{0, 0, 100, 100},
			r2:       Rect{50, 50, 150, 150},
			expected: 0.142857, // 2500 / (10000 + 10000 - 2500)
		},
		{
			name:     "Small overlap",
			r1:       Rect{0, 0, 100, 100},
			r2:       Rect{90, 90, 190, 190},
			expected: 0.005025, // 100 / 19900
		},
		{
			name:     "One inside other",
			r1:       Rect{0, 0, 100, 100},
			r2:       Rect{25, 25, 75, 75},
			expected: 0.25,
		},
		{
			name:     "Fractional coordinates",
			r1:       Rect{0.5, 0.5, 10.5, 10.5},
			r2:       Rect{0.5, 0.5, 10.5, 5.5},
			expected: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculateIoU(tt.r1, tt.r2)
			assert.InDelta(t, tt.expected, result, 0.001, "IoU mismatch")

			reverse := CalculateIoU(tt.r2, tt.r1)
			assert.InDelta(t, result, reverse, 1e-6, "IoU must be symmetric")
		})
	}
}

// TestIoU_vs_ImageRectangle compares the float implementation against image.Rectangle
func TestIoU_vs_ImageRectangle(t *testing.T) {
	testCases := []struct {
		name string
		r1   image.Rectangle
		r2   image.Rectangle
	}{
		{"No overlap", image.Rect(0, 0, 100, 100), image.Rect(200, 200, 300, 300)},
		{"Partial overlap", image.Rect(0, 0, 100, 100), image.Rect(50, 50, 150, 150)},
		{"Full overlap", image.Rect(50, 50, 150, 150), image.Rect(50, 50, 150, 150)},
		{"One inside other", image.Rect(0, 0, 100, 100), image.Rect(25, 25, 75, 75)},
		{"Large boxes", image.Rect(0, 0, 1920, 1080), image.Rect(960, 540, 1920, 1080)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			custom := CalculateIoU(rectOf(tc.r1), rectOf(tc.r2))
			assert.InDelta(t, imageRectangleIoU(tc.r1, tc.r2), custom, 0.0001)
		})
	}
}

func rectOf(r image.Rectangle) Rect {
	return Rect{float32(r.Min.X), float32(r.Min.Y), float32(r.Max.X), float32(r.Max.Y)}
}

// imageRectangleIoU implements IoU using Go's standard library image.Rectangle
func imageRectangleIoU(r1, r2 image.Rectangle) float32 {
	intersect := r1.Intersect(r2)
	if intersect.Empty() {
		return 0.0
	}

	intersectArea := intersect.Dx() * intersect.Dy()
	union := r1.Dx()*r1.Dy() + r2.Dx()*r2.Dy() - intersectArea

	return float32(intersectArea) / float32(union)
}

// TestIoU_EdgeCases tests edge cases and boundary conditions
func TestIoU_EdgeCases(t *testing.T) {
	tests := []struct {
		name string
		r1   Rect
		r2   Rect
	}{
		{"Zero area rectangle 1", Rect{0, 0, 0, 0}, Rect{0, 0, 100, 100}},
		{"Zero area rectangle 2", Rect{0, 0, 100, 100}, Rect{50, 50, 50, 50}},
		{"Both zero area", Rect{0, 0, 0, 0}, Rect{10, 10, 10, 10}},
		{"Negative coordinates", Rect{-100, -100, 0, 0}, Rect{-50, -50, 50, 50}},
		{"Inverted rectangle", Rect{100, 100, 0, 0}, Rect{0, 0, 100, 100}},
		{"Very large coordinates", Rect{0, 0, 999999, 999999}, Rect{500000, 500000, 999999, 999999}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculateIoU(tt.r1, tt.r2)
			assert.GreaterOrEqual(t, result, float32(0))
			assert.LessOrEqual(t, result, float32(1))

			reverse := CalculateIoU(tt.r2, tt.r1)
			assert.GreaterOrEqual(t, reverse, float32(0))
			assert.LessOrEqual(t, reverse, float32(1))
		})
	}
}

func TestRect_Clip(t *testing.T) {
	tests := []struct {
		name     string
		in       Rect
		expected Rect
	}{
		{"inside", Rect{10, 10, 20, 20}, Rect{10, 10, 20, 20}},
		{"overflows every edge", Rect{-50, -160, 1400, 1120}, Rect{0, 0, 1280, 960}},
		{"entirely outside", Rect{1300, 10, 1400, 20}, Rect{1280, 10, 1280, 20}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Clip(1280, 960)
			assert.Equal(t, tt.expected, got)
			assert.GreaterOrEqual(t, got.Width(), float32(0))
			assert.GreaterOrEqual(t, got.Height(), float32(0))
		})
	}
}

func TestRect_FromCenter(t *testing.T) {
	r := RectFromCenter(320, 320, 640, 640)
	assert.Equal(t, Rect{0, 0, 640, 640}, r)
	assert.Equal(t, image.Rect(0, 0, 640, 640), r.Image())
}

func TestRect_JSON(t *testing.T) {
	b, err := json.Marshal(Rect{X1: 10, Y1: 20, X2: 40, Y2: 60})
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":10,"y":20,"width":30,"height":40}`, string(b))

	var r Rect
	require.NoError(t, json.Unmarshal(b, &r))
	assert.Equal(t, Rect{X1: 10, Y1: 20, X2: 40, Y2: 60}, r)
}
