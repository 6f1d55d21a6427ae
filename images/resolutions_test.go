package images

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolution_Megapixels(t *testing.T) {
	tests := []struct {
		name string
		res  Resolution
		want float64
	}{
		{"1080p", Resolution{Width: 1920, Height: 1080}, 2.07},
		{"4k", Resolution{Width: 3840, Height: 2160}, 8.29},
		{"1mp", Resolution{Width: 1280, Height: 1024}, 1.31},
		{"zero width", Resolution{Height: 1080}, 0},
		{"negative", Resolution{Width: -1920, Height: 1080}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.res.Megapixels(), 1e-9)
		})
	}
}

func TestResolutions_Ordered(t *testing.T) {
	all := Resolutions()
	require.NotEmpty(t, all)
	for i := 1; i < len(all); i++ {
		assert.LessOrEqual(t, all[i-1].Width*all[i-1].Height, all[i].Width*all[i].Height)
	}

	all[0].Name = "mutated"
	assert.NotEqual(t, "mutated", Resolutions()[0].Name)
}

func TestParseResolution(t *testing.T) {
	tests := []struct {
		in   string
		want Resolution
		err  bool
	}{
		{in: "720p", want: Resolution{Name: "720p", Width: 1280, Height: 720}},
		{in: " 1080P ", want: Resolution{Name: "1080p", Width: 1920, Height: 1080}},
		{in: "1920x1080", want: Resolution{Name: "1080p", Width: 1920, Height: 1080}},
		{in: "320x240", want: Resolution{Width: 320, Height: 240}},
		{in: "0x240", err: true},
		{in: "axb", err: true},
		{in: "huge", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseResolution(tt.in)
			if tt.err {
				assert.ErrorIs(t, err, ErrUnknownResolution)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLargestWithin(t *testing.T) {
	r, ok := LargestWithin(2000, 1100)
	require.True(t, ok)
	assert.Equal(t, "1080p", r.Name)

	_, ok = LargestWithin(100, 100)
	assert.False(t, ok)
}

func TestResolution_String(t *testing.T) {
	assert.Equal(t, "720p (1280x720, 0.92MP)", Resolution{Name: "720p", Width: 1280, Height: 720}.String())
	assert.Equal(t, "320x240", Resolution{Width: 320, Height: 240}.String())
}
