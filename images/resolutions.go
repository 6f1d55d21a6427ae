package images

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Resolution is a named capture resolution.
type Resolution struct {
	Name   string `json:"name" yaml:"name"`
	Width  int    `json:"width" yaml:"width"`
	Height int    `json:"height" yaml:"height"`
}

// Megapixels returns the pixel count in millions, rounded to two decimals.
func (r Resolution) Megapixels() float64 {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return math.Round(float64(r.Width*r.Height)/10_000) / 100
}

// Size returns the width and height.
func (r Resolution) Size() (int, int) {
	return r.Width, r.Height
}

func (r Resolution) String() string {
	if r.Name == "" {
		return fmt.Sprintf("%dx%d", r.Width, r.Height)
	}
	return fmt.Sprintf("%s (%dx%d, %.2fMP)", r.Name, r.Width, r.Height, r.Megapixels())
}

// Resolutions common to webcams and surveillance cameras, ordered by pixel count.
var resolutions = []Resolution{
	{Name: "nhd", Width: 640, Height: 360},
	{Name: "vga", Width: 640, Height: 480},
	{Name: "fwvga", Width: 854, Height: 480},
	{Name: "540p", Width: 960, Height: 540},
	{Name: "720p", Width: 1280, Height: 720},
	{Name: "1mp", Width: 1280, Height: 1024},
	{Name: "2mp", Width: 1600, Height: 1200},
	{Name: "1080p", Width: 1920, Height: 1080},
	{Name: "3mp", Width: 2048, Height: 1536},
	{Name: "1440p", Width: 2560, Height: 1440},
	{Name: "4mp", Width: 2688, Height: 1520},
	{Name: "4k", Width: 3840, Height: 2160},
}

// Resolutions returns the named resolutions ordered by pixel count.
func Resolutions() []Resolution {
	return append([]Resolution(nil), resolutions...)
}

// ErrUnknownResolution is returned by ParseResolution for names it does not know.
var ErrUnknownResolution = errors.New("unknown resolution")

// ParseResolution resolves a resolution name such as "720p", or explicit
// dimensions written as WIDTHxHEIGHT.
//
// Arguments:
//   - s: The name or dimensions, case insensitive.
//
// Returns:
//   - Resolution: The matching resolution. Explicit dimensions keep the name
//     of a table entry of the same size.
//   - error: ErrUnknownResolution when s matches neither form.
//
// @example
//
//	res, _ := ParseResolution("1920x1080")
//	fmt.Println(res.Name) // 1080p
func ParseResolution(s string) (Resolution, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, r := range resolutions {
		if r.Name == s {
			return r, nil
		}
	}

	ws, hs, ok := strings.Cut(s, "x")
	if !ok {
		return Resolution{}, errors.Wrap(ErrUnknownResolution, s)
	}
	w, errW := strconv.Atoi(ws)
	h, errH := strconv.Atoi(hs)
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return Resolution{}, errors.Wrap(ErrUnknownResolution, s)
	}
	for _, r := range resolutions {
		if r.Width == w && r.Height == h {
			return r, nil
		}
	}
	return Resolution{Width: w, Height: h}, nil
}

// LargestWithin returns the largest named resolution that fits in width x height.
func LargestWithin(width, height int) (Resolution, bool) {
	for i := len(resolutions) - 1; i >= 0; i-- {
		if r := resolutions[i]; r.Width <= width && r.Height <= height {
			return r, true
		}
	}
	return Resolution{}, false
}
