package render

import (
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// DefaultPalette holds the per-class colours, indexed by class id modulo its length.
var DefaultPalette = MustPalette(
	"#FF3838", "#FF9D97", "#FF701F", "#FFB21D", "#CFD231",
	"#48F90A", "#92CC17", "#3DDB86", "#1A9334", "#00D4BB",
	"#2C99A8", "#00C2FF", "#344593", "#6473FF", "#0018EC",
	"#8438FF", "#520085", "#CB38FF", "#FF95C8", "#FF37C7",
)

// Palette maps class ids to colours.
type Palette []color.RGBA

// NewPalette parses hex colours such as "#FF3838".
func NewPalette(hex ...string) (Palette, error) {
	p := make(Palette, 0, len(hex))
	for _, h := range hex {
		c, err := colorful.Hex(h)
		if err != nil {
			return nil, err
		}
		r, g, b := c.RGB255()
		p = append(p, color.RGBA{R: r, G: g, B: b, A: 0xff})
	}
	return p, nil
}

// MustPalette is NewPalette that panics on a malformed colour.
func MustPalette(hex ...string) Palette {
	p, err := NewPalette(hex...)
	if err != nil {
		panic(err)
	}
	return p
}

// Color returns the colour for classID.
func (p Palette) Color(classID int) color.RGBA {
	if len(p) == 0 {
		return color.RGBA{A: 0xff}
	}
	i := classID % len(p)
	if i < 0 {
		i += len(p)
	}
	return p[i]
}

// withAlpha returns c at the given opacity, premultiplied.
func withAlpha(c color.RGBA, alpha float64) color.RGBA {
	cc, _ := colorful.MakeColor(c)
	r, g, b := cc.RGB255()
	a := uint8(alpha * 0xff)
	return color.RGBA{
		R: uint8(uint16(r) * uint16(a) / 0xff),
		G: uint8(uint16(g) * uint16(a) / 0xff),
		B: uint8(uint16(b) * uint16(a) / 0xff),
		A: a,
	}
}
