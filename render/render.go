// Package render - draws detections onto a transparent overlay surface.
package render

import (
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/chewxy/math32"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/nvr-ai/go-live-detect/images"
	"github.com/nvr-ai/go-live-detect/inference"
	"github.com/nvr-ai/go-live-detect/models/postprocess"
)

var regular *truetype.Font

func init() {
	var err error
	regular, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Options configures a Renderer.
type Options struct {
	// Palette colours boxes by class. Nil uses DefaultPalette.
	Palette Palette
	// TextColor is the caption colour.
	TextColor color.Color
	// LabelAlpha is the opacity of the caption background.
	LabelAlpha float64
	// MinFontSize bounds the caption size from below, in points.
	MinFontSize float64
}

// DefaultOptions returns white captions on half-transparent class colours.
func DefaultOptions() Options {
	return Options{
		Palette:     DefaultPalette,
		TextColor:   color.White,
		LabelAlpha:  0.5,
		MinFontSize: 14,
	}
}

// Renderer draws detections. It is the sole writer of the surfaces it is
// given and serialises its own calls.
type Renderer struct {
	opts Options

	mu    sync.Mutex
	faces map[float64]font.Face
}

// NewRenderer creates a renderer.
func NewRenderer(opts Options) *Renderer {
	if opts.Palette == nil {
		opts.Palette = DefaultPalette
	}
	if opts.TextColor == nil {
		opts.TextColor = color.White
	}
	if opts.MinFontSize <= 0 {
		opts.MinFontSize = 14
	}
	return &Renderer{opts: opts, faces: map[float64]font.Face{}}
}

// LabelText formats a caption as "<label> <confidence*100 with one decimal>%".
func LabelText(d postprocess.Detection) string {
	return postprocess.LabelText(d)
}

// Draw clears surface to transparent and draws every detection on it.
//
// Arguments:
//   - detections: Boxes in frame space.
//   - surface: The overlay. Its size must equal frameSize.
//   - frameSize: The size of the frame the detections belong to.
//
// Returns:
//   - error: A *inference.ShapeError when the surface does not match the frame.
func (r *Renderer) Draw(detections []postprocess.Detection, surface *image.RGBA, frameSize image.Point) error {
	if surface == nil || surface.Bounds().Size() != frameSize {
		var got inference.Shape
		if surface != nil {
			got = inference.NewShape(surface.Bounds().Dy(), surface.Bounds().Dx())
		}
		return &inference.ShapeError{
			Op:     "render",
			Want:   inference.NewShape(frameSize.Y, frameSize.X),
			Got:    got,
			Reason: "surface does not match the frame",
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	draw.Draw(surface, surface.Bounds(), image.Transparent, image.Point{}, draw.Src)
	if len(detections) == 0 {
		return nil
	}

	dc := gg.NewContextForRGBA(surface)
	w, h := float64(frameSize.X), float64(frameSize.Y)
	fontSize := max(math32.Round(float32(max(w, h))/40), float32(r.opts.MinFontSize))
	lineWidth := max(min(w, h)/200, 2.5)
	dc.SetFontFace(r.face(float64(fontSize)))

	for _, d := range detections {
		r.drawDetection(dc, d, lineWidth, float64(fontSize))
	}
	return nil
}

func (r *Renderer) drawDetection(dc *gg.Context, d postprocess.Detection, lineWidth, fontSize float64) {
	c := r.opts.Palette.Color(d.ClassID)
	x, y := float64(d.Box.X1), float64(d.Box.Y1)
	bw, bh := float64(d.Box.Width()), float64(d.Box.Height())

	dc.SetColor(c)
	dc.SetLineWidth(lineWidth)
	dc.DrawRectangle(x, y, bw, bh)
	dc.Stroke()

	text := LabelText(d)
	tw, _ := dc.MeasureString(text)
	th := fontSize + 2
	ty := y - th
	if ty < 0 {
		ty = y
	}

	dc.SetColor(withAlpha(c, r.opts.LabelAlpha))
	dc.DrawRectangle(x-1, ty, tw+4, th)
	dc.Fill()

	dc.SetColor(r.opts.TextColor)
	dc.DrawStringAnchored(text, x+1, ty+1, 0, 1)
}

func (r *Renderer) face(size float64) font.Face {
	if f, ok := r.faces[size]; ok {
		return f
	}
	f := truetype.NewFace(regular, &truetype.Options{Size: size})
	r.faces[size] = f
	return f
}

// NewSurface returns a transparent overlay sized to the frame.
func NewSurface(frameSize image.Point) *image.RGBA {
	return image.NewRGBA(image.Rectangle{Max: frameSize})
}

// Compose draws overlay over frame and returns the result as a new image.
func Compose(frame *images.Frame, overlay *image.RGBA) *image.RGBA {
	out := frame.ToRGBA()
	if overlay != nil {
		draw.Draw(out, out.Bounds(), overlay, overlay.Bounds().Min, draw.Over)
	}
	return out
}
