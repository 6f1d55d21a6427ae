package images

import (
	"image"
	"image/color"
	"image/draw"
	"strings"

	"github.com/chewxy/math32"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// LetterboxFill is the grey used to pad letterboxed model inputs.
var LetterboxFill = color.RGBA{R: 114, G: 114, B: 114, A: 0xff}

// Letterbox describes how an original frame was fitted into a model input:
// scaled uniformly by Ratio and centred with PadX/PadY pixels of fill.
type Letterbox struct {
	// Ratio is the uniform scale applied to the original frame.
	Ratio float32 `json:"ratio" yaml:"ratio"`
	// PadX is the fill width added to the left edge.
	PadX float32 `json:"padX" yaml:"padX"`
	// PadY is the fill height added to the top edge.
	PadY float32 `json:"padY" yaml:"padY"`
	// Source is the original frame size.
	Source image.Point `json:"source" yaml:"source"`
	// Scaled is the size of the frame after scaling, before padding.
	Scaled image.Point `json:"scaled" yaml:"scaled"`
	// Target is the model input size (scaled + padding).
	Target image.Point `json:"target" yaml:"target"`
}

// ComputeLetterbox derives the letterbox geometry for fitting src into dst
// while preserving the aspect ratio.
//
// Arguments:
//   - src: The original frame size.
//   - dst: The model input size.
//
// Returns:
//   - Letterbox: The scale and padding.
//   - error: An error if either size is not positive.
//
// @example
//
//	lb, _ := ComputeLetterbox(image.Pt(1280, 960), image.Pt(640, 640))
//	// lb.Ratio == 0.5, lb.PadX == 0, lb.PadY == 80
func ComputeLetterbox(src, dst image.Point) (Letterbox, error) {
	if src.X <= 0 || src.Y <= 0 || dst.X <= 0 || dst.Y <= 0 {
		return Letterbox{}, errors.Errorf("letterbox: invalid sizes %v -> %v", src, dst)
	}

	ratio := math32.Min(float32(dst.X)/float32(src.X), float32(dst.Y)/float32(src.Y))
	scaled := image.Pt(
		min(dst.X, max(1, int(math32.Round(float32(src.X)*ratio)))),
		min(dst.Y, max(1, int(math32.Round(float32(src.Y)*ratio)))),
	)

	return Letterbox{
		Ratio:  ratio,
		PadX:   float32((dst.X - scaled.X) / 2),
		PadY:   float32((dst.Y - scaled.Y) / 2),
		Source: src,
		Scaled: scaled,
		Target: dst,
	}, nil
}

// Invert maps a box from model-input space back to original frame space.
// The result is not clipped.
func (l Letterbox) Invert(r Rect) Rect {
	return Rect{
		X1: (r.X1 - l.PadX) / l.Ratio,
		Y1: (r.Y1 - l.PadY) / l.Ratio,
		X2: (r.X2 - l.PadX) / l.Ratio,
		Y2: (r.Y2 - l.PadY) / l.Ratio,
	}
}

// Apply maps a box from original frame space into model-input space.
func (l Letterbox) Apply(r Rect) Rect {
	return Rect{
		X1: r.X1*l.Ratio + l.PadX,
		Y1: r.Y1*l.Ratio + l.PadY,
		X2: r.X2*l.Ratio + l.PadX,
		Y2: r.Y2*l.Ratio + l.PadY,
	}
}

// LetterboxImage scales src by the letterbox ratio and centres it on a canvas
// of the target size filled with fill.
//
// Arguments:
//   - src: The original image. Its size must equal lb.Source.
//   - lb: The geometry returned by ComputeLetterbox.
//   - fill: The padding colour.
//   - interp: The resampling filter used when the scaled size differs from src.
//
// Returns:
//   - *image.RGBA: The letterboxed image, sized lb.Target.
func LetterboxImage(src image.Image, lb Letterbox, fill color.Color, interp resize.InterpolationFunction) *image.RGBA {
	var scaled image.Image = src
	if lb.Scaled != src.Bounds().Size() {
		scaled = resize.Resize(uint(lb.Scaled.X), uint(lb.Scaled.Y), src, interp)
	}

	canvas := image.NewRGBA(image.Rectangle{Max: lb.Target})
	draw.Draw(canvas, canvas.Rect, image.NewUniform(fill), image.Point{}, draw.Src)

	offset := image.Pt(int(lb.PadX), int(lb.PadY))
	draw.Draw(canvas, image.Rectangle{Min: offset, Max: offset.Add(lb.Scaled)}, scaled, scaled.Bounds().Min, draw.Src)

	return canvas
}

var interpolations = map[string]resize.InterpolationFunction{
	"nearest":  resize.NearestNeighbor,
	"bilinear": resize.Bilinear,
	"bicubic":  resize.Bicubic,
	"mitchell": resize.MitchellNetravali,
	"lanczos2": resize.Lanczos2,
	"lanczos3": resize.Lanczos3,
}

// ParseInterpolation resolves a resampling filter by name: nearest, bilinear,
// bicubic, mitchell, lanczos2 or lanczos3.
func ParseInterpolation(name string) (resize.InterpolationFunction, error) {
	interp, ok := interpolations[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, errors.Errorf("unknown interpolation %q", name)
	}
	return interp, nil
}
