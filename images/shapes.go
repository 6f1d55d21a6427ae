// Package images - Image processing utilities
package images

import (
	"encoding/json"
	"image"

	"github.com/chewxy/math32"
)

// Rect is an axis-aligned box in pixel space of the original frame.
type Rect struct {
	// X1,Y1 are the top-left corner. X2,Y2 are exclusive (like image.Rectangle).
	X1, Y1, X2, Y2 float32
}

// RectFromCenter builds a Rect from a centre point and a size.
func RectFromCenter(cx, cy, w, h float32) Rect {
	return Rect{
		X1: cx - w/2,
		Y1: cy - h/2,
		X2: cx + w/2,
		Y2: cy + h/2,
	}
}

// Width returns the horizontal extent of the box.
func (r Rect) Width() float32 { return r.X2 - r.X1 }

// Height returns the vertical extent of the box.
func (r Rect) Height() float32 { return r.Y2 - r.Y1 }

// Area returns the box area, or 0 for degenerate boxes.
func (r Rect) Area() float32 {
	w, h := r.Width(), r.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Empty reports whether the box has no area.
func (r Rect) Empty() bool {
	return r.Area() == 0
}

// Clip constrains the box to [0,width] x [0,height].
//
// Arguments:
//   - width: The frame width.
//   - height: The frame height.
//
// Returns:
//   - Rect: The clipped box. Its size may be zero when the box lies entirely outside the frame.
func (r Rect) Clip(width, height float32) Rect {
	c := Rect{
		X1: clamp(r.X1, 0, width),
		Y1: clamp(r.Y1, 0, height),
		X2: clamp(r.X2, 0, width),
		Y2: clamp(r.Y2, 0, height),
	}
	if c.X2 < c.X1 {
		c.X2 = c.X1
	}
	if c.Y2 < c.Y1 {
		c.Y2 = c.Y1
	}
	return c
}

// Scale multiplies every coordinate by sx horizontally and sy vertically.
func (r Rect) Scale(sx, sy float32) Rect {
	return Rect{X1: r.X1 * sx, Y1: r.Y1 * sy, X2: r.X2 * sx, Y2: r.Y2 * sy}
}

// Image rounds the box to the nearest integer rectangle.
func (r Rect) Image() image.Rectangle {
	return image.Rect(
		int(math32.Round(r.X1)),
		int(math32.Round(r.Y1)),
		int(math32.Round(r.X2)),
		int(math32.Round(r.Y2)),
	)
}

// MarshalJSON emits the box as {x, y, width, height}.
func (r Rect) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		X      float32 `json:"x"`
		Y      float32 `json:"y"`
		Width  float32 `json:"width"`
		Height float32 `json:"height"`
	}{r.X1, r.Y1, r.Width(), r.Height()})
}

// UnmarshalJSON accepts the {x, y, width, height} form produced by MarshalJSON.
func (r *Rect) UnmarshalJSON(b []byte) error {
	var v struct {
		X      float32 `json:"x"`
		Y      float32 `json:"y"`
		Width  float32 `json:"width"`
		Height float32 `json:"height"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*r = Rect{X1: v.X, Y1: v.Y, X2: v.X + v.Width, Y2: v.Y + v.Height}
	return nil
}

// CalculateIoU returns the Intersection over Union of two boxes.
//
// IoU is the ratio between the area both boxes share and the area they
// cover together:
//
//	IoU = Area of Intersection / Area of Union
//
// 1.0 means the boxes are identical and 0.0 means they do not overlap at all.
// Boxes that only touch along an edge have an IoU of 0.
//
// Arguments:
//   - r: The first box.
//   - o: The box to compare against.
//
// Returns:
//   - float32: A value in [0, 1]. Degenerate boxes yield 0.
//
// Example Usage:
// ```go
//
//	a := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	b := Rect{X1: 5, Y1: 5, X2: 15, Y2: 15}
//
//	score := CalculateIoU(a, b) // 25 / (100 + 100 - 25) = 0.142857
//
// ```
func CalculateIoU(r, o Rect) float32 {
	ix1 := math32.Max(r.X1, o.X1)
	iy1 := math32.Max(r.Y1, o.Y1)
	ix2 := math32.Min(r.X2, o.X2)
	iy2 := math32.Min(r.Y2, o.Y2)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0.0
	}
	interArea := interW * interH

	// Union(A, B) = Area(A) + Area(B) - Intersection(A, B)
	unionArea := r.Area() + o.Area() - interArea
	if unionArea <= 0 {
		return 0.0
	}

	return interArea / unionArea
}

func clamp(v, lo, hi float32) float32 {
	return math32.Min(math32.Max(v, lo), hi)
}
