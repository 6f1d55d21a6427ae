// Package inference - Model handles, tensors and the resource ledger that owns them.
package inference

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Shape is the dimension list of a tensor, outermost first.
type Shape []int

// NewShape builds a Shape from dimensions.
func NewShape(dims ...int) Shape {
	return Shape(append([]int(nil), dims...))
}

// ShapeFromInt64 converts the int64 dimension lists used by runtimes.
func ShapeFromInt64(dims []int64) Shape {
	s := make(Shape, len(dims))
	for i, d := range dims {
		s[i] = int(d)
	}
	return s
}

// Size returns the number of elements, or 0 when any dimension is not positive.
func (s Shape) Size() int {
	if len(s) == 0 {
		return 0
	}
	n := 1
	for _, d := range s {
		if d <= 0 {
			return 0
		}
		n *= d
	}
	return n
}

// Equal reports whether both shapes have identical dimensions.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy that does not alias s.
func (s Shape) Clone() Shape {
	return NewShape(s...)
}

// Int64s converts the shape for runtimes that use int64 dimensions.
func (s Shape) Int64s() []int64 {
	out := make([]int64, len(s))
	for i, d := range s {
		out[i] = int64(d)
	}
	return out
}

// String renders the shape as [d0 d1 ...].
func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = fmt.Sprint(d)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Layout is the memory order of an image tensor.
type Layout string

// Layout constants.
const (
	// LayoutNHWC is batch, height, width, channels.
	LayoutNHWC Layout = "nhwc"
	// LayoutNCHW is batch, channels, height, width.
	LayoutNCHW Layout = "nchw"
)

// Validate checks the layout is one of the known constants.
func (l Layout) Validate() error {
	switch l {
	case LayoutNHWC, LayoutNCHW:
		return nil
	}
	return errors.Errorf("unknown tensor layout %q", l)
}

// Dims builds a batched image tensor shape in this layout.
func (l Layout) Dims(height, width, channels int) Shape {
	if l == LayoutNCHW {
		return NewShape(1, channels, height, width)
	}
	return NewShape(1, height, width, channels)
}

// OutputFormat identifies the row layout of a detector's raw output.
type OutputFormat string

// OutputFormat constants.
const (
	// FormatYOLOv8 rows are [cx, cy, w, h, class scores...].
	FormatYOLOv8 OutputFormat = "yolov8"
	// FormatYOLOv5 rows are [cx, cy, w, h, objectness, class scores...].
	FormatYOLOv5 OutputFormat = "yolov5"
)

// Validate checks the format is one of the known constants.
func (f OutputFormat) Validate() error {
	switch f {
	case FormatYOLOv8, FormatYOLOv5:
		return nil
	}
	return errors.Errorf("unknown output format %q", f)
}

// BoxAttributes returns the number of non-class values leading each row.
func (f OutputFormat) BoxAttributes() int {
	if f == FormatYOLOv5 {
		return 5
	}
	return 4
}
