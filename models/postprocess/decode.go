package postprocess

import (
	"image"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-live-detect/images"
	"github.com/nvr-ai/go-live-detect/inference"
)

// Options controls decoding of a raw detector output.
type Options struct {
	// ConfidenceThreshold discards candidates scoring below it.
	ConfidenceThreshold float32 `json:"confidenceThreshold" yaml:"confidenceThreshold"`
	// NMS configures suppression of overlapping candidates.
	NMS NMSConfig `json:"nms" yaml:"nms"`
	// Format is the row layout of the output.
	Format inference.OutputFormat `json:"format" yaml:"format"`
	// Labels maps class ids to names. When set, the class count is taken from it.
	Labels []string `json:"labels" yaml:"labels"`
	// NormalizedBoxes marks box coordinates expressed in [0,1] of the input size.
	NormalizedBoxes bool `json:"normalizedBoxes" yaml:"normalizedBoxes"`
}

// DefaultOptions returns the YOLOv8 defaults: confidence 0.25, IoU 0.45.
func DefaultOptions() Options {
	return Options{
		ConfidenceThreshold: 0.25,
		NMS:                 NMSConfig{IoUThreshold: 0.45},
		Format:              inference.FormatYOLOv8,
	}
}

// Decode turns a raw detector output into detections in original frame space.
//
// The output is [1, attrs, n] (channel-major, as exported by YOLOv8) or
// [1, n, attrs] (row-major). Each candidate is thresholded on its best class
// score (times objectness for YOLOv5), converted from centre form to corners,
// mapped back through the letterbox, clipped to the frame and finally passed
// through ApplyNMS.
//
// Arguments:
//   - raw: The model output. It is read, never modified.
//   - lb: The letterbox used to prepare the input.
//   - original: The original frame size.
//   - opts: Decoding options.
//
// Returns:
//   - []Detection: Kept detections, highest confidence first.
//   - error: A *inference.ShapeError when the output layout cannot be interpreted.
func Decode(raw inference.Tensor, lb images.Letterbox, original image.Point, opts Options) ([]Detection, error) {
	if raw == nil {
		return nil, &inference.ShapeError{Op: "decode", Reason: "nil output"}
	}
	if original.X <= 0 || original.Y <= 0 || lb.Ratio <= 0 {
		return nil, &inference.ShapeError{
			Op:     "decode",
			Got:    inference.NewShape(original.Y, original.X),
			Reason: "invalid original frame size or letterbox",
		}
	}
	if opts.Format == "" {
		opts.Format = inference.FormatYOLOv8
	}

	shape := raw.Shape()
	rows, attrs, channelMajor, err := resolveLayout(shape, opts)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return []Detection{}, nil
	}

	data := raw.Float32s()
	if len(data) != rows*attrs {
		return nil, &inference.ShapeError{
			Op:     "decode",
			Want:   shape,
			Got:    inference.NewShape(len(data)),
			Reason: "output data does not match its shape",
		}
	}
	if channelMajor {
		if data, err = transpose(data, attrs, rows); err != nil {
			return nil, errors.Wrap(err, "transpose output")
		}
	}

	candidates := make([]Detection, 0, 64)
	skip := opts.Format.BoxAttributes()
	width, height := float32(original.X), float32(original.Y)

	for i := 0; i < rows; i++ {
		row := data[i*attrs : (i+1)*attrs]

		classID, best := argmax(row[skip:])
		conf := best
		if opts.Format == inference.FormatYOLOv5 {
			conf *= row[4]
		}
		// Written as a negation so NaN scores are discarded too.
		if !(conf >= opts.ConfidenceThreshold) {
			continue
		}

		cx, cy, w, h := row[0], row[1], row[2], row[3]
		if !finite(cx, cy, w, h) {
			continue
		}
		if opts.NormalizedBoxes {
			tw, th := float32(lb.Target.X), float32(lb.Target.Y)
			cx, cy, w, h = cx*tw, cy*th, w*tw, h*th
		}

		box := Unletterbox(images.RectFromCenter(cx, cy, w, h), lb, width, height)
		if box.Empty() {
			continue
		}

		candidates = append(candidates, Detection{
			Box:        box,
			ClassID:    classID,
			Label:      labelFor(opts.Labels, classID),
			Confidence: math32.Min(conf, 1),
		})
	}

	kept := ApplyNMS(candidates, opts.NMS)
	if kept == nil {
		kept = []Detection{}
	}
	return kept, nil
}

// Unletterbox maps a box from letterboxed input space back to a frame of the
// given size: the padding is removed, the scale undone and the result clipped.
func Unletterbox(r images.Rect, lb images.Letterbox, width, height float32) images.Rect {
	return lb.Invert(r).Clip(width, height)
}

// resolveLayout works out the candidate count, the row width and whether the
// output is channel-major.
func resolveLayout(shape inference.Shape, opts Options) (rows, attrs int, channelMajor bool, err error) {
	dims := shape
	if len(dims) == 3 && dims[0] == 1 {
		dims = dims[1:]
	}
	if len(dims) != 2 || dims[0] < 0 || dims[1] < 0 {
		return 0, 0, false, &inference.ShapeError{
			Op:     "decode",
			Want:   inference.NewShape(1, -1, -1),
			Got:    shape,
			Reason: "expected a [1, attrs, n] or [1, n, attrs] output",
		}
	}

	a, b := dims[0], dims[1]
	if a == 0 || b == 0 {
		return 0, 0, false, nil
	}
	minAttrs := opts.Format.BoxAttributes() + 1

	if len(opts.Labels) > 0 {
		want := opts.Format.BoxAttributes() + len(opts.Labels)
		switch {
		case b == want:
			return a, b, false, nil
		case a == want:
			return b, a, true, nil
		}
		return 0, 0, false, &inference.ShapeError{
			Op:     "decode",
			Want:   inference.NewShape(1, want, -1),
			Got:    shape,
			Reason: "output width does not match the label count",
		}
	}

	// Without labels, the smaller dimension is taken to be the attributes.
	if a <= b {
		rows, attrs, channelMajor = b, a, true
	} else {
		rows, attrs, channelMajor = a, b, false
	}
	if attrs < minAttrs {
		return 0, 0, false, &inference.ShapeError{
			Op:     "decode",
			Got:    shape,
			Reason: "output rows are too narrow for the format",
		}
	}
	return rows, attrs, channelMajor, nil
}

// transpose converts a channel-major [attrs, n] buffer into row-major
// [n, attrs]. The input is copied.
func transpose(data []float32, attrs, n int) ([]float32, error) {
	backing := make([]float32, len(data))
	copy(backing, data)

	d := tensor.New(tensor.WithShape(attrs, n), tensor.WithBacking(backing))
	if err := d.T(1, 0); err != nil {
		return nil, err
	}
	if err := d.Transpose(); err != nil {
		return nil, err
	}

	return d.Data().([]float32), nil
}

// argmax returns the index and value of the largest score.
func argmax(scores []float32) (int, float32) {
	best, idx := float32(math32.Inf(-1)), -1
	for i, s := range scores {
		if s > best {
			best, idx = s, i
		}
	}
	if idx < 0 {
		return 0, math32.NaN()
	}
	return idx, best
}

func finite(vs ...float32) bool {
	for _, v := range vs {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return false
		}
	}
	return true
}
