// Package preprocess - converts captured frames into model input tensors.
package preprocess

import (
	"image"
	"image/color"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-live-detect/images"
	"github.com/nvr-ai/go-live-detect/inference"
)

// NormalizationType defines how pixel values are normalized.
type NormalizationType int

const (
	// NormalizeZeroToOne scales pixel values to [0, 1].
	NormalizeZeroToOne NormalizationType = iota
	// NormalizeNone keeps pixel values as 0-255.
	NormalizeNone
	// NormalizeMinusOneToOne scales pixel values to [-1, 1].
	NormalizeMinusOneToOne
	// NormalizeStandardize applies mean and std normalization on [0, 1] values.
	NormalizeStandardize
)

// ColorMode defines the channel order of each pixel.
type ColorMode int

const (
	// ColorModeRGB is standard RGB color mode.
	ColorModeRGB ColorMode = iota
	// ColorModeBGR is BGR color mode (common for OpenCV models).
	ColorModeBGR
)

// Config defines preprocessing for a model input.
type Config struct {
	// Layout is the tensor memory order.
	Layout inference.Layout
	// NormalizationType defines how to normalize pixel values.
	NormalizationType NormalizationType
	// MeanValues for standardization, one per channel.
	MeanValues []float32
	// StdValues for standardization, one per channel.
	StdValues []float32
	// ColorMode defines the channel order.
	ColorMode ColorMode
	// LetterboxColor is the color used for letterbox padding.
	LetterboxColor color.Color
	// Interpolation is the filter used to scale frames into the letterbox.
	Interpolation resize.InterpolationFunction
}

// DefaultConfig returns the YOLO preprocessing: NHWC, [0,1], RGB, grey 114
// padding and bilinear scaling.
func DefaultConfig() Config {
	return Config{
		Layout:            inference.LayoutNHWC,
		NormalizationType: NormalizeZeroToOne,
		ColorMode:         ColorModeRGB,
		LetterboxColor:    images.LetterboxFill,
		Interpolation:     resize.Bilinear,
	}
}

// Preprocessor letterboxes frames into normalised float tensors.
// It holds no per-frame state and is safe for concurrent use.
type Preprocessor struct {
	config Config
	lut    [3][256]float32
}

// NewPreprocessor creates a new preprocessor with the given configuration.
//
// Arguments:
// - config: The preprocessing configuration.
//
// Returns:
// - A configured Preprocessor instance.
// - An error if the configuration is inconsistent.
//
// @example
//
//	pre, err := NewPreprocessor(DefaultConfig())
//	tensor, lb, err := pre.Prepare(frame, inference.NewShape(1, 640, 640, 3))
func NewPreprocessor(config Config) (*Preprocessor, error) {
	if config.Layout == "" {
		config.Layout = inference.LayoutNHWC
	}
	if err := config.Layout.Validate(); err != nil {
		return nil, err
	}
	if config.LetterboxColor == nil {
		config.LetterboxColor = images.LetterboxFill
	}
	if config.NormalizationType == NormalizeStandardize &&
		(len(config.MeanValues) != 3 || len(config.StdValues) != 3) {
		return nil, errors.New("standardize requires three mean and three std values")
	}
	for _, s := range config.StdValues {
		if s == 0 {
			return nil, errors.New("std values must be non-zero")
		}
	}

	return &Preprocessor{config: config, lut: buildLUT(config)}, nil
}

// Layout returns the tensor layout produced.
func (p *Preprocessor) Layout() inference.Layout {
	return p.config.Layout
}

// Prepare letterboxes frame to the size described by target and converts it
// into a tensor whose shape equals target.
//
// target is read in the preprocessor's layout: [h, w, 3] or [1, h, w, 3] for
// NHWC and [3, h, w] or [1, 3, h, w] for NCHW.
//
// Arguments:
//   - frame: The captured RGB frame. It is not modified.
//   - target: The requested tensor shape.
//
// Returns:
//   - inference.Tensor: The input tensor. The caller owns it.
//   - images.Letterbox: The scale and padding needed to map boxes back to frame space.
//   - error: A *inference.ShapeError for an invalid frame or target.
func (p *Preprocessor) Prepare(frame *images.Frame, target inference.Shape) (inference.Tensor, images.Letterbox, error) {
	size, err := p.targetSize(target)
	if err != nil {
		return nil, images.Letterbox{}, err
	}
	if err := frame.Validate(); err != nil {
		var got inference.Shape
		if frame != nil {
			got = inference.NewShape(frame.Height, frame.Width, frame.Channels)
		}
		return nil, images.Letterbox{}, &inference.ShapeError{
			Op:     "preprocess",
			Got:    got,
			Reason: err.Error(),
		}
	}

	lb, err := images.ComputeLetterbox(frame.Size(), size)
	if err != nil {
		return nil, images.Letterbox{}, &inference.ShapeError{Op: "preprocess", Got: target, Reason: err.Error()}
	}

	canvas := images.LetterboxImage(frame.ToRGBA(), lb, p.config.LetterboxColor, p.config.Interpolation)
	data := p.imageToTensor(canvas)

	t, err := inference.NewHostTensor(target.Clone(), data)
	if err != nil {
		return nil, images.Letterbox{}, err
	}

	return t, lb, nil
}

// PrepareInto is Prepare with the resulting tensor registered in scope.
func (p *Preprocessor) PrepareInto(scope *inference.Scope, frame *images.Frame, target inference.Shape) (inference.Tensor, images.Letterbox, error) {
	t, lb, err := p.Prepare(frame, target)
	if err != nil {
		return nil, lb, err
	}
	return scope.Track(t), lb, nil
}

// targetSize extracts the spatial size from target.
func (p *Preprocessor) targetSize(target inference.Shape) (image.Point, error) {
	bad := func(reason string) error {
		want := inference.NewShape(1, -1, -1, 3)
		if p.config.Layout == inference.LayoutNCHW {
			want = inference.NewShape(1, 3, -1, -1)
		}
		return &inference.ShapeError{Op: "preprocess target", Want: want, Got: target, Reason: reason}
	}

	dims := target
	switch len(dims) {
	case 4:
		if dims[0] != 1 {
			return image.Point{}, bad("batch size must be 1")
		}
		dims = dims[1:]
	case 3:
	default:
		return image.Point{}, bad("target must have rank 3 or 4")
	}

	var h, w, c int
	if p.config.Layout == inference.LayoutNCHW {
		c, h, w = dims[0], dims[1], dims[2]
	} else {
		h, w, c = dims[0], dims[1], dims[2]
	}
	if c != 3 {
		return image.Point{}, bad("target must have 3 channels")
	}
	if h <= 0 || w <= 0 {
		return image.Point{}, bad("target height and width must be positive")
	}

	return image.Pt(w, h), nil
}

// imageToTensor converts a letterboxed canvas into normalised float values.
func (p *Preprocessor) imageToTensor(img *image.RGBA) []float32 {
	width, height := img.Rect.Dx(), img.Rect.Dy()
	plane := width * height
	tensor := make([]float32, plane*3)
	nchw := p.config.Layout == inference.LayoutNCHW

	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+width*4]
		for x := 0; x < width; x++ {
			px := row[x*4 : x*4+3]
			ch := [3]byte{px[0], px[1], px[2]}
			if p.config.ColorMode == ColorModeBGR {
				ch[0], ch[2] = ch[2], ch[0]
			}

			i := y*width + x
			for c := 0; c < 3; c++ {
				v := p.lut[c][ch[c]]
				if nchw {
					tensor[c*plane+i] = v
				} else {
					tensor[i*3+c] = v
				}
			}
		}
	}

	return tensor
}

// buildLUT precomputes the normalised value of every byte for each channel.
func buildLUT(config Config) [3][256]float32 {
	var lut [3][256]float32
	for c := 0; c < 3; c++ {
		for v := 0; v < 256; v++ {
			var f float64
			switch config.NormalizationType {
			case NormalizeNone:
				f = float64(v)
			case NormalizeMinusOneToOne:
				f = float64(v)/127.5 - 1
			case NormalizeStandardize:
				f = (float64(v)/255 - float64(config.MeanValues[c])) / float64(config.StdValues[c])
			default:
				f = float64(v) / 255
			}
			lut[c][v] = float32(f)
		}
	}
	return lut
}
