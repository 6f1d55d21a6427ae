package capture

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/nvr-ai/go-live-detect/images"
)

// StillImage is a source holding one decoded image.
type StillImage struct {
	frame  *images.Frame
	closed atomic.Bool
}

// NewStillImage decodes the image at path once.
func NewStillImage(path string) (*StillImage, error) {
	f, err := images.Open(path)
	if err != nil {
		return nil, err
	}
	return &StillImage{frame: f}, nil
}

// NewStillImageFromReader decodes an encoded image stream once.
func NewStillImageFromReader(r io.Reader) (*StillImage, error) {
	f, err := images.Decode(r)
	if err != nil {
		return nil, err
	}
	return &StillImage{frame: f}, nil
}

// NewStillImageFromFrame wraps an already decoded frame.
func NewStillImageFromFrame(f *images.Frame) (*StillImage, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &StillImage{frame: f.Clone()}, nil
}

// Kind implements Source.
func (s *StillImage) Kind() Kind { return KindStillImage }

// Ready implements Source.
func (s *StillImage) Ready() bool { return !s.closed.Load() }

// Active implements Source.
func (s *StillImage) Active() bool { return !s.closed.Load() }

// Size returns the image dimensions.
func (s *StillImage) Size() (width, height int) { return s.frame.Width, s.frame.Height }

// Frame returns a copy of the image.
func (s *StillImage) Frame(ctx context.Context) (*images.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrSourceInactive
	}
	return s.frame.Clone(), nil
}

// Close implements Source.
func (s *StillImage) Close() error {
	s.closed.Store(true)
	return nil
}
