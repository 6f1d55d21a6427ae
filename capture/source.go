// Package capture - Frame sources feeding the detection loop.
package capture

import (
	"context"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-live-detect/images"
)

// Kind identifies the type of a source.
type Kind string

const (
	// KindStillImage is a single decoded image.
	KindStillImage Kind = "image"
	// KindCamera is a live capture device.
	KindCamera Kind = "camera"
	// KindVideo is a video file played back in real time.
	KindVideo Kind = "video"
	// KindImageSequence is a directory of numbered frames.
	KindImageSequence Kind = "sequence"
)

// ErrSourceInactive is returned by Frame once a source has ended or been closed.
// It is a normal end of stream, not a failure.
var ErrSourceInactive = errors.New("source inactive")

// Source produces frames for the detection loop. The loop never closes a
// source; its lifetime belongs to whoever opened it.
type Source interface {
	// Kind returns the source type.
	Kind() Kind
	// Ready reports whether a frame can be captured now.
	Ready() bool
	// Frame captures the current frame. The caller owns the returned frame.
	Frame(ctx context.Context) (*images.Frame, error)
	// Active reports whether the source can still produce frames.
	Active() bool
	// Close releases the source. Further Frame calls return ErrSourceInactive.
	Close() error
}
