package inference

import (
	"fmt"

	"github.com/pkg/errors"
)

// ShapeError reports a tensor or frame whose dimensions are incompatible
// with the operation consuming it.
type ShapeError struct {
	// Op is the operation that rejected the input.
	Op string
	// Want describes the expected shape.
	Want Shape
	// Got is the shape that was supplied.
	Got Shape
	// Reason is a short human readable explanation.
	Reason string
}

// Error implements the error interface.
func (e *ShapeError) Error() string {
	msg := fmt.Sprintf("%s: shape mismatch", e.Op)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Want != nil || e.Got != nil {
		msg += fmt.Sprintf(" (want %v, got %v)", e.Want, e.Got)
	}
	return msg
}

// IsShapeError reports whether err wraps a *ShapeError.
func IsShapeError(err error) bool {
	var se *ShapeError
	return errors.As(err, &se)
}

var (
	// ErrReleased is returned when a tensor is used or released after release.
	ErrReleased = errors.New("tensor already released")
	// ErrModelClosed is returned when executing a closed model handle.
	ErrModelClosed = errors.New("model handle closed")
	// ErrScopeClosed is returned when tracking a tensor in a scope that already released its tensors.
	ErrScopeClosed = errors.New("ledger scope closed")
)
