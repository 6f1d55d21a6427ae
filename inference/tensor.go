package inference

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Tensor is a float32 buffer with a shape that may live on the host or be
// owned by a runtime. Every tensor must be released exactly once.
type Tensor interface {
	// Shape returns the tensor dimensions.
	Shape() Shape
	// Float32s exposes the backing data. It is only valid until Release.
	Float32s() []float32
	// Release frees the resources held by the tensor.
	Release() error
}

// HostTensor is a Tensor backed by a gorgonia dense array in Go memory.
type HostTensor struct {
	dense    *tensor.Dense
	shape    Shape
	released atomic.Bool
}

// NewHostTensor wraps data in a tensor of the given shape. The data slice is
// not copied.
//
// Arguments:
//   - shape: The tensor dimensions.
//   - data: The backing values. len(data) must equal shape.Size().
//
// Returns:
//   - *HostTensor: The tensor.
//   - error: A *ShapeError when the data length does not match the shape.
func NewHostTensor(shape Shape, data []float32) (*HostTensor, error) {
	if shape.Size() == 0 || len(data) != shape.Size() {
		return nil, &ShapeError{
			Op:     "new tensor",
			Want:   shape,
			Got:    NewShape(len(data)),
			Reason: "data length does not match shape",
		}
	}

	return &HostTensor{
		dense: tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data)),
		shape: shape.Clone(),
	}, nil
}

// NewFilledTensor allocates a tensor with every element set to v.
func NewFilledTensor(shape Shape, v float32) (*HostTensor, error) {
	data := make([]float32, shape.Size())
	for i := range data {
		data[i] = v
	}
	return NewHostTensor(shape, data)
}

// Shape implements Tensor.
func (t *HostTensor) Shape() Shape {
	return t.shape.Clone()
}

// Float32s implements Tensor. It returns nil once the tensor is released.
func (t *HostTensor) Float32s() []float32 {
	if t.released.Load() {
		return nil
	}
	return t.dense.Data().([]float32)
}

// Dense exposes the underlying gorgonia array.
func (t *HostTensor) Dense() *tensor.Dense {
	return t.dense
}

// Release implements Tensor. Releasing twice returns ErrReleased.
func (t *HostTensor) Release() error {
	if !t.released.CompareAndSwap(false, true) {
		return errors.WithStack(ErrReleased)
	}
	t.dense = nil
	return nil
}
