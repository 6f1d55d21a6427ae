// Package inferencetest - In-memory backends for exercising the pipeline without a runtime.
package inferencetest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nvr-ai/go-live-detect/inference"
)

// OutputFunc produces the raw output for an input tensor.
type OutputFunc func(input inference.Tensor) (inference.Shape, []float32, error)

// Backend is a scripted inference.Backend.
type Backend struct {
	// Output produces each raw output. When nil an empty [1, 84, 0] output is returned.
	Output OutputFunc

	mu     sync.Mutex
	inputs []inference.Shape
	calls  atomic.Int64
	closed atomic.Bool
}

// Execute implements inference.Backend.
func (b *Backend) Execute(ctx context.Context, scope *inference.Scope, input inference.Tensor) (inference.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.calls.Add(1)
	b.mu.Lock()
	b.inputs = append(b.inputs, input.Shape())
	b.mu.Unlock()

	shape, data := inference.NewShape(1, 84, 0), []float32(nil)
	if b.Output != nil {
		var err error
		if shape, data, err = b.Output(input); err != nil {
			return nil, err
		}
	}
	if shape.Size() == 0 {
		return scope.Track(&emptyTensor{shape: shape}), nil
	}

	out, err := inference.NewHostTensor(shape, data)
	if err != nil {
		return nil, err
	}
	return scope.Track(out), nil
}

// Close implements inference.Backend.
func (b *Backend) Close() error {
	b.closed.Store(true)
	return nil
}

// Calls returns the number of Execute calls.
func (b *Backend) Calls() int64 { return b.calls.Load() }

// Closed reports whether Close was called.
func (b *Backend) Closed() bool { return b.closed.Load() }

// Inputs returns the shapes of every input seen.
func (b *Backend) Inputs() []inference.Shape {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]inference.Shape(nil), b.inputs...)
}

// Static returns an OutputFunc that always yields the same output.
func Static(shape inference.Shape, data []float32) OutputFunc {
	return func(inference.Tensor) (inference.Shape, []float32, error) {
		return shape, append([]float32(nil), data...), nil
	}
}

// YOLOv8Output lays out candidates channel-major as [1, 4+classes, n].
// Each candidate is {cx, cy, w, h, classID, score}.
func YOLOv8Output(classes int, candidates ...[6]float32) (inference.Shape, []float32) {
	attrs := 4 + classes
	n := len(candidates)
	data := make([]float32, attrs*n)
	for i, c := range candidates {
		for a := 0; a < 4; a++ {
			data[a*n+i] = c[a]
		}
		data[(4+int(c[4]))*n+i] = c[5]
	}
	return inference.NewShape(1, attrs, n), data
}

// Handle builds a model handle over b with a 640x640 NHWC input.
func Handle(b *Backend, labels ...string) *inference.ModelHandle {
	h, err := inference.NewModelHandle(inference.HandleConfig{
		ID:         "test",
		Name:       "Test Model",
		InputShape: inference.NewShape(1, 640, 640, 3),
		Layout:     inference.LayoutNHWC,
		Format:     inference.FormatYOLOv8,
		Labels:     labels,
	}, b)
	if err != nil {
		panic(err)
	}
	return h
}

type emptyTensor struct {
	shape inference.Shape
}

func (e *emptyTensor) Shape() inference.Shape { return e.shape.Clone() }
func (e *emptyTensor) Float32s() []float32    { return nil }
func (e *emptyTensor) Release() error         { return nil }
