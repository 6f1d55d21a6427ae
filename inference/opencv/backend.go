// Package opencv - OpenCV DNN backed inference.Backend.
package opencv

import (
	"context"
	"runtime"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-live-detect/inference"
)

// Config describes the graph to load.
type Config struct {
	// ModelPath is the .onnx file on disk.
	ModelPath string `json:"modelPath" yaml:"modelPath"`
	// Backend is the DNN computation backend.
	Backend gocv.NetBackendType `json:"backend" yaml:"backend"`
	// Target is the DNN target device.
	Target gocv.NetTargetType `json:"target" yaml:"target"`
}

// DefaultConfig runs the graph with the OpenCV backend on the CPU.
func DefaultConfig(modelPath string) Config {
	return Config{
		ModelPath: modelPath,
		Backend:   gocv.NetBackendOpenCV,
		Target:    gocv.NetTargetCPU,
	}
}

// Backend runs a graph with the OpenCV DNN module. The network is not safe
// for concurrent use, so Execute calls are serialised.
type Backend struct {
	mu  sync.Mutex
	net gocv.Net
}

// Open reads an ONNX graph into an OpenCV network.
//
// Arguments:
//   - cfg: The graph and device configuration.
//
// Returns:
//   - *Backend: The backend.
//   - error: An error if the graph cannot be read.
func Open(cfg Config) (*Backend, error) {
	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, errors.Errorf("failed to read network from %s", cfg.ModelPath)
	}

	net.SetPreferableBackend(cfg.Backend)
	net.SetPreferableTarget(cfg.Target)

	return &Backend{net: net}, nil
}

// Execute implements inference.Backend. The input must be NCHW.
func (b *Backend) Execute(ctx context.Context, scope *inference.Scope, input inference.Tensor) (inference.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	shape := input.Shape()
	if len(shape) != 4 || shape[1] != 3 {
		return nil, &inference.ShapeError{
			Op:     "opencv execute",
			Want:   inference.NewShape(1, 3, -1, -1),
			Got:    shape,
			Reason: "OpenCV DNN expects NCHW input",
		}
	}

	data := input.Float32s()
	raw := unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*4)
	blob, err := gocv.NewMatWithSizesFromBytes(shape, gocv.MatTypeCV32F, raw)
	if err != nil {
		return nil, errors.Wrap(err, "create input blob")
	}
	scope.Track(&mat{mat: blob, shape: shape})

	b.mu.Lock()
	defer b.mu.Unlock()

	b.net.SetInput(blob, "")
	out := b.net.Forward("")
	runtime.KeepAlive(data)

	t := scope.Track(&mat{mat: out, shape: inference.Shape(out.Size())})
	if out.Empty() {
		return nil, errors.New("network produced no output")
	}

	return t, nil
}

// Close releases the network.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.net.Close()
}

type mat struct {
	mat   gocv.Mat
	shape inference.Shape
}

func (m *mat) Shape() inference.Shape { return m.shape.Clone() }

func (m *mat) Float32s() []float32 {
	data, err := m.mat.DataPtrFloat32()
	if err != nil {
		return nil
	}
	return data
}

func (m *mat) Release() error { return m.mat.Close() }
