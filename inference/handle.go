package inference

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Backend executes a loaded model graph.
type Backend interface {
	// Execute runs the graph on input. Every tensor the backend allocates,
	// including the returned output, must be registered with scope.
	Execute(ctx context.Context, scope *Scope, input Tensor) (Tensor, error)
	// Close releases the graph and its runtime resources.
	Close() error
}

// HandleConfig describes a model handle.
type HandleConfig struct {
	// ID is the identifier the model was loaded under.
	ID string `json:"id" yaml:"id"`
	// Name is a human readable title.
	Name string `json:"name" yaml:"name"`
	// InputShape is the input in NHWC order: [1, height, width, 3].
	InputShape Shape `json:"inputShape" yaml:"inputShape"`
	// Layout is the order the backend expects its input tensor in.
	Layout Layout `json:"layout" yaml:"layout"`
	// Format is the row layout of the raw output.
	Format OutputFormat `json:"format" yaml:"format"`
	// Labels maps class ids to names.
	Labels []string `json:"labels" yaml:"labels"`
	// NormalizedBoxes marks outputs whose box coordinates are in [0,1].
	NormalizedBoxes bool `json:"normalizedBoxes" yaml:"normalizedBoxes"`
	// Engine is the runtime executing the graph.
	Engine EngineType `json:"engine" yaml:"engine"`
}

// ModelHandle is a loaded, executable detection model. It is read-only once
// constructed and safe for concurrent use.
type ModelHandle struct {
	cfg     HandleConfig
	backend Backend
	closed  atomic.Bool
	once    sync.Once
}

// NewModelHandle validates cfg and binds it to a backend.
//
// Arguments:
//   - cfg: The model description. InputShape must be [1, h, w, 3].
//   - backend: The runtime that executes the graph.
//
// Returns:
//   - *ModelHandle: The handle.
//   - error: A *ShapeError for an invalid input shape, or a validation error.
func NewModelHandle(cfg HandleConfig, backend Backend) (*ModelHandle, error) {
	if backend == nil {
		return nil, errors.New("model handle: nil backend")
	}
	s := cfg.InputShape
	if len(s) != 4 || s[0] != 1 || s[3] != 3 || s[1] <= 0 || s[2] <= 0 {
		return nil, &ShapeError{
			Op:     "model handle",
			Want:   NewShape(1, -1, -1, 3),
			Got:    s,
			Reason: "input shape must be [1, height, width, 3]",
		}
	}
	if cfg.Layout == "" {
		cfg.Layout = LayoutNHWC
	}
	if err := cfg.Layout.Validate(); err != nil {
		return nil, err
	}
	if cfg.Format == "" {
		cfg.Format = FormatYOLOv8
	}
	if err := cfg.Format.Validate(); err != nil {
		return nil, err
	}

	cfg.InputShape = s.Clone()
	cfg.Labels = append([]string(nil), cfg.Labels...)

	return &ModelHandle{cfg: cfg, backend: backend}, nil
}

// ID returns the model identifier.
func (m *ModelHandle) ID() string { return m.cfg.ID }

// Name returns the model title.
func (m *ModelHandle) Name() string { return m.cfg.Name }

// InputShape returns a copy of the NHWC input shape.
func (m *ModelHandle) InputShape() Shape { return m.cfg.InputShape.Clone() }

// InputSize returns the input width and height.
func (m *ModelHandle) InputSize() (width, height int) {
	return m.cfg.InputShape[2], m.cfg.InputShape[1]
}

// FeedShape returns the input shape in the backend's layout.
func (m *ModelHandle) FeedShape() Shape {
	w, h := m.InputSize()
	return m.cfg.Layout.Dims(h, w, 3)
}

// Layout returns the backend input layout.
func (m *ModelHandle) Layout() Layout { return m.cfg.Layout }

// Format returns the raw output format.
func (m *ModelHandle) Format() OutputFormat { return m.cfg.Format }

// Labels returns the class names. The slice must not be modified.
func (m *ModelHandle) Labels() []string { return m.cfg.Labels }

// NormalizedBoxes reports whether raw box coordinates are in [0,1].
func (m *ModelHandle) NormalizedBoxes() bool { return m.cfg.NormalizedBoxes }

// Config returns a copy of the handle description.
func (m *ModelHandle) Config() HandleConfig {
	cfg := m.cfg
	cfg.InputShape = m.cfg.InputShape.Clone()
	cfg.Labels = append([]string(nil), m.cfg.Labels...)
	return cfg
}

// Execute runs the model on input, which must match FeedShape.
func (m *ModelHandle) Execute(ctx context.Context, scope *Scope, input Tensor) (Tensor, error) {
	if m.closed.Load() {
		return nil, errors.WithStack(ErrModelClosed)
	}
	if got := input.Shape(); !got.Equal(m.FeedShape()) {
		return nil, &ShapeError{Op: "execute " + m.cfg.ID, Want: m.FeedShape(), Got: got}
	}

	out, err := m.backend.Execute(ctx, scope, input)
	if err != nil {
		return nil, errors.Wrapf(err, "execute %s", m.cfg.ID)
	}
	return scope.Track(out), nil
}

// WarmUp runs one inference on a tensor of ones so the first real frame does
// not pay for graph initialisation. All tensors are released before return.
func (m *ModelHandle) WarmUp(ctx context.Context, ledger *Ledger) error {
	return ledger.Scope(func(s *Scope) error {
		ones, err := NewFilledTensor(m.FeedShape(), 1)
		if err != nil {
			return err
		}
		_, err = m.Execute(ctx, s, s.Track(ones))
		return errors.Wrap(err, "warm up")
	})
}

// Close releases the backend. Subsequent calls are no-ops.
func (m *ModelHandle) Close() error {
	var err error
	m.once.Do(func() {
		m.closed.Store(true)
		err = m.backend.Close()
	})
	return err
}
