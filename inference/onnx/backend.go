// Package onnx - onnxruntime backed inference.Backend.
package onnx

import (
	"context"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/go-live-detect/inference"
	"github.com/nvr-ai/go-live-detect/inference/providers"
)

// Config describes the graph to load.
type Config struct {
	// ModelPath is the .onnx file on disk.
	ModelPath string `json:"modelPath" yaml:"modelPath"`
	// InputName is the graph input. Empty uses the first input declared by the model.
	InputName string `json:"inputName" yaml:"inputName"`
	// OutputName is the graph output. Empty uses the first output declared by the model.
	OutputName string `json:"outputName" yaml:"outputName"`
	// Provider selects the execution provider.
	Provider providers.Config `json:"provider" yaml:"provider"`
}

// Backend runs a graph through an onnxruntime session. Tensors are allocated
// per call and handed to the caller's ledger scope, so a single Backend may
// serve concurrent Execute calls.
type Backend struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	inputDims  inference.Shape
}

// Open creates an onnxruntime session for cfg.
//
// Order of operations:
//  1. Environment setup: loads the shared library once per process.
//  2. Graph introspection: resolves input/output names when not configured.
//  3. Session options: threading, optimisation level and execution provider.
//  4. Session creation: loads the model and binds the options.
//
// Arguments:
//   - cfg: The graph and provider configuration.
//
// Returns:
//   - *Backend: The backend.
//   - error: An error if the runtime or the graph cannot be loaded.
func Open(cfg Config) (*Backend, error) {
	if err := providers.InitializeEnvironment(cfg.Provider.LibraryPath); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, errors.Wrapf(err, "inspect %s", cfg.ModelPath)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, errors.Errorf("%s declares no inputs or outputs", cfg.ModelPath)
	}

	b := &Backend{
		inputName:  cfg.InputName,
		outputName: cfg.OutputName,
		inputDims:  inference.ShapeFromInt64(inputs[0].Dimensions),
	}
	if b.inputName == "" {
		b.inputName = inputs[0].Name
	}
	if b.outputName == "" {
		b.outputName = outputs[0].Name
	}

	options, err := providers.NewSessionOptions(cfg.Provider)
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	b.session, err = ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{b.inputName},
		[]string{b.outputName},
		options,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "create session for %s", cfg.ModelPath)
	}

	return b, nil
}

// InputDims returns the input dimensions declared by the graph. Dynamic
// dimensions are reported as -1.
func (b *Backend) InputDims() inference.Shape {
	return b.inputDims.Clone()
}

// Execute implements inference.Backend.
func (b *Backend) Execute(ctx context.Context, scope *inference.Scope, input inference.Tensor) (inference.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	in, err := ort.NewTensor(ort.NewShape(input.Shape().Int64s()...), input.Float32s())
	if err != nil {
		return nil, errors.Wrap(err, "create input tensor")
	}
	scope.Track(&tensor{value: in})

	// A nil output is allocated by the runtime with the shape the graph produces.
	outputs := []ort.Value{nil}
	if err := b.session.Run([]ort.Value{in}, outputs); err != nil {
		return nil, errors.Wrap(err, "run session")
	}
	if outputs[0] == nil {
		return nil, errors.New("session produced no output")
	}

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		scope.Track(&value{outputs[0]})
		return nil, errors.Errorf("unsupported output type %T", outputs[0])
	}

	return scope.Track(&tensor{value: out}), nil
}

// Close destroys the session.
func (b *Backend) Close() error {
	if b.session == nil {
		return nil
	}
	err := b.session.Destroy()
	b.session = nil
	return errors.Wrap(err, "destroy session")
}

type tensor struct {
	value *ort.Tensor[float32]
}

func (t *tensor) Shape() inference.Shape {
	return inference.ShapeFromInt64(t.value.GetShape())
}

func (t *tensor) Float32s() []float32 {
	return t.value.GetData()
}

func (t *tensor) Release() error {
	return t.value.Destroy()
}

// value adapts non-float outputs so they can still be released.
type value struct {
	ort.Value
}

func (v *value) Shape() inference.Shape {
	return inference.ShapeFromInt64(v.GetShape())
}

func (v *value) Float32s() []float32 { return nil }

func (v *value) Release() error {
	return v.Destroy()
}
