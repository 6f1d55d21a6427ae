// Package model - The manifest describing a detection model artifact.
package model

import (
	"encoding/json"
	"io"
	"path"
	"strings"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-live-detect/inference"
)

// ManifestFile is the manifest name inside a model directory.
const ManifestFile = "model.json"

// Manifest is the model.json stored next to the weights.
//
// @example
//
//	{
//	  "name": "yolov8n",
//	  "format": "yolov8",
//	  "layout": "nhwc",
//	  "inputShape": [1, 640, 640, 3],
//	  "weights": "model.onnx",
//	  "labelsFile": "labels.txt"
//	}
type Manifest struct {
	// Name is a human readable title.
	Name string `json:"name" yaml:"name"`
	// Format is the row layout of the raw output.
	Format inference.OutputFormat `json:"format" yaml:"format"`
	// Layout is the order the graph expects its input in.
	Layout inference.Layout `json:"layout" yaml:"layout"`
	// InputShape is the input in NHWC order: [1, height, width, 3].
	InputShape inference.Shape `json:"inputShape" yaml:"inputShape"`
	// Weights is the graph file, relative to the manifest.
	Weights string `json:"weights" yaml:"weights"`
	// Labels lists the class names inline.
	Labels []string `json:"labels,omitempty" yaml:"labels,omitempty"`
	// LabelsFile names a file with one label per line, relative to the manifest.
	LabelsFile string `json:"labelsFile,omitempty" yaml:"labelsFile,omitempty"`
	// NormalizedBoxes marks outputs whose box coordinates are in [0,1].
	NormalizedBoxes bool `json:"normalizedBoxes" yaml:"normalizedBoxes"`
	// InputName is the graph input. Empty uses the first input.
	InputName string `json:"inputName,omitempty" yaml:"inputName,omitempty"`
	// OutputName is the graph output. Empty uses the first output.
	OutputName string `json:"outputName,omitempty" yaml:"outputName,omitempty"`
	// Backend selects the runtime. Empty means onnx.
	Backend inference.EngineType `json:"backend,omitempty" yaml:"backend,omitempty"`
	// Precision is the precision the weights were exported with.
	Precision Precision `json:"precision,omitempty" yaml:"precision,omitempty"`
}

// ParseManifest decodes a manifest and fills defaults.
func ParseManifest(r io.Reader) (Manifest, error) {
	var m Manifest
	dec := json.NewDecoder(r)
	if err := dec.Decode(&m); err != nil {
		return Manifest{}, errors.Wrap(err, "decode manifest")
	}
	m.SetDefaults()
	return m, m.Validate()
}

// SetDefaults fills the optional fields.
func (m *Manifest) SetDefaults() {
	if m.Format == "" {
		m.Format = inference.FormatYOLOv8
	}
	if m.Layout == "" {
		m.Layout = inference.LayoutNHWC
	}
	if m.Backend == "" {
		m.Backend = inference.EngineONNX
	}
}

// Validate checks the manifest can describe a loadable model.
func (m Manifest) Validate() error {
	if err := m.Format.Validate(); err != nil {
		return err
	}
	if err := m.Layout.Validate(); err != nil {
		return err
	}
	if !m.Backend.Supported() {
		return errors.Errorf("unsupported backend %q", m.Backend)
	}
	if err := m.Precision.Validate(); err != nil {
		return err
	}
	if m.Weights == "" {
		return errors.New("manifest has no weights")
	}
	if path.IsAbs(m.Weights) || strings.HasPrefix(path.Clean(m.Weights), "..") {
		return errors.Errorf("weights path %q must be relative to the manifest", m.Weights)
	}
	s := m.InputShape
	if len(s) != 4 || s[0] != 1 || s[3] != 3 || s[1] <= 0 || s[2] <= 0 {
		return &inference.ShapeError{
			Op:     "manifest",
			Want:   inference.NewShape(1, -1, -1, 3),
			Got:    s,
			Reason: "input shape must be [1, height, width, 3]",
		}
	}
	return nil
}

// HandleConfig converts the manifest into a handle description for id.
func (m Manifest) HandleConfig(id string, labels []string) inference.HandleConfig {
	name := m.Name
	if name == "" {
		name = id
	}
	return inference.HandleConfig{
		ID:              id,
		Name:            name,
		InputShape:      m.InputShape.Clone(),
		Layout:          m.Layout,
		Format:          m.Format,
		Labels:          labels,
		NormalizedBoxes: m.NormalizedBoxes,
		Engine:          m.Backend,
	}
}
