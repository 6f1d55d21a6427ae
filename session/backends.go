package session

import (
	"context"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-live-detect/inference"
	"github.com/nvr-ai/go-live-detect/inference/onnx"
	"github.com/nvr-ai/go-live-detect/inference/opencv"
	"github.com/nvr-ai/go-live-detect/inference/providers"
	"github.com/nvr-ai/go-live-detect/models"
	"github.com/nvr-ai/go-live-detect/models/model"
)

// DefaultBackends returns factories for the onnxruntime and OpenCV engines.
//
// Arguments:
//   - provider: Execution provider settings for onnxruntime sessions.
//
// Returns:
//   - A factory per supported engine, for models.Loader.Backends.
func DefaultBackends(provider providers.Config) map[inference.EngineType]models.BackendFactory {
	return map[inference.EngineType]models.BackendFactory{
		inference.EngineONNX: func(_ context.Context, m model.Manifest, weights string) (inference.Backend, error) {
			p := provider
			if p.Backend == providers.OpenVINOProviderBackend && p.OpenVINO.Precision == "" {
				p.OpenVINO.Precision = string(m.Precision)
			}
			return onnx.Open(onnx.Config{
				ModelPath:  weights,
				InputName:  m.InputName,
				OutputName: m.OutputName,
				Provider:   p,
			})
		},
		inference.EngineOpenCV: func(_ context.Context, m model.Manifest, weights string) (inference.Backend, error) {
			if m.Layout != inference.LayoutNCHW {
				return nil, errors.Errorf("opencv backend requires nchw input, manifest declares %s", m.Layout)
			}
			return opencv.Open(opencv.DefaultConfig(weights))
		},
	}
}
