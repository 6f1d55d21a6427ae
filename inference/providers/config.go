// Package providers - Execution provider selection for onnxruntime sessions.
package providers

import (
	"strings"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// ProviderBackend names an onnxruntime execution provider.
type ProviderBackend string

const (
	// CPUProviderBackend runs on the default CPU provider.
	CPUProviderBackend ProviderBackend = "cpu"
)

// Backends lists every supported provider backend.
var Backends = []ProviderBackend{
	CPUProviderBackend,
	CUDAProviderBackend,
	CoreMLProviderBackend,
	OpenVINOProviderBackend,
}

// Config selects and tunes the execution provider for a session.
type Config struct {
	// Backend specifies the provider to use.
	Backend ProviderBackend `json:"backend" yaml:"backend"`
	// LibraryPath overrides the onnxruntime shared library location.
	LibraryPath string `json:"libraryPath" yaml:"libraryPath"`
	// IntraOpThreads parallelises work inside a node. 0 lets the runtime decide.
	IntraOpThreads int `json:"intraOpThreads" yaml:"intraOpThreads"`
	// InterOpThreads parallelises independent nodes. 0 lets the runtime decide.
	InterOpThreads int `json:"interOpThreads" yaml:"interOpThreads"`
	// GraphOptimization is one of disable, basic, extended or all.
	GraphOptimization string `json:"graphOptimization" yaml:"graphOptimization"`
	// CUDA holds options applied when Backend is cuda.
	CUDA CUDAOptions `json:"cuda" yaml:"cuda"`
	// CoreML holds options applied when Backend is coreml.
	CoreML CoreMLOptions `json:"coreml" yaml:"coreml"`
	// OpenVINO holds options applied when Backend is openvino.
	OpenVINO OpenVINOOptions `json:"openvino" yaml:"openvino"`
}

// DefaultConfig returns a CPU configuration with extended graph optimisation.
//
// Returns:
//   - Config: Production-ready configuration
//
// @example
// config := DefaultConfig()
// options, err := NewSessionOptions(config)
func DefaultConfig() Config {
	return Config{
		Backend:           CPUProviderBackend,
		GraphOptimization: "extended",
		OpenVINO: OpenVINOOptions{
			DeviceType: "CPU",
		},
	}
}

// Validate checks the backend and optimisation level are known.
func (c Config) Validate() error {
	known := false
	for _, b := range Backends {
		if c.Backend == b {
			known = true
			break
		}
	}
	if !known {
		return errors.Errorf("no matching provider backend registered: %q", c.Backend)
	}
	if c.IntraOpThreads < 0 || c.InterOpThreads < 0 {
		return errors.New("thread counts must not be negative")
	}
	_, err := c.optimizationLevel()
	return err
}

func (c Config) optimizationLevel() (ort.GraphOptimizationLevel, error) {
	switch strings.ToLower(c.GraphOptimization) {
	case "disable", "none":
		return ort.GraphOptimizationLevelDisableAll, nil
	case "basic":
		return ort.GraphOptimizationLevelEnableBasic, nil
	case "", "extended":
		return ort.GraphOptimizationLevelEnableExtended, nil
	case "all":
		return ort.GraphOptimizationLevelEnableAll, nil
	}
	return 0, errors.Errorf("unknown graph optimization level %q", c.GraphOptimization)
}
