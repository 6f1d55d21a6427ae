package providers

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

var (
	envOnce sync.Once
	envErr  error
)

// InitializeEnvironment loads the onnxruntime shared library and prepares the
// process-wide environment. Only the first call has any effect.
//
// Arguments:
//   - libraryPath: The shared library location. Empty uses SharedLibPath().
//
// Returns:
//   - error: An error if the library is missing or fails to initialise.
func InitializeEnvironment(libraryPath string) error {
	envOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		if libraryPath == "" {
			libraryPath = SharedLibPath()
		}
		if _, err := os.Stat(libraryPath); err != nil {
			envErr = errors.Wrapf(err, "onnxruntime library not found at %s", libraryPath)
			return
		}

		ort.SetSharedLibraryPath(libraryPath)
		envErr = errors.Wrap(ort.InitializeEnvironment(), "initialize onnxruntime environment")
	})
	return envErr
}

// NewSessionOptions builds onnxruntime session options for cfg.
//
// Session options control threading, graph optimisation and which execution
// provider the graph is placed on. The caller must Destroy the result after
// the session has been created.
//
// Arguments:
//   - cfg: The provider configuration.
//
// Returns:
//   - *ort.SessionOptions: Configured session options
//   - error: Configuration error if any
//
// @example
// options, err := NewSessionOptions(DefaultConfig())
//
//	if err != nil {
//	    return err
//	}
//
// defer options.Destroy()
func NewSessionOptions(cfg Config) (*ort.SessionOptions, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	level, _ := cfg.optimizationLevel()

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "create session options")
	}

	if err := configure(options, cfg, level); err != nil {
		options.Destroy()
		return nil, err
	}

	return options, nil
}

func configure(options *ort.SessionOptions, cfg Config, level ort.GraphOptimizationLevel) error {
	if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
		return errors.Wrap(err, "set intra-op threads")
	}
	if err := options.SetInterOpNumThreads(cfg.InterOpThreads); err != nil {
		return errors.Wrap(err, "set inter-op threads")
	}
	if err := options.SetGraphOptimizationLevel(level); err != nil {
		return errors.Wrap(err, "set graph optimization level")
	}

	switch cfg.Backend {
	case CoreMLProviderBackend:
		if err := options.AppendExecutionProviderCoreML(cfg.CoreML.Flags()); err != nil {
			return errors.Wrap(err, "enable CoreML")
		}
	case OpenVINOProviderBackend:
		if err := options.AppendExecutionProviderOpenVINO(cfg.OpenVINO.Map()); err != nil {
			return errors.Wrap(err, "enable OpenVINO")
		}
	case CUDAProviderBackend:
		cuda, err := cfg.CUDA.ToNativeProviderOptions()
		if err != nil {
			return errors.Wrap(err, "convert CUDA options")
		}
		defer cuda.Destroy()
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return errors.Wrap(err, "enable CUDA")
		}
	}

	return nil
}
