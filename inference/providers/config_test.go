package providers

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"cuda", func(c *Config) { c.Backend = CUDAProviderBackend }, false},
		{"unknown backend", func(c *Config) { c.Backend = "tpu" }, true},
		{"negative threads", func(c *Config) { c.IntraOpThreads = -1 }, true},
		{"bad optimization level", func(c *Config) { c.GraphOptimization = "turbo" }, true},
		{"empty optimization level", func(c *Config) { c.GraphOptimization = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCoreMLOptions_Flags(t *testing.T) {
	assert.Equal(t, uint32(0), CoreMLOptions{}.Flags())
	assert.Equal(t, uint32(0x001|0x010), CoreMLOptions{CPUOnly: true, MLProgram: true}.Flags())
}

func TestCUDAOptions_Map(t *testing.T) {
	m := CUDAOptions{DeviceID: 1, GPUMemLimit: 2 << 30, ArenaExtendStrategy: 1, CudnnConvAlgoSearch: 1}.Map()
	assert.Equal(t, "1", m["device_id"])
	assert.Equal(t, "2147483648", m["gpu_mem_limit"])
	assert.Equal(t, "kSameAsRequested", m["arena_extend_strategy"])
	assert.Equal(t, "HEURISTIC", m["cudnn_conv_algo_search"])
	assert.Equal(t, "0", m["prefer_nhwc"])
}

func TestOpenVINOOptions_Map(t *testing.T) {
	assert.Empty(t, OpenVINOOptions{}.Map())

	m := OpenVINOOptions{DeviceType: "GPU", Precision: "FP16", NumOfThreads: 4}.Map()
	assert.Equal(t, map[string]string{
		"device_type":    "GPU",
		"precision":      "FP16",
		"num_of_threads": "4",
	}, m)
}

func TestSharedLibPath(t *testing.T) {
	t.Setenv(LibraryPathEnv, "/opt/ort/libonnxruntime.so")
	assert.Equal(t, "/opt/ort/libonnxruntime.so", SharedLibPath())

	t.Setenv(LibraryPathEnv, "")
	require.NotEmpty(t, SharedLibPath())
	assert.Equal(t, "third_party", filepath.Dir(SharedLibPath()))
	assert.Equal(t, "onnxruntime_arm64.so", sharedLibName("linux", "arm64"))
	assert.Equal(t, "libonnxruntime.dylib", sharedLibName("darwin", "arm64"))
}
