package config

import (
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nfnt/resize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-live-detect/inference/providers"
	"github.com/nvr-ai/go-live-detect/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "livedetect.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	assert.Equal(t, DefaultModelBase, c.ModelBase)
	assert.Equal(t, models.ModelYOLOv8n, c.ModelID)
	assert.Equal(t, float32(0.25), c.ConfidenceThreshold)
	assert.Equal(t, float32(0.45), c.IoUThreshold)
	assert.Equal(t, 100, c.MaxDetections)
	assert.Equal(t, 60.0, c.RefreshRate)
	assert.Equal(t, uint8(114), *c.LetterboxFill)
	assert.Equal(t, providers.CPUProviderBackend, c.Provider.Backend)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, 10*time.Second, c.Profiler.ReportInterval)
	assert.Equal(t, ":8080", c.Server.Addr)
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("LIVEDETECT_TEST_CACHE", "/tmp/cache")
	t.Setenv("LIVEDETECT_TEST_MODEL", "warehouse")

	c, err := Load(writeConfig(t, `
modelBase: https://models.example.com
modelId: ${LIVEDETECT_TEST_MODEL}
cacheDir: ${LIVEDETECT_TEST_CACHE}/livedetect
confidenceThreshold: 0.5
letterboxFill: 0
provider:
  backend: cpu
  intraOpThreads: 2
log:
  level: debug
  development: true
profiler:
  enabled: true
  reportInterval: 30s
server:
  addr: 127.0.0.1:9000
`))
	require.NoError(t, err)

	assert.Equal(t, "https://models.example.com", c.ModelBase)
	assert.Equal(t, "warehouse", c.ModelID)
	assert.Equal(t, "/tmp/cache/livedetect", c.CacheDir)
	assert.Equal(t, float32(0.5), c.ConfidenceThreshold)
	assert.Equal(t, float32(0.45), c.IoUThreshold, "unset values take defaults")
	assert.Equal(t, uint8(0), *c.LetterboxFill, "an explicit zero fill is kept")
	assert.Equal(t, 2, c.Provider.IntraOpThreads)
	assert.True(t, c.Log.Development)
	assert.True(t, c.Profiler.Enabled)
	assert.Equal(t, 30*time.Second, c.Profiler.ReportInterval)
	assert.Equal(t, "127.0.0.1:9000", c.Server.Addr)

	p := c.Pipeline()
	assert.Equal(t, float32(0.5), p.ConfidenceThreshold)
	assert.Equal(t, color.RGBA{A: 0xff}, p.Preprocess.LetterboxColor)
	assert.Equal(t, 30*time.Second, c.ProfilingOptions().ReportInterval)
}

func TestLoad_ZeroThresholds(t *testing.T) {
	c, err := FromReader(strings.NewReader("confidenceThreshold: 0\niouThreshold: 0\n"))
	require.NoError(t, err)

	assert.Zero(t, c.ConfidenceThreshold)
	assert.Zero(t, c.IoUThreshold)
	assert.Equal(t, 100, c.MaxDetections, "absent keys keep defaults")

	p := c.Pipeline()
	assert.Zero(t, p.ConfidenceThreshold)
	assert.Zero(t, p.IoUThreshold)
}

func TestLoad_Interpolation(t *testing.T) {
	c, err := FromReader(strings.NewReader("interpolation: nearest\n"))
	require.NoError(t, err)
	assert.Equal(t, resize.NearestNeighbor, c.Pipeline().Preprocess.Interpolation)

	assert.Equal(t, resize.Bilinear, Default().Pipeline().Preprocess.Interpolation)
}

func TestLoad_Empty(t *testing.T) {
	c, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"confidence", "confidenceThreshold: 1.5", "confidenceThreshold"},
		{"iou", "iouThreshold: -0.1", "iouThreshold"},
		{"detections", "maxDetections: -1", "maxDetections"},
		{"refresh", "refreshRate: -5", "refreshRate"},
		{"log level", "log: {level: loud}", "log level"},
		{"interpolation", "interpolation: blurry", "unknown interpolation"},
		{"provider", "provider: {backend: tpu}", "provider"},
		{"unknown field", "confidence: 0.3", "field confidence not found"},
		{"syntax", "modelId: [", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromReader(strings.NewReader(tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
