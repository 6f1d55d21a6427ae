package benchmark

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-live-detect/images"
)

func TestPredefinedScenarios(t *testing.T) {
	quick := QuickScenarios()
	require.Len(t, quick.Scenarios, 2)
	assert.Equal(t, "vga_jpeg", quick.Scenarios[0].Name)
	assert.Equal(t, "720p_jpeg", quick.Scenarios[1].Name)

	all := ComprehensiveScenarios()
	assert.Len(t, all.Scenarios, 3*len(images.Resolutions()))
	for _, s := range all.Scenarios {
		assert.NoError(t, s.Validate(), s.Name)
	}
}

func TestScenarioSet_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quick.yaml")
	require.NoError(t, QuickScenarios().Save(path))

	set, err := LoadScenarioSet(path)
	require.NoError(t, err)
	assert.Equal(t, QuickScenarios(), set)
}

func TestLoadScenarioSet_Env(t *testing.T) {
	t.Setenv("BENCH_ITERATIONS", "7")
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: custom
scenarios:
  - name: hd
    resolution: {width: 1280, height: 720}
    format: webp
    iterations: ${BENCH_ITERATIONS}
`), 0o600))

	set, err := LoadScenarioSet(path)
	require.NoError(t, err)
	require.Len(t, set.Scenarios, 1)
	assert.Equal(t, 7, set.Scenarios[0].Iterations)
	assert.Equal(t, images.FormatWebP, set.Scenarios[0].Format)
}

func TestLoadScenarioSet_Invalid(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"empty":      "name: none\n",
		"format":     "scenarios: [{name: a, resolution: {width: 1, height: 1}, format: bmp, iterations: 1}]\n",
		"iterations": "scenarios: [{name: a, resolution: {width: 1, height: 1}, format: png}]\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, err := LoadScenarioSet(path)
			assert.Error(t, err)
		})
	}
}
