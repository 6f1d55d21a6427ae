package benchmark

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-live-detect/images"
	"github.com/nvr-ai/go-live-detect/models/postprocess"
	"github.com/nvr-ai/go-live-detect/pipeline"
)

// stubDetector advances a mock clock by 10ms per call and reports two detections.
type stubDetector struct {
	clock *clock.Mock
	calls int
	sizes []image.Point
	// failEvery fails every n-th call when positive.
	failEvery int
}

func (d *stubDetector) Detect(_ context.Context, frame *images.Frame) (pipeline.CycleResult, error) {
	d.calls++
	d.sizes = append(d.sizes, frame.Size())
	d.clock.Add(10 * time.Millisecond)
	if d.failEvery > 0 && d.calls%d.failEvery == 0 {
		return pipeline.CycleResult{}, errors.New("inference failed")
	}
	return pipeline.CycleResult{
		FrameSize:  frame.Size(),
		Detections: make([]postprocess.Detection, 2),
		Timings: pipeline.Timings{
			Preprocess: 2 * time.Millisecond,
			Execute:    6 * time.Millisecond,
			Decode:     time.Millisecond,
		},
	}, nil
}

func corpus(t *testing.T, n int) []*images.Frame {
	t.Helper()
	out := make([]*images.Frame, n)
	for i := range out {
		f, err := images.NewFrame(64+i, 48)
		require.NoError(t, err)
		out[i] = f
	}
	return out
}

func newSuite(t *testing.T, det *stubDetector) *Suite {
	t.Helper()
	s, err := NewSuite(det, corpus(t, 2), Options{OutputDir: t.TempDir(), Clock: det.clock})
	require.NoError(t, err)
	return s
}

func TestNewSuite_Validation(t *testing.T) {
	_, err := NewSuite(nil, corpus(t, 1), Options{})
	assert.Error(t, err)

	_, err = NewSuite(&stubDetector{}, nil, Options{})
	assert.ErrorContains(t, err, "empty corpus")
}

func TestRunScenario(t *testing.T) {
	det := &stubDetector{clock: clock.NewMock()}
	s := newSuite(t, det)

	res, _ := images.ParseResolution("vga")
	m, err := s.RunScenario(context.Background(), NewScenario(res, images.FormatPNG, 4, 2))
	require.NoError(t, err)

	assert.Equal(t, 6, det.calls, "warmup runs are not measured but still detect")
	for _, size := range det.sizes {
		assert.Equal(t, image.Pt(640, 480), size)
	}
	assert.Equal(t, "vga_png", m.Scenario.Name)
	assert.Equal(t, 40*time.Millisecond, m.TotalDuration)
	assert.InDelta(t, 100.0, m.FramesPerSecond, 1e-9)
	assert.Equal(t, 8, m.DetectionCount)
	assert.Equal(t, 6*time.Millisecond, m.Stages.Execute)
	assert.Equal(t, 2*time.Millisecond, m.Stages.Preprocess)
	assert.Zero(t, m.ErrorRate)
	assert.Positive(t, m.NumCPU)

	assert.Len(t, s.Results(), 1)
}

func TestRunScenario_ErrorRate(t *testing.T) {
	det := &stubDetector{clock: clock.NewMock(), failEvery: 2}
	s := newSuite(t, det)

	m, err := s.RunScenario(context.Background(), NewScenario(images.Resolution{Width: 32, Height: 32}, images.FormatJPEG, 4, 0))
	require.NoError(t, err)

	assert.Equal(t, "32x32_jpeg", m.Scenario.Name)
	assert.InDelta(t, 0.5, m.ErrorRate, 1e-9)
	assert.Equal(t, 4, m.DetectionCount)
	assert.InDelta(t, 50.0, m.FramesPerSecond, 1e-9)
}

func TestRunScenario_Invalid(t *testing.T) {
	s := newSuite(t, &stubDetector{clock: clock.NewMock()})

	_, err := s.RunScenario(context.Background(), Scenario{Name: "x", Resolution: images.Resolution{Width: 8, Height: 8}, Format: images.FormatBMP, Iterations: 1})
	assert.ErrorIs(t, err, images.ErrUnsupportedFormat)

	_, err = s.RunScenario(context.Background(), Scenario{Name: "x", Format: images.FormatJPEG, Iterations: 1})
	assert.ErrorContains(t, err, "invalid resolution")
}

func TestRunScenario_Canceled(t *testing.T) {
	s := newSuite(t, &stubDetector{clock: clock.NewMock()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.RunScenario(ctx, NewScenario(images.Resolution{Width: 8, Height: 8}, images.FormatJPEG, 3, 0))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, s.Results())
}

func TestRunAllAndSave(t *testing.T) {
	det := &stubDetector{clock: clock.NewMock()}
	s := newSuite(t, det)

	set := ScenarioSet{Name: "t", Scenarios: []Scenario{
		NewScenario(images.Resolution{Name: "tiny", Width: 16, Height: 16}, images.FormatJPEG, 2, 0),
		{Name: "broken", Format: images.FormatJPEG, Iterations: 1},
		NewScenario(images.Resolution{Name: "small", Width: 32, Height: 24}, images.FormatWebP, 2, 0),
	}}
	err := s.RunAll(context.Background(), set)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	require.Len(t, s.Results(), 2)

	jsonPath, csvPath, err := s.SaveResults()
	require.NoError(t, err)

	b, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var saved []PerformanceMetrics
	require.NoError(t, json.Unmarshal(b, &saved))
	assert.Equal(t, "tiny_jpeg", saved[0].Scenario.Name)

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, summaryHeader, rows[0])
	assert.Equal(t, "32x24", rows[2][1])
}

func TestLoadCorpus(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.png", "b.jpg"} {
		f, err := os.Create(filepath.Join(dir, name))
		require.NoError(t, err)
		format, err := images.FormatFromPath(name)
		require.NoError(t, err)
		require.NoError(t, images.Encode(f, image.NewRGBA(image.Rect(0, 0, 8, 6)), format))
		require.NoError(t, f.Close())
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))

	frames, err := LoadCorpus(dir)
	require.NoError(t, err)
	assert.Len(t, frames, 2)

	frames, err = LoadCorpus(filepath.Join(dir, "a.png"))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, image.Pt(8, 6), frames[0].Size())

	_, err = LoadCorpus(t.TempDir())
	assert.ErrorContains(t, err, "no images")
}
