package models

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nvr-ai/go-live-detect/inference"
	"github.com/nvr-ai/go-live-detect/inference/inferencetest"
	"github.com/nvr-ai/go-live-detect/models/model"
)

const testManifest = `{
  "name": "Warehouse",
  "format": "yolov8",
  "layout": "nhwc",
  "inputShape": [1, 320, 320, 3],
  "weights": "model.onnx",
  "labelsFile": "labels.txt"
}`

// writeModel lays out a model directory under base.
func writeModel(t *testing.T, base, id string, files map[string]string) {
	t.Helper()
	dir := filepath.Join(base, ModelDir(id))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
}

type fakeFactory struct {
	mu        sync.Mutex
	backends  []*inferencetest.Backend
	manifests []model.Manifest
	paths     []string
}

func (f *fakeFactory) open(_ context.Context, m model.Manifest, weightsPath string) (inference.Backend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := &inferencetest.Backend{}
	f.backends = append(f.backends, b)
	f.manifests = append(f.manifests, m)
	f.paths = append(f.paths, weightsPath)
	return b, nil
}

func newLoader(t *testing.T, base string, f *fakeFactory) *Loader {
	return &Loader{
		Base:     base,
		CacheDir: t.TempDir(),
		Backends: map[inference.EngineType]BackendFactory{inference.EngineONNX: f.open},
		Registry: DefaultRegistry(),
		Logger:   zaptest.NewLogger(t).Sugar(),
	}
}

type progressLog struct {
	mu     sync.Mutex
	values []float64
}

func (p *progressLog) record(f float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = append(p.values, f)
}

func (p *progressLog) assertMonotoneToOne(t *testing.T) {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.values)
	for i := 1; i < len(p.values); i++ {
		assert.GreaterOrEqual(t, p.values[i], p.values[i-1], "progress went backwards at %d", i)
	}
	assert.Equal(t, 0.0, p.values[0])
	assert.Equal(t, 1.0, p.values[len(p.values)-1])
}

func TestLoader_ManifestURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:8080", "http://localhost:8080/yolov8n_web_model/model.json"},
		{"https://models.example.com/public/", "https://models.example.com/public/yolov8n_web_model/model.json"},
		{"/srv/models", filepath.Join("/srv/models", "yolov8n_web_model", "model.json")},
	}
	for _, tt := range tests {
		l := &Loader{Base: tt.base}
		assert.Equal(t, tt.want, l.ManifestURL("yolov8n"))
	}
}

func TestLoader_LoadFromDirectory(t *testing.T) {
	base := t.TempDir()
	writeModel(t, base, "warehouse", map[string]string{
		"model.json": testManifest,
		"model.onnx": "weights",
		"labels.txt": "pallet\nforklift\n\nperson\n",
	})
	f := &fakeFactory{}
	progress := &progressLog{}

	handle, err := newLoader(t, base, f).Load(context.Background(), "warehouse", progress.record)
	require.NoError(t, err)
	t.Cleanup(func() { handle.Close() })

	assert.Equal(t, "warehouse", handle.ID())
	assert.Equal(t, "Warehouse", handle.Name())
	assert.Equal(t, inference.NewShape(1, 320, 320, 3), handle.InputShape())
	assert.Equal(t, []string{"pallet", "forklift", "person"}, handle.Labels())

	require.Len(t, f.backends, 1)
	assert.Equal(t, int64(1), f.backends[0].Calls(), "the model is warmed up once")
	assert.Equal(t, []inference.Shape{inference.NewShape(1, 320, 320, 3)}, f.backends[0].Inputs())
	assert.Equal(t, filepath.Join(base, "warehouse_web_model", "model.onnx"), f.paths[0])
	progress.assertMonotoneToOne(t)
}

func TestLoader_LoadOverHTTP(t *testing.T) {
	weights := strings.Repeat("w", 64*1024)
	var hits sync.Map
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, _ := hits.LoadOrStore(r.URL.Path, new(int))
		*(n.(*int))++
		switch r.URL.Path {
		case "/yolov8n_web_model/model.json":
			w.Write([]byte(`{"inputShape":[1,640,640,3],"weights":"model.onnx"}`))
		case "/yolov8n_web_model/model.onnx":
			w.Header().Set("Content-Length", "65536")
			w.Write([]byte(weights))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	f := &fakeFactory{}
	l := newLoader(t, srv.URL, f)
	progress := &progressLog{}

	handle, err := l.Load(context.Background(), "yolov8n", progress.record)
	require.NoError(t, err)
	defer handle.Close()

	assert.Equal(t, COCOLabels, handle.Labels(), "labels fall back to the registry")
	assert.Equal(t, inference.FormatYOLOv8, handle.Format())
	progress.assertMonotoneToOne(t)

	cached, err := os.ReadFile(f.paths[0])
	require.NoError(t, err)
	assert.Equal(t, weights, string(cached))
	assert.True(t, strings.HasPrefix(f.paths[0], l.CacheDir))

	again, err := l.Load(context.Background(), "yolov8n", nil)
	require.NoError(t, err)
	defer again.Close()
	n, _ := hits.Load("/yolov8n_web_model/model.onnx")
	assert.Equal(t, 1, *(n.(*int)), "weights are served from the cache the second time")
}

func TestLoader_Errors(t *testing.T) {
	base := t.TempDir()
	writeModel(t, base, "corrupt", map[string]string{"model.json": "{not json"})
	writeModel(t, base, "badshape", map[string]string{
		"model.json": `{"inputShape":[1,3,640,640],"weights":"model.onnx"}`,
		"model.onnx": "w",
	})
	writeModel(t, base, "noweights", map[string]string{
		"model.json": `{"inputShape":[1,640,640,3],"weights":"model.onnx"}`,
	})
	writeModel(t, base, "opencv", map[string]string{
		"model.json": `{"inputShape":[1,640,640,3],"weights":"model.onnx","backend":"opencv"}`,
		"model.onnx": "w",
	})

	tests := []struct {
		id    string
		check func(t *testing.T, err error)
	}{
		{"missing", func(t *testing.T, err error) { assert.True(t, os.IsNotExist(errors.Cause(err.(*ModelLoadError).Err))) }},
		{"corrupt", nil},
		{"badshape", func(t *testing.T, err error) { assert.True(t, inference.IsShapeError(err)) }},
		{"noweights", nil},
		{"opencv", func(t *testing.T, err error) { assert.Contains(t, err.Error(), "no backend registered") }},
		{"../escape", nil},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			_, err := newLoader(t, base, &fakeFactory{}).Load(context.Background(), tt.id, nil)
			require.Error(t, err)

			var loadErr *ModelLoadError
			require.True(t, errors.As(err, &loadErr), "expected ModelLoadError, got %T", err)
			assert.Equal(t, tt.id, loadErr.ModelID)
			if tt.check != nil {
				tt.check(t, err)
			}
		})
	}
}

func TestLoader_HTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	_, err := newLoader(t, srv.URL, &fakeFactory{}).Load(context.Background(), "yolov8n", nil)
	var loadErr *ModelLoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, srv.URL+"/yolov8n_web_model/model.json", loadErr.URL)
	assert.Contains(t, err.Error(), "404")
}

func TestReadLabels(t *testing.T) {
	labels, err := ReadLabels(strings.NewReader("  box \n\ncrate\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"box", "crate"}, labels)
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	entries := r.List()
	require.Len(t, entries, 2)
	assert.Equal(t, "yolov8n", entries[0].ID)
	assert.Equal(t, "Object Detection", entries[0].Title)
	assert.Equal(t, "Warehouse Detection", entries[1].Title)

	require.NoError(t, r.Register(Entry{ID: "custom"}))
	e, ok := r.Lookup("custom")
	require.True(t, ok)
	assert.Equal(t, "custom", e.Title)
	assert.Error(t, r.Register(Entry{ID: "custom"}))
	assert.Error(t, r.Register(Entry{}))
}
