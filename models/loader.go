package models

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-live-detect/inference"
	"github.com/nvr-ai/go-live-detect/models/model"
)

// Progress receives the loading fraction in [0,1]. Values never decrease and
// the last call of a successful load is 1.
type Progress func(fraction float64)

// BackendFactory opens a runtime for a manifest whose weights are on disk.
type BackendFactory func(ctx context.Context, manifest model.Manifest, weightsPath string) (inference.Backend, error)

// Fractions of the progress range assigned to each loading stage.
const (
	progressWeights = 0.9
	progressOpened  = 0.95
)

// ModelLoadError is returned for any failure while loading a model.
type ModelLoadError struct {
	ModelID string
	URL     string
	Err     error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load model %q from %s: %v", e.ModelID, e.URL, e.Err)
}

// Unwrap returns the underlying error.
func (e *ModelLoadError) Unwrap() error { return e.Err }

// Cause implements the pkg/errors causer.
func (e *ModelLoadError) Cause() error { return e.Err }

// Loader resolves model ids to artifacts and opens them.
//
// Artifacts follow the convention {Base}/{id}_web_model/model.json, with the
// weights and labels file next to the manifest. Base is a directory or an
// http(s) URL. Remote weights are cached under CacheDir.
type Loader struct {
	// Base is the directory or URL holding the model directories.
	Base string
	// CacheDir stores downloaded weights. Empty uses os.TempDir.
	CacheDir string
	// HTTP fetches remote artifacts. Nil uses http.DefaultClient.
	HTTP *http.Client
	// Backends opens a runtime per engine type.
	Backends map[inference.EngineType]BackendFactory
	// Registry supplies fallback labels. Optional.
	Registry *Registry
	// Ledger tracks warm-up tensors. Nil uses a private ledger.
	Ledger *inference.Ledger
	// Logger receives loading events. Nil disables logging.
	Logger *zap.SugaredLogger
}

// ModelDir returns the artifact directory name for id.
func ModelDir(id string) string {
	return id + "_web_model"
}

// ManifestURL returns the manifest location for id.
func (l *Loader) ManifestURL(id string) string {
	return l.resolve(id, model.ManifestFile)
}

func (l *Loader) remote() bool {
	return strings.HasPrefix(l.Base, "http://") || strings.HasPrefix(l.Base, "https://")
}

func (l *Loader) resolve(id, name string) string {
	if l.remote() {
		return strings.TrimRight(l.Base, "/") + "/" + url.PathEscape(ModelDir(id)) + "/" + name
	}
	return filepath.Join(l.Base, ModelDir(id), filepath.FromSlash(name))
}

func (l *Loader) logger() *zap.SugaredLogger {
	if l.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return l.Logger
}

// Load fetches the manifest, labels and weights for id, opens the backend and
// warms the model up.
//
// Arguments:
//   - ctx: Cancels fetching and warm-up.
//   - id: The model identifier.
//   - progress: Receives the loading fraction. May be nil.
//
// Returns:
//   - *inference.ModelHandle: The warmed-up model. The caller closes it.
//   - error: A *ModelLoadError.
func (l *Loader) Load(ctx context.Context, id string, progress Progress) (*inference.ModelHandle, error) {
	report := monotone(progress)
	manifestURL := l.ManifestURL(id)
	fail := func(err error) error {
		return &ModelLoadError{ModelID: id, URL: manifestURL, Err: err}
	}
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return nil, fail(errors.Errorf("invalid model id %q", id))
	}
	log := l.logger().With("model", id)
	report(0)

	manifest, err := l.fetchManifest(ctx, id)
	if err != nil {
		return nil, fail(err)
	}

	labels, err := l.fetchLabels(ctx, id, manifest)
	if err != nil {
		return nil, fail(err)
	}

	weights, err := l.fetchWeights(ctx, id, manifest.Weights, func(f float64) {
		report(f * progressWeights)
	})
	if err != nil {
		return nil, fail(err)
	}
	report(progressWeights)
	log.Debugw("weights ready", "path", weights)

	factory, ok := l.Backends[manifest.Backend]
	if !ok {
		return nil, fail(errors.Errorf("no backend registered for %q", manifest.Backend))
	}
	backend, err := factory(ctx, manifest, weights)
	if err != nil {
		return nil, fail(errors.Wrapf(err, "open %s backend", manifest.Backend))
	}

	handle, err := inference.NewModelHandle(manifest.HandleConfig(id, labels), backend)
	if err != nil {
		return nil, fail(multiClose(err, backend))
	}
	report(progressOpened)

	ledger := l.Ledger
	if ledger == nil {
		ledger = inference.NewLedger()
	}
	if err := handle.WarmUp(ctx, ledger); err != nil {
		return nil, fail(multiClose(err, handle))
	}
	report(1)

	log.Infow("model loaded", "inputShape", handle.InputShape().String(), "labels", len(labels), "backend", manifest.Backend)
	return handle, nil
}

func (l *Loader) fetchManifest(ctx context.Context, id string) (model.Manifest, error) {
	rc, _, err := l.open(ctx, id, model.ManifestFile)
	if err != nil {
		return model.Manifest{}, err
	}
	defer rc.Close()

	return model.ParseManifest(rc)
}

func (l *Loader) fetchLabels(ctx context.Context, id string, manifest model.Manifest) ([]string, error) {
	if len(manifest.Labels) > 0 {
		return manifest.Labels, nil
	}
	if manifest.LabelsFile != "" {
		rc, _, err := l.open(ctx, id, manifest.LabelsFile)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return ReadLabels(rc)
	}
	if l.Registry != nil {
		if e, ok := l.Registry.Lookup(id); ok {
			return e.Labels, nil
		}
	}
	return nil, nil
}

// fetchWeights returns a local path to the weights, downloading remote ones
// into the cache.
func (l *Loader) fetchWeights(ctx context.Context, id, name string, progress Progress) (string, error) {
	if !l.remote() {
		p := l.resolve(id, name)
		if _, err := os.Stat(p); err != nil {
			return "", errors.Wrap(err, "weights")
		}
		progress(1)
		return p, nil
	}

	cacheDir := l.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "livedetect")
	}
	dir := filepath.Join(cacheDir, ModelDir(id))
	dst := filepath.Join(dir, filepath.FromSlash(path.Clean(name)))
	if _, err := os.Stat(dst); err == nil {
		l.logger().Debugw("using cached weights", "path", dst)
		progress(1)
		return dst, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", errors.Wrap(err, "create cache dir")
	}

	rc, size, err := l.open(ctx, id, name)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return "", errors.Wrap(err, "create cache file")
	}
	defer os.Remove(tmp.Name())

	_, err = io.Copy(tmp, &progressReader{r: rc, total: size, progress: progress})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", errors.Wrap(err, "download weights")
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", errors.Wrap(err, "store weights")
	}
	progress(1)
	return dst, nil
}

// open returns a reader for an artifact and its size, -1 when unknown.
func (l *Loader) open(ctx context.Context, id, name string) (io.ReadCloser, int64, error) {
	loc := l.resolve(id, name)
	if !l.remote() {
		f, err := os.Open(loc)
		if err != nil {
			return nil, 0, errors.Wrapf(err, "open %s", name)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, 0, errors.Wrapf(err, "stat %s", name)
		}
		return f, info.Size(), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc, nil)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "request %s", name)
	}
	client := l.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "fetch %s", name)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, errors.Errorf("fetch %s: %s", loc, resp.Status)
	}
	return resp.Body, resp.ContentLength, nil
}

// progressReader reports the fraction of total read so far.
type progressReader struct {
	r        io.Reader
	total    int64
	read     int64
	progress Progress
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total > 0 && n > 0 {
		p.progress(min(float64(p.read)/float64(p.total), 1))
	}
	return n, err
}

// monotone wraps fn so reported fractions never decrease.
func monotone(fn Progress) Progress {
	if fn == nil {
		return func(float64) {}
	}
	var (
		mu   sync.Mutex
		last = -1.0
	)
	return func(f float64) {
		mu.Lock()
		defer mu.Unlock()
		if f < last {
			return
		}
		last = f
		fn(f)
	}
}

func multiClose(err error, c io.Closer) error {
	return multierr.Append(err, c.Close())
}
