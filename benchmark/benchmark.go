package benchmark

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-live-detect/images"
	"github.com/nvr-ai/go-live-detect/pipeline"
)

// Detector runs one detection cycle on a frame. *session.Session implements it.
type Detector interface {
	Detect(ctx context.Context, frame *images.Frame) (pipeline.CycleResult, error)
}

// StageMetrics holds mean per-frame stage durations.
type StageMetrics struct {
	Decode     time.Duration `json:"decode"`
	Preprocess time.Duration `json:"preprocess"`
	Execute    time.Duration `json:"execute"`
	Postproc   time.Duration `json:"postprocess"`
	Render     time.Duration `json:"render"`
}

// MemoryMetrics captures memory usage across the measured iterations.
type MemoryMetrics struct {
	AllocBytes      uint64 `json:"allocBytes"`
	TotalAllocBytes uint64 `json:"totalAllocBytes"`
	SysBytes        uint64 `json:"sysBytes"`
	NumGC           uint32 `json:"numGC"`
	HeapAllocBytes  uint64 `json:"heapAllocBytes"`
}

// PerformanceMetrics is the result of one scenario.
type PerformanceMetrics struct {
	Scenario        Scenario      `json:"scenario"`
	Timestamp       time.Time     `json:"timestamp"`
	TotalDuration   time.Duration `json:"totalDuration"`
	Stages          StageMetrics  `json:"stages"`
	FramesPerSecond float64       `json:"framesPerSecond"`
	Memory          MemoryMetrics `json:"memory"`
	NumCPU          int           `json:"numCPU"`
	DetectionCount  int           `json:"detectionCount"`
	ErrorRate       float64       `json:"errorRate"`
}

// Options configures a Suite.
type Options struct {
	// OutputDir receives the JSON and CSV reports.
	OutputDir string
	Clock     clock.Clock
	Logger    *zap.SugaredLogger
}

// Suite runs scenarios against a detector over a corpus of frames.
type Suite struct {
	detector  Detector
	corpus    []*images.Frame
	outputDir string
	clock     clock.Clock
	logger    *zap.SugaredLogger

	mu      sync.RWMutex
	results []PerformanceMetrics
}

// NewSuite creates a suite. corpus must hold at least one frame.
func NewSuite(detector Detector, corpus []*images.Frame, opts Options) (*Suite, error) {
	if detector == nil {
		return nil, errors.New("benchmark: detector is required")
	}
	if len(corpus) == 0 {
		return nil, errors.New("benchmark: empty corpus")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}

	return &Suite{
		detector:  detector,
		corpus:    corpus,
		outputDir: opts.OutputDir,
		clock:     opts.Clock,
		logger:    opts.Logger,
	}, nil
}

// LoadCorpus decodes the still image at path, or every image in the directory
// at path. Files in a directory that are not images are skipped.
func LoadCorpus(path string) ([]*images.Frame, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "corpus")
	}
	if !info.IsDir() {
		f, err := images.Open(path)
		if err != nil {
			return nil, err
		}
		return []*images.Frame{f}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, errors.Wrap(err, "corpus")
	}
	var corpus []*images.Frame
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, err := images.FormatFromPath(e.Name()); err != nil {
			continue
		}
		f, err := images.Open(filepath.Join(path, e.Name()))
		if err != nil {
			return nil, err
		}
		corpus = append(corpus, f)
	}
	if len(corpus) == 0 {
		return nil, errors.Errorf("corpus %s: no images", path)
	}
	return corpus, nil
}

// encodeCorpus encodes every corpus frame in format.
func (s *Suite) encodeCorpus(format images.ImageFormat) ([][]byte, error) {
	encoded := make([][]byte, len(s.corpus))
	for i, f := range s.corpus {
		var buf bytes.Buffer
		if err := images.Encode(&buf, f.ToRGBA(), format); err != nil {
			return nil, err
		}
		encoded[i] = buf.Bytes()
	}
	return encoded, nil
}

// RunScenario executes a single scenario. Per-frame failures count towards
// the error rate; only setup failures and ctx cancellation return an error.
func (s *Suite) RunScenario(ctx context.Context, scenario Scenario) (PerformanceMetrics, error) {
	if err := scenario.Validate(); err != nil {
		return PerformanceMetrics{}, err
	}
	encoded, err := s.encodeCorpus(scenario.Format)
	if err != nil {
		return PerformanceMetrics{}, err
	}

	for i := 0; i < scenario.WarmupRuns; i++ {
		if _, _, err := s.process(ctx, encoded[i%len(encoded)], scenario); err != nil && ctx.Err() != nil {
			return PerformanceMetrics{}, ctx.Err()
		}
	}

	var startMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&startMem)

	metrics := PerformanceMetrics{
		Scenario:  scenario,
		Timestamp: s.clock.Now(),
		NumCPU:    runtime.NumCPU(),
	}
	var sum StageMetrics
	failures := 0
	start := s.clock.Now()
	for i := 0; i < scenario.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return PerformanceMetrics{}, err
		}
		res, decode, err := s.process(ctx, encoded[i%len(encoded)], scenario)
		if err != nil {
			failures++
			s.logger.Debugw("benchmark iteration failed", "scenario", scenario.Name, "iteration", i, "error", err)
			continue
		}
		metrics.DetectionCount += len(res.Detections)
		sum.Decode += decode
		sum.Preprocess += res.Timings.Preprocess
		sum.Execute += res.Timings.Execute
		sum.Postproc += res.Timings.Decode
		sum.Render += res.Timings.Render
	}
	metrics.TotalDuration = s.clock.Since(start)

	var endMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&endMem)

	if ok := scenario.Iterations - failures; ok > 0 {
		n := time.Duration(ok)
		metrics.Stages = StageMetrics{
			Decode:     sum.Decode / n,
			Preprocess: sum.Preprocess / n,
			Execute:    sum.Execute / n,
			Postproc:   sum.Postproc / n,
			Render:     sum.Render / n,
		}
		if metrics.TotalDuration > 0 {
			metrics.FramesPerSecond = float64(ok) / metrics.TotalDuration.Seconds()
		}
	}
	metrics.ErrorRate = float64(failures) / float64(scenario.Iterations)
	metrics.Memory = MemoryMetrics{
		AllocBytes:      endMem.Alloc,
		TotalAllocBytes: endMem.TotalAlloc - startMem.TotalAlloc,
		SysBytes:        endMem.Sys,
		NumGC:           endMem.NumGC - startMem.NumGC,
		HeapAllocBytes:  endMem.HeapAlloc,
	}

	s.mu.Lock()
	s.results = append(s.results, metrics)
	s.mu.Unlock()
	return metrics, nil
}

// process decodes and scales one encoded image, then runs detection on it.
func (s *Suite) process(ctx context.Context, b []byte, scenario Scenario) (pipeline.CycleResult, time.Duration, error) {
	t := s.clock.Now()
	frame, err := images.ResizeEncoded(b, scenario.Resolution.Width, scenario.Resolution.Height)
	decode := s.clock.Since(t)
	if err != nil {
		return pipeline.CycleResult{}, decode, err
	}

	res, err := s.detector.Detect(ctx, frame)
	return res, decode, err
}

// RunAll executes every scenario in set in order. A failing scenario is
// logged and skipped; the returned error aggregates the failures.
func (s *Suite) RunAll(ctx context.Context, set ScenarioSet) error {
	var errs error
	for _, scenario := range set.Scenarios {
		m, err := s.RunScenario(ctx, scenario)
		if err != nil {
			if ctx.Err() != nil {
				return multierr.Append(errs, ctx.Err())
			}
			s.logger.Warnw("scenario failed", "scenario", scenario.Name, "error", err)
			errs = multierr.Append(errs, errors.Wrap(err, scenario.Name))
			continue
		}
		s.logger.Infow("scenario completed",
			"scenario", scenario.Name,
			"fps", fmt.Sprintf("%.2f", m.FramesPerSecond),
			"detections", m.DetectionCount,
			"errorRate", m.ErrorRate,
		)
	}
	return errs
}

// Results returns the metrics of every completed scenario, in run order.
func (s *Suite) Results() []PerformanceMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]PerformanceMetrics(nil), s.results...)
}

// SaveResults writes the results as detailed JSON and a CSV summary into the
// output directory, and returns the two paths.
func (s *Suite) SaveResults() (string, string, error) {
	results := s.Results()
	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return "", "", errors.Wrap(err, "create output directory")
	}

	stamp := s.clock.Now().Format("2006-01-02_15-04-05")
	jsonPath := filepath.Join(s.outputDir, "benchmark_results_"+stamp+".json")
	csvPath := filepath.Join(s.outputDir, "benchmark_summary_"+stamp+".csv")

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", "", errors.Wrap(err, "marshal results")
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return "", "", errors.Wrap(err, "write results")
	}
	if err := writeSummary(csvPath, results); err != nil {
		return "", "", err
	}
	return jsonPath, csvPath, nil
}

var summaryHeader = []string{
	"scenario", "resolution", "format", "fps", "total_ms",
	"decode_ms", "preprocess_ms", "execute_ms", "postprocess_ms",
	"alloc_mb", "detections", "error_rate",
}

func writeSummary(path string, results []PerformanceMetrics) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create summary")
	}
	defer func() { err = multierr.Append(err, f.Close()) }()

	sorted := append([]PerformanceMetrics(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].FramesPerSecond > sorted[j].FramesPerSecond
	})

	w := csv.NewWriter(f)
	if err := w.Write(summaryHeader); err != nil {
		return err
	}
	for _, r := range sorted {
		row := []string{
			r.Scenario.Name,
			fmt.Sprintf("%dx%d", r.Scenario.Resolution.Width, r.Scenario.Resolution.Height),
			string(r.Scenario.Format),
			strconv.FormatFloat(r.FramesPerSecond, 'f', 2, 64),
			ms(r.TotalDuration),
			ms(r.Stages.Decode),
			ms(r.Stages.Preprocess),
			ms(r.Stages.Execute),
			ms(r.Stages.Postproc),
			strconv.FormatFloat(float64(r.Memory.AllocBytes)/(1<<20), 'f', 2, 64),
			strconv.Itoa(r.DetectionCount),
			strconv.FormatFloat(r.ErrorRate, 'f', 4, 64),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func ms(d time.Duration) string {
	return strconv.FormatFloat(float64(d)/float64(time.Millisecond), 'f', 3, 64)
}
