// Package profiler - Runtime and per-stage timing statistics for the detection loop.
package profiler

import (
	"context"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// MetricsCollector defines the interface for collecting custom metrics.
type MetricsCollector interface {
	CollectMetrics() map[string]float64
}

// Recorder receives stage durations. The detection loop reports
// "capture", "preprocess", "execute", "decode", "render" and "cycle".
type Recorder interface {
	RecordStage(name string, d time.Duration)
}

// RuntimeProfiler tracks stage timings, custom metrics and runtime memory
// statistics, and periodically logs a summary.
type RuntimeProfiler struct {
	reportInterval time.Duration
	sampleInterval time.Duration
	maxSamples     int
	clock          clock.Clock
	logger         *zap.SugaredLogger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
	start   time.Time

	memStats    runtime.MemStats
	goroutines  int
	lastGCCount uint32

	metrics    map[string]*series
	collectors []MetricsCollector
	stages     map[string]*timings
}

// series is a bounded window of metric samples.
type series struct {
	values []float64
	sum    float64
	min    float64
	max    float64
	count  int64
}

func (s *series) add(v float64, limit int) {
	if s.count == 0 || v < s.min {
		s.min = v
	}
	if s.count == 0 || v > s.max {
		s.max = v
	}
	s.values = append(s.values, v)
	s.sum += v
	if len(s.values) > limit {
		s.sum -= s.values[0]
		s.values = s.values[1:]
	}
	s.count++
}

// timings is a bounded window of durations.
type timings struct {
	durations []time.Duration
	total     time.Duration
	min       time.Duration
	max       time.Duration
	count     int64
}

func (t *timings) add(d time.Duration, limit int) {
	if t.count == 0 || d < t.min {
		t.min = d
	}
	if t.count == 0 || d > t.max {
		t.max = d
	}
	t.durations = append(t.durations, d)
	t.total += d
	if len(t.durations) > limit {
		t.total -= t.durations[0]
		t.durations = t.durations[1:]
	}
	t.count++
}

// ProfilingOptions configures the runtime profiler.
type ProfilingOptions struct {
	// ReportInterval specifies how often to log a report (default: 10s).
	ReportInterval time.Duration `json:"reportInterval" yaml:"reportInterval"`
	// SampleInterval specifies how often to sample the runtime (default: 1s).
	SampleInterval time.Duration `json:"sampleInterval" yaml:"sampleInterval"`
	// MaxSamples bounds every window of samples (default: 600).
	MaxSamples int `json:"maxSamples" yaml:"maxSamples"`
	// Clock drives sampling and reporting. Nil uses the wall clock.
	Clock clock.Clock `json:"-" yaml:"-"`
	// Logger receives reports. Nil disables them.
	Logger *zap.SugaredLogger `json:"-" yaml:"-"`
}

// NewRuntimeProfiler creates a new runtime profiler with the specified options.
//
// Arguments:
// - opts: Configuration options for the profiler
//
// Returns:
// - A configured RuntimeProfiler instance
func NewRuntimeProfiler(opts ProfilingOptions) *RuntimeProfiler {
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = 10 * time.Second
	}
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = time.Second
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = 600
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}

	return &RuntimeProfiler{
		reportInterval: opts.ReportInterval,
		sampleInterval: opts.SampleInterval,
		maxSamples:     opts.MaxSamples,
		clock:          opts.Clock,
		logger:         opts.Logger,
		start:          opts.Clock.Now(),
		metrics:        make(map[string]*series),
		stages:         make(map[string]*timings),
	}
}

// Start begins sampling and reporting in the background. Calling Start on a
// running profiler does nothing.
func (rp *RuntimeProfiler) Start() {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	if rp.running {
		return
	}
	rp.running = true
	rp.start = rp.clock.Now()

	ctx, cancel := context.WithCancel(context.Background())
	rp.cancel = cancel
	sample := rp.clock.Ticker(rp.sampleInterval)
	report := rp.clock.Ticker(rp.reportInterval)

	rp.wg.Add(1)
	go func() {
		defer rp.wg.Done()
		defer sample.Stop()
		defer report.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-sample.C:
				rp.sample()
			case <-report.C:
				rp.Report()
			}
		}
	}()
}

// Stop halts the background work and waits for it to finish.
func (rp *RuntimeProfiler) Stop() {
	rp.mu.Lock()
	if !rp.running {
		rp.mu.Unlock()
		return
	}
	rp.running = false
	cancel := rp.cancel
	rp.mu.Unlock()

	cancel()
	rp.wg.Wait()
}

// AddMetricsCollector registers a collector polled on every sample.
func (rp *RuntimeProfiler) AddMetricsCollector(collector MetricsCollector) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.collectors = append(rp.collectors, collector)
}

// RecordMetric records a custom metric value.
func (rp *RuntimeProfiler) RecordMetric(name string, value float64) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.recordMetricLocked(name, value)
}

func (rp *RuntimeProfiler) recordMetricLocked(name string, value float64) {
	s, ok := rp.metrics[name]
	if !ok {
		s = &series{}
		rp.metrics[name] = s
	}
	s.add(value, rp.maxSamples)
}

// RecordStage implements Recorder.
func (rp *RuntimeProfiler) RecordStage(name string, d time.Duration) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	t, ok := rp.stages[name]
	if !ok {
		t = &timings{}
		rp.stages[name] = t
	}
	t.add(d, rp.maxSamples)
}

// StartOperation begins timing an operation.
//
// Returns:
// - A function to call when the operation completes
//
// @example
//
//	done := profiler.StartOperation("decode")
//	defer done()
func (rp *RuntimeProfiler) StartOperation(name string) func() {
	start := rp.clock.Now()
	return func() {
		rp.RecordStage(name, rp.clock.Since(start))
	}
}

func (rp *RuntimeProfiler) sample() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	goroutines := runtime.NumGoroutine()

	rp.mu.Lock()
	collectors := append([]MetricsCollector(nil), rp.collectors...)
	rp.memStats = mem
	rp.goroutines = goroutines
	rp.mu.Unlock()

	for _, c := range collectors {
		values := c.CollectMetrics()
		rp.mu.Lock()
		for name, v := range values {
			rp.recordMetricLocked(name, v)
		}
		rp.mu.Unlock()
	}
}

// StageStats summarises one stage.
type StageStats struct {
	Name  string        `json:"name"`
	Avg   time.Duration `json:"avg"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Count int64         `json:"count"`
}

// MetricStats summarises one custom metric.
type MetricStats struct {
	Name    string  `json:"name"`
	Avg     float64 `json:"avg"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Samples int     `json:"samples"`
}

// Stats is a snapshot of the profiler.
type Stats struct {
	Uptime     time.Duration `json:"uptime"`
	Goroutines int           `json:"goroutines"`
	HeapAlloc  uint64        `json:"heapAlloc"`
	Sys        uint64        `json:"sys"`
	NumGC      uint32        `json:"numGC"`
	Stages     []StageStats  `json:"stages"`
	Metrics    []MetricStats `json:"metrics"`
}

// Snapshot returns the current statistics, stages and metrics sorted by name.
func (rp *RuntimeProfiler) Snapshot() Stats {
	rp.mu.RLock()
	defer rp.mu.RUnlock()

	s := Stats{
		Uptime:     rp.clock.Since(rp.start),
		Goroutines: rp.goroutines,
		HeapAlloc:  rp.memStats.HeapAlloc,
		Sys:        rp.memStats.Sys,
		NumGC:      rp.memStats.NumGC,
	}
	for name, t := range rp.stages {
		if len(t.durations) == 0 {
			continue
		}
		s.Stages = append(s.Stages, StageStats{
			Name:  name,
			Avg:   t.total / time.Duration(len(t.durations)),
			Min:   t.min,
			Max:   t.max,
			Count: t.count,
		})
	}
	for name, m := range rp.metrics {
		if len(m.values) == 0 {
			continue
		}
		s.Metrics = append(s.Metrics, MetricStats{
			Name:    name,
			Avg:     m.sum / float64(len(m.values)),
			Min:     m.min,
			Max:     m.max,
			Samples: len(m.values),
		})
	}
	sort.Slice(s.Stages, func(i, j int) bool { return s.Stages[i].Name < s.Stages[j].Name })
	sort.Slice(s.Metrics, func(i, j int) bool { return s.Metrics[i].Name < s.Metrics[j].Name })
	return s
}

// Report logs the current statistics.
func (rp *RuntimeProfiler) Report() {
	s := rp.Snapshot()

	rp.mu.Lock()
	newGC := s.NumGC - rp.lastGCCount
	rp.lastGCCount = s.NumGC
	rp.mu.Unlock()

	rp.logger.Infow("runtime profile",
		"uptime", s.Uptime.Truncate(time.Millisecond),
		"goroutines", s.Goroutines,
		"heapAlloc", memSize(s.HeapAlloc),
		"sys", memSize(s.Sys),
		"gcCycles", s.NumGC,
		"newGC", newGC,
	)
	for _, st := range s.Stages {
		rp.logger.Infow("stage timing",
			"stage", st.Name,
			"avg", st.Avg.Truncate(time.Microsecond),
			"min", st.Min.Truncate(time.Microsecond),
			"max", st.Max.Truncate(time.Microsecond),
			"count", st.Count,
		)
	}
	for _, m := range s.Metrics {
		rp.logger.Infow("metric", "name", m.Name, "avg", m.Avg, "min", m.Min, "max", m.Max, "samples", m.Samples)
	}
}

var memUnits = [...]string{"KiB", "MiB", "GiB", "TiB", "PiB", "EiB"}

// memSize renders a memory counter with binary units, one decimal above 1KiB.
func memSize(n uint64) string {
	if n < 1<<10 {
		return strconv.FormatUint(n, 10) + " B"
	}
	v := float64(n) / (1 << 10)
	i := 0
	for v >= 1<<10 && i < len(memUnits)-1 {
		v /= 1 << 10
		i++
	}
	return strconv.FormatFloat(v, 'f', 1, 64) + " " + memUnits[i]
}
