// Package pipeline - The continuous capture, inference and render loop.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-live-detect/capture"
	"github.com/nvr-ai/go-live-detect/images"
	"github.com/nvr-ai/go-live-detect/inference"
	"github.com/nvr-ai/go-live-detect/models/model/preprocess"
	"github.com/nvr-ai/go-live-detect/models/postprocess"
	"github.com/nvr-ai/go-live-detect/profiler"
	"github.com/nvr-ai/go-live-detect/render"
)

// State is the lifecycle state of a FrameLoop.
type State int32

const (
	// StateIdle is a loop that has not started.
	StateIdle State = iota
	// StateRunning is a loop cycling over a source.
	StateRunning
	// StateStopped is a loop that was stopped or whose source ended.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

var (
	// ErrNotIdle is returned when starting a loop that is not idle.
	ErrNotIdle = errors.New("frame loop is not idle")
	// ErrRunning is returned when resetting a running loop.
	ErrRunning = errors.New("frame loop is running")
)

// Config holds the tunables of a FrameLoop.
type Config struct {
	// ConfidenceThreshold discards weaker detections.
	ConfidenceThreshold float32 `json:"confidenceThreshold" yaml:"confidenceThreshold"`
	// IoUThreshold is the NMS overlap limit.
	IoUThreshold float32 `json:"iouThreshold" yaml:"iouThreshold"`
	// ClassAgnostic suppresses overlaps across classes.
	ClassAgnostic bool `json:"classAgnostic" yaml:"classAgnostic"`
	// MaxDetections caps detections per frame. 0 keeps all.
	MaxDetections int `json:"maxDetections" yaml:"maxDetections"`
	// RefreshRate is the scheduler rate in ticks per second.
	RefreshRate float64 `json:"refreshRate" yaml:"refreshRate"`
	// Preprocess configures input preparation. Its layout is taken from the model.
	Preprocess preprocess.Config `json:"-" yaml:"-"`
	// Render configures the overlay.
	Render render.Options `json:"-" yaml:"-"`
}

// DefaultConfig returns confidence 0.25, IoU 0.45 and a 60 Hz refresh.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.25,
		IoUThreshold:        0.45,
		MaxDetections:       100,
		RefreshRate:         DefaultRefreshRate,
		Preprocess:          preprocess.DefaultConfig(),
		Render:              render.DefaultOptions(),
	}
}

// Timings are the durations of each stage of a cycle.
type Timings struct {
	Capture    time.Duration `json:"capture"`
	Preprocess time.Duration `json:"preprocess"`
	Execute    time.Duration `json:"execute"`
	Decode     time.Duration `json:"decode"`
	Render     time.Duration `json:"render"`
	Total      time.Duration `json:"total"`
}

// CycleResult is the outcome of one cycle. Frame and Overlay are only valid
// during the OnCycle callback.
type CycleResult struct {
	Sequence   int64                   `json:"sequence"`
	FrameSize  image.Point             `json:"frameSize"`
	Detections []postprocess.Detection `json:"detections"`
	Timings    Timings                 `json:"timings"`
	Frame      *images.Frame           `json:"-"`
	Overlay    *image.RGBA             `json:"-"`
	Err        error                   `json:"-"`
}

// Option customises a FrameLoop.
type Option func(*FrameLoop)

// WithScheduler replaces the default ticker scheduler.
func WithScheduler(s Scheduler) Option {
	return func(l *FrameLoop) { l.scheduler = s }
}

// WithClock sets the clock used for timings and the default scheduler.
func WithClock(c clock.Clock) Option {
	return func(l *FrameLoop) { l.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(l *FrameLoop) { l.logger = logger }
}

// WithLedger shares a ledger across loops.
func WithLedger(ledger *inference.Ledger) Option {
	return func(l *FrameLoop) { l.ledger = ledger }
}

// WithRecorder reports stage timings.
func WithRecorder(r profiler.Recorder) Option {
	return func(l *FrameLoop) { l.recorder = r }
}

// WithOnCycle registers a callback invoked after every cycle, once the
// cycle's tensors have been released.
func WithOnCycle(fn func(CycleResult)) Option {
	return func(l *FrameLoop) { l.onCycle = fn }
}

// FrameLoop repeatedly captures a frame, runs the model on it and draws the
// detections. Cycles never overlap. Every tensor created in a cycle is
// released before the next one starts.
type FrameLoop struct {
	model    *inference.ModelHandle
	cfg      Config
	pre      *preprocess.Preprocessor
	renderer *render.Renderer

	scheduler Scheduler
	ownTicker *TickerScheduler
	clock     clock.Clock
	logger    *zap.SugaredLogger
	ledger    *inference.Ledger
	recorder  profiler.Recorder
	onCycle   func(CycleResult)

	state atomic.Int32
	seq   atomic.Int64

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	surface *image.RGBA
}

// NewFrameLoop creates an idle loop for model.
//
// Arguments:
//   - model: The loaded model. The loop does not close it.
//   - cfg: Thresholds, refresh rate, preprocessing and rendering options.
//   - opts: Optional scheduler, clock, logger, ledger, recorder and callback.
//
// Returns:
//   - *FrameLoop: The loop, in StateIdle.
//   - error: An error if the preprocessing configuration is invalid.
func NewFrameLoop(model *inference.ModelHandle, cfg Config, opts ...Option) (*FrameLoop, error) {
	if model == nil {
		return nil, errors.New("frame loop: nil model")
	}

	l := &FrameLoop{model: model, cfg: cfg}
	for _, opt := range opts {
		opt(l)
	}
	if l.clock == nil {
		l.clock = clock.New()
	}
	if l.logger == nil {
		l.logger = zap.NewNop().Sugar()
	}
	if l.ledger == nil {
		l.ledger = inference.NewLedger()
	}
	if l.scheduler == nil {
		l.ownTicker = NewTickerScheduler(l.clock, cfg.RefreshRate)
		l.scheduler = l.ownTicker
	}

	pc := cfg.Preprocess
	pc.Layout = model.Layout()
	pre, err := preprocess.NewPreprocessor(pc)
	if err != nil {
		return nil, err
	}
	l.pre = pre
	l.renderer = render.NewRenderer(cfg.Render)

	return l, nil
}

// State returns the current state.
func (l *FrameLoop) State() State {
	return State(l.state.Load())
}

// Ledger returns the ledger tracking the loop's tensors.
func (l *FrameLoop) Ledger() *inference.Ledger {
	return l.ledger
}

// Done is closed when the current Run returns. It is nil before the first Run.
func (l *FrameLoop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// RunOnce runs a single cycle on src and leaves the loop stopped. It is the
// mode used for still images.
func (l *FrameLoop) RunOnce(ctx context.Context, src capture.Source) (CycleResult, error) {
	if !l.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return CycleResult{}, ErrNotIdle
	}
	defer l.state.Store(int32(StateStopped))

	if !src.Active() {
		return CycleResult{}, capture.ErrSourceInactive
	}
	res := l.cycle(ctx, src)
	return res, res.Err
}

// Run cycles over src until it becomes inactive, Stop is called or ctx is
// done. On every scheduler tick an inactive source stops the loop, a source
// without a ready frame is skipped, and otherwise one full cycle runs.
// Per-cycle errors are logged and the loop carries on.
//
// Returns:
//   - error: ctx's error when ctx ended the loop, ErrNotIdle when the loop was
//     not idle, nil otherwise.
func (l *FrameLoop) Run(ctx context.Context, src capture.Source) error {
	if !l.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrNotIdle
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.mu.Lock()
	l.cancel = cancel
	l.done = done
	l.mu.Unlock()

	defer func() {
		cancel()
		l.state.Store(int32(StateStopped))
		close(done)
	}()

	log := l.logger.With("model", l.model.ID(), "source", src.Kind())
	log.Infow("frame loop started")

	for {
		if err := l.scheduler.Wait(loopCtx); err != nil {
			if ctx.Err() != nil {
				log.Infow("frame loop cancelled")
				return ctx.Err()
			}
			log.Infow("frame loop stopped")
			return nil
		}
		if l.State() != StateRunning {
			log.Infow("frame loop stopped")
			return nil
		}
		if !src.Active() {
			log.Infow("source inactive")
			return nil
		}
		if !src.Ready() {
			continue
		}

		// The cycle survives Stop so its tensors are released in order.
		res := l.cycle(context.WithoutCancel(loopCtx), src)
		switch {
		case errors.Is(res.Err, capture.ErrSourceInactive):
			log.Infow("source inactive")
			return nil
		case res.Err != nil:
			log.Warnw("cycle failed", "sequence", res.Sequence, "error", res.Err)
		}
	}
}

// Stop moves a running loop to StateStopped. A cycle in flight completes and
// releases its tensors; no further cycle starts.
func (l *FrameLoop) Stop() {
	l.state.CompareAndSwap(int32(StateRunning), int32(StateStopped))

	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Reset returns a stopped loop to StateIdle so it can run again.
func (l *FrameLoop) Reset() error {
	if l.State() == StateRunning {
		return ErrRunning
	}
	if done := l.Done(); done != nil {
		<-done
	}
	l.state.Store(int32(StateIdle))
	return nil
}

// Close stops the loop and its default scheduler.
func (l *FrameLoop) Close() {
	l.Stop()
	if done := l.Done(); done != nil {
		<-done
	}
	if l.ownTicker != nil {
		l.ownTicker.Stop()
	}
}

// cycle runs capture, preprocess, execute, decode and render inside one
// ledger scope.
func (l *FrameLoop) cycle(ctx context.Context, src capture.Source) (res CycleResult) {
	res.Sequence = l.seq.Add(1)
	start := l.clock.Now()

	defer func() {
		if r := recover(); r != nil {
			res.Err = errors.Errorf("cycle %d panicked: %v", res.Sequence, r)
		}
		res.Timings.Total = l.clock.Since(start)
		l.record("cycle", res.Timings.Total)
		if l.onCycle != nil {
			l.onCycle(res)
		}
	}()

	res.Err = l.ledger.Scope(func(s *inference.Scope) error {
		t := l.clock.Now()
		frame, err := src.Frame(ctx)
		res.Timings.Capture = l.stage("capture", &t)
		if err != nil {
			return errors.Wrap(err, "capture")
		}
		res.Frame = frame
		res.FrameSize = frame.Size()

		input, lb, err := l.pre.PrepareInto(s, frame, l.model.FeedShape())
		res.Timings.Preprocess = l.stage("preprocess", &t)
		if err != nil {
			return err
		}

		raw, err := l.model.Execute(ctx, s, input)
		res.Timings.Execute = l.stage("execute", &t)
		if err != nil {
			return err
		}

		dets, err := postprocess.Decode(raw, lb, frame.Size(), l.decodeOptions())
		res.Timings.Decode = l.stage("decode", &t)
		if err != nil {
			return err
		}
		res.Detections = dets

		surface := l.surfaceFor(frame.Size())
		err = l.renderer.Draw(dets, surface, frame.Size())
		res.Timings.Render = l.stage("render", &t)
		if err != nil {
			return err
		}
		res.Overlay = surface
		return nil
	})
	return res
}

// stage records the time since *t under name and resets *t.
func (l *FrameLoop) stage(name string, t *time.Time) time.Duration {
	now := l.clock.Now()
	d := now.Sub(*t)
	*t = now
	l.record(name, d)
	return d
}

func (l *FrameLoop) record(name string, d time.Duration) {
	if l.recorder != nil {
		l.recorder.RecordStage(name, d)
	}
}

func (l *FrameLoop) decodeOptions() postprocess.Options {
	return postprocess.Options{
		ConfidenceThreshold: l.cfg.ConfidenceThreshold,
		NMS: postprocess.NMSConfig{
			IoUThreshold:  l.cfg.IoUThreshold,
			ClassAgnostic: l.cfg.ClassAgnostic,
			MaxDetections: l.cfg.MaxDetections,
		},
		Format:          l.model.Format(),
		Labels:          l.model.Labels(),
		NormalizedBoxes: l.model.NormalizedBoxes(),
	}
}

// surfaceFor returns the overlay for a frame size, reallocating it when the
// size changes.
func (l *FrameLoop) surfaceFor(size image.Point) *image.RGBA {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.surface == nil || l.surface.Bounds().Size() != size {
		l.surface = render.NewSurface(size)
	}
	return l.surface
}
