// Package session - Explicit state of one detection session: the selected
// model, its loading progress, the configured sources and the active loop.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nvr-ai/go-live-detect/capture"
	"github.com/nvr-ai/go-live-detect/images"
	"github.com/nvr-ai/go-live-detect/inference"
	"github.com/nvr-ai/go-live-detect/models"
	"github.com/nvr-ai/go-live-detect/pipeline"
	"github.com/nvr-ai/go-live-detect/profiler"
)

var (
	// ErrNoModel is returned when an operation needs a loaded model.
	ErrNoModel = errors.New("no model selected")
	// ErrModelLoading is returned when the selected model has not finished loading.
	ErrModelLoading = errors.New("model is still loading")
	// ErrNoSource is returned when playing a source kind that was not configured.
	ErrNoSource = errors.New("source not configured")
	// ErrClosed is returned by a closed session.
	ErrClosed = errors.New("session closed")
)

// LoadingState describes the model selection.
type LoadingState struct {
	// ModelID is the selected model, empty when none is.
	ModelID string `json:"modelId"`
	// Loading is true until the model is usable or loading failed.
	Loading bool `json:"loading"`
	// Progress is the loading fraction in [0,1].
	Progress float64 `json:"progress"`
	// InputShape is the loaded model's NHWC input.
	InputShape inference.Shape `json:"inputShape,omitempty"`
	// Err is the terminal loading failure, a *models.ModelLoadError.
	Err error `json:"-"`
}

// String renders the state the way it is shown to users.
func (s LoadingState) String() string {
	switch {
	case s.ModelID == "":
		return "Select model"
	case s.Err != nil:
		return fmt.Sprintf("Failed to load %s: %v", s.ModelID, s.Err)
	case s.Loading:
		return fmt.Sprintf("Loading model... %.2f%%", s.Progress*100)
	}
	return "Serving: " + s.ModelID
}

// Loader loads a model by id. *models.Loader implements it.
type Loader interface {
	Load(ctx context.Context, id string, progress models.Progress) (*inference.ModelHandle, error)
}

// Options configures a Session.
type Options struct {
	// Loader resolves model ids. Required.
	Loader Loader
	// Registry lists the selectable models. Nil uses models.DefaultRegistry.
	Registry *models.Registry
	// Pipeline configures every frame loop.
	Pipeline pipeline.Config
	// Clock drives loop scheduling. Nil uses the wall clock.
	Clock clock.Clock
	// Logger receives session events.
	Logger *zap.SugaredLogger
	// Recorder receives stage timings.
	Recorder profiler.Recorder
	// OnCycle receives every cycle result of a played source.
	OnCycle func(kind capture.Kind, res pipeline.CycleResult)
	// OnLoading receives every loading state change. It runs with the
	// session locked and must not call back into the session.
	OnLoading func(LoadingState)
}

// running is a frame loop started by Play.
type running struct {
	kind   capture.Kind
	cancel context.CancelFunc
	done   chan struct{}
}

// Session replaces global application state with an explicit object. One
// loop runs at a time; starting a source stops the previous loop.
type Session struct {
	opts   Options
	ledger *inference.Ledger
	logger *zap.SugaredLogger

	mu         sync.Mutex
	closed     bool
	model      *inference.ModelHandle
	loading    LoadingState
	loadCancel context.CancelFunc
	loadDone   chan struct{}
	sources    map[capture.Kind]capture.Source
	active     *running

	playMu sync.Mutex
	group  errgroup.Group
}

// New creates a session with no model selected.
func New(opts Options) (*Session, error) {
	if opts.Loader == nil {
		return nil, errors.New("session: nil loader")
	}
	if opts.Registry == nil {
		opts.Registry = models.DefaultRegistry()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Pipeline.RefreshRate <= 0 && opts.Pipeline.ConfidenceThreshold == 0 {
		opts.Pipeline = pipeline.DefaultConfig()
	}

	return &Session{
		opts:    opts,
		ledger:  inference.NewLedger(),
		logger:  opts.Logger,
		sources: map[capture.Kind]capture.Source{},
	}, nil
}

// Models lists the selectable models.
func (s *Session) Models() []models.Entry {
	return s.opts.Registry.List()
}

// Ledger returns the ledger shared by every loop of the session.
func (s *Session) Ledger() *inference.Ledger {
	return s.ledger
}

// SelectModel starts loading id in the background and returns at once. Any
// current model is reset first. Progress is visible through Loading and the
// OnLoading callback; WaitModel blocks until the load resolves.
func (s *Session) SelectModel(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("empty model id")
	}
	// A concurrent SelectModel can start a load, or finish one, between the
	// reset and taking the lock; reset again until the slot is empty.
	for {
		if err := s.ResetModel(); err != nil {
			return err
		}
		s.mu.Lock()
		if s.loadDone == nil && s.model == nil {
			break
		}
		s.mu.Unlock()
	}
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	loadCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	s.loadCancel = cancel
	s.loadDone = done
	s.setLoadingLocked(LoadingState{ModelID: id, Loading: true})

	s.group.Go(func() error {
		defer close(done)
		defer cancel()

		handle, err := s.opts.Loader.Load(loadCtx, id, func(f float64) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.loadDone != done {
				return
			}
			st := s.loading
			st.Progress = f
			s.setLoadingLocked(st)
		})

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.loadDone != done {
			// Reset or reselected while loading.
			if handle != nil {
				handle.Close()
			}
			return nil
		}
		if err != nil {
			s.logger.Errorw("model load failed", "model", id, "error", err)
			s.setLoadingLocked(LoadingState{ModelID: id, Progress: s.loading.Progress, Err: err})
			return nil
		}
		s.model = handle
		s.setLoadingLocked(LoadingState{ModelID: id, Progress: 1, InputShape: handle.InputShape()})
		s.logger.Infow("model ready", "model", id, "inputShape", handle.InputShape().String())
		return nil
	})
	return nil
}

func (s *Session) setLoadingLocked(st LoadingState) {
	s.loading = st
	if s.opts.OnLoading != nil {
		s.opts.OnLoading(st)
	}
}

// Loading returns the current model selection state.
func (s *Session) Loading() LoadingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Model returns the loaded model, or nil.
func (s *Session) Model() *inference.ModelHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// WaitModel blocks until the selected model is loaded or failed.
func (s *Session) WaitModel(ctx context.Context) (*inference.ModelHandle, error) {
	s.mu.Lock()
	done := s.loadDone
	s.mu.Unlock()
	if done == nil {
		return nil, ErrNoModel
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loading.Err != nil {
		return nil, s.loading.Err
	}
	if s.model == nil {
		return nil, ErrNoModel
	}
	return s.model, nil
}

// ResetModel stops the active loop, abandons any load in progress, closes the
// model and returns to the model selection state.
func (s *Session) ResetModel() error {
	s.stopLoop()

	s.mu.Lock()
	cancel, model := s.loadCancel, s.model
	s.loadCancel, s.loadDone, s.model = nil, nil, nil
	if s.loading.ModelID != "" {
		s.setLoadingLocked(LoadingState{})
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if model != nil {
		s.logger.Infow("model reset", "model", model.ID())
		return model.Close()
	}
	return nil
}

// SetImage configures the still image source, closing the previous one.
func (s *Session) SetImage(src *capture.StillImage) error {
	return s.setSource(capture.KindStillImage, src)
}

// SetCamera configures the camera source, closing the previous one.
func (s *Session) SetCamera(src capture.Source) error {
	return s.setSource(capture.KindCamera, src)
}

// SetVideo configures the video source, closing the previous one.
func (s *Session) SetVideo(src capture.Source) error {
	return s.setSource(capture.KindVideo, src)
}

// SetSource configures the source of src's kind, closing the previous one.
func (s *Session) SetSource(src capture.Source) error {
	return s.setSource(src.Kind(), src)
}

func (s *Session) setSource(kind capture.Kind, src capture.Source) error {
	if kind == s.activeKind() {
		s.stopLoop()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return multierr.Append(ErrClosed, closeSource(src))
	}
	prev := s.sources[kind]
	if src == nil {
		delete(s.sources, kind)
	} else {
		s.sources[kind] = src
	}
	s.mu.Unlock()

	if prev != nil && prev != src {
		return prev.Close()
	}
	return nil
}

func closeSource(src capture.Source) error {
	if src == nil {
		return nil
	}
	return src.Close()
}

// Source returns the configured source of kind, or nil.
func (s *Session) Source(kind capture.Kind) capture.Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sources[kind]
}

func (s *Session) activeKind() capture.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ""
	}
	return s.active.kind
}

// Play starts detection on the configured source of kind, stopping any loop
// already running. A still image runs one cycle before Play returns; other
// sources run in the background until they end, Stop is called or ctx is done.
func (s *Session) Play(ctx context.Context, kind capture.Kind) error {
	s.playMu.Lock()
	defer s.playMu.Unlock()
	s.stopLoop()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	model, src := s.model, s.sources[kind]
	loadingNow := s.loading.Loading
	s.mu.Unlock()

	switch {
	case model == nil && loadingNow:
		return ErrModelLoading
	case model == nil:
		return ErrNoModel
	case src == nil:
		return errors.Wrapf(ErrNoSource, "%s", kind)
	}

	loop, err := s.newLoop(model, kind)
	if err != nil {
		return err
	}

	if kind == capture.KindStillImage {
		defer loop.Close()
		_, err := loop.RunOnce(ctx, src)
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r := &running{kind: kind, cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.active = r
	s.mu.Unlock()

	s.group.Go(func() error {
		defer close(r.done)
		defer loop.Close()
		defer cancel()
		if err := loop.Run(loopCtx, src); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warnw("frame loop ended", "source", kind, "error", err)
		}
		s.mu.Lock()
		if s.active == r {
			s.active = nil
		}
		s.mu.Unlock()
		return nil
	})
	return nil
}

// Detect runs one cycle on frame with the loaded model, independently of any
// running loop.
func (s *Session) Detect(ctx context.Context, frame *images.Frame) (pipeline.CycleResult, error) {
	model := s.Model()
	if model == nil {
		if s.Loading().Loading {
			return pipeline.CycleResult{}, ErrModelLoading
		}
		return pipeline.CycleResult{}, ErrNoModel
	}

	src, err := capture.NewStillImageFromFrame(frame)
	if err != nil {
		return pipeline.CycleResult{}, err
	}
	defer src.Close()

	loop, err := pipeline.NewFrameLoop(model, s.opts.Pipeline,
		pipeline.WithScheduler(pipeline.Immediate{}),
		pipeline.WithClock(s.opts.Clock),
		pipeline.WithLogger(s.logger),
		pipeline.WithLedger(s.ledger),
		pipeline.WithRecorder(s.opts.Recorder),
	)
	if err != nil {
		return pipeline.CycleResult{}, err
	}
	defer loop.Close()

	return loop.RunOnce(ctx, src)
}

// Active returns the kind of the running loop's source, empty when none runs.
func (s *Session) Active() capture.Kind {
	return s.activeKind()
}

// Stop stops the active loop and waits for its in-flight cycle.
func (s *Session) Stop() {
	s.stopLoop()
}

func (s *Session) stopLoop() {
	s.mu.Lock()
	r := s.active
	s.active = nil
	s.mu.Unlock()

	if r == nil {
		return
	}
	r.cancel()
	<-r.done
}

// WaitLoop blocks until the active loop ends, typically because its source
// ran out of frames.
func (s *Session) WaitLoop(ctx context.Context) error {
	s.mu.Lock()
	r := s.active
	s.mu.Unlock()
	if r == nil {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return nil
	}
}

func (s *Session) newLoop(model *inference.ModelHandle, kind capture.Kind) (*pipeline.FrameLoop, error) {
	opts := []pipeline.Option{
		pipeline.WithClock(s.opts.Clock),
		pipeline.WithLogger(s.logger),
		pipeline.WithLedger(s.ledger),
	}
	if s.opts.Recorder != nil {
		opts = append(opts, pipeline.WithRecorder(s.opts.Recorder))
	}
	if s.opts.OnCycle != nil {
		onCycle := s.opts.OnCycle
		opts = append(opts, pipeline.WithOnCycle(func(res pipeline.CycleResult) { onCycle(kind, res) }))
	}
	return pipeline.NewFrameLoop(model, s.opts.Pipeline, opts...)
}

// Close resets the model, closes every source and waits for background work.
func (s *Session) Close() error {
	err := s.ResetModel()

	s.mu.Lock()
	s.closed = true
	sources := s.sources
	s.sources = map[capture.Kind]capture.Source{}
	s.mu.Unlock()

	for _, src := range sources {
		err = multierr.Append(err, src.Close())
	}
	return multierr.Append(err, s.group.Wait())
}
