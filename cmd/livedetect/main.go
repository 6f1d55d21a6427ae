// Package main is the livedetect command: object detection on still images,
// video files, cameras and image sequences, from the terminal or over HTTP.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-live-detect/config"
	"github.com/nvr-ai/go-live-detect/inference/providers"
	"github.com/nvr-ai/go-live-detect/logging"
	"github.com/nvr-ai/go-live-detect/models"
	"github.com/nvr-ai/go-live-detect/profiler"
	"github.com/nvr-ai/go-live-detect/session"
)

const (
	flagConfig     = "config"
	flagModelBase  = "model-base"
	flagModel      = "model"
	flagCacheDir   = "cache-dir"
	flagConfidence = "confidence"
	flagIoU        = "iou"
	flagProvider   = "provider"
	flagLogLevel   = "log-level"
	flagDebug      = "debug"
	flagProfile    = "profile"

	flagOut    = "out"
	flagShow   = "show"
	flagDevice = "device"
	flagWidth  = "width"
	flagHeight = "height"
	flagFPS    = "fps"
	flagLoop   = "loop"
	flagAddr   = "addr"
	flagCamera = "camera"
	flagVideo  = "video"

	flagResolution = "resolution"
	flagCorpus     = "images"
	flagScenarios  = "scenarios"
	flagFormat     = "format"
	flagIterations = "iterations"
	flagWarmup     = "warmup"
	flagOutputDir  = "output"
	flagWriteSet   = "write-scenarios"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "livedetect:", err)
		os.Exit(1)
	}
}

// env returns the environment variable bound to a flag.
func env(flag string) []string {
	return []string{"LIVEDETECT_" + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))}
}

func newApp(stdout io.Writer) *cli.App {
	return &cli.App{
		Name:      "livedetect",
		Usage:     "live object detection with YOLO models",
		Writer:    stdout,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: flagConfig, Aliases: []string{"c"}, EnvVars: env(flagConfig), Usage: "load configuration from `FILE`"},
			&cli.StringFlag{Name: flagModelBase, EnvVars: env(flagModelBase), Usage: "directory or http(s) URL holding {model}_web_model directories"},
			&cli.StringFlag{Name: flagModel, Aliases: []string{"m"}, EnvVars: env(flagModel), Usage: "model id to load"},
			&cli.StringFlag{Name: flagCacheDir, EnvVars: env(flagCacheDir), Usage: "cache directory for downloaded weights"},
			&cli.Float64Flag{Name: flagConfidence, EnvVars: env(flagConfidence), Usage: "minimum detection confidence"},
			&cli.Float64Flag{Name: flagIoU, EnvVars: env(flagIoU), Usage: "non-maximum suppression IoU threshold"},
			&cli.StringFlag{Name: flagProvider, EnvVars: env(flagProvider), Usage: "onnxruntime execution provider: cpu, cuda, coreml or openvino"},
			&cli.StringFlag{Name: flagLogLevel, EnvVars: env(flagLogLevel), Usage: "debug, info, warn or error"},
			&cli.BoolFlag{Name: flagDebug, EnvVars: env(flagDebug), Usage: "human readable debug logging"},
			&cli.BoolFlag{Name: flagProfile, EnvVars: env(flagProfile), Usage: "log runtime and stage timings periodically"},
		},
		Commands: []*cli.Command{
			{
				Name:   "models",
				Usage:  "list the selectable models",
				Action: runModels,
			},
			{
				Name:      "image",
				Usage:     "detect objects in a still image",
				ArgsUsage: "IMAGE",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagOut, Aliases: []string{"o"}, Usage: "write the annotated image to `FILE` (.png or .jpg)"},
				},
				Action: runImage,
			},
			{
				Name:      "video",
				Usage:     "detect objects in a video file",
				ArgsUsage: "VIDEO",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: flagShow, Usage: "display annotated frames in a window"},
				},
				Action: runVideo,
			},
			{
				Name:  "camera",
				Usage: "detect objects on a live camera",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: flagDevice, EnvVars: env("camera-device"), Usage: "capture device id"},
					&cli.IntFlag{Name: flagWidth, Value: 640, Usage: "requested capture width"},
					&cli.IntFlag{Name: flagHeight, Value: 480, Usage: "requested capture height"},
					&cli.StringFlag{Name: flagResolution, Usage: "requested capture resolution by name (720p, 1080p, ...) or WIDTHxHEIGHT, overrides --width and --height"},
					&cli.BoolFlag{Name: flagShow, Usage: "display annotated frames in a window"},
				},
				Action: runCamera,
			},
			{
				Name:      "sequence",
				Usage:     "detect objects in a directory of frame-N images",
				ArgsUsage: "DIR",
				Flags: []cli.Flag{
					&cli.Float64Flag{Name: flagFPS, Value: 30, Usage: "playback rate, 0 plays as fast as possible"},
					&cli.BoolFlag{Name: flagLoop, Usage: "restart at the first frame after the last"},
				},
				Action: runSequence,
			},
			{
				Name:  "serve",
				Usage: "serve the HTTP and websocket API",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagAddr, EnvVars: env("server-addr"), Usage: "listen address"},
					&cli.IntFlag{Name: flagCamera, Value: -1, EnvVars: env("camera-device"), Usage: "camera device offered on /api/stream, -1 for none"},
					&cli.StringFlag{Name: flagVideo, EnvVars: env("video"), Usage: "video file offered on /api/stream"},
				},
				Action: runServe,
			},
			{
				Name:  "bench",
				Usage: "measure detection throughput over a corpus of images",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagCorpus, Aliases: []string{"i"}, Usage: "image `FILE` or directory of images to detect on"},
					&cli.StringFlag{Name: flagScenarios, Usage: "YAML scenario set `FILE`; without it scenarios come from the flags below"},
					&cli.StringSliceFlag{Name: flagResolution, Aliases: []string{"r"}, Value: cli.NewStringSlice("vga", "720p"), Usage: "resolutions to scale the corpus to"},
					&cli.StringSliceFlag{Name: flagFormat, Value: cli.NewStringSlice("jpeg"), Usage: "encodings to decode the corpus from: jpeg, png or webp"},
					&cli.IntFlag{Name: flagIterations, Value: 50, Usage: "measured detections per scenario"},
					&cli.IntFlag{Name: flagWarmup, Value: 5, Usage: "unmeasured detections before each scenario"},
					&cli.StringFlag{Name: flagOutputDir, Value: "./benchmark_results", Usage: "directory receiving the JSON and CSV reports"},
					&cli.StringFlag{Name: flagWriteSet, Usage: "write the resolved scenario set to `FILE` and exit"},
				},
				Action: runBench,
			},
		},
	}
}

// loadConfig reads the configuration file, if any, and applies flag overrides.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := c.String(flagConfig); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return config.Config{}, err
		}
	}

	if c.IsSet(flagModelBase) {
		cfg.ModelBase = c.String(flagModelBase)
	}
	if c.IsSet(flagModel) {
		cfg.ModelID = c.String(flagModel)
	}
	if c.IsSet(flagCacheDir) {
		cfg.CacheDir = c.String(flagCacheDir)
	}
	if c.IsSet(flagConfidence) {
		cfg.ConfidenceThreshold = float32(c.Float64(flagConfidence))
	}
	if c.IsSet(flagIoU) {
		cfg.IoUThreshold = float32(c.Float64(flagIoU))
	}
	if c.IsSet(flagProvider) {
		cfg.Provider.Backend = providers.ProviderBackend(c.String(flagProvider))
	}
	if c.IsSet(flagLogLevel) {
		cfg.Log.Level = c.String(flagLogLevel)
	}
	if c.Bool(flagDebug) {
		cfg.Log.Level = "debug"
		cfg.Log.Development = true
	}
	if c.Bool(flagProfile) {
		cfg.Profiler.Enabled = true
	}
	return cfg, errors.Wrap(cfg.Validate(), "invalid configuration")
}

// command bundles what every detecting command needs.
type command struct {
	cfg      config.Config
	logger   *zap.SugaredLogger
	profiler *profiler.RuntimeProfiler
}

func newCommand(c *cli.Context) (*command, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}

	cmd := &command{cfg: cfg, logger: logger}
	if cfg.Profiler.Enabled {
		opts := cfg.ProfilingOptions()
		opts.Logger = logger.Named("profiler")
		cmd.profiler = profiler.NewRuntimeProfiler(opts)
		cmd.profiler.Start()
	}
	return cmd, nil
}

func (cmd *command) close() {
	if cmd.profiler != nil {
		cmd.profiler.Stop()
		cmd.profiler.Report()
	}
	_ = cmd.logger.Sync()
}

// newSession builds a session around the configured loader.
func (cmd *command) newSession(opts session.Options) (*session.Session, error) {
	registry := models.DefaultRegistry()
	opts.Registry = registry
	opts.Loader = &models.Loader{
		Base:     cmd.cfg.ModelBase,
		CacheDir: cmd.cfg.CacheDir,
		Backends: session.DefaultBackends(cmd.cfg.Provider),
		Registry: registry,
		Logger:   cmd.logger.Named("loader"),
	}
	opts.Pipeline = cmd.cfg.Pipeline()
	opts.Logger = cmd.logger
	if cmd.profiler != nil {
		opts.Recorder = cmd.profiler
	}
	return session.New(opts)
}

// printProgress writes loading progress once per whole percent, and the
// final state.
func printProgress(out io.Writer) func(session.LoadingState) {
	last := -1
	return func(st session.LoadingState) {
		step := int(st.Progress * 100)
		if st.ModelID == "" || (st.Loading && step == last) {
			return
		}
		last = step
		fmt.Fprintln(out, st.String())
	}
}

// loadModel selects id and waits until it is loaded or failed.
func loadModel(ctx context.Context, sess *session.Session, id string) error {
	if err := sess.SelectModel(ctx, id); err != nil {
		return err
	}
	_, err := sess.WaitModel(ctx)
	return err
}
