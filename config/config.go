// Package config - File based configuration for the live detection tools.
package config

import (
	"bytes"
	"image/color"
	"io"
	"time"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-live-detect/images"
	"github.com/nvr-ai/go-live-detect/inference/providers"
	"github.com/nvr-ai/go-live-detect/models"
	"github.com/nvr-ai/go-live-detect/pipeline"
	"github.com/nvr-ai/go-live-detect/profiler"
)

// DefaultModelBase is where model directories are looked up when no base is configured.
const DefaultModelBase = "./public"

// LogConfig configures the logger.
type LogConfig struct {
	// Level is one of debug, info, warn or error.
	Level string `yaml:"level"`
	// Development switches to the human readable console encoder.
	Development bool `yaml:"development"`
}

// ProfilerConfig configures the runtime profiler.
type ProfilerConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ReportInterval time.Duration `yaml:"reportInterval"`
}

// ServerConfig configures the HTTP front-end.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Config is the complete configuration.
type Config struct {
	// ModelBase is a directory or an http(s) URL holding {modelId}_web_model directories.
	ModelBase string `yaml:"modelBase"`
	// ModelID is the model selected at start up.
	ModelID string `yaml:"modelId"`
	// CacheDir stores downloaded weights. Empty disables caching.
	CacheDir string `yaml:"cacheDir"`

	ConfidenceThreshold float32 `yaml:"confidenceThreshold"`
	IoUThreshold        float32 `yaml:"iouThreshold"`
	MaxDetections       int     `yaml:"maxDetections"`
	// RefreshRate is the number of scheduler ticks per second.
	RefreshRate float64 `yaml:"refreshRate"`
	// LetterboxFill is the grey level used to pad model inputs.
	LetterboxFill *uint8 `yaml:"letterboxFill"`
	// Interpolation names the resize filter used for letterboxing.
	Interpolation string `yaml:"interpolation"`

	Provider providers.Config `yaml:"provider"`
	Log      LogConfig        `yaml:"log"`
	Profiler ProfilerConfig   `yaml:"profiler"`
	Server   ServerConfig     `yaml:"server"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	def := pipeline.DefaultConfig()
	c := Config{
		ConfidenceThreshold: def.ConfidenceThreshold,
		IoUThreshold:        def.IoUThreshold,
	}
	c.Defaults()
	return c
}

// Defaults fills every unset field with its default value. The thresholds
// are left alone since 0 is a valid setting for both; they start from
// Default when a file is loaded.
func (c *Config) Defaults() {
	def := pipeline.DefaultConfig()
	if c.ModelBase == "" {
		c.ModelBase = DefaultModelBase
	}
	if c.ModelID == "" {
		c.ModelID = models.ModelYOLOv8n
	}
	if c.MaxDetections == 0 {
		c.MaxDetections = def.MaxDetections
	}
	if c.RefreshRate == 0 {
		c.RefreshRate = def.RefreshRate
	}
	if c.LetterboxFill == nil {
		fill := uint8(114)
		c.LetterboxFill = &fill
	}
	if c.Interpolation == "" {
		c.Interpolation = "bilinear"
	}
	if c.Provider.Backend == "" {
		// Keep any tuning the file set, only fill the rest.
		p := providers.DefaultConfig()
		p.LibraryPath = c.Provider.LibraryPath
		p.IntraOpThreads = c.Provider.IntraOpThreads
		p.InterOpThreads = c.Provider.InterOpThreads
		if c.Provider.GraphOptimization != "" {
			p.GraphOptimization = c.Provider.GraphOptimization
		}
		c.Provider = p
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Profiler.ReportInterval == 0 {
		c.Profiler.ReportInterval = 10 * time.Second
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1:
		return errors.Errorf("confidenceThreshold must be in [0,1], got %v", c.ConfidenceThreshold)
	case c.IoUThreshold < 0 || c.IoUThreshold > 1:
		return errors.Errorf("iouThreshold must be in [0,1], got %v", c.IoUThreshold)
	case c.MaxDetections < 0:
		return errors.Errorf("maxDetections must not be negative, got %d", c.MaxDetections)
	case c.RefreshRate <= 0:
		return errors.Errorf("refreshRate must be positive, got %v", c.RefreshRate)
	case c.Profiler.ReportInterval < 0:
		return errors.New("profiler.reportInterval must not be negative")
	}
	if _, err := images.ParseInterpolation(c.Interpolation); err != nil {
		return err
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("unknown log level %q", c.Log.Level)
	}
	return errors.Wrap(c.Provider.Validate(), "provider")
}

// Pipeline converts the detection settings into a frame loop configuration.
func (c Config) Pipeline() pipeline.Config {
	p := pipeline.DefaultConfig()
	p.ConfidenceThreshold = c.ConfidenceThreshold
	p.IoUThreshold = c.IoUThreshold
	p.MaxDetections = c.MaxDetections
	p.RefreshRate = c.RefreshRate
	if c.LetterboxFill != nil {
		g := *c.LetterboxFill
		p.Preprocess.LetterboxColor = color.RGBA{R: g, G: g, B: g, A: 0xff}
	}
	if interp, err := images.ParseInterpolation(c.Interpolation); err == nil {
		p.Preprocess.Interpolation = interp
	}
	return p
}

// ProfilingOptions converts the profiler section.
func (c Config) ProfilingOptions() profiler.ProfilingOptions {
	return profiler.ProfilingOptions{ReportInterval: c.Profiler.ReportInterval}
}

// Load reads path, expands ${VAR} references from the environment, applies
// defaults and validates the result.
//
// Arguments:
//   - path: YAML file to read.
//
// Returns:
//   - Config: The loaded configuration.
//   - error: An error if the file cannot be read, parsed or validated.
func Load(path string) (Config, error) {
	buf, err := envsubst.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	return FromReader(bytes.NewReader(buf))
}

// FromReader parses an already expanded YAML document. Keys absent from the
// document keep their Default values.
func FromReader(r io.Reader) (Config, error) {
	c := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrap(err, "parse config")
	}
	c.Defaults()
	if err := c.Validate(); err != nil {
		return Config{}, errors.Wrap(err, "invalid config")
	}
	return c, nil
}
