// Package benchmark - Measures end to end detection throughput over a corpus
// of still images at different capture resolutions and encodings.
package benchmark

import (
	"fmt"
	"io"
	"os"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-live-detect/images"
)

// Scenario is one benchmark configuration. Every corpus image is encoded in
// Format, then decoded and scaled to Resolution before each detection.
type Scenario struct {
	Name       string             `json:"name"       yaml:"name"`
	Resolution images.Resolution  `json:"resolution" yaml:"resolution"`
	Format     images.ImageFormat `json:"format"     yaml:"format"`
	Iterations int                `json:"iterations" yaml:"iterations"`
	WarmupRuns int                `json:"warmupRuns" yaml:"warmupRuns"`
}

// Validate reports whether the scenario can be run.
func (s Scenario) Validate() error {
	switch {
	case s.Name == "":
		return errors.New("scenario name is required")
	case s.Resolution.Width <= 0 || s.Resolution.Height <= 0:
		return errors.Errorf("scenario %s: invalid resolution %dx%d", s.Name, s.Resolution.Width, s.Resolution.Height)
	case s.Iterations <= 0:
		return errors.Errorf("scenario %s: iterations must be positive", s.Name)
	case s.WarmupRuns < 0:
		return errors.Errorf("scenario %s: warmup runs must not be negative", s.Name)
	}
	switch s.Format {
	case images.FormatJPEG, images.FormatPNG, images.FormatWebP:
		return nil
	}
	return errors.Wrapf(images.ErrUnsupportedFormat, "scenario %s: %q", s.Name, s.Format)
}

// ScenarioSet is a named collection of scenarios.
type ScenarioSet struct {
	Name        string     `json:"name"        yaml:"name"`
	Description string     `json:"description" yaml:"description"`
	Scenarios   []Scenario `json:"scenarios"   yaml:"scenarios"`
}

// NewScenario returns a scenario named after its resolution and format.
func NewScenario(res images.Resolution, format images.ImageFormat, iterations, warmup int) Scenario {
	name := res.Name
	if name == "" {
		name = fmt.Sprintf("%dx%d", res.Width, res.Height)
	}
	return Scenario{
		Name:       fmt.Sprintf("%s_%s", name, format),
		Resolution: res,
		Format:     format,
		Iterations: iterations,
		WarmupRuns: warmup,
	}
}

// QuickScenarios covers two common resolutions with JPEG input.
func QuickScenarios() ScenarioSet {
	set := ScenarioSet{
		Name:        "quick",
		Description: "Common camera resolutions with JPEG input",
	}
	for _, name := range []string{"vga", "720p"} {
		res, _ := images.ParseResolution(name)
		set.Scenarios = append(set.Scenarios, NewScenario(res, images.FormatJPEG, 50, 5))
	}
	return set
}

// ComprehensiveScenarios crosses every named resolution with every writable format.
func ComprehensiveScenarios() ScenarioSet {
	set := ScenarioSet{
		Name:        "comprehensive",
		Description: "All named resolutions crossed with JPEG, PNG and WebP input",
	}
	for _, res := range images.Resolutions() {
		for _, format := range []images.ImageFormat{images.FormatJPEG, images.FormatPNG, images.FormatWebP} {
			set.Scenarios = append(set.Scenarios, NewScenario(res, format, 100, 10))
		}
	}
	return set
}

// LoadScenarioSet reads a YAML scenario set, expanding environment variables.
func LoadScenarioSet(path string) (ScenarioSet, error) {
	b, err := envsubst.ReadFile(path)
	if err != nil {
		return ScenarioSet{}, errors.Wrapf(err, "read scenarios %s", path)
	}

	var set ScenarioSet
	if err := yaml.Unmarshal(b, &set); err != nil {
		return ScenarioSet{}, errors.Wrapf(err, "parse scenarios %s", path)
	}
	if len(set.Scenarios) == 0 {
		return ScenarioSet{}, errors.Errorf("scenarios %s: no scenarios", path)
	}
	for _, s := range set.Scenarios {
		if err := s.Validate(); err != nil {
			return ScenarioSet{}, err
		}
	}
	return set, nil
}

// Save writes the set as YAML.
func (s ScenarioSet) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create scenarios")
	}
	if err := s.Encode(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Encode writes the set as YAML to w.
func (s ScenarioSet) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return errors.Wrap(err, "encode scenarios")
	}
	return enc.Close()
}
