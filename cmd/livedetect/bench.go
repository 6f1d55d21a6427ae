package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/nvr-ai/go-live-detect/benchmark"
	"github.com/nvr-ai/go-live-detect/images"
	"github.com/nvr-ai/go-live-detect/session"
)

// benchScenarios resolves the scenario set from --scenarios, or from the
// resolution and format flags.
func benchScenarios(c *cli.Context) (benchmark.ScenarioSet, error) {
	if path := c.String(flagScenarios); path != "" {
		return benchmark.LoadScenarioSet(path)
	}

	set := benchmark.ScenarioSet{Name: "cli"}
	for _, name := range c.StringSlice(flagResolution) {
		res, err := images.ParseResolution(name)
		if err != nil {
			return benchmark.ScenarioSet{}, err
		}
		for _, format := range c.StringSlice(flagFormat) {
			s := benchmark.NewScenario(res, images.ImageFormat(format), c.Int(flagIterations), c.Int(flagWarmup))
			if err := s.Validate(); err != nil {
				return benchmark.ScenarioSet{}, err
			}
			set.Scenarios = append(set.Scenarios, s)
		}
	}
	if len(set.Scenarios) == 0 {
		return benchmark.ScenarioSet{}, errors.New("bench: no scenarios")
	}
	return set, nil
}

func runBench(c *cli.Context) error {
	set, err := benchScenarios(c)
	if err != nil {
		return err
	}
	if path := c.String(flagWriteSet); path != "" {
		return set.Save(path)
	}

	corpusPath := c.String(flagCorpus)
	if corpusPath == "" {
		return cli.Exit("bench: --images is required", 2)
	}
	corpus, err := benchmark.LoadCorpus(corpusPath)
	if err != nil {
		return err
	}

	cmd, err := newCommand(c)
	if err != nil {
		return err
	}
	defer cmd.close()

	out := c.App.Writer
	sess, err := cmd.newSession(session.Options{OnLoading: printProgress(out)})
	if err != nil {
		return err
	}
	defer sess.Close()
	if err := loadModel(c.Context, sess, cmd.cfg.ModelID); err != nil {
		return err
	}

	suite, err := benchmark.NewSuite(sess, corpus, benchmark.Options{
		OutputDir: c.String(flagOutputDir),
		Logger:    cmd.logger.Named("bench"),
	})
	if err != nil {
		return err
	}
	runErr := suite.RunAll(c.Context, set)

	printResults(out, suite.Results())
	if len(suite.Results()) > 0 {
		jsonPath, csvPath, err := suite.SaveResults()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "results: %s\nsummary: %s\n", jsonPath, csvPath)
	}
	return runErr
}

func printResults(out io.Writer, results []benchmark.PerformanceMetrics) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCENARIO\tFPS\tDECODE\tPREPROCESS\tEXECUTE\tPOSTPROCESS\tDETECTIONS\tERRORS")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%.2f\t%v\t%v\t%v\t%v\t%d\t%.1f%%\n",
			r.Scenario.Name, r.FramesPerSecond,
			r.Stages.Decode, r.Stages.Preprocess, r.Stages.Execute, r.Stages.Postproc,
			r.DetectionCount, r.ErrorRate*100)
	}
	_ = tw.Flush()
}
