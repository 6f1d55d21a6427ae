package main

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/nvr-ai/go-live-detect/capture"
	"github.com/nvr-ai/go-live-detect/images"
	"github.com/nvr-ai/go-live-detect/models"
	"github.com/nvr-ai/go-live-detect/pipeline"
	"github.com/nvr-ai/go-live-detect/render"
	"github.com/nvr-ai/go-live-detect/server"
	"github.com/nvr-ai/go-live-detect/session"
)

func runModels(c *cli.Context) error {
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tPATH")
	for _, e := range models.DefaultRegistry().List() {
		fmt.Fprintf(tw, "%s\t%s\t%s/\n", e.ID, e.Title, models.ModelDir(e.ID))
	}
	return tw.Flush()
}

// printCycle writes one line per detection.
func printCycle(out io.Writer, kind capture.Kind, res pipeline.CycleResult) {
	if res.Err != nil {
		fmt.Fprintf(out, "%s #%d: error: %v\n", kind, res.Sequence, res.Err)
		return
	}
	fmt.Fprintf(out, "%s #%d: %d detections in %v\n", kind, res.Sequence, len(res.Detections), res.Timings.Total)
	for _, d := range res.Detections {
		fmt.Fprintf(out, "  %s\n", d)
	}
}

func runImage(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.Exit("image: missing IMAGE argument", 2)
	}
	outPath := c.String(flagOut)
	var outFormat images.ImageFormat
	if outPath != "" {
		var err error
		if outFormat, err = images.FormatFromPath(outPath); err != nil {
			return err
		}
	}

	cmd, err := newCommand(c)
	if err != nil {
		return err
	}
	defer cmd.close()

	var saveErr error
	out := c.App.Writer
	sess, err := cmd.newSession(session.Options{
		OnLoading: printProgress(out),
		OnCycle: func(kind capture.Kind, res pipeline.CycleResult) {
			printCycle(out, kind, res)
			if outPath != "" && res.Err == nil {
				saveErr = saveImage(outPath, outFormat, render.Compose(res.Frame, res.Overlay))
			}
		},
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	img, err := capture.NewStillImage(path)
	if err != nil {
		return err
	}
	if err := sess.SetImage(img); err != nil {
		return err
	}
	if err := loadModel(c.Context, sess, cmd.cfg.ModelID); err != nil {
		return err
	}
	if err := sess.Play(c.Context, capture.KindStillImage); err != nil {
		return err
	}
	return saveErr
}

func saveImage(path string, format images.ImageFormat, img *image.RGBA) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create output")
	}
	if err := images.Encode(f, img, format); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// playLoop plays src until it ends or the command is interrupted, optionally
// showing annotated frames in a window.
func playLoop(c *cli.Context, src capture.Source, show bool) error {
	cmd, err := newCommand(c)
	if err != nil {
		src.Close()
		return err
	}
	defer cmd.close()

	out := c.App.Writer
	var win *window
	if show {
		win = newWindow(fmt.Sprintf("livedetect: %s", src.Kind()))
		defer win.Close()
	}

	sess, err := cmd.newSession(session.Options{
		OnLoading: printProgress(out),
		OnCycle: func(kind capture.Kind, res pipeline.CycleResult) {
			printCycle(out, kind, res)
			if win != nil && res.Frame != nil {
				win.Offer(render.Compose(res.Frame, res.Overlay))
			}
		},
	})
	if err != nil {
		src.Close()
		return err
	}
	defer sess.Close()

	if err := sess.SetSource(src); err != nil {
		return err
	}
	if err := loadModel(c.Context, sess, cmd.cfg.ModelID); err != nil {
		return err
	}
	if err := sess.Play(c.Context, src.Kind()); err != nil {
		return err
	}

	if win != nil {
		// The window must be driven from this goroutine.
		ctx, cancel := context.WithCancel(c.Context)
		defer cancel()
		go func() {
			_ = sess.WaitLoop(ctx)
			cancel()
		}()
		win.Run(ctx)
		sess.Stop()
		return nil
	}

	err = sess.WaitLoop(c.Context)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runVideo(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.Exit("video: missing VIDEO argument", 2)
	}
	src, err := capture.OpenVideoFile(path, capture.DefaultVideoOptions())
	if err != nil {
		return err
	}
	return playLoop(c, src, c.Bool(flagShow))
}

func runCamera(c *cli.Context) error {
	opts := capture.DefaultVideoOptions()
	opts.Width = c.Int(flagWidth)
	opts.Height = c.Int(flagHeight)
	if name := c.String(flagResolution); name != "" {
		res, err := images.ParseResolution(name)
		if err != nil {
			return err
		}
		opts.Width, opts.Height = res.Size()
	}
	src, err := capture.OpenCamera(c.Int(flagDevice), opts)
	if err != nil {
		return err
	}
	return playLoop(c, src, c.Bool(flagShow))
}

func runSequence(c *cli.Context) error {
	dir := c.Args().First()
	if dir == "" {
		return cli.Exit("sequence: missing DIR argument", 2)
	}
	src, err := capture.OpenImageSequence(dir, capture.SequenceOptions{
		FPS:  c.Float64(flagFPS),
		Loop: c.Bool(flagLoop),
	})
	if err != nil {
		return err
	}
	return playLoop(c, src, false)
}

func runServe(c *cli.Context) error {
	cmd, err := newCommand(c)
	if err != nil {
		return err
	}
	defer cmd.close()

	hub := server.NewHub(cmd.logger.Named("hub"))
	sess, err := cmd.newSession(session.Options{OnCycle: hub.Publish})
	if err != nil {
		return err
	}
	defer sess.Close()

	if dev := c.Int(flagCamera); dev >= 0 {
		cam, err := capture.OpenCamera(dev, capture.DefaultVideoOptions())
		if err != nil {
			return err
		}
		if err := sess.SetCamera(cam); err != nil {
			return err
		}
	}
	if path := c.String(flagVideo); path != "" {
		video, err := capture.OpenVideoFile(path, capture.DefaultVideoOptions())
		if err != nil {
			return err
		}
		if err := sess.SetVideo(video); err != nil {
			return err
		}
	}
	if cmd.cfg.ModelID != "" {
		if err := sess.SelectModel(c.Context, cmd.cfg.ModelID); err != nil {
			return err
		}
	}

	addr := cmd.cfg.Server.Addr
	if c.IsSet(flagAddr) {
		addr = c.String(flagAddr)
	}
	srv := server.New(sess, hub, server.Options{
		Logger:   cmd.logger.Named("server"),
		Profiler: cmd.profiler,
	})
	return srv.Run(c.Context, addr)
}
