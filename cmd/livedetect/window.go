package main

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"time"

	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-live-detect/images"
)

// window shows annotated frames with the display rate in the corner. Frames
// are offered from the detection loop and shown from the goroutine calling Run.
type window struct {
	win    *gocv.Window
	frames chan *image.RGBA
}

func newWindow(title string) *window {
	return &window{
		win:    gocv.NewWindow(title),
		frames: make(chan *image.RGBA, 1),
	}
}

// Offer queues img for display, replacing a frame that was not shown yet.
func (w *window) Offer(img *image.RGBA) {
	select {
	case w.frames <- img:
		return
	default:
	}
	select {
	case <-w.frames:
	default:
	}
	select {
	case w.frames <- img:
	default:
	}
}

// Run displays frames until ctx is done or the window is closed.
func (w *window) Run(ctx context.Context) {
	green := color.RGBA{0, 255, 0, 0}

	// FPS tracking variables
	fps := 0.0
	frameCount := 0
	lastTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case img := <-w.frames:
			mat, err := images.MatFromImage(img)
			if err != nil {
				continue
			}

			frameCount++
			if elapsed := time.Since(lastTime).Seconds(); elapsed >= 1.0 {
				fps = float64(frameCount) / elapsed
				frameCount = 0
				lastTime = time.Now()
			}
			gocv.PutText(&mat, fmt.Sprintf("FPS: %.2f", fps), image.Pt(10, 24), gocv.FontHersheyPlain, 1.4, green, 2)

			w.win.IMShow(mat)
			mat.Close()
		case <-time.After(50 * time.Millisecond):
		}

		// WaitKey pumps the window's event loop; Esc quits.
		if w.win.WaitKey(1) == 27 || !w.win.IsOpen() {
			return
		}
	}
}

// Close destroys the window.
func (w *window) Close() error {
	return w.win.Close()
}
