package capture

import (
	"context"
	"strconv"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-live-detect/images"
)

// ErrEmptyFrame is returned when a device delivers an empty frame. The source
// stays active.
var ErrEmptyFrame = errors.New("empty frame")

// VideoOptions configures camera and video file sources.
type VideoOptions struct {
	// Width and Height request a capture size from cameras. 0 keeps the device default.
	Width, Height int
	// Realtime paces video files at their native frame rate, dropping frames
	// that were not consumed in time.
	Realtime bool
	// Clock drives pacing. Nil uses the wall clock.
	Clock clock.Clock
}

// DefaultVideoOptions plays files in real time.
func DefaultVideoOptions() VideoOptions {
	return VideoOptions{Realtime: true}
}

// VideoCapture reads frames from an OpenCV capture: a camera or a video file.
type VideoCapture struct {
	kind  Kind
	name  string
	pacer *pacer

	mu     sync.Mutex
	cap    *gocv.VideoCapture
	mat    gocv.Mat
	active bool
}

// OpenCamera opens a capture device.
//
// Arguments:
//   - deviceID: The device index, 0 for the default camera.
//   - opts: Capture options. Pacing does not apply to cameras.
//
// Returns:
//   - *VideoCapture: The source.
//   - error: An error if the device cannot be opened.
func OpenCamera(deviceID int, opts VideoOptions) (*VideoCapture, error) {
	vc, err := gocv.OpenVideoCapture(deviceID)
	if err != nil {
		return nil, errors.Wrapf(err, "open camera %d", deviceID)
	}
	if opts.Width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(opts.Width))
	}
	if opts.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(opts.Height))
	}

	return &VideoCapture{
		kind:   KindCamera,
		name:   "camera " + strconv.Itoa(deviceID),
		cap:    vc,
		mat:    gocv.NewMat(),
		active: true,
	}, nil
}

// OpenVideoFile opens a video file.
func OpenVideoFile(path string, opts VideoOptions) (*VideoCapture, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open video %s", path)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, errors.Errorf("open video %s: not readable", path)
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	v := &VideoCapture{
		kind:   KindVideo,
		name:   path,
		cap:    vc,
		mat:    gocv.NewMat(),
		active: true,
	}
	if opts.Realtime {
		v.pacer = newPacer(opts.Clock, vc.Get(gocv.VideoCaptureFPS))
	}
	return v, nil
}

// Kind implements Source.
func (v *VideoCapture) Kind() Kind { return v.kind }

// String returns the device or file name.
func (v *VideoCapture) String() string { return v.name }

// Active implements Source.
func (v *VideoCapture) Active() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.active
}

// Ready implements Source. Paced files are ready once their next frame is due.
func (v *VideoCapture) Ready() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.active {
		return false
	}
	return v.pacer == nil || v.pacer.ready()
}

// Frame reads the current frame. Reaching the end of a file or losing the
// device makes the source inactive.
func (v *VideoCapture) Frame(ctx context.Context) (*images.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.active {
		return nil, ErrSourceInactive
	}

	if v.pacer != nil {
		if skip := v.pacer.advance(); skip > 0 {
			v.cap.Grab(skip)
		}
	}
	if ok := v.cap.Read(&v.mat); !ok {
		v.active = false
		return nil, ErrSourceInactive
	}
	if v.mat.Empty() {
		if v.kind == KindVideo {
			v.active = false
			return nil, ErrSourceInactive
		}
		return nil, ErrEmptyFrame
	}

	return images.FrameFromMat(v.mat)
}

// Close releases the capture.
func (v *VideoCapture) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cap == nil {
		return nil
	}
	v.active = false
	err := v.cap.Close()
	v.mat.Close()
	v.cap = nil
	return errors.Wrapf(err, "close %s", v.name)
}
