package capture

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-live-detect/images"
)

// SequenceFile is one frame of an image sequence.
type SequenceFile struct {
	// Path is the path to the image file.
	Path string
	// Index is the frame number parsed from the file name.
	Index int
}

// ListSequence returns the frame-N image files of dir ordered by N.
//
// Arguments:
//   - dir: Directory containing files named frame-<N>.<ext>.
//
// Returns:
//   - []SequenceFile: The frames, ascending.
//   - error: An error if the directory cannot be read or a frame name is malformed.
func ListSequence(dir string) ([]SequenceFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "read sequence dir")
	}

	var files []SequenceFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		name := e.Name()
		ext := filepath.Ext(name)
		if _, err := images.FormatFromPath(name); err != nil {
			continue
		}
		index, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "frame-"), ext))
		if err != nil {
			return nil, errors.Wrapf(err, "frame number of %s", name)
		}
		files = append(files, SequenceFile{Path: filepath.Join(dir, name), Index: index})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Index < files[j].Index
	})

	return files, nil
}

// SequenceOptions configures an ImageSequence.
type SequenceOptions struct {
	// FPS paces the sequence. 0 hands out frames as fast as they are asked for.
	FPS float64
	// Loop restarts from the first frame after the last.
	Loop bool
	// Clock drives pacing. Nil uses the wall clock.
	Clock clock.Clock
}

// ImageSequence plays back a directory of numbered frames. Frames are decoded
// lazily, one per Frame call.
type ImageSequence struct {
	files    []SequenceFile
	opts     SequenceOptions
	interval time.Duration

	mu     sync.Mutex
	next   int
	last   time.Time
	closed bool
}

// OpenImageSequence lists dir and prepares playback.
func OpenImageSequence(dir string, opts SequenceOptions) (*ImageSequence, error) {
	files, err := ListSequence(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no frames in %s", dir)
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	s := &ImageSequence{files: files, opts: opts}
	if opts.FPS > 0 {
		s.interval = time.Duration(float64(time.Second) / opts.FPS)
	}
	return s, nil
}

// Kind implements Source.
func (s *ImageSequence) Kind() Kind { return KindImageSequence }

// Len returns the number of frames.
func (s *ImageSequence) Len() int { return len(s.files) }

// Active implements Source.
func (s *ImageSequence) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked()
}

func (s *ImageSequence) activeLocked() bool {
	return !s.closed && (s.opts.Loop || s.next < len(s.files))
}

// Ready reports whether the next frame is due.
func (s *ImageSequence) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.activeLocked() {
		return false
	}
	return s.last.IsZero() || s.opts.Clock.Since(s.last) >= s.interval
}

// Frame decodes the next frame.
func (s *ImageSequence) Frame(ctx context.Context) (*images.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if !s.activeLocked() {
		s.mu.Unlock()
		return nil, ErrSourceInactive
	}
	if s.next >= len(s.files) {
		s.next = 0
	}
	file := s.files[s.next]
	s.next++
	s.last = s.opts.Clock.Now()
	s.mu.Unlock()

	return images.Open(file.Path)
}

// Close implements Source.
func (s *ImageSequence) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
