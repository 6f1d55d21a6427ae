package capture

import (
	"time"

	"github.com/benbjohnson/clock"
)

// pacer maps wall time onto a fixed frame rate so a file plays back in real
// time however slowly frames are consumed.
type pacer struct {
	clock    clock.Clock
	interval time.Duration
	start    time.Time
	consumed int
}

func newPacer(c clock.Clock, fps float64) *pacer {
	if fps <= 0 {
		return nil
	}
	return &pacer{clock: c, interval: time.Duration(float64(time.Second) / fps)}
}

// due returns the number of frames that should have been shown by now.
func (p *pacer) due() int {
	if p.start.IsZero() {
		return 1
	}
	return int(p.clock.Since(p.start)/p.interval) + 1
}

// ready reports whether a frame not yet consumed is due.
func (p *pacer) ready() bool {
	return p.consumed < p.due()
}

// advance records that the frame for now is about to be read and returns how
// many stale frames must be skipped first.
func (p *pacer) advance() (skip int) {
	if p.start.IsZero() {
		p.start = p.clock.Now()
	}
	due := p.due()
	if due > p.consumed+1 {
		skip = due - p.consumed - 1
	}
	p.consumed += skip + 1
	return skip
}
