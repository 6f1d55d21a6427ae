package pipeline

import (
	"context"
	"runtime"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultRefreshRate is the display refresh rate the loop paces itself to.
const DefaultRefreshRate = 60

// Scheduler decides when the loop may start its next cycle.
type Scheduler interface {
	// Wait blocks until the next cycle may start or ctx is done.
	Wait(ctx context.Context) error
}

// TickerScheduler releases one cycle per tick. Ticks that arrive while a
// cycle is running are coalesced into one, so a slow model lowers the cycle
// rate instead of building a backlog.
type TickerScheduler struct {
	ticker *clock.Ticker
}

// NewTickerScheduler starts a ticker at rate ticks per second on c.
func NewTickerScheduler(c clock.Clock, rate float64) *TickerScheduler {
	if c == nil {
		c = clock.New()
	}
	if rate <= 0 {
		rate = DefaultRefreshRate
	}
	return &TickerScheduler{ticker: c.Ticker(time.Duration(float64(time.Second) / rate))}
}

// Wait implements Scheduler.
func (s *TickerScheduler) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ticker.C:
		return nil
	}
}

// Stop releases the ticker.
func (s *TickerScheduler) Stop() {
	s.ticker.Stop()
}

// Immediate only yields the processor. The loop then runs cycles back to back.
type Immediate struct{}

// Wait implements Scheduler.
func (Immediate) Wait(ctx context.Context) error {
	runtime.Gosched()
	return ctx.Err()
}
