package server

import (
	"image"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/nvr-ai/go-live-detect/capture"
	"github.com/nvr-ai/go-live-detect/models/postprocess"
	"github.com/nvr-ai/go-live-detect/pipeline"
	"github.com/nvr-ai/go-live-detect/render"
)

// SubscriberBufferSize is the number of cycles queued per stream client
// before further cycles are dropped for it.
const SubscriberBufferSize = 4

// CycleMessage is the JSON text frame sent for every cycle.
type CycleMessage struct {
	Type       string                  `json:"type"`
	Source     capture.Kind            `json:"source"`
	Sequence   int64                   `json:"sequence"`
	Width      int                     `json:"width"`
	Height     int                     `json:"height"`
	Detections []postprocess.Detection `json:"detections"`
	Timings    pipeline.Timings        `json:"timings"`
	Error      string                  `json:"error,omitempty"`
}

// Packet is one cycle queued for a stream client. Image is the frame with its
// overlay composed on top, nil when the cycle failed before capture.
type Packet struct {
	Message CycleMessage
	Image   *image.RGBA
}

type subscriber struct {
	kind capture.Kind
	ch   chan Packet
}

// Hub fans cycle results out to stream clients. Publishing never blocks: a
// client whose queue is full misses the cycle.
type Hub struct {
	logger *zap.SugaredLogger

	mu   sync.RWMutex
	subs map[*subscriber]struct{}

	published atomic.Int64
	dropped   atomic.Int64
}

// NewHub creates a hub with no subscribers.
func NewHub(logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Hub{logger: logger, subs: map[*subscriber]struct{}{}}
}

// Subscribe registers a client for cycles of kind. The returned function
// unsubscribes and closes the channel.
func (h *Hub) Subscribe(kind capture.Kind) (<-chan Packet, func()) {
	sub := &subscriber{kind: kind, ch: make(chan Packet, SubscriberBufferSize)}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			close(sub.ch)
			h.mu.Unlock()
		})
	}
}

// Subscribers returns the number of clients watching kind.
func (h *Hub) Subscribers(kind capture.Kind) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for sub := range h.subs {
		if sub.kind == kind {
			n++
		}
	}
	return n
}

// Dropped returns the number of packets discarded for slow clients.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Publish queues res for every client of kind. Its signature matches
// session.Options.OnCycle.
func (h *Hub) Publish(kind capture.Kind, res pipeline.CycleResult) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var targets []*subscriber
	for sub := range h.subs {
		if sub.kind == kind {
			targets = append(targets, sub)
		}
	}
	if len(targets) == 0 {
		return
	}

	pkt := Packet{Message: NewCycleMessage(kind, res)}
	// The overlay belongs to the loop and is redrawn next cycle.
	if res.Frame != nil {
		pkt.Image = render.Compose(res.Frame, res.Overlay)
	}

	h.published.Add(1)
	for _, sub := range targets {
		select {
		case sub.ch <- pkt:
		default:
			if n := h.dropped.Add(1); n%100 == 1 {
				h.logger.Infow("dropping cycles for slow stream client", "source", kind, "dropped", n)
			}
		}
	}
}

// NewCycleMessage converts a cycle result into its wire form.
func NewCycleMessage(kind capture.Kind, res pipeline.CycleResult) CycleMessage {
	msg := CycleMessage{
		Type:       "detections",
		Source:     kind,
		Sequence:   res.Sequence,
		Width:      res.FrameSize.X,
		Height:     res.FrameSize.Y,
		Detections: append([]postprocess.Detection{}, res.Detections...),
		Timings:    res.Timings,
	}
	if res.Err != nil {
		msg.Error = res.Err.Error()
	}
	return msg
}
