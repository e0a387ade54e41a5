package engine

import (
	"sync"

	"github.com/austinkregel/local-media/playerd/internal/spectrum"
	"github.com/austinkregel/local-media/playerd/internal/types"
)

// State reflects the render pipeline, not user intent
type State string

const (
	StateStopped   State = "stopped"
	StatePlaying   State = "playing"
	StatePaused    State = "paused"
	StateBuffering State = "buffering"
)

// Snapshot is the observable surface of the engine
type Snapshot struct {
	State       State               `json:"state"`
	Item        *types.PlaybackItem `json:"item,omitempty"`
	Index       int                 `json:"index"`
	CurrentTime float64             `json:"currentTime"`
	Duration    float64             `json:"duration"`
	Repeat      string              `json:"repeat"`
	Shuffle     bool                `json:"shuffle"`
	Volume      float64             `json:"volume"`
	QueueLength int                 `json:"queueLength"`
	Lyrics      string              `json:"lyrics,omitempty"`
}

// EventKind tags an Event
type EventKind string

const (
	// EventState carries a full snapshot after any transition
	EventState EventKind = "state"
	// EventTime carries a snapshot on each position tick
	EventTime EventKind = "time"
	// EventQueue carries a snapshot plus the queue contents
	EventQueue EventKind = "queue"
)

// Event is one message on a subscription
type Event struct {
	Kind     EventKind            `json:"kind"`
	Snapshot Snapshot             `json:"snapshot"`
	Queue    []types.PlaybackItem `json:"queue,omitempty"`
}

const subscriberBuffer = 32

// hub fans events out to subscribers without blocking the sender. A
// subscriber whose buffer is full is dropped.
type hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[chan Event]struct{})}
}

func (h *hub) subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *hub) unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			delete(h.subs, ch)
			close(ch)
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

// levelsHub hands each subscriber only the newest spectrum frame. A slow
// reader skips frames and is never dropped.
type levelsHub struct {
	mu   sync.Mutex
	subs map[chan spectrum.Levels]struct{}
}

func newLevelsHub() *levelsHub {
	return &levelsHub{subs: make(map[chan spectrum.Levels]struct{})}
}

func (h *levelsHub) subscribe() chan spectrum.Levels {
	ch := make(chan spectrum.Levels, 1)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *levelsHub) unsubscribe(ch chan spectrum.Levels) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *levelsHub) publish(levels spectrum.Levels) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- levels:
		default:
		}
	}
}

func (h *levelsHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
