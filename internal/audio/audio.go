// Package audio renders one decoded file at a time to the output device and
// reports what happens to it: end of stream, decode failures, and stalls.
package audio

import (
	"context"
	"errors"
	"os"

	"github.com/austinkregel/local-media/playerd/internal/spectrum"
)

var (
	// ErrClosed is returned by operations on a closed pipeline or item
	ErrClosed = errors.New("audio pipeline closed")

	// ErrUnsupportedFormat is returned when no decoder can open a file
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

// Signal is an asynchronous event from a render item
type Signal int

const (
	// SignalEnded fires once when the stream plays to its end
	SignalEnded Signal = iota
	// SignalFailed fires once on a hard decode error; the error is attached
	SignalFailed
	// SignalStalled fires when the output underruns
	SignalStalled
	// SignalRecovered fires when audio flows again after a stall
	SignalRecovered
)

func (s Signal) String() string {
	switch s {
	case SignalEnded:
		return "ended"
	case SignalFailed:
		return "failed"
	case SignalStalled:
		return "stalled"
	case SignalRecovered:
		return "recovered"
	default:
		return "unknown"
	}
}

// Tap observes decoded audio before volume is applied. Process runs on the
// render thread.
type Tap interface {
	Prepare(sampleRate float64)
	Process(buf spectrum.Buffer)
}

// OpenOptions describe the item to open
type OpenOptions struct {
	// Path selects the decoder by extension and is handed to ffmpeg
	Path string

	// File is the already-open file. The pipeline reads it but never closes it.
	File *os.File

	// StartAt is the initial offset in seconds
	StartAt float64

	Tap Tap

	// OnSignal receives item signals in order on a dedicated goroutine
	OnSignal func(Signal, error)
}

// Pipeline opens render items. Opening a new item closes the previous one.
type Pipeline interface {
	Open(ctx context.Context, opts OpenOptions) (Item, error)
	SetVolume(v float64)
	Volume() float64
	Close() error
}

// Item is the active render item. New items start paused.
type Item interface {
	Play()
	Pause()

	// Resume nudges a stalled output back into motion
	Resume()

	Seek(seconds float64) error

	// Position and Duration are in seconds; Duration is 0 when unknown
	Position() float64
	Duration() float64

	Close() error
}
