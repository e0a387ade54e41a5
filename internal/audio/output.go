package audio

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/gopxl/beep/v2"
	"github.com/hajimehoshi/oto/v2"
	"github.com/sirupsen/logrus"

	"github.com/austinkregel/local-media/playerd/internal/spectrum"
)

const (
	outputChannels = 2
	bytesPerSample = 2 // 16-bit
	bytesPerFrame  = outputChannels * bytesPerSample

	signalBacklog = 8
)

// device is the output sink pulling from the pipeline
type device interface {
	Play()
	Pause()
	IsPlaying() bool
	Close() error
}

// OtoPipeline renders the active item to an oto player. The player pulls
// PCM through Read; paused or absent items produce silence.
type OtoPipeline struct {
	sampleRate beep.SampleRate
	ffmpegPath string
	logger     logrus.FieldLogger

	mu      sync.Mutex
	cond    *sync.Cond
	context *oto.Context
	player  device
	current *otoItem
	volume  float64
	closed  bool

	// Render scratch, grown only when the device asks for a larger block
	samples [][2]float64
	pcm     []int16
}

// NewOtoPipeline opens the output device. bufferMs sizes the device buffer;
// zero keeps the driver default.
func NewOtoPipeline(sampleRate, bufferMs int, ffmpegPath string, logger logrus.FieldLogger) (*OtoPipeline, error) {
	ctx, ready, err := oto.NewContext(sampleRate, outputChannels, bytesPerSample)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}

	// Wait for context to be ready
	<-ready

	p := newPipeline(sampleRate, ffmpegPath, logger)
	p.context = ctx
	player := ctx.NewPlayer(p)
	if bufferMs > 0 {
		player.SetBufferSize(sampleRate * bufferMs / 1000 * bytesPerFrame)
	}
	p.player = player
	return p, nil
}

func newPipeline(sampleRate int, ffmpegPath string, logger logrus.FieldLogger) *OtoPipeline {
	p := &OtoPipeline{
		sampleRate: beep.SampleRate(sampleRate),
		ffmpegPath: ffmpegPath,
		logger:     logger,
		volume:     1.0,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// SampleRate returns the output rate
func (p *OtoPipeline) SampleRate() int {
	return int(p.sampleRate)
}

// Open decodes opts.File and makes it the active item, closing the previous one
func (p *OtoPipeline) Open(ctx context.Context, opts OpenOptions) (Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, err := openSource(opts, p.sampleRate, p.ffmpegPath)
	if err != nil {
		return nil, err
	}
	if opts.StartAt > 0 {
		if err := src.seek(opts.StartAt); err != nil {
			src.close()
			return nil, fmt.Errorf("failed to seek to %.1fs: %w", opts.StartAt, err)
		}
	}
	if opts.Tap != nil {
		opts.Tap.Prepare(float64(p.sampleRate))
	}

	item := &otoItem{
		pipeline: p,
		src:      src,
		tap:      opts.Tap,
		paused:   true,
		signals:  make(chan signalEvent, signalBacklog),
		done:     make(chan struct{}),
	}
	go item.dispatch(opts.OnSignal)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		item.Close()
		return nil, ErrClosed
	}
	prev := p.current
	p.current = item
	p.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	return item, nil
}

// Read implements io.Reader for the device
func (p *OtoPipeline) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Block while nothing is playing, waiting for Play() or Close()
	for !p.closed && (p.current == nil || p.current.paused || p.current.finished) {
		p.cond.Wait()
	}
	if p.closed {
		return 0, io.EOF
	}

	frames := len(buf) / bytesPerFrame
	if frames == 0 {
		return 0, nil
	}
	if cap(p.samples) < frames {
		p.samples = make([][2]float64, frames)
		p.pcm = make([]int16, frames*outputChannels)
	}
	samples := p.samples[:frames]
	pcm := p.pcm[:frames*outputChannels]

	item := p.current
	n := item.render(samples)

	for i := 0; i < n; i++ {
		pcm[2*i] = toInt16(samples[i][0])
		pcm[2*i+1] = toInt16(samples[i][1])
	}
	for i := n * outputChannels; i < len(pcm); i++ {
		pcm[i] = 0
	}

	// Tap sees the decoded signal before volume
	if item.tap != nil && n > 0 {
		item.tap.Process(spectrum.Buffer{
			Format:      spectrum.Int16,
			Channels:    outputChannels,
			Interleaved: true,
			Frames:      n,
			Int16:       [][]int16{pcm},
		})
	}

	if p.volume < 1.0 {
		applyVolume(pcm, p.volume)
	}

	for i, s := range pcm {
		buf[2*i] = byte(s)
		buf[2*i+1] = byte(s >> 8)
	}
	return frames * bytesPerFrame, nil
}

func toInt16(v float64) int16 {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(v * 32767)
}

// applyVolume scales 16-bit samples by vol
func applyVolume(pcm []int16, vol float64) {
	for i, s := range pcm {
		pcm[i] = int16(float64(s) * vol)
	}
}

// SetVolume sets the playback volume (0.0 - 1.0)
func (p *OtoPipeline) SetVolume(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	p.volume = v
}

// Volume returns the current volume
func (p *OtoPipeline) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Close releases the device and the active item
func (p *OtoPipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	cur := p.current
	p.current = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	if cur != nil {
		cur.Close()
	}
	if p.player != nil {
		return p.player.Close()
	}
	return nil
}

func (p *OtoPipeline) startDevice() {
	if p.player != nil && !p.player.IsPlaying() {
		p.player.Play()
	}
}

type signalEvent struct {
	sig Signal
	err error
}

// otoItem is one opened file. Its state is guarded by the pipeline mutex.
type otoItem struct {
	pipeline *OtoPipeline
	src      *source
	tap      Tap

	paused   bool
	finished bool
	stalled  bool
	closed   bool

	signals chan signalEvent
	done    chan struct{}
}

// render fills samples from the source and raises signals. Called with the
// pipeline mutex held.
func (it *otoItem) render(samples [][2]float64) int {
	n := 0
	for n < len(samples) {
		m, ok := it.src.out.Stream(samples[n:])
		n += m
		if !ok {
			it.finished = true
			if err := it.src.decoded.Err(); err != nil {
				it.emit(SignalFailed, err)
			} else {
				it.emit(SignalEnded, nil)
			}
			return n
		}
		if m == 0 {
			// Source is live but has nothing buffered
			if !it.stalled {
				it.stalled = true
				it.emit(SignalStalled, nil)
			}
			return n
		}
	}

	if it.stalled {
		it.stalled = false
		it.emit(SignalRecovered, nil)
	}
	return n
}

// emit never blocks the render thread; a full backlog drops the signal
func (it *otoItem) emit(sig Signal, err error) {
	select {
	case it.signals <- signalEvent{sig: sig, err: err}:
	default:
		it.pipeline.logger.WithField("signal", sig.String()).Warn("Dropping audio signal, backlog full")
	}
}

func (it *otoItem) dispatch(fn func(Signal, error)) {
	for {
		select {
		case ev := <-it.signals:
			if fn != nil {
				fn(ev.sig, ev.err)
			}
		case <-it.done:
			return
		}
	}
}

func (it *otoItem) Play() {
	p := it.pipeline
	p.mu.Lock()
	defer p.mu.Unlock()
	if it.closed {
		return
	}
	it.paused = false
	p.cond.Broadcast()
	if p.current == it {
		p.startDevice()
	}
}

func (it *otoItem) Pause() {
	p := it.pipeline
	p.mu.Lock()
	defer p.mu.Unlock()
	it.paused = true
}

func (it *otoItem) Resume() {
	p := it.pipeline
	p.mu.Lock()
	defer p.mu.Unlock()
	if it.closed || it.paused {
		return
	}
	p.cond.Broadcast()
	if p.current == it {
		p.startDevice()
	}
}

func (it *otoItem) Seek(seconds float64) error {
	p := it.pipeline
	p.mu.Lock()
	defer p.mu.Unlock()
	if it.closed {
		return ErrClosed
	}
	if err := it.src.seek(seconds); err != nil {
		return err
	}
	it.finished = false
	p.cond.Broadcast()
	return nil
}

func (it *otoItem) Position() float64 {
	p := it.pipeline
	p.mu.Lock()
	defer p.mu.Unlock()
	return it.src.position()
}

func (it *otoItem) Duration() float64 {
	p := it.pipeline
	p.mu.Lock()
	defer p.mu.Unlock()
	return it.src.duration()
}

func (it *otoItem) Close() error {
	p := it.pipeline
	p.mu.Lock()
	if it.closed {
		p.mu.Unlock()
		return nil
	}
	it.closed = true
	if p.current == it {
		p.current = nil
	}
	close(it.done)
	err := it.src.close()
	p.mu.Unlock()
	return err
}
