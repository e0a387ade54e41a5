// Package spectrum derives five smoothed band levels from decoded audio.
package spectrum

import (
	"math"
	"math/bits"
	"sync"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	// NumBands is the number of output levels
	NumBands = 5

	DefaultFFTSize = 1024
	MinFFTSize     = 256
	MaxFFTSize     = 4096

	dbFloor    = -80.0
	gamma      = 0.5
	levelFloor = 0.03
	softClipK  = 1.4

	// negligible ends the decay timer
	negligible = 1e-3
)

// bandEdges bound the five bands in Hz
var bandEdges = [NumBands + 1]float64{40, 120, 350, 900, 3500, 12000}

// Levels holds one value per band, each in [0, 1)
type Levels [NumBands]float64

// Callback receives every published set of levels. It runs on the audio
// render thread (or the decay timer) and must not block.
type Callback func(Levels)

// plan is the FFT scratch for one power-of-two size
type plan struct {
	fft    *fourier.FFT
	window []float64
	mono   []float64
	coeffs []complex128
}

// Analyzer is the render-path tap. Prepare allocates every buffer it will
// need; Process does not allocate.
type Analyzer struct {
	mu sync.Mutex

	fftSize    int
	sampleRate float64
	plans      map[int]*plan

	levels  Levels
	attack  time.Duration
	release time.Duration

	callback Callback

	decayInterval time.Duration
	decayStop     chan struct{}
}

// NegotiateFFTSize maps a requested size to a power of two in
// [MinFFTSize, MaxFFTSize]; zero or negative means DefaultFFTSize.
func NegotiateFFTSize(requested int) int {
	if requested <= 0 {
		return DefaultFFTSize
	}
	if requested < MinFFTSize {
		return MinFFTSize
	}
	if requested > MaxFFTSize {
		return MaxFFTSize
	}
	return 1 << (bits.Len(uint(requested)) - 1)
}

// New creates an analyzer for the requested FFT size
func New(requestedFFTSize int) *Analyzer {
	return &Analyzer{
		fftSize:       NegotiateFFTSize(requestedFFTSize),
		attack:        80 * time.Millisecond,
		release:       500 * time.Millisecond,
		decayInterval: time.Second / 30,
	}
}

// FFTSize returns the negotiated size
func (a *Analyzer) FFTSize() int {
	return a.fftSize
}

// SetCallback registers the level observer
func (a *Analyzer) SetCallback(cb Callback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.callback = cb
}

// SetTimeConstants overrides attack/release and the decay tick
func (a *Analyzer) SetTimeConstants(attack, release, decayInterval time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attack, a.release, a.decayInterval = attack, release, decayInterval
}

// Prepare sizes the scratch arena for sampleRate. Call it whenever the
// render format changes; it also cancels a running decay.
func (a *Analyzer) Prepare(sampleRate float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopDecayLocked()
	a.sampleRate = sampleRate
	if a.plans != nil {
		return
	}

	a.plans = make(map[int]*plan)
	for n := MinFFTSize; n <= a.fftSize; n <<= 1 {
		p := &plan{
			fft:    fourier.NewFFT(n),
			window: make([]float64, n),
			mono:   make([]float64, n),
			coeffs: make([]complex128, n/2+1),
		}
		for i := range p.window {
			p.window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
		}
		a.plans[n] = p
	}
}

// windowSize picks the power of two covering frames, within [MinFFTSize, fftSize]
func (a *Analyzer) windowSize(frames int) int {
	n := MinFFTSize
	for n < frames && n < a.fftSize {
		n <<= 1
	}
	return n
}

// Process analyzes one buffer and publishes updated levels
func (a *Analyzer) Process(buf Buffer) {
	if !buf.valid() {
		return
	}

	a.mu.Lock()
	if a.plans == nil || a.sampleRate <= 0 {
		a.mu.Unlock()
		return
	}
	a.stopDecayLocked()

	p := a.plans[a.windowSize(buf.Frames)]
	n := len(p.mono)
	frames := min(buf.Frames, n)

	// Mix down to mono, zero-padding short buffers
	for f := 0; f < n; f++ {
		if f >= frames {
			p.mono[f] = 0
			continue
		}
		var sum float64
		for ch := 0; ch < buf.Channels; ch++ {
			sum += buf.sample(f, ch)
		}
		p.mono[f] = sum / float64(buf.Channels) * p.window[f]
	}

	p.fft.Coefficients(p.coeffs, p.mono)

	var target Levels
	binHz := a.sampleRate / float64(n)
	for b := 0; b < NumBands; b++ {
		target[b] = shape(bandMagnitude(p.coeffs, binHz, bandEdges[b], bandEdges[b+1], n))
	}

	dt := float64(buf.Frames) / a.sampleRate
	a.smoothLocked(target, dt)
	levels := a.levels
	cb := a.callback
	a.mu.Unlock()

	if cb != nil {
		cb(levels)
	}
}

// bandMagnitude is the mean amplitude of bins in [lo, hi), scaled so a
// full-scale sine under the Hann window reads about 1.
func bandMagnitude(coeffs []complex128, binHz, lo, hi float64, n int) float64 {
	first := int(math.Ceil(lo / binHz))
	last := int(math.Ceil(hi/binHz)) - 1
	if first < 1 {
		first = 1
	}
	if last > len(coeffs)-1 {
		last = len(coeffs) - 1
	}
	if last < first {
		// Band narrower than one bin: use the nearest bin
		k := int(math.Round((lo + hi) / 2 / binHz))
		if k < 1 || k >= len(coeffs) {
			return 0
		}
		first, last = k, k
	}

	var sum float64
	for k := first; k <= last; k++ {
		c := coeffs[k]
		sum += math.Hypot(real(c), imag(c))
	}
	mean := sum / float64(last-first+1)
	return mean * 4 / float64(n)
}

// shape maps a linear magnitude to a display level
func shape(magnitude float64) float64 {
	db := 20 * math.Log10(magnitude+1e-12)
	v := (db - dbFloor) / -dbFloor
	v = math.Max(0, math.Min(1, v))
	v = math.Pow(v, gamma)
	v = math.Max(v, levelFloor)
	return v / (1 + softClipK*v)
}

// smoothLocked applies the asymmetric one-pole filter over dt seconds
func (a *Analyzer) smoothLocked(target Levels, dt float64) {
	attack := 1 - math.Exp(-dt/a.attack.Seconds())
	release := 1 - math.Exp(-dt/a.release.Seconds())
	for i := range a.levels {
		coef := release
		if target[i] > a.levels[i] {
			coef = attack
		}
		a.levels[i] += coef * (target[i] - a.levels[i])
	}
}

// Levels returns the latest published levels
func (a *Analyzer) Levels() Levels {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.levels
}

// Stop starts the decay timer that releases levels toward zero while no
// audio arrives. The timer exits once every band is negligible.
func (a *Analyzer) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.decayStop != nil {
		return
	}
	stop := make(chan struct{})
	a.decayStop = stop
	go a.decay(stop, a.decayInterval)
}

// Decaying reports whether the decay timer is running
func (a *Analyzer) Decaying() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.decayStop != nil
}

// Reset zeroes levels and stops any decay
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopDecayLocked()
	a.levels = Levels{}
}

func (a *Analyzer) stopDecayLocked() {
	if a.decayStop != nil {
		close(a.decayStop)
		a.decayStop = nil
	}
}

func (a *Analyzer) decay(stop chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		a.mu.Lock()
		if a.decayStop != stop {
			a.mu.Unlock()
			return
		}
		factor := math.Exp(-interval.Seconds() / a.release.Seconds())
		done := true
		for i := range a.levels {
			a.levels[i] *= factor
			if a.levels[i] < negligible {
				a.levels[i] = 0
			} else {
				done = false
			}
		}
		if done {
			a.decayStop = nil
		}
		levels := a.levels
		cb := a.callback
		a.mu.Unlock()

		if cb != nil {
			cb(levels)
		}
		if done {
			return
		}
	}
}
