package spectrum

// SampleFormat is the PCM encoding of a tapped buffer
type SampleFormat int

const (
	Float32 SampleFormat = iota
	Int16
)

// Buffer is one block of decoded audio delivered by the render tap.
//
// Interleaved buffers carry all channels in Float32[0] or Int16[0]
// (frame-major). Planar buffers carry one slice per channel.
type Buffer struct {
	Format      SampleFormat
	Channels    int
	Interleaved bool
	Frames      int
	Float32     [][]float32
	Int16       [][]int16
}

// sample returns channel ch of frame f as a float in [-1, 1]
func (b *Buffer) sample(f, ch int) float64 {
	switch b.Format {
	case Int16:
		if b.Interleaved {
			return float64(b.Int16[0][f*b.Channels+ch]) / 32768.0
		}
		return float64(b.Int16[ch][f]) / 32768.0
	default:
		if b.Interleaved {
			return float64(b.Float32[0][f*b.Channels+ch])
		}
		return float64(b.Float32[ch][f])
	}
}

// valid reports whether the declared shape fits the backing slices
func (b *Buffer) valid() bool {
	if b.Channels <= 0 || b.Frames <= 0 {
		return false
	}
	planes := len(b.Float32)
	planeLen := func(i int) int { return len(b.Float32[i]) }
	if b.Format == Int16 {
		planes = len(b.Int16)
		planeLen = func(i int) int { return len(b.Int16[i]) }
	}

	if b.Interleaved {
		return planes >= 1 && planeLen(0) >= b.Frames*b.Channels
	}
	if planes < b.Channels {
		return false
	}
	for ch := 0; ch < b.Channels; ch++ {
		if planeLen(ch) < b.Frames {
			return false
		}
	}
	return true
}
