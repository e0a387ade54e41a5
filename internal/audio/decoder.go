package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"
)

const (
	// maxPipeBuffer caps decoded ffmpeg output held in memory (about 1s of
	// 44.1kHz stereo s16le) so decoding does not run far ahead of playback
	maxPipeBuffer = 176400

	resampleQuality = 4
)

// readSeekNopCloser keeps the grant's file open when a decoder closes its reader
type readSeekNopCloser struct {
	io.ReadSeeker
}

func (readSeekNopCloser) Close() error { return nil }

// source is a decoded stream converted to the output rate
type source struct {
	decoded beep.StreamSeekCloser
	format  beep.Format
	out     beep.Streamer
}

func newSource(decoded beep.StreamSeekCloser, format beep.Format, outRate beep.SampleRate) *source {
	s := &source{decoded: decoded, format: format, out: decoded}
	if format.SampleRate != outRate {
		s.out = beep.Resample(resampleQuality, format.SampleRate, outRate, decoded)
	}
	return s
}

func (s *source) position() float64 {
	return s.format.SampleRate.D(s.decoded.Position()).Seconds()
}

func (s *source) duration() float64 {
	n := s.decoded.Len()
	if n <= 0 {
		return 0
	}
	return s.format.SampleRate.D(n).Seconds()
}

func (s *source) seek(seconds float64) error {
	if seconds < 0 {
		seconds = 0
	}
	p := s.format.SampleRate.N(time.Duration(seconds * float64(time.Second)))
	if n := s.decoded.Len(); n > 0 && p >= n {
		p = n - 1
	}
	return s.decoded.Seek(p)
}

func (s *source) close() error {
	return s.decoded.Close()
}

// openSource picks a decoder by extension. Formats beep cannot read go
// through ffmpeg when it is available.
func openSource(opts OpenOptions, outRate beep.SampleRate, ffmpegPath string) (*source, error) {
	ext := strings.ToLower(filepath.Ext(opts.Path))

	var decode func(io.ReadSeeker) (beep.StreamSeekCloser, beep.Format, error)
	switch ext {
	case ".mp3":
		decode = func(r io.ReadSeeker) (beep.StreamSeekCloser, beep.Format, error) {
			return mp3.Decode(readSeekNopCloser{r})
		}
	case ".flac":
		decode = func(r io.ReadSeeker) (beep.StreamSeekCloser, beep.Format, error) {
			return flac.Decode(readSeekNopCloser{r})
		}
	case ".wav", ".wave":
		decode = func(r io.ReadSeeker) (beep.StreamSeekCloser, beep.Format, error) {
			return wav.Decode(readSeekNopCloser{r})
		}
	}

	if decode != nil && opts.File != nil {
		if _, err := opts.File.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("failed to rewind %s: %w", opts.Path, err)
		}
		decoded, format, err := decode(opts.File)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", opts.Path, err)
		}
		return newSource(decoded, format, outRate), nil
	}

	if ffmpegPath == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	ff, err := newFFmpegStream(ffmpegPath, opts.Path, outRate)
	if err != nil {
		return nil, err
	}
	return newSource(ff, beep.Format{SampleRate: outRate, NumChannels: 2, Precision: 2}, outRate), nil
}

// ffmpegStream decodes through an ffmpeg subprocess emitting s16le stereo
// at the output rate. Seeking restarts the process with -ss.
type ffmpegStream struct {
	ffmpegPath string
	path       string
	rate       beep.SampleRate

	mu       sync.Mutex
	buf      bytes.Buffer
	cancel   context.CancelFunc
	gen      int
	done     bool
	err      error
	start    int
	consumed int
}

func newFFmpegStream(ffmpegPath, path string, rate beep.SampleRate) (*ffmpegStream, error) {
	resolved, err := exec.LookPath(ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	s := &ffmpegStream{ffmpegPath: resolved, path: path, rate: rate}
	if err := s.startLocked(0); err != nil {
		return nil, err
	}
	return s, nil
}

// startLocked launches ffmpeg at frame offset; callers hold mu or own s exclusively
func (s *ffmpegStream) startLocked(offset int) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	s.buf.Reset()
	s.done, s.err = false, nil
	s.start, s.consumed = offset, 0

	args := []string{}
	if offset > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.3f", s.rate.D(offset).Seconds()))
	}
	args = append(args,
		"-i", s.path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", "2",
		"-ar", fmt.Sprintf("%d", int(s.rate)),
		"-",
	)

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	s.cancel = cancel
	go s.pump(ctx, cmd, stdout, s.gen)
	return nil
}

func (s *ffmpegStream) pump(ctx context.Context, cmd *exec.Cmd, stdout io.Reader, gen int) {
	chunk := make([]byte, 4096)
	var readErr error
	for {
		// Throttle decoding to the playback rate
		for {
			s.mu.Lock()
			full := s.buf.Len() >= maxPipeBuffer && s.gen == gen
			s.mu.Unlock()
			if !full || ctx.Err() != nil {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}

		n, err := stdout.Read(chunk)
		if n > 0 {
			s.mu.Lock()
			if s.gen == gen {
				s.buf.Write(chunk[:n])
			}
			s.mu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
	}

	waitErr := cmd.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	s.done = true
	switch {
	case ctx.Err() != nil:
	case readErr != nil:
		s.err = readErr
	case waitErr != nil:
		s.err = fmt.Errorf("ffmpeg exited: %w", waitErr)
	}
}

// Stream returns what is buffered. A short read with ok=true is an underrun.
func (s *ffmpegStream) Stream(samples [][2]float64) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	avail := s.buf.Len() / 4
	n := min(len(samples), avail)
	if n == 0 {
		return 0, !s.done
	}

	var frame [4]byte
	for i := 0; i < n; i++ {
		s.buf.Read(frame[:])
		l := int16(uint16(frame[0]) | uint16(frame[1])<<8)
		r := int16(uint16(frame[2]) | uint16(frame[3])<<8)
		samples[i][0] = float64(l) / 32768
		samples[i][1] = float64(r) / 32768
	}
	s.consumed += n
	return n, true
}

func (s *ffmpegStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Len is unknown for piped decoding
func (s *ffmpegStream) Len() int {
	return 0
}

func (s *ffmpegStream) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.start + s.consumed
}

func (s *ffmpegStream) Seek(p int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(max(p, 0))
}

func (s *ffmpegStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	s.done = true
	return nil
}
