// Package probe reads duration and embedded lyrics from local audio files
// without starting a render pipeline.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/sirupsen/logrus"
	"github.com/tcolgate/mp3"
)

// ErrUnsupported is returned when no prober handles the file
var ErrUnsupported = errors.New("unsupported audio format")

// Prober extracts file facts. The ffprobe fallback is optional.
type Prober struct {
	ffprobePath string
	logger      logrus.FieldLogger
}

// NewProber creates a prober. ffmpegPath is used to locate ffprobe next to it;
// an empty or unresolvable path disables the fallback.
func NewProber(ffmpegPath string, logger logrus.FieldLogger) *Prober {
	p := &Prober{logger: logger}
	if ffmpegPath == "" {
		return p
	}

	candidate := "ffprobe"
	if dir := filepath.Dir(ffmpegPath); dir != "." {
		candidate = filepath.Join(dir, "ffprobe")
	}
	if path, err := exec.LookPath(candidate); err == nil {
		p.ffprobePath = path
	}
	return p
}

// Duration returns the length of the file at path in seconds
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	var (
		d   time.Duration
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		d, err = durationMP3(path)
	case ".flac":
		d, err = durationFLAC(path)
	case ".wav", ".wave":
		d, err = durationWAV(path)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(path))
	}
	if err == nil && d > 0 {
		return d.Seconds(), nil
	}

	if p.ffprobePath == "" {
		if err == nil {
			err = errors.New("zero duration")
		}
		return 0, err
	}

	p.logger.WithError(err).WithField("path", path).Debug("Falling back to ffprobe for duration")
	return p.ffprobeDuration(ctx, path)
}

// Lyrics returns embedded unsynchronised lyrics, or "" when the file has none
func (p *Prober) Lyrics(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		if errors.Is(err, tag.ErrNoTagsFound) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(m.Lyrics()), nil
}

// durationMP3 sums frame durations
func durationMP3(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := mp3.NewDecoder(f)
	var (
		total   time.Duration
		skipped int
		frames  int
	)
	for {
		var fr mp3.Frame
		if err := dec.Decode(&fr, &skipped); err != nil {
			if errors.Is(err, io.EOF) || frames > 0 {
				break
			}
			return 0, fmt.Errorf("no mp3 frames: %w", err)
		}
		total += fr.Duration()
		frames++
	}
	return total, nil
}

// durationFLAC reads STREAMINFO
func durationFLAC(path string) (time.Duration, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return 0, err
	}
	defer stream.Close()

	si := stream.Info
	if si.NSamples == 0 || si.SampleRate == 0 {
		return 0, errors.New("flac stream missing sample info")
	}
	return time.Duration(float64(si.NSamples) / float64(si.SampleRate) * float64(time.Second)), nil
}

func durationWAV(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, errors.New("invalid wav file")
	}
	return dec.Duration()
}

func (p *Prober) ffprobeDuration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	out, err := exec.CommandContext(ctx, p.ffprobePath, args...).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}
	return secs, nil
}
